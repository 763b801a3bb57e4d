// Package txpool maintains the pool of signed transactions waiting to be
// mined and notifies registered listeners of pool activity.
package txpool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// ListenerBufferSize is the capacity of every listener channel unless the
// pool is constructed with a different size.
const ListenerBufferSize = 1024

// ErrDiscardedOnInsert is the error a PoolError unwraps to.
var ErrDiscardedOnInsert = errors.New("discarded on insert")

// =============================================================================

// PoolError is returned when a transaction can't be inserted into the pool.
// It carries the transaction hash and id for diagnostics.
type PoolError struct {
	Hash   string
	ID     database.TransactionID
	Reason string
}

// Error implements the error interface.
func (pe *PoolError) Error() string {
	return fmt.Sprintf("transaction %s[%s] discarded on insert: %s", pe.Hash, pe.ID, pe.Reason)
}

// Unwrap allows errors.Is(err, ErrDiscardedOnInsert).
func (pe *PoolError) Unwrap() error {
	return ErrDiscardedOnInsert
}

// IsDiscarded checks if the error is a PoolError.
func IsDiscarded(err error) bool {
	var pe *PoolError
	return errors.As(err, &pe)
}

// =============================================================================

// NewTransactionEvent is sent when a transaction is accepted into the pool.
type NewTransactionEvent struct {
	Transaction database.PoolTransaction
}

// NewBlockEvent describes a block that has been mined and the transactions
// it included.
type NewBlockEvent struct {
	Block             database.Block
	MinedTransactions []database.TransactionID
}

// BlockEvent is sent after the pool processed a mined block.
type BlockEvent struct {
	BlockHash string
	Removed   []database.TransactionID
	Missing   []database.TransactionID
}

// =============================================================================

// Pool represents a cache of transactions organized by the from:nonce slot.
type Pool struct {
	mu  sync.RWMutex
	txs map[database.TransactionID]database.PoolTransaction

	bufferSize   int
	txListeners  registry[NewTransactionEvent]
	evtListeners registry[BlockEvent]
}

// New constructs a new pool using the default listener buffer size.
func New() *Pool {
	return NewWithBufferSize(ListenerBufferSize)
}

// NewWithBufferSize constructs a new pool where every listener channel has
// the specified capacity.
func NewWithBufferSize(size int) *Pool {
	if size < 1 {
		size = 1
	}

	return &Pool{
		txs:        make(map[database.TransactionID]database.PoolTransaction),
		bufferSize: size,
	}
}

// AddTransaction inserts the transaction under its id. A fresh id succeeds
// and the inserted transaction is returned. An id that is already occupied
// fails with a PoolError and the pool is left unchanged. Listeners are
// notified after the pool lock is released.
func (p *Pool) AddTransaction(tx database.PoolTransaction) (database.PoolTransaction, error) {
	if !tx.Consistent() {
		return database.PoolTransaction{}, &PoolError{
			Hash:   tx.Hash(),
			ID:     tx.TransactionID,
			Reason: "transaction id does not match transaction",
		}
	}

	p.mu.Lock()
	{
		if _, exists := p.txs[tx.TransactionID]; exists {
			p.mu.Unlock()
			return database.PoolTransaction{}, &PoolError{
				Hash:   tx.Hash(),
				ID:     tx.TransactionID,
				Reason: "already in pool",
			}
		}

		p.txs[tx.TransactionID] = tx
	}
	p.mu.Unlock()

	p.txListeners.send(NewTransactionEvent{Transaction: tx})

	return tx, nil
}

// Get returns the transaction stored under the id.
func (p *Pool) Get(id database.TransactionID) (database.PoolTransaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tx, exists := p.txs[id]
	return tx, exists
}

// GetAll returns a copy of the transactions in the pool in id order.
func (p *Pool) GetAll() []database.PoolTransaction {
	p.mu.RLock()
	txs := make([]database.PoolTransaction, 0, len(p.txs))
	for _, tx := range p.txs {
		txs = append(txs, tx)
	}
	p.mu.RUnlock()

	slices.SortFunc(txs, func(a, b database.PoolTransaction) int {
		return a.TransactionID.Compare(b.TransactionID)
	})

	return txs
}

// Count returns the current number of transactions in the pool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.txs)
}

// OnNewBlock removes the mined transactions from the pool and notifies the
// event listeners. Ids that are not in the pool are ignored.
func (p *Pool) OnNewBlock(ev NewBlockEvent) BlockEvent {
	be := BlockEvent{
		BlockHash: ev.Block.Hash,
	}

	p.mu.Lock()
	{
		for _, id := range ev.MinedTransactions {
			if _, exists := p.txs[id]; !exists {
				be.Missing = append(be.Missing, id)
				continue
			}

			delete(p.txs, id)
			be.Removed = append(be.Removed, id)
		}
	}
	p.mu.Unlock()

	p.evtListeners.send(be)

	return be
}

// Truncate clears all the transactions from the pool.
func (p *Pool) Truncate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.txs = make(map[database.TransactionID]database.PoolTransaction)
}

// =============================================================================

// AddTransactionListener registers a new listener for accepted transactions.
func (p *Pool) AddTransactionListener() *Listener[NewTransactionEvent] {
	return p.txListeners.add(p.bufferSize)
}

// AddEventListener registers a new listener for mined block outcomes.
func (p *Pool) AddEventListener() *Listener[BlockEvent] {
	return p.evtListeners.add(p.bufferSize)
}

// ListenerCount returns the number of registered transaction and event
// listeners.
func (p *Pool) ListenerCount() (transactions int, events int) {
	return p.txListeners.len(), p.evtListeners.len()
}
