// Package chain is the core API for the blockchain and implements the block
// validation and fork choice rules.
package chain

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/txpool"
)

// ErrBothChainsInvalid is returned by ChooseChain when neither chain passes
// validation and there is no valid outcome.
var ErrBothChainsInvalid = errors.New("local and remote chains are both invalid")

// ErrInvalidBlock is returned when a block fails validation against the
// current tip.
var ErrInvalidBlock = errors.New("invalid block")

// ErrNoBlocks is returned when a block is added before genesis.
var ErrNoBlocks = errors.New("chain has no blocks")

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct a chain.
type Config struct {
	Pool      *txpool.Pool
	EvHandler EventHandler
}

// Chain manages the ordered sequence of blocks. The block sequence is owned
// by a single goroutine. Other goroutines read it through Snapshot.
type Chain struct {
	blocks    []database.Block
	pool      *txpool.Pool
	evHandler EventHandler
	snapshot  atomic.Pointer[[]database.Block]
}

// New constructs a chain with no blocks.
func New(cfg Config) *Chain {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	pool := cfg.Pool
	if pool == nil {
		pool = txpool.New()
	}

	c := Chain{
		pool:      pool,
		evHandler: ev,
	}
	c.publish()

	return &c
}

// Genesis appends the literal genesis block without validation. It must be
// called exactly once; a second call leaves the chain invalid.
func (c *Chain) Genesis() {
	c.blocks = append(c.blocks, database.Genesis())
	c.publish()

	c.evHandler("chain: Genesis: added genesis block[%s]", database.GenesisHash)
}

// IsBlockValid runs the ordered block checks against the previous block and
// stops at the first failure.
func (c *Chain) IsBlockValid(block database.Block, previous database.Block) bool {
	switch {
	case block.PreviousHash != previous.Hash:
		c.evHandler("chain: IsBlockValid: WARNING: block with id: %d has wrong previous hash", block.ID)
		return false

	case !database.IsHashSolved(block.Hash):
		c.evHandler("chain: IsBlockValid: WARNING: block with id: %d has invalid difficulty", block.ID)
		return false

	case block.ID != previous.ID+1:
		c.evHandler("chain: IsBlockValid: WARNING: block with id: %d is not the next block after the latest: %d", block.ID, previous.ID)
		return false

	case block.Recalculate() != block.Hash:
		c.evHandler("chain: IsBlockValid: WARNING: block with id: %d has invalid hash", block.ID)
		return false
	}

	return true
}

// IsChainValid checks every block against its predecessor. An empty chain
// or a chain holding a single block is valid.
func (c *Chain) IsChainValid(blocks []database.Block) bool {
	for i := 1; i < len(blocks); i++ {
		if !c.IsBlockValid(blocks[i], blocks[i-1]) {
			return false
		}
	}

	return true
}

// TryAddBlock validates the block against the current tip and appends it.
// A rejected block leaves the chain unchanged.
func (c *Chain) TryAddBlock(block database.Block) error {
	latest, exists := c.LatestBlock()
	if !exists {
		c.evHandler("chain: TryAddBlock: ERROR: could not add block[%s]: %s", block, ErrNoBlocks)
		return ErrNoBlocks
	}

	if !c.IsBlockValid(block, latest) {
		c.evHandler("chain: TryAddBlock: ERROR: could not add block[%s] - invalid", block)
		return fmt.Errorf("block[%s]: %w", block, ErrInvalidBlock)
	}

	c.blocks = append(c.blocks, block)
	c.publish()

	c.evHandler("chain: TryAddBlock: added block[%s]", block)

	c.minedBlock(block)

	return nil
}

// ChooseChain applies the fork choice rule. Both chains are validated on
// their own. When both are valid the longer one wins and the local chain
// wins ties. When only one is valid it wins. When neither is valid
// ErrBothChainsInvalid is returned.
func (c *Chain) ChooseChain(local []database.Block, remote []database.Block) ([]database.Block, error) {
	isLocalValid := c.IsChainValid(local)
	isRemoteValid := c.IsChainValid(remote)

	switch {
	case isLocalValid && isRemoteValid:
		if len(local) >= len(remote) {
			return local, nil
		}
		return remote, nil

	case isLocalValid:
		return local, nil

	case isRemoteValid:
		return remote, nil
	}

	return nil, ErrBothChainsInvalid
}

// ReplaceChain runs the fork choice rule with the current blocks as local
// and replaces the current blocks with the result.
func (c *Chain) ReplaceChain(remote []database.Block) error {
	chosen, err := c.ChooseChain(c.blocks, remote)
	if err != nil {
		return err
	}

	if slices.Equal(chosen, c.blocks) {
		c.evHandler("chain: ReplaceChain: kept local chain: blocks[%d]", len(c.blocks))
		return nil
	}

	c.blocks = slices.Clone(chosen)
	c.publish()

	c.evHandler("chain: ReplaceChain: replaced local chain with remote: blocks[%d]", len(c.blocks))

	for _, block := range c.blocks {
		c.minedBlock(block)
	}

	return nil
}

// AddNewPoolTransaction guards the pool against transactions it already
// holds so that gossip rebroadcast does not loop between peers.
func (c *Chain) AddNewPoolTransaction(tx database.PoolTransaction) (database.PoolTransaction, error) {
	if _, exists := c.pool.Get(tx.TransactionID); exists {
		return database.PoolTransaction{}, &txpool.PoolError{
			Hash:   tx.Hash(),
			ID:     tx.TransactionID,
			Reason: "already known",
		}
	}

	return c.pool.AddTransaction(tx)
}

// =============================================================================

// Blocks returns a copy of the blocks. Only the owning goroutine may call it.
func (c *Chain) Blocks() []database.Block {
	return slices.Clone(c.blocks)
}

// LatestBlock returns the tip of the chain.
func (c *Chain) LatestBlock() (database.Block, bool) {
	if len(c.blocks) == 0 {
		return database.Block{}, false
	}

	return c.blocks[len(c.blocks)-1], true
}

// Snapshot returns the blocks as of the last mutation. It is safe to call
// from any goroutine.
func (c *Chain) Snapshot() []database.Block {
	return slices.Clone(*c.snapshot.Load())
}

// Pool returns the transaction pool the chain guards.
func (c *Chain) Pool() *txpool.Pool {
	return c.pool
}

// =============================================================================

// publish stores a copy of the current blocks for readers.
func (c *Chain) publish() {
	blocks := slices.Clone(c.blocks)
	c.snapshot.Store(&blocks)
}

// minedBlock removes the transactions a block recorded from the pool.
func (c *Chain) minedBlock(block database.Block) {
	ids := database.MinedTransactions(block.Data)
	if len(ids) == 0 {
		return
	}

	be := c.pool.OnNewBlock(txpool.NewBlockEvent{
		Block:             block,
		MinedTransactions: ids,
	})

	c.evHandler("chain: minedBlock: block[%s]: removed[%d]: missing[%d]", block, len(be.Removed), len(be.Missing))
}
