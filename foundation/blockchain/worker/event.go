package worker

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/gossip"
)

// Event is one of the inputs the event loop reacts to. The set of
// implementations is closed.
type Event interface {
	event()
}

// NewTxEvent is raised when the local pool accepts a transaction.
type NewTxEvent struct {
	Transaction database.PoolTransaction
}

// InputEvent is raised for every line read from the console.
type InputEvent struct {
	Line string
}

// ChainResponseEvent is raised when a chain response is queued for
// publishing.
type ChainResponseEvent struct {
	Response gossip.LocalChainResponse
}

// InitEvent is raised once, shortly after startup.
type InitEvent struct{}

// TransportEvent is raised for every message received from the transport.
type TransportEvent struct {
	Message gossip.Message
}

func (NewTxEvent) event()         {}
func (InputEvent) event()         {}
func (ChainResponseEvent) event() {}
func (InitEvent) event()          {}
func (TransportEvent) event()     {}
