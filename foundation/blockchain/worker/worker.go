// Package worker implements the event loop that owns the chain and the
// background goroutines that feed it.
package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/gossip"
	"github.com/ardanlabs/ledger/foundation/blockchain/txpool"
)

// Default intervals for the background goroutines.
const (
	DefaultInitDelay        = time.Second
	DefaultExecutorInterval = 3 * time.Second
)

// EventHandler defines a function that is called when events
// occur in the event loop.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the worker.
type Config struct {
	Chain            *chain.Chain
	Protocol         *gossip.Protocol
	Transport        gossip.Transport
	Responses        <-chan gossip.LocalChainResponse
	Input            <-chan string
	Output           io.Writer
	InitDelay        time.Duration
	ExecutorInterval time.Duration
	EvHandler        EventHandler
}

// Worker owns the chain. Every event is handled on the loop goroutine.
type Worker struct {
	chain      *chain.Chain
	protocol   *gossip.Protocol
	transport  gossip.Transport
	responses  <-chan gossip.LocalChainResponse
	input      <-chan string
	out        io.Writer
	txListener *txpool.Listener[txpool.NewTransactionEvent]
	initDelay  time.Duration
	interval   time.Duration
	evHandler  EventHandler

	init chan struct{}
	shut chan struct{}
	wg   sync.WaitGroup
}

// New constructs a worker and registers it as a listener on the pool.
func New(cfg Config) (*Worker, error) {
	if cfg.Chain == nil {
		return nil, errors.New("chain is required")
	}
	if cfg.Protocol == nil {
		return nil, errors.New("protocol is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	initDelay := cfg.InitDelay
	if initDelay <= 0 {
		initDelay = DefaultInitDelay
	}

	interval := cfg.ExecutorInterval
	if interval <= 0 {
		interval = DefaultExecutorInterval
	}

	w := Worker{
		chain:      cfg.Chain,
		protocol:   cfg.Protocol,
		transport:  cfg.Transport,
		responses:  cfg.Responses,
		input:      cfg.Input,
		out:        out,
		txListener: cfg.Chain.Pool().AddTransactionListener(),
		initDelay:  initDelay,
		interval:   interval,
		evHandler:  ev,
		init:       make(chan struct{}, 1),
		shut:       make(chan struct{}),
	}

	return &w, nil
}

// Run starts the event loop and the goroutines that feed it. It returns
// once they are all running.
func (w *Worker) Run(ctx context.Context) {
	operations := []func(context.Context){
		w.loopOperations,
		w.initOperations,
		w.executorOperations,
	}

	g := len(operations)
	w.wg.Add(g)

	hasStarted := make(chan bool)

	for _, op := range operations {
		go func() {
			defer w.wg.Done()
			hasStarted <- true
			op(ctx)
		}()
	}

	for range g {
		<-hasStarted
	}
}

// Shutdown terminates the goroutines and disconnects from the pool.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()

	w.evHandler("worker: shutdown: close pool listener")
	w.txListener.Close()
}

// =============================================================================

// loopOperations handles exactly one event per iteration until shutdown.
func (w *Worker) loopOperations(ctx context.Context) {
	w.evHandler("worker: loopOperations: G started")
	defer w.evHandler("worker: loopOperations: G completed")

	for {
		ev, ok := w.next(ctx)
		if !ok {
			return
		}

		w.HandleEvent(ctx, ev)
	}
}

// next waits for the next event. It reports false on shutdown.
func (w *Worker) next(ctx context.Context) (Event, bool) {
	for {
		select {
		case ev := <-w.txListener.C:
			return NewTxEvent{Transaction: ev.Transaction}, true

		case line, ok := <-w.input:
			if !ok {
				w.evHandler("worker: next: input closed")
				w.input = nil
				continue
			}
			return InputEvent{Line: line}, true

		case resp := <-w.responses:
			return ChainResponseEvent{Response: resp}, true

		case <-w.init:
			return InitEvent{}, true

		case msg, ok := <-w.transport.Messages():
			if !ok {
				w.evHandler("worker: next: ERROR: transport closed")
				return nil, false
			}
			return TransportEvent{Message: msg}, true

		case <-w.shut:
			w.evHandler("worker: next: received shut signal")
			return nil, false

		case <-ctx.Done():
			w.evHandler("worker: next: context done")
			return nil, false
		}
	}
}

// HandleEvent applies a single event. Only the loop goroutine may call it
// once the worker is running.
func (w *Worker) HandleEvent(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case InitEvent:
		if err := w.protocol.Init(ctx); err != nil {
			w.evHandler("worker: init: ERROR: %s", err)
		}

	case ChainResponseEvent:
		if err := w.protocol.PublishResponse(ctx, ev.Response); err != nil {
			w.evHandler("worker: chain response: ERROR: %s", err)
		}

	case NewTxEvent:
		w.evHandler("worker: new tx added in the local pool: tx[%s]", ev.Transaction.TransactionID)
		if err := w.protocol.PublishTransaction(ctx, ev.Transaction); err != nil {
			w.evHandler("worker: new tx: ERROR: %s", err)
		}

	case TransportEvent:
		if err := w.protocol.HandleMessage(ctx, ev.Message); err != nil {
			w.evHandler("worker: transport: ERROR: peer[%s]: topic[%s]: %s", ev.Message.Source, ev.Message.Topic, err)
		}

	case InputEvent:
		w.command(ctx, ev.Line)
	}
}

// initOperations raises the init event once the delay has passed.
func (w *Worker) initOperations(ctx context.Context) {
	w.evHandler("worker: initOperations: G started")
	defer w.evHandler("worker: initOperations: G completed")

	timer := time.NewTimer(w.initDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		w.evHandler("worker: initOperations: sending init event")
		w.init <- struct{}{}
	case <-w.shut:
	case <-ctx.Done():
	}
}
