// Package memory provides an in-process gossip transport. Nodes joined to
// the same hub see every message the other nodes publish.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/gossip"
)

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("transport closed")

// Hub connects the transports of a set of nodes.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*Transport
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		nodes: make(map[string]*Transport),
	}
}

// Join connects a node to the hub. Inbound messages are buffered up to the
// specified size.
func (h *Hub) Join(id string, size int) *Transport {
	t := Transport{
		id:  id,
		hub: h,
		ch:  make(chan gossip.Message, size),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nodes[id] = &t
	return &t
}

func (h *Hub) leave(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, exists := h.nodes[id]
	if !exists {
		return false
	}

	delete(h.nodes, id)
	close(t.ch)

	return true
}

// =============================================================================

// Transport is one node's connection to the hub.
type Transport struct {
	id  string
	hub *Hub
	ch  chan gossip.Message
}

// Publish delivers the message to every other node on the hub. It blocks
// while a receiver's buffer is full.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	t.hub.mu.RLock()
	defer t.hub.mu.RUnlock()

	if _, exists := t.hub.nodes[t.id]; !exists {
		return ErrClosed
	}

	for id, node := range t.hub.nodes {
		if id == t.id {
			continue
		}

		msg := gossip.Message{
			Source: t.id,
			Topic:  topic,
			Data:   slices.Clone(data),
		}

		select {
		case node.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Messages returns the channel of inbound messages. The channel is closed
// when the transport is closed.
func (t *Transport) Messages() <-chan gossip.Message {
	return t.ch
}

// Peers returns the ids of the other nodes on the hub in id order.
func (t *Transport) Peers(ctx context.Context) ([]string, error) {
	t.hub.mu.RLock()
	defer t.hub.mu.RUnlock()

	var peers []string
	for id := range t.hub.nodes {
		if id != t.id {
			peers = append(peers, id)
		}
	}
	slices.Sort(peers)

	return peers, nil
}

// Close disconnects the node from the hub.
func (t *Transport) Close() error {
	if !t.hub.leave(t.id) {
		return ErrClosed
	}

	return nil
}
