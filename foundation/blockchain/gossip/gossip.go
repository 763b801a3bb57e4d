// Package gossip implements the protocol nodes use to exchange chains,
// blocks and pool transactions over a publish/subscribe transport.
package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/peer"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
)

// Transport is the publish/subscribe layer the protocol runs on. Messages
// published by this node are never delivered back to it.
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Messages() <-chan Message
	Peers(ctx context.Context) ([]string, error)
	Close() error
}

// EventHandler defines a function that is called when events
// occur in the processing of gossip messages.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the protocol.
type Config struct {
	Identity   signature.NodeIdentity
	Chain      *chain.Chain
	Transport  Transport
	Responses  chan<- LocalChainResponse
	KnownPeers *peer.PeerSet
	EvHandler  EventHandler
}

// Protocol applies gossip messages to the chain and publishes local
// activity. It runs on the goroutine that owns the chain.
type Protocol struct {
	id         string
	chain      *chain.Chain
	transport  Transport
	responses  chan<- LocalChainResponse
	knownPeers *peer.PeerSet
	evHandler  EventHandler
}

// New constructs a protocol value for use.
func New(cfg Config) (*Protocol, error) {
	if cfg.Chain == nil {
		return nil, errors.New("chain is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Responses == nil {
		return nil, errors.New("responses channel is required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	p := Protocol{
		id:         cfg.Identity.ID(),
		chain:      cfg.Chain,
		transport:  cfg.Transport,
		responses:  cfg.Responses,
		knownPeers: knownPeers,
		evHandler:  ev,
	}

	return &p, nil
}

// ID returns the peer id of this node.
func (p *Protocol) ID() string {
	return p.id
}

// Init adds the genesis block, records the peers the transport currently
// knows about and asks the last of them for its chain.
func (p *Protocol) Init(ctx context.Context) error {
	p.chain.Genesis()

	peers, err := p.transport.Peers(ctx)
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}

	var others []string
	for _, id := range peers {
		if id == p.id {
			continue
		}
		p.knownPeers.Add(peer.New(id))
		others = append(others, id)
	}

	p.evHandler("gossip: Init: connected nodes: %d", len(others))

	if len(others) == 0 {
		return nil
	}

	return p.RequestChain(ctx, others[len(others)-1])
}

// RequestChain asks the specified peer for its chain.
func (p *Protocol) RequestChain(ctx context.Context, peerID string) error {
	if err := p.publishChain(ctx, LocalChainRequest{FromPeerID: peerID}); err != nil {
		return err
	}

	p.evHandler("gossip: RequestChain: requested chain from peer[%s]", peerID)

	return nil
}

// HandleMessage applies a message received from the transport.
func (p *Protocol) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Source != "" && msg.Source != p.id {
		if p.knownPeers.Add(peer.New(msg.Source)) {
			p.evHandler("gossip: HandleMessage: new peer[%s]", msg.Source)
		}
	}

	switch msg.Topic {
	case ChainTopic:
		cm, err := DecodeChainMessage(msg.Data)
		if err != nil {
			return err
		}
		return p.handleChainMessage(ctx, msg.Source, cm)

	case PoolTopic:
		return p.handlePoolTransaction(msg.Source, msg.Data)
	}

	return fmt.Errorf("unknown topic %q", msg.Topic)
}

// PublishResponse republishes a chain response on the chain topic.
func (p *Protocol) PublishResponse(ctx context.Context, resp LocalChainResponse) error {
	if err := p.publishChain(ctx, resp); err != nil {
		return err
	}

	p.evHandler("gossip: PublishResponse: sent chain to peer[%s]: blocks[%d]", resp.Receiver, len(resp.Blocks))

	return nil
}

// PublishBlock announces a locally mined block on the chain topic.
func (p *Protocol) PublishBlock(ctx context.Context, block database.Block) error {
	if err := p.publishChain(ctx, BlockAnnouncement{Block: block}); err != nil {
		return err
	}

	p.evHandler("gossip: PublishBlock: announced block[%s]", block)

	return nil
}

// PublishTransaction relays a pool transaction on the pool topic.
func (p *Protocol) PublishTransaction(ctx context.Context, tx database.PoolTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	if err := p.transport.Publish(ctx, PoolTopic, data); err != nil {
		return fmt.Errorf("publish transaction: %w", err)
	}

	p.evHandler("gossip: PublishTransaction: sent tx[%s]", tx.TransactionID)

	return nil
}

// KnownPeers returns the peers this node has heard of.
func (p *Protocol) KnownPeers() []peer.Peer {
	return p.knownPeers.Copy(p.id)
}

// =============================================================================

func (p *Protocol) publishChain(ctx context.Context, msg ChainMessage) error {
	data, err := encodeChainMessage(msg)
	if err != nil {
		return fmt.Errorf("encode chain message: %w", err)
	}

	if err := p.transport.Publish(ctx, ChainTopic, data); err != nil {
		return fmt.Errorf("publish chain message: %w", err)
	}

	return nil
}

func (p *Protocol) handleChainMessage(ctx context.Context, source string, cm ChainMessage) error {
	switch msg := cm.(type) {
	case LocalChainResponse:
		if msg.Receiver != p.id {
			return nil
		}

		p.evHandler("gossip: handleChainMessage: response from peer[%s]: blocks[%d]", source, len(msg.Blocks))

		return p.chain.ReplaceChain(msg.Blocks)

	case LocalChainRequest:
		if msg.FromPeerID != p.id {
			return nil
		}

		p.evHandler("gossip: handleChainMessage: sending local chain to peer[%s]", source)

		resp := LocalChainResponse{
			Receiver: source,
			Blocks:   p.chain.Blocks(),
		}

		select {
		case p.responses <- resp:
		case <-ctx.Done():
			return ctx.Err()
		default:
			p.evHandler("gossip: handleChainMessage: ERROR: response queue full, dropping response for peer[%s]", source)
		}

		return nil

	case BlockAnnouncement:
		p.evHandler("gossip: handleChainMessage: block from peer[%s]: block[%s]", source, msg.Block)

		// Rejections are logged by the chain.
		_ = p.chain.TryAddBlock(msg.Block)

		return nil
	}

	return ErrUnknownMessage
}

func (p *Protocol) handlePoolTransaction(source string, data []byte) error {
	var tx database.PoolTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}

	if err := tx.Transaction.Validate(); err != nil {
		p.evHandler("gossip: handlePoolTransaction: WARNING: peer[%s]: tx[%s]: %s", source, tx.TransactionID, err)
		return nil
	}

	if _, err := p.chain.AddNewPoolTransaction(tx); err != nil {
		p.evHandler("gossip: handlePoolTransaction: peer[%s]: %s", source, err)
		return nil
	}

	p.evHandler("gossip: handlePoolTransaction: added tx[%s] from peer[%s]", tx.TransactionID, source)

	return nil
}
