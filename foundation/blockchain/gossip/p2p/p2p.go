// Package p2p provides the gossip transport on a libp2p host. Messages are
// flooded to every subscribed peer and peers on the local network are found
// through mDNS.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/gossip"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// DefaultServiceTag is the mDNS service name nodes advertise under.
const DefaultServiceTag = "ledger-gossip"

// EventHandler defines a function that is called when events
// occur in the transport.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the transport.
type Config struct {
	Identity    signature.NodeIdentity
	ListenAddrs []string
	ServiceTag  string
	BufferSize  int
	EvHandler   EventHandler
}

// Transport is the libp2p implementation of gossip.Transport.
type Transport struct {
	host      host.Host
	ps        *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      []*pubsub.Subscription
	mdns      mdns.Service
	ch        chan gossip.Message
	evHandler EventHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a libp2p host, joins the gossip topics and starts local
// discovery.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	listen := cfg.ListenAddrs
	if len(listen) == 0 {
		listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	serviceTag := cfg.ServiceTag
	if serviceTag == "" {
		serviceTag = DefaultServiceTag
	}

	size := cfg.BufferSize
	if size < 1 {
		size = 1024
	}

	h, err := libp2p.New(
		libp2p.Identity(cfg.Identity.PrivKey()),
		libp2p.ListenAddrStrings(listen...),
	)
	if err != nil {
		return nil, fmt.Errorf("start host: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	t := Transport{
		host:      h,
		topics:    make(map[string]*pubsub.Topic),
		ch:        make(chan gossip.Message, size),
		evHandler: ev,
		cancel:    cancel,
	}

	if err := t.start(ctx, serviceTag); err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	ev("p2p: New: started host[%s]: addrs%v", h.ID(), h.Addrs())

	return &t, nil
}

func (t *Transport) start(ctx context.Context, serviceTag string) error {
	ps, err := pubsub.NewFloodSub(ctx, t.host)
	if err != nil {
		return fmt.Errorf("start floodsub: %w", err)
	}
	t.ps = ps

	for _, name := range gossip.Topics() {
		topic, err := ps.Join(name)
		if err != nil {
			return fmt.Errorf("join topic %s: %w", name, err)
		}

		sub, err := topic.Subscribe()
		if err != nil {
			return fmt.Errorf("subscribe topic %s: %w", name, err)
		}

		t.topics[name] = topic
		t.subs = append(t.subs, sub)
	}

	t.mdns = mdns.NewMdnsService(t.host, serviceTag, &notifee{ctx: ctx, t: t})
	if err := t.mdns.Start(); err != nil {
		return fmt.Errorf("start mdns: %w", err)
	}

	t.wg.Add(len(t.subs))
	for _, sub := range t.subs {
		go func() {
			defer t.wg.Done()
			t.readLoop(ctx, sub)
		}()
	}

	return nil
}

// readLoop forwards messages from a subscription until the context is
// cancelled. Messages this host published are skipped.
func (t *Transport) readLoop(ctx context.Context, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.evHandler("p2p: readLoop: ERROR: topic[%s]: %s", sub.Topic(), err)
			}
			return
		}

		if msg.ReceivedFrom == t.host.ID() {
			continue
		}

		gm := gossip.Message{
			Source: msg.GetFrom().String(),
			Topic:  msg.GetTopic(),
			Data:   msg.Data,
		}

		select {
		case t.ch <- gm:
		case <-ctx.Done():
			return
		}
	}
}

// Publish sends the data on the named topic.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	tp, exists := t.topics[topic]
	if !exists {
		return fmt.Errorf("topic %q not joined", topic)
	}

	return tp.Publish(ctx, data)
}

// Messages returns the channel of inbound messages. The channel is closed
// when the transport is closed.
func (t *Transport) Messages() <-chan gossip.Message {
	return t.ch
}

// Peers returns the peers subscribed to any gossip topic in id order.
func (t *Transport) Peers(ctx context.Context) ([]string, error) {
	seen := make(map[peer.ID]struct{})
	for name := range t.topics {
		for _, id := range t.ps.ListPeers(name) {
			seen[id] = struct{}{}
		}
	}

	peers := make([]string, 0, len(seen))
	for id := range seen {
		peers = append(peers, id.String())
	}
	slices.Sort(peers)

	return peers, nil
}

// Close stops discovery, leaves the topics and shuts the host down.
func (t *Transport) Close() error {
	t.cancel()

	if t.mdns != nil {
		t.mdns.Close()
	}

	for _, sub := range t.subs {
		sub.Cancel()
	}

	t.wg.Wait()
	close(t.ch)

	for _, topic := range t.topics {
		topic.Close()
	}

	return t.host.Close()
}

// =============================================================================

// notifee connects to the peers mDNS discovers.
type notifee struct {
	ctx context.Context
	t   *Transport
}

// HandlePeerFound implements the mdns.Notifee interface.
func (n *notifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.t.host.ID() {
		return
	}

	if err := n.t.host.Connect(n.ctx, pi); err != nil {
		n.t.evHandler("p2p: HandlePeerFound: WARNING: connect peer[%s]: %s", pi.ID, err)
		return
	}

	n.t.evHandler("p2p: HandlePeerFound: connected peer[%s]", pi.ID)
}
