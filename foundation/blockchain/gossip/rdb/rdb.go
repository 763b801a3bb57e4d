// Package rdb provides the gossip transport on redis pub/sub. Every topic
// is a redis channel and live nodes keep their id in a presence sorted set.
package rdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/gossip"
	"github.com/redis/go-redis/v9"
)

// Defaults for the transport configuration.
const (
	DefaultPrefix      = "ledger"
	DefaultPresenceTTL = 10 * time.Second
)

// EventHandler defines a function that is called when events
// occur in the transport.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the transport. The
// client is owned by the caller.
type Config struct {
	ID          string
	Client      redis.UniversalClient
	Prefix      string
	PresenceTTL time.Duration
	BufferSize  int
	EvHandler   EventHandler
}

// Transport is the redis implementation of gossip.Transport.
type Transport struct {
	id        string
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	pubsub    *redis.PubSub
	ch        chan gossip.Message
	evHandler EventHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// envelope carries the publishing node id with the payload since redis does
// not report the publisher.
type envelope struct {
	Source string `json:"source"`
	Data   []byte `json:"data"`
}

// New subscribes to the gossip channels and registers the node in the
// presence set.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.ID == "" {
		return nil, errors.New("node id is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	ttl := cfg.PresenceTTL
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}

	size := cfg.BufferSize
	if size < 1 {
		size = 1024
	}

	ctx, cancel := context.WithCancel(ctx)

	t := Transport{
		id:        cfg.ID,
		client:    cfg.Client,
		prefix:    prefix,
		ttl:       ttl,
		ch:        make(chan gossip.Message, size),
		evHandler: ev,
		cancel:    cancel,
	}

	channels := make([]string, 0, len(gossip.Topics()))
	for _, topic := range gossip.Topics() {
		channels = append(channels, t.channel(topic))
	}

	t.pubsub = cfg.Client.Subscribe(ctx, channels...)

	// Wait for the subscription to be confirmed so nothing published after
	// New returns is missed.
	if _, err := t.pubsub.Receive(ctx); err != nil {
		cancel()
		t.pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	if err := t.heartbeat(ctx); err != nil {
		cancel()
		t.pubsub.Close()
		return nil, err
	}

	t.wg.Add(2)

	go func() {
		defer t.wg.Done()
		t.readLoop(ctx)
	}()

	go func() {
		defer t.wg.Done()
		t.presenceLoop(ctx)
	}()

	ev("rdb: New: subscribed: channels%v", channels)

	return &t, nil
}

// Publish sends the data on the named topic.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	payload, err := json.Marshal(envelope{Source: t.id, Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	return t.client.Publish(ctx, t.channel(topic), payload).Err()
}

// Messages returns the channel of inbound messages. The channel is closed
// when the transport is closed.
func (t *Transport) Messages() <-chan gossip.Message {
	return t.ch
}

// Peers returns the other nodes whose presence has not expired in id order.
func (t *Transport) Peers(ctx context.Context) ([]string, error) {
	key := t.presenceKey()
	cutoff := strconv.FormatInt(time.Now().Add(-t.ttl).UnixMilli(), 10)

	if err := t.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("expire presence: %w", err)
	}

	ids, err := t.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	peers := slices.DeleteFunc(ids, func(id string) bool { return id == t.id })
	slices.Sort(peers)

	return peers, nil
}

// Close unsubscribes and removes the node from the presence set.
func (t *Transport) Close() error {
	t.cancel()
	err := t.pubsub.Close()

	t.wg.Wait()
	close(t.ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if rerr := t.client.ZRem(ctx, t.presenceKey(), t.id).Err(); rerr != nil && err == nil {
		err = rerr
	}

	return err
}

// =============================================================================

func (t *Transport) channel(topic string) string {
	return t.prefix + ":" + topic
}

func (t *Transport) topic(channel string) string {
	return strings.TrimPrefix(channel, t.prefix+":")
}

func (t *Transport) presenceKey() string {
	return t.prefix + ":peers"
}

func (t *Transport) heartbeat(ctx context.Context) error {
	z := redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: t.id,
	}

	if err := t.client.ZAdd(ctx, t.presenceKey(), z).Err(); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}

	return nil
}

// presenceLoop refreshes the presence entry well inside its expiry.
func (t *Transport) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(t.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.heartbeat(ctx); err != nil && ctx.Err() == nil {
				t.evHandler("rdb: presenceLoop: WARNING: %s", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop forwards messages until the subscription is closed. Messages this
// node published are skipped.
func (t *Transport) readLoop(ctx context.Context) {
	msgs := t.pubsub.Channel()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			gm, err := t.decode(msg.Channel, msg.Payload)
			if err != nil {
				t.evHandler("rdb: readLoop: WARNING: channel[%s]: %s", msg.Channel, err)
				continue
			}

			if gm.Source == t.id {
				continue
			}

			select {
			case t.ch <- gm:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) decode(channel string, payload string) (gossip.Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return gossip.Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	gm := gossip.Message{
		Source: env.Source,
		Topic:  t.topic(channel),
		Data:   env.Data,
	}

	return gm, nil
}
