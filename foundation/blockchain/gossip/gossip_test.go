package gossip_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/gossip"
	"github.com/ardanlabs/ledger/foundation/blockchain/gossip/memory"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type node struct {
	id        string
	chain     *chain.Chain
	transport *memory.Transport
	responses chan gossip.LocalChainResponse
	protocol  *gossip.Protocol
}

func newNode(t *testing.T, hub *memory.Hub) *node {
	t.Helper()

	identity, err := signature.NewNodeIdentity()
	if err != nil {
		t.Fatalf("Should be able to create an identity: %s", err)
	}

	n := node{
		id:        identity.ID(),
		chain:     chain.New(chain.Config{}),
		transport: hub.Join(identity.ID(), 64),
		responses: make(chan gossip.LocalChainResponse, 8),
	}

	n.protocol, err = gossip.New(gossip.Config{
		Identity:  identity,
		Chain:     n.chain,
		Transport: n.transport,
		Responses: n.responses,
		EvHandler: func(v string, args ...any) { t.Logf(v, args...) },
	})
	if err != nil {
		t.Fatalf("Should be able to construct the protocol: %s", err)
	}

	return &n
}

// receive handles the next inbound message.
func (n *node) receive(t *testing.T) gossip.Message {
	t.Helper()

	select {
	case msg := <-n.transport.Messages():
		if err := n.protocol.HandleMessage(context.Background(), msg); err != nil {
			t.Fatalf("Should be able to handle the message: %s", err)
		}
		return msg

	case <-time.After(5 * time.Second):
		t.Fatalf("Should receive a message.")
	}

	return gossip.Message{}
}

func (n *node) quiet(t *testing.T) {
	t.Helper()

	select {
	case msg := <-n.transport.Messages():
		t.Fatalf("Should not receive a message: topic[%s]: %s", msg.Topic, msg.Data)
	default:
	}
}

func mine(t *testing.T, c *chain.Chain, data string) database.Block {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	latest, _ := c.LatestBlock()
	block, err := database.MineBlock(ctx, latest, data, time.Now())
	if err != nil {
		t.Fatalf("Should be able to mine a block: %s", err)
	}

	return block
}

// =============================================================================

func Test_DecodeChainMessage(t *testing.T) {
	block := database.Genesis()
	blockJSON, _ := json.Marshal(block)

	type table struct {
		name string
		data string
		exp  gossip.ChainMessage
	}

	tt := []table{
		{name: "response", data: `{"receiver":"a","blocks":[]}`, exp: gossip.LocalChainResponse{Receiver: "a", Blocks: []database.Block{}}},
		{name: "request", data: `{"from_peer_id":"b"}`, exp: gossip.LocalChainRequest{FromPeerID: "b"}},
		{name: "block", data: string(blockJSON), exp: gossip.BlockAnnouncement{Block: block}},
		{name: "extra-field", data: `{"from_peer_id":"b","extra":1}`},
		{name: "missing-field", data: `{"receiver":"a"}`},
		{name: "empty-object", data: `{}`},
		{name: "not-an-object", data: `[1,2]`},
	}

	t.Log("Given the need to discriminate chain messages by their fields.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				got, err := gossip.DecodeChainMessage([]byte(tst.data))

				if tst.exp == nil {
					if err == nil {
						t.Fatalf("\t%s\tTest %d:\tShould reject the payload, got %T.", failed, testID, got)
					}
					t.Logf("\t%s\tTest %d:\tShould reject the payload.", success, testID)
					return
				}

				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould decode the payload: %s", failed, testID, err)
				}

				gotJSON, _ := json.Marshal(got)
				expJSON, _ := json.Marshal(tst.exp)
				if string(gotJSON) != string(expJSON) {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, gotJSON)
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, expJSON)
					t.Fatalf("\t%s\tTest %d:\tShould decode to the expected message.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould decode to the expected message.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}

	if _, err := gossip.DecodeChainMessage([]byte(`{"x":1}`)); !errors.Is(err, gossip.ErrUnknownMessage) {
		t.Fatalf("Should report an unknown message: %v", err)
	}
}

func Test_ChainSync(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a := newNode(t, hub)
	if err := a.protocol.Init(ctx); err != nil {
		t.Fatalf("Should be able to init the first node: %s", err)
	}

	for _, data := range []string{"one", "two"} {
		if err := a.chain.TryAddBlock(mine(t, a.chain, data)); err != nil {
			t.Fatalf("Should be able to extend the first node: %s", err)
		}
	}

	b := newNode(t, hub)

	t.Log("Given the need to sync a new node from an existing one.")
	{
		if err := b.protocol.Init(ctx); err != nil {
			t.Fatalf("\t%s\tShould be able to init the second node: %s", failed, err)
		}

		if len(b.protocol.KnownPeers()) != 1 || b.protocol.KnownPeers()[0].ID != a.id {
			t.Fatalf("\t%s\tShould know the first node.", failed)
		}
		t.Logf("\t%s\tShould know the first node.", success)

		a.receive(t)

		var resp gossip.LocalChainResponse
		select {
		case resp = <-a.responses:
		default:
			t.Fatalf("\t%s\tShould queue a response for the requester.", failed)
		}

		if resp.Receiver != b.id || len(resp.Blocks) != 3 {
			t.Fatalf("\t%s\tShould address the full chain to the requester: %s %d", failed, resp.Receiver, len(resp.Blocks))
		}
		t.Logf("\t%s\tShould queue a response for the requester.", success)

		if err := a.protocol.PublishResponse(ctx, resp); err != nil {
			t.Fatalf("\t%s\tShould be able to publish the response: %s", failed, err)
		}

		b.receive(t)

		if len(b.chain.Blocks()) != 3 {
			t.Fatalf("\t%s\tShould adopt the longer chain: got %d", failed, len(b.chain.Blocks()))
		}
		t.Logf("\t%s\tShould adopt the longer chain.", success)

		block := mine(t, b.chain, "three")
		if err := b.chain.TryAddBlock(block); err != nil {
			t.Fatalf("\t%s\tShould be able to extend the second node: %s", failed, err)
		}
		if err := b.protocol.PublishBlock(ctx, block); err != nil {
			t.Fatalf("\t%s\tShould be able to announce the block: %s", failed, err)
		}

		a.receive(t)

		if latest, _ := a.chain.LatestBlock(); latest != block {
			t.Fatalf("\t%s\tShould add the announced block.", failed)
		}
		t.Logf("\t%s\tShould add the announced block.", success)
	}
}

func Test_ResponseForOtherPeer(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a := newNode(t, hub)
	b := newNode(t, hub)

	a.chain.Genesis()
	b.chain.Genesis()

	if err := a.chain.TryAddBlock(mine(t, a.chain, "one")); err != nil {
		t.Fatalf("Should be able to extend the chain: %s", err)
	}

	resp := gossip.LocalChainResponse{Receiver: "someone-else", Blocks: a.chain.Blocks()}
	if err := a.protocol.PublishResponse(ctx, resp); err != nil {
		t.Fatalf("Should be able to publish the response: %s", err)
	}

	b.receive(t)

	if len(b.chain.Blocks()) != 1 {
		t.Fatalf("Should ignore a response addressed to another peer.")
	}

	if err := a.protocol.RequestChain(ctx, "someone-else"); err != nil {
		t.Fatalf("Should be able to request a chain: %s", err)
	}

	b.receive(t)

	if len(b.responses) != 0 {
		t.Fatalf("Should not answer a request addressed to another peer.")
	}
}

func Test_PoolRelay(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a := newNode(t, hub)
	b := newNode(t, hub)

	la := a.chain.Pool().AddTransactionListener()
	lb := b.chain.Pool().AddTransactionListener()

	kp, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("Should be able to generate a keypair: %s", err)
	}

	signed, err := database.SignTransaction(database.Transaction{From: kp.Address(), To: "bob", Nonce: 1}, kp)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	t.Log("Given the need to relay pool transactions without looping.")
	{
		tx, err := a.chain.AddNewPoolTransaction(database.NewPoolTransaction(signed))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
		}

		// Each node relays what its pool accepted, as the event loop does.
		ev := <-la.C
		if err := a.protocol.PublishTransaction(ctx, ev.Transaction); err != nil {
			t.Fatalf("\t%s\tShould be able to publish the transaction: %s", failed, err)
		}

		b.receive(t)

		got, exists := b.chain.Pool().Get(tx.TransactionID)
		if !exists || got.Hash() != tx.Hash() {
			t.Fatalf("\t%s\tShould add the relayed transaction.", failed)
		}
		t.Logf("\t%s\tShould add the relayed transaction.", success)

		ev = <-lb.C
		if err := b.protocol.PublishTransaction(ctx, ev.Transaction); err != nil {
			t.Fatalf("\t%s\tShould be able to publish the transaction: %s", failed, err)
		}

		a.receive(t)

		if len(la.C) != 0 || a.chain.Pool().Count() != 1 {
			t.Fatalf("\t%s\tShould stop the relay at a node that already holds the transaction.", failed)
		}
		b.quiet(t)
		t.Logf("\t%s\tShould stop the relay at a node that already holds the transaction.", success)
	}
}

func Test_PoolRelayRejectsForgery(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a := newNode(t, hub)
	b := newNode(t, hub)

	kp, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("Should be able to generate a keypair: %s", err)
	}

	signed, err := database.SignTransaction(database.Transaction{From: kp.Address(), To: "bob", Nonce: 1}, kp)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}
	signed.Transaction.To = "mallory"

	if err := a.protocol.PublishTransaction(ctx, database.NewPoolTransaction(signed)); err != nil {
		t.Fatalf("Should be able to publish the transaction: %s", err)
	}

	b.receive(t)

	if b.chain.Pool().Count() != 0 {
		t.Fatalf("Should discard a transaction that fails validation.")
	}
}
