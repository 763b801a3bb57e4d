package chain_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/txpool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func ifErrFailNow(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Error(err)
		t.FailNow()
	}
}

// recorder captures the events raised by the chain.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) ev(v string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, fmt.Sprintf(v, args...))
}

func (r *recorder) warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var warns []string
	for _, msg := range r.msgs {
		if strings.Contains(msg, "WARNING:") {
			warns = append(warns, msg)
		}
	}

	return warns
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = nil
}

func mine(t *testing.T, previous database.Block, data string) database.Block {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	block, err := database.MineBlock(ctx, previous, data, time.Now())
	ifErrFailNow(t, err)

	return block
}

// mineChain extends the genesis block with n mined blocks.
func mineChain(t *testing.T, n int, tag string) []database.Block {
	t.Helper()

	blocks := []database.Block{database.Genesis()}
	for i := range n {
		blocks = append(blocks, mine(t, blocks[len(blocks)-1], fmt.Sprintf("%s-%d", tag, i)))
	}

	return blocks
}

// =============================================================================

func Test_BlockValidation(t *testing.T) {
	rec := recorder{}
	c := chain.New(chain.Config{EvHandler: rec.ev})
	c.Genesis()

	genesis := database.Genesis()
	good := mine(t, genesis, "hello")

	wrongPrev := good
	wrongPrev.PreviousHash = strings.Repeat("0", 64)

	badDifficulty := good
	badDifficulty.Hash = strings.Repeat("f", 64)

	wrongID := good
	wrongID.ID = 5

	tampered := good
	tampered.Data = "tampered"

	// A wrong previous hash and wrong id together reports the previous hash.
	twoFaults := good
	twoFaults.PreviousHash = "nope"
	twoFaults.ID = 7

	type table struct {
		name  string
		block database.Block
		valid bool
		warn  string
	}

	tt := []table{
		{name: "valid", block: good, valid: true},
		{name: "wrong-previous-hash", block: wrongPrev, warn: "has wrong previous hash"},
		{name: "invalid-difficulty", block: badDifficulty, warn: "has invalid difficulty"},
		{name: "wrong-id", block: wrongID, warn: "is not the next block after the latest"},
		{name: "invalid-hash", block: tampered, warn: "has invalid hash"},
		{name: "first-failure-wins", block: twoFaults, warn: "has wrong previous hash"},
	}

	t.Log("Given the need to validate blocks against their predecessor.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				rec.reset()

				if got := c.IsBlockValid(tst.block, genesis); got != tst.valid {
					t.Fatalf("\t%s\tTest %d:\tShould get validity %v, got %v.", failed, testID, tst.valid, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get validity %v.", success, testID, tst.valid)

				warns := rec.warnings()
				switch {
				case tst.valid && len(warns) != 0:
					t.Fatalf("\t%s\tTest %d:\tShould not log a warning: %v", failed, testID, warns)

				case !tst.valid && (len(warns) != 1 || !strings.Contains(warns[0], tst.warn)):
					t.Fatalf("\t%s\tTest %d:\tShould log exactly the %q warning: %v", failed, testID, tst.warn, warns)
				}
				t.Logf("\t%s\tTest %d:\tShould log the expected warnings.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_TryAddBlock(t *testing.T) {
	c := chain.New(chain.Config{})

	t.Log("Given the need to extend the chain one block at a time.")
	{
		if err := c.TryAddBlock(database.Genesis()); !errors.Is(err, chain.ErrNoBlocks) {
			t.Fatalf("\t%s\tShould reject a block before genesis: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a block before genesis.", success)

		c.Genesis()
		if !c.IsChainValid(c.Blocks()) {
			t.Fatalf("\t%s\tShould have a valid chain after genesis.", failed)
		}
		t.Logf("\t%s\tShould have a valid chain after genesis.", success)

		latest, _ := c.LatestBlock()
		block := mine(t, latest, "first")

		ifErrFailNow(t, c.TryAddBlock(block))
		if latest, _ := c.LatestBlock(); latest != block {
			t.Fatalf("\t%s\tShould have the new block as the tip.", failed)
		}
		t.Logf("\t%s\tShould accept a valid block.", success)

		if err := c.TryAddBlock(block); !errors.Is(err, chain.ErrInvalidBlock) {
			t.Fatalf("\t%s\tShould reject the same block twice: %v", failed, err)
		}
		if len(c.Blocks()) != 2 {
			t.Fatalf("\t%s\tShould leave the chain unchanged on rejection.", failed)
		}
		t.Logf("\t%s\tShould leave the chain unchanged on rejection.", success)

		if !c.IsChainValid(c.Blocks()) {
			t.Fatalf("\t%s\tShould keep the chain valid.", failed)
		}
		t.Logf("\t%s\tShould keep the chain valid.", success)
	}
}

func Test_MinedTransactions(t *testing.T) {
	kp, err := signature.GenerateKeypair()
	ifErrFailNow(t, err)

	pool := txpool.New()
	c := chain.New(chain.Config{Pool: pool})
	c.Genesis()

	var ids []database.TransactionID
	for nonce := range uint64(3) {
		signed, err := database.SignTransaction(database.Transaction{From: kp.Address(), To: "bob", Nonce: nonce}, kp)
		ifErrFailNow(t, err)

		tx, err := c.AddNewPoolTransaction(database.NewPoolTransaction(signed))
		ifErrFailNow(t, err)

		ids = append(ids, tx.TransactionID)
	}

	latest, _ := c.LatestBlock()
	block := mine(t, latest, database.MinedData(ids[:2]))
	ifErrFailNow(t, c.TryAddBlock(block))

	if pool.Count() != 1 {
		t.Fatalf("Should remove the mined transactions from the pool: got %d", pool.Count())
	}

	if _, exists := pool.Get(ids[2]); !exists {
		t.Fatalf("Should keep the transaction that was not mined.")
	}
}

func Test_ChooseChain(t *testing.T) {
	base := mineChain(t, 2, "base")
	longer := append(append([]database.Block{}, base...), mine(t, base[len(base)-1], "longer"))
	fork := append(append([]database.Block{}, base[:2]...), mine(t, base[1], "fork"))

	invalid := append([]database.Block{}, longer...)
	invalid[2].Data = "tampered"

	otherInvalid := append([]database.Block{}, base...)
	otherInvalid[1].ID = 9

	type table struct {
		name   string
		local  []database.Block
		remote []database.Block
		exp    []database.Block
		err    error
	}

	tt := []table{
		{name: "longer-remote-wins", local: base, remote: longer, exp: longer},
		{name: "longer-local-wins", local: longer, remote: base, exp: longer},
		{name: "tie-keeps-local", local: base, remote: fork, exp: base},
		{name: "invalid-remote", local: base, remote: invalid, exp: base},
		{name: "invalid-local", local: invalid, remote: base, exp: base},
		{name: "both-invalid", local: invalid, remote: otherInvalid, err: chain.ErrBothChainsInvalid},
		{name: "empty-remote", local: base, remote: nil, exp: base},
	}

	c := chain.New(chain.Config{})

	t.Log("Given the need to choose between a local and a remote chain.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				got, err := c.ChooseChain(tst.local, tst.remote)
				if !errors.Is(err, tst.err) {
					t.Fatalf("\t%s\tTest %d:\tShould get error %v, got %v.", failed, testID, tst.err, err)
				}

				if len(got) != len(tst.exp) {
					t.Fatalf("\t%s\tTest %d:\tShould choose a chain of %d blocks, got %d.", failed, testID, len(tst.exp), len(got))
				}
				for i := range got {
					if got[i] != tst.exp[i] {
						t.Fatalf("\t%s\tTest %d:\tShould choose the expected chain at block %d.", failed, testID, i)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould choose the expected chain.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_ReplaceChain(t *testing.T) {
	c := chain.New(chain.Config{})
	c.Genesis()

	remote := mineChain(t, 2, "remote")

	ifErrFailNow(t, c.ReplaceChain(remote))
	if len(c.Blocks()) != 3 {
		t.Fatalf("Should adopt the longer remote chain: got %d", len(c.Blocks()))
	}

	// A shorter remote is ignored.
	ifErrFailNow(t, c.ReplaceChain(remote[:2]))
	if len(c.Blocks()) != 3 {
		t.Fatalf("Should keep the longer local chain: got %d", len(c.Blocks()))
	}

	snap := c.Snapshot()
	if len(snap) != 3 || snap[2] != remote[2] {
		t.Fatalf("Should publish the replaced chain to readers.")
	}
}

func Test_AddNewPoolTransaction(t *testing.T) {
	kp, err := signature.GenerateKeypair()
	ifErrFailNow(t, err)

	c := chain.New(chain.Config{})

	signed, err := database.SignTransaction(database.Transaction{From: kp.Address(), To: "bob", Nonce: 1}, kp)
	ifErrFailNow(t, err)

	tx := database.NewPoolTransaction(signed)

	if _, err := c.AddNewPoolTransaction(tx); err != nil {
		t.Fatalf("Should accept a new transaction: %s", err)
	}

	if _, err := c.AddNewPoolTransaction(tx); !txpool.IsDiscarded(err) {
		t.Fatalf("Should discard a transaction that is already known: %v", err)
	}

	if c.Pool().Count() != 1 {
		t.Fatalf("Should hold the transaction once.")
	}
}

func Test_Snapshot(t *testing.T) {
	c := chain.New(chain.Config{})

	if len(c.Snapshot()) != 0 {
		t.Fatalf("Should start with an empty snapshot.")
	}

	c.Genesis()
	latest, _ := c.LatestBlock()
	block := mine(t, latest, "snap")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 100 {
			snap := c.Snapshot()
			if len(snap) < 1 || !snap[0].IsGenesis() {
				t.Error("Should always read genesis first.")
				return
			}
		}
	}()

	ifErrFailNow(t, c.TryAddBlock(block))
	wg.Wait()

	snap := c.Snapshot()
	snap[0].Data = "changed"

	if !c.Snapshot()[0].IsGenesis() {
		t.Fatalf("Should hand out copies of the snapshot.")
	}
}
