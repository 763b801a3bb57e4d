package database_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// =============================================================================

func Test_SigningHash(t *testing.T) {
	tx := database.Transaction{
		From:  "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a",
		To:    "3d4017c3e843895a92b70aa74d1b7ebc9c982ccf2ec4968cc0cd55f12af4660c",
		Nonce: 1,
	}

	t.Log("Given the need to hash transactions deterministically.")
	{
		h1, err := tx.SigningHash()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to hash the transaction: %s", failed, err)
		}

		h2, err := tx.SigningHash()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to hash the transaction: %s", failed, err)
		}

		if h1 != h2 {
			t.Logf("\t%s\tgot: %s", failed, h1)
			t.Logf("\t%s\texp: %s", failed, h2)
			t.Fatalf("\t%s\tShould get the same hash twice.", failed)
		}
		t.Logf("\t%s\tShould get the same hash twice.", success)

		other := tx
		other.To = "fc51cd8e6218a1a38da47ed00230f0580816ed13ba3303ac5deb911548908025"

		h3, err := other.SigningHash()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to hash the transaction: %s", failed, err)
		}

		if h1 == h3 {
			t.Fatalf("\t%s\tShould get a different hash for a different to address.", failed)
		}
		t.Logf("\t%s\tShould get a different hash for a different to address.", success)

		swapped := database.Transaction{From: tx.To, To: tx.From, Nonce: tx.Nonce}
		h4, err := swapped.SigningHash()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to hash the transaction: %s", failed, err)
		}

		if h1 == h4 {
			t.Fatalf("\t%s\tShould get a different hash when fields are reordered.", failed)
		}
		t.Logf("\t%s\tShould get a different hash when fields are reordered.", success)
	}
}

func Test_Encoding(t *testing.T) {
	tx := database.Transaction{From: "a", To: "b", Nonce: 0}

	data, err := tx.Encode()
	if err != nil {
		t.Fatalf("Should be able to encode the transaction: %s", err)
	}

	// [0, "a", "b"]
	exp := []byte{0xc3, 0x80, 0x61, 0x62}
	if !bytes.Equal(data, exp) {
		t.Logf("got: %x", data)
		t.Logf("exp: %x", exp)
		t.Fatalf("Should get the canonical encoding.")
	}

	got, err := database.DecodeTransaction(data)
	if err != nil {
		t.Fatalf("Should be able to decode the transaction: %s", err)
	}

	if got != tx {
		t.Logf("got: %+v", got)
		t.Logf("exp: %+v", tx)
		t.Fatalf("Should get back the same transaction.")
	}

	type table struct {
		name string
		data []byte
	}

	tt := []table{
		{name: "non-canonical-int", data: []byte{0xc3, 0x00, 0x61, 0x62}},
		{name: "trailing-bytes", data: append(bytes.Clone(exp), 0x80)},
		{name: "missing-field", data: []byte{0xc2, 0x80, 0x61}},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			if _, err := database.DecodeTransaction(tst.data); err == nil {
				t.Fatalf("Test %s:\tShould reject the encoding.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_SignedTransaction(t *testing.T) {
	kp, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("Should be able to generate a keypair: %s", err)
	}

	tx := database.Transaction{From: kp.Address(), To: "bob", Nonce: 7}

	signed, err := database.SignTransaction(tx, kp)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	if err := signed.Validate(); err != nil {
		t.Fatalf("Should be able to validate the transaction: %s", err)
	}

	tampered := signed
	tampered.Transaction.To = "mallory"
	if err := tampered.Validate(); err == nil {
		t.Fatalf("Should reject a tampered transaction.")
	}

	other, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("Should be able to generate a keypair: %s", err)
	}

	forged := signed
	forged.Signature = other.Sign([]byte(signed.Hash))
	if err := forged.Validate(); err == nil {
		t.Fatalf("Should reject a signature from another key.")
	}

	ptx := database.NewPoolTransaction(signed)
	if ptx.TransactionID.From != kp.Address() || ptx.TransactionID.Nonce != 7 {
		t.Fatalf("Should derive the id from the transaction: %s", ptx.TransactionID)
	}
}

func Test_TransactionRequest(t *testing.T) {
	kp, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("Should be able to generate a keypair: %s", err)
	}

	tx := database.Transaction{From: kp.Address(), To: "bob", Nonce: 1}
	signed, err := database.SignTransaction(tx, kp)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	req := database.TransactionRequest{
		From:      tx.From,
		To:        tx.To,
		Nonce:     tx.Nonce,
		Signature: signed.Signature.String(),
	}

	got, err := req.ToSigned()
	if err != nil {
		t.Fatalf("Should be able to assemble the transaction: %s", err)
	}

	if err := got.Validate(); err != nil {
		t.Fatalf("Should be able to validate the assembled transaction: %s", err)
	}

	if got.Hash != signed.Hash {
		t.Logf("got: %s", got.Hash)
		t.Logf("exp: %s", signed.Hash)
		t.Fatalf("Should get the same hash.")
	}
}

func Test_TransactionIDOrder(t *testing.T) {
	a1 := database.TransactionID{From: "a", Nonce: 1}
	a2 := database.TransactionID{From: "a", Nonce: 2}
	b0 := database.TransactionID{From: "b", Nonce: 0}

	if !a1.Less(a2) || !a2.Less(b0) || !a1.Less(b0) {
		t.Fatalf("Should order by from and then nonce.")
	}

	if a1.Compare(a1) != 0 {
		t.Fatalf("Should compare equal to itself.")
	}
}

func Test_Mining(t *testing.T) {
	genesis := database.Genesis()

	if !database.IsHashSolved(genesis.Hash) {
		t.Fatalf("Should have a genesis hash that matches the difficulty.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	block, err := database.MineBlock(ctx, genesis, "hello", time.Now())
	if err != nil {
		t.Fatalf("Should be able to mine a block: %s", err)
	}

	if block.ID != 1 || block.PreviousHash != genesis.Hash {
		t.Fatalf("Should link the block to genesis: %s", block)
	}

	if block.Recalculate() != block.Hash {
		t.Fatalf("Should store the recalculated hash.")
	}

	if !database.IsHashSolved(block.Hash) {
		t.Fatalf("Should mine a hash that matches the difficulty.")
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if _, err := database.MineBlock(cancelled, genesis, "hello", time.Now()); err == nil {
		t.Fatalf("Should stop mining when cancelled.")
	}
}

func Test_HashToBinary(t *testing.T) {
	got := database.HashToBinary([]byte{0x00, 0x0f, 0xff})
	exp := "000000000000111111111111"

	if got != exp {
		t.Logf("got: %s", got)
		t.Logf("exp: %s", exp)
		t.Fatalf("Should render eight bits per byte.")
	}

	if database.IsHashSolved("00ff") {
		t.Fatalf("Should reject a hash of the wrong length.")
	}

	if database.IsHashSolved(strings.Repeat("f", 64)) {
		t.Fatalf("Should reject a hash without the prefix.")
	}
}

func Test_LeadingZeroBits(t *testing.T) {
	type table struct {
		name   string
		hash   string
		solved bool
	}

	tt := []table{
		{name: "exact", hash: "0000" + "8" + strings.Repeat("f", 59), solved: true},
		{name: "seventeen", hash: "0000" + "7" + strings.Repeat("f", 59), solved: true},
		{name: "fifteen", hash: "0001" + strings.Repeat("f", 60), solved: false},
		{name: "eight", hash: "00" + strings.Repeat("f", 62), solved: false},
		{name: "deep", hash: "000000" + strings.Repeat("f", 58), solved: true},
		{name: "zero", hash: strings.Repeat("0", 64), solved: true},
	}

	t.Log("Given the need to check the difficulty on the digest bits.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling hash %s.", testID, tst.hash)
				{
					got := database.IsHashSolved(tst.hash)
					if got != tst.solved {
						t.Fatalf("\t%s\tTest %d:\tShould get solved=%v: got %v", failed, testID, tst.solved, got)
					}
					t.Logf("\t%s\tTest %d:\tShould get solved=%v.", success, testID, tst.solved)

					b, _ := hex.DecodeString(tst.hash)
					prefixed := strings.HasPrefix(database.HashToBinary(b), database.DifficultyPrefix)
					if prefixed != got {
						t.Fatalf("\t%s\tTest %d:\tShould agree with the binary prefix.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould agree with the binary prefix.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_MiningEscapedData(t *testing.T) {
	genesis := database.Genesis()

	data := []string{
		`"nonce":0,"previous_hash":"x"`,
		`{"nonce":0,"previous_hash":""}`,
		"<tag> & \\ \n",
	}

	t.Log("Given the need to mine blocks holding arbitrary data.")
	{
		for testID, d := range data {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

			block, err := database.MineBlock(ctx, genesis, d, time.Now())
			cancel()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine the block: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to mine the block.", success, testID)

			if block.Recalculate() != block.Hash {
				t.Fatalf("\t%s\tTest %d:\tShould store the recalculated hash.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould store the recalculated hash.", success, testID)

			if !database.IsHashSolved(block.Hash) {
				t.Fatalf("\t%s\tTest %d:\tShould mine a hash that matches the difficulty.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould mine a hash that matches the difficulty.", success, testID)
		}
	}
}

func Test_MinedTransactions(t *testing.T) {
	ids := []database.TransactionID{
		{From: "a", Nonce: 1},
		{From: "b", Nonce: 2},
	}

	got := database.MinedTransactions(database.MinedData(ids))
	if len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Fatalf("Should read back the mined ids: %v", got)
	}

	if got := database.MinedTransactions("hello"); got != nil {
		t.Fatalf("Should mine nothing for plain data: %v", got)
	}
}
