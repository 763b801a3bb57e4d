// Package database defines the data model of the ledger: blocks, the genesis
// block, transactions and the payload shapes crossing the RPC boundary.
package database

import (
	"encoding/hex"
	"fmt"

	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
)

// TransactionRequest is the payload a wallet sends to submit a transaction.
// The signature is computed by the wallet over the transaction signing hash.
type TransactionRequest struct {
	From      string  `json:"from" validate:"required,hexadecimal,len=64"`
	To        string  `json:"to" validate:"required"`
	Value     *uint64 `json:"value,omitempty"`
	Nonce     uint64  `json:"nonce"`
	Signature string  `json:"signature" validate:"required"`
}

// ToSigned assembles the signed transaction the request describes.
func (tr TransactionRequest) ToSigned() (TransactionSigned, error) {
	sig, err := hex.DecodeString(trim0x(tr.Signature))
	if err != nil {
		return TransactionSigned{}, fmt.Errorf("decode signature: %w", err)
	}

	tx := Transaction{
		From:  tr.From,
		To:    tr.To,
		Nonce: tr.Nonce,
	}

	hash, err := tx.SigningHash()
	if err != nil {
		return TransactionSigned{}, err
	}

	signed := TransactionSigned{
		Transaction: tx,
		Hash:        hash.Hex(),
		Signature:   sig,
	}

	return signed, nil
}

// NewAccount is the result of generating a new keypair for a wallet.
type NewAccount struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// NewAccountFromKeypair renders the keypair in its hex form.
func NewAccountFromKeypair(kp signature.Keypair) NewAccount {
	return NewAccount{
		PublicKey:  hex.EncodeToString(kp.PublicKey()),
		PrivateKey: hex.EncodeToString(kp.Secret()),
	}
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
