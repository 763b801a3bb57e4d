package database

import (
	"cmp"
	"errors"
	"fmt"
	"strings"

	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Transaction is the transactional information between two parties.
type Transaction struct {
	From  string `json:"from"`  // Hex encoded public key of the sender.
	To    string `json:"to"`    // Address receiving the transaction.
	Nonce uint64 `json:"nonce"` // Unique id for the transaction supplied by the sender.
}

// txRLP fixes the field order of the canonical encoding.
type txRLP struct {
	Nonce uint64
	From  string
	To    string
}

// Encode returns the canonical RLP encoding of the transaction, the list
// [nonce, from, to].
func (tx Transaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(txRLP{Nonce: tx.Nonce, From: tx.From, To: tx.To})
}

// DecodeTransaction decodes a canonical RLP encoding. Non-canonical integers,
// sizes and trailing bytes are rejected.
func DecodeTransaction(data []byte) (Transaction, error) {
	var v txRLP
	if err := rlp.DecodeBytes(data, &v); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}

	return Transaction{From: v.From, To: v.To, Nonce: v.Nonce}, nil
}

// SigningHash returns the digest a signature for this transaction is
// computed over.
func (tx Transaction) SigningHash() (common.Hash, error) {
	data, err := tx.Encode()
	if err != nil {
		return common.Hash{}, err
	}

	return crypto.Keccak256Hash(data), nil
}

// =============================================================================

// TransactionSigned is a signed version of the transaction. This is how
// transactions travel between the wallet, the pool and peers.
type TransactionSigned struct {
	Transaction Transaction   `json:"transaction"`
	Hash        string        `json:"hash"`
	Signature   hexutil.Bytes `json:"signature"`
}

// SignTransaction signs the transaction with the keypair.
func SignTransaction(tx Transaction, kp signature.Keypair) (TransactionSigned, error) {
	hash, err := tx.SigningHash()
	if err != nil {
		return TransactionSigned{}, err
	}

	signed := TransactionSigned{
		Transaction: tx,
		Hash:        hash.Hex(),
		Signature:   kp.Sign(hash.Bytes()),
	}

	return signed, nil
}

// Validate verifies the hash matches the transaction and the signature was
// produced by the key encoded in the from address.
func (tx TransactionSigned) Validate() error {
	hash, err := tx.Transaction.SigningHash()
	if err != nil {
		return err
	}

	if tx.Hash != hash.Hex() {
		return fmt.Errorf("transaction hash mismatch, got %s, exp %s", tx.Hash, hash.Hex())
	}

	pub, err := signature.AddressToPublicKey(tx.Transaction.From)
	if err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}

	if !signature.Verify(pub, hash.Bytes(), tx.Signature) {
		return errors.New("invalid signature")
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (tx TransactionSigned) String() string {
	return fmt.Sprintf("%s:%d", tx.Transaction.From, tx.Transaction.Nonce)
}

// =============================================================================

// TransactionID is the account-nonce slot a transaction occupies in the pool.
type TransactionID struct {
	From  string `json:"from"`
	Nonce uint64 `json:"nonce"`
}

// Compare orders ids by from and then by nonce.
func (id TransactionID) Compare(other TransactionID) int {
	if c := strings.Compare(id.From, other.From); c != 0 {
		return c
	}

	return cmp.Compare(id.Nonce, other.Nonce)
}

// Less reports whether id orders before other.
func (id TransactionID) Less(other TransactionID) bool {
	return id.Compare(other) < 0
}

// String implements the fmt.Stringer interface for logging.
func (id TransactionID) String() string {
	return fmt.Sprintf("%s:%d", id.From, id.Nonce)
}

// =============================================================================

// PoolTransaction is a signed transaction as it's held inside the pool.
type PoolTransaction struct {
	Transaction   TransactionSigned `json:"transaction"`
	TransactionID TransactionID     `json:"transaction_id"`
}

// NewPoolTransaction constructs a pool transaction deriving the id from the
// signed transaction.
func NewPoolTransaction(tx TransactionSigned) PoolTransaction {
	return PoolTransaction{
		Transaction: tx,
		TransactionID: TransactionID{
			From:  tx.Transaction.From,
			Nonce: tx.Transaction.Nonce,
		},
	}
}

// Hash returns the hash of the signed transaction.
func (tx PoolTransaction) Hash() string {
	return tx.Transaction.Hash
}

// Consistent checks the id matches the signed transaction it indexes.
func (tx PoolTransaction) Consistent() bool {
	return tx.TransactionID == NewPoolTransaction(tx.Transaction).TransactionID
}
