package database

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// DifficultyPrefix is the leading bit pattern a block hash must match when
// the hash is read as a binary string. It is the proof of work target.
const DifficultyPrefix = "0000000000000000"

// DifficultyBits is the number of leading zero bits the prefix requires.
const DifficultyBits = len(DifficultyPrefix)

// =============================================================================

// Block represents a single entry in the chain.
type Block struct {
	ID           uint64 `json:"id"`
	Hash         string `json:"hash"`
	PreviousHash string `json:"previous_hash"`
	Timestamp    int64  `json:"timestamp"`
	Data         string `json:"data"`
	Nonce        uint64 `json:"nonce"`
}

// String implements the fmt.Stringer interface for logging.
func (b Block) String() string {
	return fmt.Sprintf("%d:%s", b.ID, b.Hash)
}

// blockHeader is the hashed form of a block, keys in sorted order.
type blockHeader struct {
	Data         string `json:"data"`
	ID           uint64 `json:"id"`
	Nonce        uint64 `json:"nonce"`
	PreviousHash string `json:"previous_hash"`
	Timestamp    int64  `json:"timestamp"`
}

func hashFields(id uint64, timestamp int64, previousHash string, data string, nonce uint64) blockHeader {
	return blockHeader{
		Data:         data,
		ID:           id,
		Nonce:        nonce,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
	}
}

// CalculateHash returns the digest of the block fields. The fields are
// serialized as a JSON object with the keys in sorted order.
func CalculateHash(id uint64, timestamp int64, previousHash string, data string, nonce uint64) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// A struct of strings and integers always encodes.
	_ = enc.Encode(hashFields(id, timestamp, previousHash, data, nonce))

	hash := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hash[:]
}

// Recalculate returns the hex digest of the block's own fields.
func (b Block) Recalculate() string {
	return hex.EncodeToString(CalculateHash(b.ID, b.Timestamp, b.PreviousHash, b.Data, b.Nonce))
}

// HashToBinary renders the digest as a string of bits, eight per byte.
func HashToBinary(hash []byte) string {
	var sb strings.Builder
	sb.Grow(len(hash) * 8)

	for _, c := range hash {
		fmt.Fprintf(&sb, "%08b", c)
	}

	return sb.String()
}

// IsHashSolved checks the hex encoded hash matches the difficulty prefix.
func IsHashSolved(hash string) bool {
	b, err := hex.DecodeString(hash)
	if err != nil || len(b) != sha256.Size {
		return false
	}

	return solved(b)
}

// solved reports whether the digest starts with DifficultyBits zero bits.
func solved(hash []byte) bool {
	zeros := 0
	for _, c := range hash {
		if c != 0 {
			zeros += bits.LeadingZeros8(c)
			break
		}
		zeros += 8

		if zeros >= DifficultyBits {
			break
		}
	}

	return zeros >= DifficultyBits
}

// =============================================================================

// MineBlock searches for a nonce that solves the difficulty for a new block
// following the previous block. The search can be cancelled through the
// context.
func MineBlock(ctx context.Context, previous Block, data string, now time.Time) (Block, error) {
	nb := Block{
		ID:           previous.ID + 1,
		PreviousHash: previous.Hash,
		Timestamp:    now.UTC().Unix(),
		Data:         data,
	}

	head, tail := hashTemplate(nb)
	buf := make([]byte, 0, len(head)+20+len(tail))

	for nonce := uint64(0); ; nonce++ {
		if nonce%1024 == 0 && ctx.Err() != nil {
			return Block{}, ctx.Err()
		}

		buf = append(buf[:0], head...)
		buf = strconv.AppendUint(buf, nonce, 10)
		buf = append(buf, tail...)

		hash := sha256.Sum256(buf)
		if solved(hash[:]) {
			nb.Nonce = nonce
			nb.Hash = hex.EncodeToString(hash[:])
			return nb, nil
		}
	}
}

// hashTemplate splits the encoded hash input of the block around the nonce
// value so mining only rewrites the nonce digits. The data string is escaped
// in the encoding, so the nonce key can only match the field itself.
func hashTemplate(b Block) (head []byte, tail []byte) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(hashFields(b.ID, b.Timestamp, b.PreviousHash, b.Data, 0))

	encoded := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	const key = `"nonce":`
	i := bytes.Index(encoded, []byte(key+`0,"previous_hash":`)) + len(key)

	return encoded[:i], encoded[i+1:]
}

// =============================================================================

// MinedTransactions returns the transaction ids recorded in block data. Block
// data is opaque, but data holding a JSON array of transaction ids is read as
// the set of pool transactions the block mined. Any other data mines nothing.
func MinedTransactions(data string) []TransactionID {
	var ids []TransactionID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil
	}

	return ids
}

// MinedData renders the transaction ids as block data.
func MinedData(ids []TransactionID) string {
	data, err := json.Marshal(ids)
	if err != nil {
		return ""
	}

	return string(data)
}
