// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sizes of the different key and signature encodings.
const (
	PublicKeySize = ed25519.PublicKeySize
	SecretSize    = ed25519.SeedSize
	SignatureSize = ed25519.SignatureSize
)

// =============================================================================

// Keypair represents an ed25519 private key and its public key.
type Keypair struct {
	privateKey ed25519.PrivateKey
}

// GenerateKeypair constructs a new keypair from the system random source.
func GenerateKeypair() (Keypair, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate key: %w", err)
	}

	return Keypair{privateKey: privateKey}, nil
}

// KeypairFromSeed constructs a keypair from the first 32 bytes of the seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) < SecretSize {
		return Keypair{}, errors.New("seed is too short")
	}

	return Keypair{privateKey: ed25519.NewKeyFromSeed(seed[:SecretSize])}, nil
}

// KeypairFromHex constructs a keypair from a hex encoded secret. Both the
// 32 byte seed and the 64 byte seed|public form are accepted.
func KeypairFromHex(secret string) (Keypair, error) {
	b, err := decodeHex(secret)
	if err != nil {
		return Keypair{}, fmt.Errorf("decode secret: %w", err)
	}

	switch len(b) {
	case SecretSize:
		return KeypairFromSeed(b)

	case ed25519.PrivateKeySize:
		kp, err := KeypairFromSeed(b[:SecretSize])
		if err != nil {
			return Keypair{}, err
		}
		if !bytes.Equal(kp.PublicKey(), b[SecretSize:]) {
			return Keypair{}, errors.New("public key does not match secret")
		}
		return kp, nil
	}

	return Keypair{}, fmt.Errorf("invalid secret length %d", len(b))
}

// Sign signs the message and returns the 64 byte signature.
func (kp Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.privateKey, message)
}

// PublicKey returns a copy of the 32 byte public key.
func (kp Keypair) PublicKey() []byte {
	pub := kp.privateKey.Public().(ed25519.PublicKey)
	return bytes.Clone(pub)
}

// Secret returns a copy of the 32 byte secret seed.
func (kp Keypair) Secret() []byte {
	return bytes.Clone(kp.privateKey.Seed())
}

// Address returns the hex encoded public key. This is the form used for the
// from and to fields of a transaction.
func (kp Keypair) Address() string {
	return hex.EncodeToString(kp.PublicKey())
}

// PrivateKey returns the raw ed25519 private key.
func (kp Keypair) PrivateKey() ed25519.PrivateKey {
	return kp.privateKey
}

// =============================================================================

// Verify checks the signature for the message was produced by the specified
// public key. Verification is strict: non-canonical encodings and small order
// points are rejected even when the verification equation holds.
func Verify(publicKey []byte, message []byte, sig []byte) bool {
	return verify(publicKey, message, sig) == nil
}

// AddressToPublicKey decodes a hex address back into public key bytes.
func AddressToPublicKey(address string) ([]byte, error) {
	pub, err := decodeHex(address)
	if err != nil {
		return nil, err
	}

	if len(pub) != PublicKeySize {
		return nil, fmt.Errorf("invalid public key length %d", len(pub))
	}

	return pub, nil
}

// verify holds the reason a signature failed. The reason never leaves
// this package.
func verify(publicKey []byte, message []byte, sig []byte) error {
	if len(publicKey) != PublicKeySize {
		return errors.New("invalid public key length")
	}

	if len(sig) != SignatureSize {
		return errors.New("invalid signature length")
	}

	if err := checkPoint(publicKey); err != nil {
		return fmt.Errorf("public key: %w", err)
	}

	if err := checkPoint(sig[:32]); err != nil {
		return fmt.Errorf("signature R: %w", err)
	}

	if _, err := edwards25519.NewScalar().SetCanonicalBytes(sig[32:]); err != nil {
		return fmt.Errorf("signature S: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, sig) {
		return errors.New("verification equation failed")
	}

	return nil
}

// checkPoint makes sure the encoded point is canonical and not of small order.
func checkPoint(b []byte) error {
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return err
	}

	if !bytes.Equal(p.Bytes(), b) {
		return errors.New("non-canonical point encoding")
	}

	if new(edwards25519.Point).MultByCofactor(p).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return errors.New("small order point")
	}

	return nil
}

// decodeHex accepts hex with or without the 0x prefix.
func decodeHex(s string) ([]byte, error) {
	if has0xPrefix(s) {
		return hexutil.Decode(s)
	}

	return hex.DecodeString(s)
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
