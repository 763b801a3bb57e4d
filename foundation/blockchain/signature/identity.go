package signature

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// NodeIdentity represents the keys a node holds for the lifetime of the
// process and the peer identifier advertised to other nodes. It is
// constructed once at startup and handed to the components that need it.
type NodeIdentity struct {
	keypair Keypair
	privKey crypto.PrivKey
	id      peer.ID
}

// NewNodeIdentity generates a fresh identity for this process.
func NewNodeIdentity() (NodeIdentity, error) {
	kp, err := GenerateKeypair()
	if err != nil {
		return NodeIdentity{}, err
	}

	return NodeIdentityFromKeypair(kp)
}

// NodeIdentityFromKeypair derives the peer identifier for an existing keypair.
func NodeIdentityFromKeypair(kp Keypair) (NodeIdentity, error) {
	privKey, err := crypto.UnmarshalEd25519PrivateKey(kp.PrivateKey())
	if err != nil {
		return NodeIdentity{}, fmt.Errorf("convert key: %w", err)
	}

	id, err := peer.IDFromPublicKey(privKey.GetPublic())
	if err != nil {
		return NodeIdentity{}, fmt.Errorf("derive peer id: %w", err)
	}

	ni := NodeIdentity{
		keypair: kp,
		privKey: privKey,
		id:      id,
	}

	return ni, nil
}

// ID returns the peer identifier in its string form.
func (ni NodeIdentity) ID() string {
	return ni.id.String()
}

// Keypair returns the keypair backing this identity.
func (ni NodeIdentity) Keypair() Keypair {
	return ni.keypair
}

// PeerID returns the peer identifier.
func (ni NodeIdentity) PeerID() peer.ID {
	return ni.id
}

// PrivKey returns the key in the form the networking stack expects.
func (ni NodeIdentity) PrivKey() crypto.PrivKey {
	return ni.privKey
}
