package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// Set of topics every node subscribes to.
const (
	ChainTopic = "chains"
	PoolTopic  = "pool-transactions"
)

// Topics returns the topics every node subscribes to.
func Topics() []string {
	return []string{ChainTopic, PoolTopic}
}

// ErrUnknownMessage is returned when a payload on the chain topic does not
// match any of the chain message shapes.
var ErrUnknownMessage = errors.New("unknown chain message")

// =============================================================================

// Message is a payload received from another node.
type Message struct {
	Source string
	Topic  string
	Data   []byte
}

// ChainMessage is one of the payloads carried on the chain topic. The set of
// implementations is closed: LocalChainRequest, LocalChainResponse and
// BlockAnnouncement.
type ChainMessage interface {
	chainMessage()
}

// LocalChainRequest asks the peer named by FromPeerID for its full chain.
type LocalChainRequest struct {
	FromPeerID string `json:"from_peer_id"`
}

// LocalChainResponse carries a full chain for the peer named by Receiver.
type LocalChainResponse struct {
	Receiver string           `json:"receiver"`
	Blocks   []database.Block `json:"blocks"`
}

// BlockAnnouncement carries a single newly mined block.
type BlockAnnouncement struct {
	Block database.Block
}

func (LocalChainRequest) chainMessage()  {}
func (LocalChainResponse) chainMessage() {}
func (BlockAnnouncement) chainMessage()  {}

// Field sets of the chain message shapes, sorted.
var (
	responseFields = []string{"blocks", "receiver"}
	requestFields  = []string{"from_peer_id"}
	blockFields    = []string{"data", "hash", "id", "nonce", "previous_hash", "timestamp"}
)

// DecodeChainMessage decodes a chain topic payload. A payload matches a
// shape only when its JSON object has exactly that shape's field set. The
// shapes are tried in the order response, request, block.
func DecodeChainMessage(data []byte) (ChainMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode chain message: %w", err)
	}

	keys := slices.Sorted(maps.Keys(fields))

	switch {
	case slices.Equal(keys, responseFields):
		var resp LocalChainResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode chain response: %w", err)
		}
		return resp, nil

	case slices.Equal(keys, requestFields):
		var req LocalChainRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode chain request: %w", err)
		}
		return req, nil

	case slices.Equal(keys, blockFields):
		var block database.Block
		if err := json.Unmarshal(data, &block); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		return BlockAnnouncement{Block: block}, nil
	}

	return nil, fmt.Errorf("fields %v: %w", keys, ErrUnknownMessage)
}

// encodeChainMessage renders the chain message in its wire form. A block
// announcement travels as the bare block.
func encodeChainMessage(msg ChainMessage) ([]byte, error) {
	if ba, ok := msg.(BlockAnnouncement); ok {
		return json.Marshal(ba.Block)
	}

	return json.Marshal(msg)
}
