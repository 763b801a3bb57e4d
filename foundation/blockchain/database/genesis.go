package database

// Values for the hardcoded genesis block.
const (
	GenesisHash      = "0000f816a87f806bb0073dcf026a64fb40c946b5abee2573702828694d5b4c43"
	GenesisPrevHash  = "genesis"
	GenesisData      = "genesis"
	GenesisNonce     = 2836
	GenesisTimestamp = 1672531200
)

// Genesis returns the literal genesis block every node starts from.
//
// Genesis is the trust anchor of the chain. Its hash is fixed and was never
// computed from these fields, so the block is exempt from the recomputation
// rule and is never passed through validation. The timestamp is a constant
// so every node holds an identical genesis.
func Genesis() Block {
	return Block{
		ID:           0,
		Hash:         GenesisHash,
		PreviousHash: GenesisPrevHash,
		Timestamp:    GenesisTimestamp,
		Data:         GenesisData,
		Nonce:        GenesisNonce,
	}
}

// IsGenesis reports whether the block is the literal genesis block.
func (b Block) IsGenesis() bool {
	return b == Genesis()
}
