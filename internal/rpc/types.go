package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/starknet"
)

// BlockID selects the state a read is executed against. The zero value is
// the pending block.
type BlockID struct {
	Tag    string
	Number *uint64
	Hash   *felt.Felt
}

func PendingBlock() BlockID { return BlockID{Tag: "pending"} }
func LatestBlock() BlockID  { return BlockID{Tag: "latest"} }

func (b BlockID) MarshalJSON() ([]byte, error) {
	switch {
	case b.Hash != nil:
		return json.Marshal(map[string]*felt.Felt{"block_hash": b.Hash})
	case b.Number != nil:
		return json.Marshal(map[string]uint64{"block_number": *b.Number})
	case b.Tag == "":
		return json.Marshal("pending")
	default:
		return json.Marshal(b.Tag)
	}
}

// ParseBlockID accepts pending, latest, a block number or a 0x block hash.
func ParseBlockID(raw string) (BlockID, error) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	switch clean {
	case "", "pending":
		return PendingBlock(), nil
	case "latest":
		return LatestBlock(), nil
	}
	if strings.HasPrefix(clean, "0x") {
		h, err := starknet.FeltFromString(clean)
		if err != nil {
			return BlockID{}, fmt.Errorf("invalid block hash %q: %w", raw, err)
		}
		return BlockID{Hash: h}, nil
	}
	n, err := strconv.ParseUint(clean, 10, 64)
	if err != nil {
		return BlockID{}, fmt.Errorf("block id must be pending, latest, a number or a hash")
	}
	return BlockID{Number: &n}, nil
}

type FunctionCall struct {
	ContractAddress    *felt.Felt   `json:"contract_address"`
	EntryPointSelector *felt.Felt   `json:"entry_point_selector"`
	Calldata           []*felt.Felt `json:"calldata"`
}

// InvokeTxn is a broadcasted INVOKE v1 transaction.
type InvokeTxn struct {
	Type          string       `json:"type"`
	SenderAddress *felt.Felt   `json:"sender_address"`
	Calldata      []*felt.Felt `json:"calldata"`
	MaxFee        *felt.Felt   `json:"max_fee"`
	Version       *felt.Felt   `json:"version"`
	Signature     []*felt.Felt `json:"signature"`
	Nonce         *felt.Felt   `json:"nonce"`
}

// DeclareTxn is a broadcasted DECLARE v2 transaction.
type DeclareTxn struct {
	Type              string          `json:"type"`
	SenderAddress     *felt.Felt      `json:"sender_address"`
	CompiledClassHash *felt.Felt      `json:"compiled_class_hash"`
	MaxFee            *felt.Felt      `json:"max_fee"`
	Version           *felt.Felt      `json:"version"`
	Signature         []*felt.Felt    `json:"signature"`
	Nonce             *felt.Felt      `json:"nonce"`
	ContractClass     json.RawMessage `json:"contract_class"`
}

// DeployAccountTxn is a broadcasted DEPLOY_ACCOUNT v1 transaction.
type DeployAccountTxn struct {
	Type                string       `json:"type"`
	MaxFee              *felt.Felt   `json:"max_fee"`
	Version             *felt.Felt   `json:"version"`
	Signature           []*felt.Felt `json:"signature"`
	Nonce               *felt.Felt   `json:"nonce"`
	ContractAddressSalt *felt.Felt   `json:"contract_address_salt"`
	ConstructorCalldata []*felt.Felt `json:"constructor_calldata"`
	ClassHash           *felt.Felt   `json:"class_hash"`
}

// BroadcastedTxn is any of InvokeTxn, DeclareTxn or DeployAccountTxn.
type BroadcastedTxn any

type FeeEstimate struct {
	GasConsumed *felt.Felt `json:"gas_consumed"`
	GasPrice    *felt.Felt `json:"gas_price"`
	OverallFee  *felt.Felt `json:"overall_fee"`
}

type InvokeResult struct {
	TransactionHash *felt.Felt `json:"transaction_hash"`
}

type DeclareResult struct {
	TransactionHash *felt.Felt `json:"transaction_hash"`
	ClassHash       *felt.Felt `json:"class_hash"`
}

type DeployAccountResult struct {
	TransactionHash *felt.Felt `json:"transaction_hash"`
	ContractAddress *felt.Felt `json:"contract_address"`
}

type FinalityStatus string

type ExecutionStatus string

const (
	FinalityReceived     FinalityStatus = "RECEIVED"
	FinalityRejected     FinalityStatus = "REJECTED"
	FinalityAcceptedOnL2 FinalityStatus = "ACCEPTED_ON_L2"
	FinalityAcceptedOnL1 FinalityStatus = "ACCEPTED_ON_L1"

	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionReverted  ExecutionStatus = "REVERTED"
)

type TxStatus struct {
	FinalityStatus  FinalityStatus  `json:"finality_status"`
	ExecutionStatus ExecutionStatus `json:"execution_status,omitempty"`
}
