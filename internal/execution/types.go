package execution

import (
	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/classfile"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/starknet"
)

type Kind string

const (
	KindDeclare       Kind = "declare"
	KindDeploy        Kind = "deploy"
	KindInvoke        Kind = "invoke"
	KindDeployAccount Kind = "deploy_account"
)

// Request describes one operation before network state is known.
type Request struct {
	Kind Kind

	// Invoke
	Calls []starknet.Call

	// Deploy
	ClassHash           *felt.Felt
	ConstructorCalldata []*felt.Felt
	Salt                *felt.Felt
	Unique              bool

	// Declare
	Artifact *classfile.Artifact
}

func InvokeRequest(calls ...starknet.Call) Request {
	return Request{Kind: KindInvoke, Calls: calls}
}

func DeployRequest(classHash *felt.Felt, calldata []*felt.Felt, salt *felt.Felt, unique bool) Request {
	return Request{Kind: KindDeploy, ClassHash: classHash, ConstructorCalldata: calldata, Salt: salt, Unique: unique}
}

func DeclareRequest(artifact *classfile.Artifact) Request {
	return Request{Kind: KindDeclare, Artifact: artifact}
}

// DeployAccountRequest describes the deployment of an account contract at
// its counterfactual address.
type DeployAccountRequest struct {
	ClassHash           *felt.Felt
	Salt                *felt.Felt
	ConstructorCalldata []*felt.Felt
}

func (r DeployAccountRequest) Address() *felt.Felt {
	return starknet.ContractAddress(new(felt.Felt), r.Salt, r.ClassHash, r.ConstructorCalldata)
}

// UnsignedTransaction is a fully parameterised transaction waiting for a
// signature. Nonce and ChainID are read from the node for every build.
type UnsignedTransaction struct {
	Kind         Kind
	Sender       *felt.Felt
	Nonce        *felt.Felt
	MaxFee       *felt.Felt
	FeeEstimated bool
	ChainID      *felt.Felt

	// Calldata is the __execute__ calldata of invoke and deploy.
	Calldata []*felt.Felt
	// ContractAddress is the address a deploy or deploy_account lands at.
	ContractAddress *felt.Felt

	Declare       *classfile.Artifact
	DeployAccount *DeployAccountRequest

	// Warnings are soft findings that never block submission.
	Warnings []string
}

// Hash is the value the account signs. With query set it is the hash of
// the fee-estimation variant.
func (tx UnsignedTransaction) Hash(query bool) *felt.Felt {
	maxFee := tx.MaxFee
	if maxFee == nil || query {
		maxFee = new(felt.Felt)
	}
	switch tx.Kind {
	case KindDeclare:
		return starknet.DeclareHashV2(tx.Sender, tx.Declare.ClassHash, tx.Declare.CompiledClassHash, maxFee, tx.ChainID, tx.Nonce, query)
	case KindDeployAccount:
		d := tx.DeployAccount
		return starknet.DeployAccountHashV1(tx.Sender, d.ClassHash, d.Salt, d.ConstructorCalldata, maxFee, tx.ChainID, tx.Nonce, query)
	default:
		return starknet.InvokeHashV1(tx.Sender, tx.Calldata, maxFee, tx.ChainID, tx.Nonce, query)
	}
}

// Broadcast renders the wire form of the transaction. A query transaction
// carries a zero max fee and the query version.
func (tx UnsignedTransaction) Broadcast(signature []*felt.Felt, query bool) rpc.BroadcastedTxn {
	if signature == nil {
		signature = []*felt.Felt{}
	}
	maxFee := tx.MaxFee
	if maxFee == nil || query {
		maxFee = new(felt.Felt)
	}
	switch tx.Kind {
	case KindDeclare:
		return rpc.DeclareTxn{
			Type:              "DECLARE",
			SenderAddress:     tx.Sender,
			CompiledClassHash: tx.Declare.CompiledClassHash,
			MaxFee:            maxFee,
			Version:           starknet.TxVersion(2, query),
			Signature:         signature,
			Nonce:             tx.Nonce,
			ContractClass:     tx.Declare.ContractClass,
		}
	case KindDeployAccount:
		d := tx.DeployAccount
		return rpc.DeployAccountTxn{
			Type:                "DEPLOY_ACCOUNT",
			MaxFee:              maxFee,
			Version:             starknet.TxVersion(1, query),
			Signature:           signature,
			Nonce:               tx.Nonce,
			ContractAddressSalt: d.Salt,
			ConstructorCalldata: nonNil(d.ConstructorCalldata),
			ClassHash:           d.ClassHash,
		}
	default:
		return rpc.InvokeTxn{
			Type:          "INVOKE",
			SenderAddress: tx.Sender,
			Calldata:      tx.Calldata,
			MaxFee:        maxFee,
			Version:       starknet.TxVersion(1, query),
			Signature:     signature,
			Nonce:         tx.Nonce,
		}
	}
}

func nonNil(v []*felt.Felt) []*felt.Felt {
	if v == nil {
		return []*felt.Felt{}
	}
	return v
}

// SubmissionResult is the normalised outcome of one submitted transaction.
// Status is set only when waiting was requested and the wait loop ended.
type SubmissionResult struct {
	Kind            Kind         `json:"kind"`
	TransactionHash *felt.Felt   `json:"transaction_hash"`
	ContractAddress *felt.Felt   `json:"contract_address,omitempty"`
	ClassHash       *felt.Felt   `json:"class_hash,omitempty"`
	MaxFee          *felt.Felt   `json:"max_fee"`
	Status          WaitState    `json:"status,omitempty"`
	Wait            *WaitOutcome `json:"wait,omitempty"`

	Warnings []string `json:"-"`
}
