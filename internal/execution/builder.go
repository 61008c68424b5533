package execution

import (
	"context"
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/starknet"
	"github.com/rs/zerolog"
)

const DefaultFeeOverhead = 1.5

// WarnInsufficientBalance prefixes the soft balance warning.
const WarnInsufficientBalance = "insufficient_balance_likely"

// Builder turns requests into unsigned transactions.
type Builder struct {
	Provider rpc.Provider
	// FeeOverhead multiplies every fee estimate. Values below 1 fall back
	// to DefaultFeeOverhead.
	FeeOverhead float64
	Log         zerolog.Logger
}

func NewBuilder(provider rpc.Provider, feeOverhead float64, log zerolog.Logger) *Builder {
	return &Builder{Provider: provider, FeeOverhead: feeOverhead, Log: log}
}

// Prepare reads the chain id and the sender's pending nonce and builds req.
func (b *Builder) Prepare(ctx context.Context, req Request, sender, maxFee *felt.Felt) (UnsignedTransaction, error) {
	chainID, err := b.Provider.ChainID(ctx)
	if err != nil {
		return UnsignedTransaction{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	nonce, err := b.Provider.Nonce(ctx, sender)
	if err != nil {
		return UnsignedTransaction{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	return b.Build(ctx, req, sender, chainID, nonce, maxFee)
}

// Build fills in a transaction for req. Without maxFee it asks the node for
// exactly one estimate and scales it by the fee overhead.
func (b *Builder) Build(ctx context.Context, req Request, sender, chainID, nonce, maxFee *felt.Felt) (UnsignedTransaction, error) {
	if sender == nil {
		return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, "missing sender address")
	}
	tx := UnsignedTransaction{Kind: req.Kind, Sender: sender, Nonce: nonce, ChainID: chainID}
	switch req.Kind {
	case KindInvoke:
		if len(req.Calls) == 0 {
			return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, "invoke requires at least one call")
		}
		for i, c := range req.Calls {
			if c.To == nil || c.Selector == nil {
				return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, fmt.Sprintf("call %d requires a contract address and a function", i))
			}
		}
		tx.Calldata = starknet.ExecuteCalldata(req.Calls)
	case KindDeploy:
		if req.ClassHash == nil {
			return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, "deploy requires a class hash")
		}
		if req.Salt == nil {
			return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, "deploy requires a salt")
		}
		call := starknet.UDCDeployCall(req.ClassHash, req.Salt, req.Unique, req.ConstructorCalldata)
		tx.Calldata = starknet.ExecuteCalldata([]starknet.Call{call})
		tx.ContractAddress = starknet.UDCDeployAddress(sender, req.ClassHash, req.Salt, req.ConstructorCalldata, req.Unique)
	case KindDeclare:
		if req.Artifact == nil {
			return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, "declare requires a compiled contract class")
		}
		tx.Declare = req.Artifact
	default:
		return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, fmt.Sprintf("unsupported transaction kind %q", req.Kind))
	}
	return b.finish(ctx, tx, maxFee)
}

// BuildDeployAccount prepares the deployment of a counterfactual account.
// The sender is the account's own address and the nonce is zero.
func (b *Builder) BuildDeployAccount(ctx context.Context, req DeployAccountRequest, chainID, maxFee *felt.Felt) (UnsignedTransaction, error) {
	if req.ClassHash == nil || req.Salt == nil {
		return UnsignedTransaction{}, clierr.New(clierr.CodeBuild, "account deployment requires a class hash and a salt")
	}
	addr := req.Address()
	tx := UnsignedTransaction{
		Kind:            KindDeployAccount,
		Sender:          addr,
		Nonce:           new(felt.Felt),
		ChainID:         chainID,
		ContractAddress: addr,
		DeployAccount:   &req,
	}
	return b.finish(ctx, tx, maxFee)
}

func (b *Builder) finish(ctx context.Context, tx UnsignedTransaction, maxFee *felt.Felt) (UnsignedTransaction, error) {
	if maxFee != nil {
		tx.MaxFee = maxFee
	} else {
		est, err := b.Provider.EstimateFee(ctx, tx.Broadcast(nil, true))
		if err != nil {
			return UnsignedTransaction{}, clierr.Wrap(clierr.CodeBuild, fmt.Sprintf("estimate %s fee", tx.Kind), err)
		}
		fee, err := ApplyOverhead(est.OverallFee, b.overhead())
		if err != nil {
			return UnsignedTransaction{}, clierr.Wrap(clierr.CodeBuild, "scale fee estimate", err)
		}
		tx.MaxFee = fee
		tx.FeeEstimated = true
		b.Log.Debug().Str("kind", string(tx.Kind)).Str("estimate", est.OverallFee.String()).Str("max_fee", fee.String()).Msg("estimated fee")
	}
	if w := b.balanceWarning(ctx, tx.Sender, tx.MaxFee); w != "" {
		tx.Warnings = append(tx.Warnings, w)
	}
	return tx, nil
}

func (b *Builder) overhead() float64 {
	if b.FeeOverhead < 1 {
		return DefaultFeeOverhead
	}
	return b.FeeOverhead
}

// ApplyOverhead returns ceil(fee * overhead).
func ApplyOverhead(fee *felt.Felt, overhead float64) (*felt.Felt, error) {
	if fee == nil {
		return nil, fmt.Errorf("node returned no overall fee")
	}
	factor := new(big.Rat)
	if factor.SetFloat64(overhead) == nil {
		return nil, fmt.Errorf("invalid fee overhead %v", overhead)
	}
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(starknet.FeltToBig(fee)), factor)
	q, r := new(big.Int).QuoRem(scaled.Num(), scaled.Denom(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return starknet.FeltFromBig(q)
}

// balanceWarning compares the fee token balance of sender with maxFee. Any
// read failure yields no warning.
func (b *Builder) balanceWarning(ctx context.Context, sender, maxFee *felt.Felt) string {
	out, err := b.Provider.Call(ctx, rpc.FunctionCall{
		ContractAddress:    starknet.FeeTokenAddress,
		EntryPointSelector: starknet.Selector("balanceOf"),
		Calldata:           []*felt.Felt{sender},
	}, rpc.PendingBlock())
	if err != nil || len(out) == 0 {
		if err != nil {
			b.Log.Debug().Err(err).Msg("fee token balance unavailable")
		}
		return ""
	}
	balance := starknet.FeltToBig(out[0])
	if len(out) > 1 {
		high := starknet.FeltToBig(out[1])
		balance.Add(balance, high.Lsh(high, 128))
	}
	need := starknet.FeltToBig(maxFee)
	if balance.Cmp(need) >= 0 {
		return ""
	}
	return fmt.Sprintf("%s: account %s holds %s wei of the fee token, max fee is %s", WarnInsufficientBalance, sender, balance, need)
}
