package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/config"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/rs/zerolog"
)

// WarnWaitTimedOut prefixes the warning emitted when waiting gave up before
// the transaction reached a final status.
const WarnWaitTimedOut = "wait_timed_out"

// Signer signs transaction hashes on behalf of an account.
type Signer interface {
	Address() *felt.Felt
	Sign(ctx context.Context, hash *felt.Felt) ([]*felt.Felt, error)
}

// Orchestrator signs, broadcasts and optionally waits for transactions.
type Orchestrator struct {
	Provider rpc.Provider
	// Journal, when set, receives every hash the node accepted. Journal
	// failures are logged and never fail a submission.
	Journal Recorder
	Network string
	Wait    config.WaitPolicy
	Sleep   func(ctx context.Context, d time.Duration) error
	Log     zerolog.Logger
	// OnPoll is forwarded to the wait loop.
	OnPoll func(poll int, state WaitState)
}

// Submit signs tx, broadcasts it and, when wait is set, polls it to a
// terminal state. The returned result always carries the transaction hash
// once the node returned one, including when the error is non-nil.
func (o *Orchestrator) Submit(ctx context.Context, tx UnsignedTransaction, s Signer, wait bool) (SubmissionResult, error) {
	if s == nil {
		return SubmissionResult{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	signature, err := s.Sign(ctx, tx.Hash(false))
	if err != nil {
		if _, ok := clierr.As(err); ok {
			return SubmissionResult{}, err
		}
		return SubmissionResult{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}

	res, err := o.broadcast(ctx, tx, signature)
	if err != nil {
		return SubmissionResult{}, err
	}
	res.Warnings = append(res.Warnings, tx.Warnings...)
	o.Log.Info().Str("kind", string(tx.Kind)).Str("tx", res.TransactionHash.String()).Msg("transaction submitted")
	o.record(ctx, tx, res, "")

	if !wait {
		return res, nil
	}
	loop := WaitLoop{Provider: o.Provider, Policy: o.Wait, Sleep: o.Sleep, Log: o.Log, OnPoll: o.OnPoll}
	outcome := loop.Run(ctx, res.TransactionHash)
	res.Status = outcome.State
	res.Wait = &outcome
	o.record(ctx, tx, res, outcome.LastError)

	switch outcome.State {
	case StateRejected:
		msg := fmt.Sprintf("transaction %s was rejected", res.TransactionHash)
		if outcome.ExecutionStatus == rpc.ExecutionReverted {
			msg = fmt.Sprintf("transaction %s reverted", res.TransactionHash)
		}
		return res, clierr.New(clierr.CodeRejected, msg).WithData(res)
	case StateTimedOut:
		w := fmt.Sprintf("%s: transaction %s did not reach a final status after %d polls", WarnWaitTimedOut, res.TransactionHash, outcome.Polls)
		if outcome.LastError != "" {
			w += " (last error: " + outcome.LastError + ")"
		}
		res.Warnings = append(res.Warnings, w)
	}
	return res, nil
}

func (o *Orchestrator) broadcast(ctx context.Context, tx UnsignedTransaction, signature []*felt.Felt) (SubmissionResult, error) {
	res := SubmissionResult{Kind: tx.Kind, MaxFee: tx.MaxFee, ContractAddress: tx.ContractAddress}
	switch wire := tx.Broadcast(signature, false).(type) {
	case rpc.InvokeTxn:
		out, err := o.Provider.AddInvokeTransaction(ctx, wire)
		if err != nil {
			return SubmissionResult{}, submissionError(tx.Kind, err)
		}
		res.TransactionHash = out.TransactionHash
	case rpc.DeclareTxn:
		out, err := o.Provider.AddDeclareTransaction(ctx, wire)
		if err != nil {
			return SubmissionResult{}, submissionError(tx.Kind, err)
		}
		res.TransactionHash = out.TransactionHash
		res.ClassHash = tx.Declare.ClassHash
		if out.ClassHash != nil {
			res.ClassHash = out.ClassHash
		}
	case rpc.DeployAccountTxn:
		out, err := o.Provider.AddDeployAccountTransaction(ctx, wire)
		if err != nil {
			return SubmissionResult{}, submissionError(tx.Kind, err)
		}
		res.TransactionHash = out.TransactionHash
		if out.ContractAddress != nil {
			res.ContractAddress = out.ContractAddress
		}
	default:
		return SubmissionResult{}, clierr.New(clierr.CodeInternal, fmt.Sprintf("cannot broadcast %s transaction", tx.Kind))
	}
	if res.TransactionHash == nil {
		return SubmissionResult{}, clierr.New(clierr.CodeSubmission, "node returned no transaction hash")
	}
	return res, nil
}

// submissionError keeps the node's rejection payload in the message. Anything
// that is not a provider error means the node could not be reached.
func submissionError(kind Kind, err error) error {
	var perr *rpc.ProviderError
	if errors.As(err, &perr) {
		return clierr.Wrap(clierr.CodeSubmission, fmt.Sprintf("node rejected %s transaction", kind), err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("broadcast %s transaction", kind), err)
}

func (o *Orchestrator) record(ctx context.Context, tx UnsignedTransaction, res SubmissionResult, lastErr string) {
	if o.Journal == nil {
		return
	}
	rec := Record{
		Hash:    res.TransactionHash.String(),
		Kind:    tx.Kind,
		Network: o.Network,
		Sender:  tx.Sender.String(),
		Status:  res.Status,
		Error:   lastErr,
	}
	if rec.Status == "" {
		rec.Status = StateReceived
	}
	if res.ContractAddress != nil {
		rec.ContractAddress = res.ContractAddress.String()
	}
	if res.ClassHash != nil {
		rec.ClassHash = res.ClassHash.String()
	}
	if res.MaxFee != nil {
		rec.MaxFee = res.MaxFee.String()
	}
	// A cancelled command still deserves its hash on disk.
	if err := o.Journal.Save(context.WithoutCancel(ctx), rec); err != nil {
		o.Log.Warn().Err(err).Str("tx", rec.Hash).Msg("journal transaction")
	}
}
