package execution

import (
	"context"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/config"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/rs/zerolog"
)

// WaitState is a node of the wait state machine. Accepted, Rejected and
// TimedOut are terminal.
type WaitState string

const (
	StateReceived WaitState = "received"
	StatePending  WaitState = "pending"
	StateAccepted WaitState = "accepted"
	StateRejected WaitState = "rejected"
	StateTimedOut WaitState = "timed_out"
)

func (s WaitState) Terminal() bool {
	return s == StateAccepted || s == StateRejected || s == StateTimedOut
}

// Transition applies one observed status. Terminal states never change.
func Transition(state WaitState, status rpc.TxStatus) WaitState {
	if state.Terminal() {
		return state
	}
	if status.ExecutionStatus == rpc.ExecutionReverted {
		return StateRejected
	}
	switch status.FinalityStatus {
	case rpc.FinalityRejected:
		return StateRejected
	case rpc.FinalityAcceptedOnL2, rpc.FinalityAcceptedOnL1:
		return StateAccepted
	default:
		return StatePending
	}
}

// StatusReader is the part of the provider the wait loop polls.
type StatusReader interface {
	TransactionStatus(ctx context.Context, hash *felt.Felt) (rpc.TxStatus, error)
}

// WaitOutcome reports how a wait ended.
type WaitOutcome struct {
	State           WaitState           `json:"state"`
	Polls           int                 `json:"polls"`
	FinalityStatus  rpc.FinalityStatus  `json:"finality_status,omitempty"`
	ExecutionStatus rpc.ExecutionStatus `json:"execution_status,omitempty"`
	LastError       string              `json:"last_error,omitempty"`
}

// WaitLoop polls a transaction until it reaches a terminal state. It only
// ever reads: stopping it, by cancellation or timeout, has no effect on a
// transaction that was already broadcast.
type WaitLoop struct {
	Provider StatusReader
	Policy   config.WaitPolicy
	Sleep    func(ctx context.Context, d time.Duration) error
	Log      zerolog.Logger
	// OnPoll, when set, is called after every poll.
	OnPoll func(poll int, state WaitState)
}

// Run polls first and sleeps between polls. It ends in TimedOut after
// Policy.MaxPolls polls without a final status, after more than
// Policy.MaxPollErrors consecutive transport errors, or when ctx ends.
// A hash the node does not know yet counts as pending.
func (w *WaitLoop) Run(ctx context.Context, hash *felt.Felt) WaitOutcome {
	maxPolls := w.Policy.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 1
	}
	sleep := w.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	state := StateReceived
	out := WaitOutcome{State: state}
	consecutiveErrs := 0
	for poll := 1; poll <= maxPolls; poll++ {
		out.Polls = poll
		status, err := w.Provider.TransactionStatus(ctx, hash)
		switch {
		case err != nil && ctx.Err() != nil:
			out.State = StateTimedOut
			out.LastError = ctx.Err().Error()
			return out
		case err != nil && rpc.IsTransactionNotFound(err):
			consecutiveErrs = 0
			state = Transition(state, rpc.TxStatus{FinalityStatus: rpc.FinalityReceived})
		case err != nil:
			consecutiveErrs++
			out.LastError = err.Error()
			w.Log.Debug().Err(err).Int("poll", poll).Int("consecutive_errors", consecutiveErrs).Msg("transaction status poll failed")
			if consecutiveErrs > w.Policy.MaxPollErrors {
				out.State = StateTimedOut
				return out
			}
		default:
			consecutiveErrs = 0
			state = Transition(state, status)
			out.FinalityStatus = status.FinalityStatus
			out.ExecutionStatus = status.ExecutionStatus
		}
		out.State = state
		if w.OnPoll != nil {
			w.OnPoll(poll, state)
		}
		w.Log.Debug().Str("tx", hash.String()).Int("poll", poll).Str("state", string(state)).Msg("polled transaction")
		if state.Terminal() {
			return out
		}
		if poll == maxPolls {
			break
		}
		if err := sleep(ctx, w.Policy.PollInterval); err != nil {
			out.State = StateTimedOut
			out.LastError = err.Error()
			return out
		}
	}
	out.State = StateTimedOut
	return out
}

// SleepContext waits for d or until ctx ends.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
