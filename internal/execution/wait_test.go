package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggonzalez94/sncast/internal/config"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/rpc/rpctest"
	"github.com/ggonzalez94/sncast/internal/starknet"
	"github.com/rs/zerolog"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testPolicy(maxPolls, maxErrs int) config.WaitPolicy {
	return config.WaitPolicy{PollInterval: time.Second, MaxPolls: maxPolls, MaxPollErrors: maxErrs}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		name   string
		from   WaitState
		status rpc.TxStatus
		want   WaitState
	}{
		{"received stays pending", StateReceived, rpc.TxStatus{FinalityStatus: rpc.FinalityReceived}, StatePending},
		{"accepted on l2", StatePending, rpc.TxStatus{FinalityStatus: rpc.FinalityAcceptedOnL2, ExecutionStatus: rpc.ExecutionSucceeded}, StateAccepted},
		{"accepted on l1", StatePending, rpc.TxStatus{FinalityStatus: rpc.FinalityAcceptedOnL1}, StateAccepted},
		{"rejected", StatePending, rpc.TxStatus{FinalityStatus: rpc.FinalityRejected}, StateRejected},
		{"reverted", StatePending, rpc.TxStatus{FinalityStatus: rpc.FinalityAcceptedOnL2, ExecutionStatus: rpc.ExecutionReverted}, StateRejected},
		{"unknown status is pending", StateReceived, rpc.TxStatus{}, StatePending},
		{"terminal is sticky", StateAccepted, rpc.TxStatus{FinalityStatus: rpc.FinalityRejected}, StateAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Transition(tc.from, tc.status); got != tc.want {
				t.Fatalf("Transition(%s) = %s, want %s", tc.from, got, tc.want)
			}
		})
	}
}

func TestWaitAcceptedAfterThreePolls(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Pending(), rpctest.Pending(), rpctest.Accepted()}
	sleeps := 0
	loop := WaitLoop{
		Provider: p,
		Policy:   testPolicy(10, 3),
		Sleep:    func(context.Context, time.Duration) error { sleeps++; return nil },
		Log:      zerolog.Nop(),
	}
	out := loop.Run(context.Background(), starknet.FeltFromUint64(1))
	if out.State != StateAccepted {
		t.Fatalf("expected accepted, got %s", out.State)
	}
	if out.Polls != 3 || p.Count("TransactionStatus") != 3 {
		t.Fatalf("expected exactly 3 polls, got %d (provider saw %d)", out.Polls, p.Count("TransactionStatus"))
	}
	if sleeps != 2 {
		t.Fatalf("expected 2 sleeps between 3 polls, got %d", sleeps)
	}
}

func TestWaitTimesOutAfterMaxPolls(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Pending()}
	loop := WaitLoop{Provider: p, Policy: testPolicy(4, 3), Sleep: noSleep, Log: zerolog.Nop()}
	out := loop.Run(context.Background(), starknet.FeltFromUint64(1))
	if out.State != StateTimedOut {
		t.Fatalf("expected timed out, got %s", out.State)
	}
	if p.Count("TransactionStatus") != 4 {
		t.Fatalf("expected 4 polls, got %d", p.Count("TransactionStatus"))
	}
}

func TestWaitRejected(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Pending(), rpctest.Reverted()}
	loop := WaitLoop{Provider: p, Policy: testPolicy(10, 3), Sleep: noSleep, Log: zerolog.Nop()}
	out := loop.Run(context.Background(), starknet.FeltFromUint64(1))
	if out.State != StateRejected || out.ExecutionStatus != rpc.ExecutionReverted {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestWaitPollErrorsAreBounded(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Failing(errors.New("connection reset"))}
	loop := WaitLoop{Provider: p, Policy: testPolicy(50, 2), Sleep: noSleep, Log: zerolog.Nop()}
	out := loop.Run(context.Background(), starknet.FeltFromUint64(1))
	if out.State != StateTimedOut {
		t.Fatalf("expected timed out, got %s", out.State)
	}
	// Two tolerated errors, the third ends the wait.
	if out.Polls != 3 {
		t.Fatalf("expected 3 polls, got %d", out.Polls)
	}
	if out.LastError == "" {
		t.Fatal("expected last poll error to be reported")
	}
}

func TestWaitDefaultPolicyToleratesThreeErrors(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Failing(errors.New("connection reset"))}
	loop := WaitLoop{Provider: p, Policy: testPolicy(60, 3), Sleep: noSleep, Log: zerolog.Nop()}
	out := loop.Run(context.Background(), starknet.FeltFromUint64(1))
	if out.State != StateTimedOut || out.Polls != 4 {
		t.Fatalf("expected timed out on the fourth poll, got %s after %d", out.State, out.Polls)
	}
}

func TestWaitRecoversFromTransientErrors(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{
		rpctest.Failing(errors.New("timeout")),
		rpctest.Failing(errors.New("timeout")),
		rpctest.Pending(),
		rpctest.Failing(errors.New("timeout")),
		rpctest.Accepted(),
	}
	loop := WaitLoop{Provider: p, Policy: testPolicy(10, 2), Sleep: noSleep, Log: zerolog.Nop()}
	if out := loop.Run(context.Background(), starknet.FeltFromUint64(1)); out.State != StateAccepted {
		t.Fatalf("expected accepted, got %+v", out)
	}
}

func TestWaitUnknownHashCountsAsPending(t *testing.T) {
	p := rpctest.New()
	notFound := &rpc.ProviderError{Method: "starknet_getTransactionStatus", Code: rpc.CodeTransactionNotFound, Message: "Transaction hash not found"}
	p.Statuses = []rpctest.StatusStep{rpctest.Failing(notFound), rpctest.Failing(notFound), rpctest.Failing(notFound), rpctest.Accepted()}
	loop := WaitLoop{Provider: p, Policy: testPolicy(10, 0), Sleep: noSleep, Log: zerolog.Nop()}
	if out := loop.Run(context.Background(), starknet.FeltFromUint64(1)); out.State != StateAccepted {
		t.Fatalf("expected accepted, got %+v", out)
	}
}

func TestWaitCancellationStopsPolling(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Pending()}
	ctx, cancel := context.WithCancel(context.Background())
	loop := WaitLoop{
		Provider: p,
		Policy:   testPolicy(100, 3),
		Sleep:    SleepContext,
		Log:      zerolog.Nop(),
		OnPoll:   func(poll int, _ WaitState) { cancel() },
	}
	out := loop.Run(ctx, starknet.FeltFromUint64(1))
	if out.State != StateTimedOut {
		t.Fatalf("expected timed out, got %s", out.State)
	}
	if p.Count("TransactionStatus") != 1 {
		t.Fatalf("expected polling to stop after cancel, got %d polls", p.Count("TransactionStatus"))
	}
}
