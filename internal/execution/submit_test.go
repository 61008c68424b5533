package execution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/rpc/rpctest"
	"github.com/ggonzalez94/sncast/internal/starknet"
	"github.com/rs/zerolog"
)

func verifySignature(pub, hash, r, s *felt.Felt) bool {
	key := crypto.NewPublicKey(pub)
	ok, err := key.Verify(&crypto.Signature{R: *r, S: *s}, hash)
	return err == nil && ok
}

type keySigner struct {
	address *felt.Felt
	key     *starknet.PrivateKey
	signed  []*felt.Felt
}

func newKeySigner(t *testing.T, address *felt.Felt) *keySigner {
	t.Helper()
	key, err := starknet.NewPrivateKey(starknet.FeltFromUint64(0x1234567890abcdef))
	if err != nil {
		t.Fatalf("NewPrivateKey failed: %v", err)
	}
	return &keySigner{address: address, key: key}
}

func (s *keySigner) Address() *felt.Felt { return s.address }

func (s *keySigner) Sign(_ context.Context, hash *felt.Felt) ([]*felt.Felt, error) {
	s.signed = append(s.signed, hash)
	r, sig, err := s.key.Sign(hash)
	if err != nil {
		return nil, err
	}
	return []*felt.Felt{r, sig}, nil
}

type failingSigner struct{}

func (failingSigner) Address() *felt.Felt { return testSender }
func (failingSigner) Sign(context.Context, *felt.Felt) ([]*felt.Felt, error) {
	return nil, errors.New("device unplugged")
}

type memJournal struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (j *memJournal) Save(_ context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return j.err
}

func newOrchestrator(p rpc.Provider, j Recorder) *Orchestrator {
	return &Orchestrator{Provider: p, Journal: j, Network: "alpha-sepolia", Wait: testPolicy(5, 2), Sleep: noSleep, Log: zerolog.Nop()}
}

func invokeTx(t *testing.T, p *rpctest.Provider) UnsignedTransaction {
	t.Helper()
	call := starknet.Call{To: starknet.FeltFromUint64(0x99), Selector: starknet.Selector("put"), Calldata: []*felt.Felt{starknet.FeltFromUint64(1)}}
	tx, err := NewBuilder(p, 1.5, zerolog.Nop()).Prepare(context.Background(), InvokeRequest(call), testSender, nil)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	return tx
}

func TestSubmitSignsTransactionHash(t *testing.T) {
	p := rpctest.New()
	tx := invokeTx(t, p)
	s := newKeySigner(t, testSender)
	res, err := newOrchestrator(p, nil).Submit(context.Background(), tx, s, false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.TransactionHash == nil || res.Status != "" || res.Wait != nil {
		t.Fatalf("unexpected result without wait: %+v", res)
	}
	if len(s.signed) != 1 || !s.signed[0].Equal(tx.Hash(false)) {
		t.Fatal("expected the invoke hash to be signed once")
	}
	sent := p.Invokes[0]
	if !verifySignature(s.key.PublicKey(), tx.Hash(false), sent.Signature[0], sent.Signature[1]) {
		t.Fatal("broadcast signature does not verify")
	}
	if !sent.MaxFee.Equal(tx.MaxFee) || !sent.Version.Equal(starknet.TxVersion(1, false)) {
		t.Fatalf("unexpected broadcast fields: fee %s version %s", sent.MaxFee, sent.Version)
	}
}

func TestSubmitWaitAccepted(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Pending(), rpctest.Accepted()}
	j := &memJournal{}
	res, err := newOrchestrator(p, j).Submit(context.Background(), invokeTx(t, p), newKeySigner(t, testSender), true)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StateAccepted || res.Wait.Polls != 2 {
		t.Fatalf("unexpected wait outcome: %+v", res.Wait)
	}
	if len(j.records) != 2 || j.records[0].Status != StateReceived || j.records[1].Status != StateAccepted {
		t.Fatalf("expected received then accepted journal entries, got %+v", j.records)
	}
}

func TestSubmitKeepsHashWhenWaitTimesOut(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Failing(errors.New("node unreachable"))}
	res, err := newOrchestrator(p, nil).Submit(context.Background(), invokeTx(t, p), newKeySigner(t, testSender), true)
	if err != nil {
		t.Fatalf("a timed out wait must not fail the command: %v", err)
	}
	if res.TransactionHash == nil {
		t.Fatal("transaction hash lost after wait failure")
	}
	if res.Status != StateTimedOut {
		t.Fatalf("expected timed out, got %s", res.Status)
	}
	if len(res.Warnings) == 0 || !strings.HasPrefix(res.Warnings[len(res.Warnings)-1], WarnWaitTimedOut) {
		t.Fatalf("expected wait warning, got %v", res.Warnings)
	}
}

func TestSubmitRejectedCarriesResult(t *testing.T) {
	p := rpctest.New()
	p.Statuses = []rpctest.StatusStep{rpctest.Reverted()}
	res, err := newOrchestrator(p, nil).Submit(context.Background(), invokeTx(t, p), newKeySigner(t, testSender), true)
	if clierr.ExitCode(err) != int(clierr.CodeRejected) {
		t.Fatalf("expected rejected error, got %v", err)
	}
	cerr, _ := clierr.As(err)
	data, ok := cerr.Data.(SubmissionResult)
	if !ok || data.TransactionHash == nil || !data.TransactionHash.Equal(res.TransactionHash) {
		t.Fatalf("expected result attached to the error, got %#v", cerr.Data)
	}
}

func TestSubmitProviderRejectionPassesPayload(t *testing.T) {
	p := rpctest.New()
	p.InvokeErrs = []error{&rpc.ProviderError{Method: "starknet_addInvokeTransaction", Code: rpc.CodeInvalidNonce, Message: "Invalid transaction nonce", Data: "expected 3"}}
	j := &memJournal{}
	_, err := newOrchestrator(p, j).Submit(context.Background(), invokeTx(t, p), newKeySigner(t, testSender), true)
	if clierr.ExitCode(err) != int(clierr.CodeSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid transaction nonce") || !strings.Contains(err.Error(), "expected 3") {
		t.Fatalf("expected provider payload in message, got %q", err.Error())
	}
	if len(j.records) != 0 || p.Count("TransactionStatus") != 0 {
		t.Fatal("nothing should be journaled or polled without a hash")
	}
}

func TestSubmitTransportFailureIsUnavailable(t *testing.T) {
	p := rpctest.New()
	p.InvokeErrs = []error{errors.New("dial tcp: connection refused")}
	_, err := newOrchestrator(p, nil).Submit(context.Background(), invokeTx(t, p), newKeySigner(t, testSender), false)
	if clierr.ExitCode(err) != int(clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestSubmitSignerFailureSendsNothing(t *testing.T) {
	p := rpctest.New()
	_, err := newOrchestrator(p, nil).Submit(context.Background(), invokeTx(t, p), failingSigner{}, false)
	if clierr.ExitCode(err) != int(clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
	if len(p.Invokes) != 0 {
		t.Fatal("nothing must be broadcast when signing fails")
	}
}

func TestSubmitJournalFailureIsNotFatal(t *testing.T) {
	p := rpctest.New()
	j := &memJournal{err: errors.New("disk full")}
	res, err := newOrchestrator(p, j).Submit(context.Background(), invokeTx(t, p), newKeySigner(t, testSender), false)
	if err != nil || res.TransactionHash == nil {
		t.Fatalf("journal failure must not fail submission: %v", err)
	}
}

func TestSubmitDeclareReportsClassHash(t *testing.T) {
	p := rpctest.New()
	tx, err := NewBuilder(p, 1.5, zerolog.Nop()).Prepare(context.Background(), DeclareRequest(testArtifact()), testSender, nil)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	res, err := newOrchestrator(p, nil).Submit(context.Background(), tx, newKeySigner(t, testSender), false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !res.ClassHash.Equal(testArtifact().ClassHash) {
		t.Fatalf("expected class hash, got %v", res.ClassHash)
	}
	if len(p.Declares) != 1 || !p.Declares[0].MaxFee.Equal(starknet.FeltFromUint64(1500)) {
		t.Fatal("declare must be submitted with estimate times overhead")
	}
}
