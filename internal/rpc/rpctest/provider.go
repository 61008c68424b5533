// Package rpctest provides a scripted in-memory rpc.Provider for tests.
package rpctest

import (
	"context"
	"fmt"
	"sync"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/starknet"
)

// StatusStep is one scripted answer to TransactionStatus.
type StatusStep struct {
	Status rpc.TxStatus
	Err    error
}

// Provider answers from its fields and records every call it receives.
// Zero values give a Sepolia node with nonce 0 and a fixed fee estimate.
type Provider struct {
	mu sync.Mutex

	Chain     *felt.Felt
	Nonces    map[string]*felt.Felt
	Fee       rpc.FeeEstimate
	FeeErr    error
	CallFunc  func(rpc.FunctionCall) ([]*felt.Felt, error)
	ClassHash map[string]*felt.Felt

	// InvokeErrs is consumed in order; a nil entry means success.
	InvokeErrs       []error
	DeclareErr       error
	DeployAccountErr error
	Statuses         []StatusStep

	Calls          []string
	Invokes        []rpc.InvokeTxn
	Declares       []rpc.DeclareTxn
	DeployAccounts []rpc.DeployAccountTxn
	Estimates      []rpc.BroadcastedTxn

	hashSeq uint64
}

var _ rpc.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{
		Chain:     starknet.ChainSepolia,
		Nonces:    map[string]*felt.Felt{},
		ClassHash: map[string]*felt.Felt{},
		Fee: rpc.FeeEstimate{
			GasConsumed: starknet.FeltFromUint64(100),
			GasPrice:    starknet.FeltFromUint64(10),
			OverallFee:  starknet.FeltFromUint64(1000),
		},
	}
}

// Count reports how many times method was called.
func (p *Provider) Count(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (p *Provider) record(method string) {
	p.Calls = append(p.Calls, method)
}

func (p *Provider) nextHash() *felt.Felt {
	p.hashSeq++
	return starknet.FeltFromUint64(0xa000 + p.hashSeq)
}

func (p *Provider) ChainID(context.Context) (*felt.Felt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ChainID")
	if p.Chain == nil {
		return starknet.ChainSepolia, nil
	}
	return p.Chain, nil
}

func (p *Provider) Nonce(_ context.Context, address *felt.Felt) (*felt.Felt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Nonce")
	if n, ok := p.Nonces[address.String()]; ok {
		return n, nil
	}
	return new(felt.Felt), nil
}

func (p *Provider) EstimateFee(_ context.Context, tx rpc.BroadcastedTxn) (rpc.FeeEstimate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("EstimateFee")
	p.Estimates = append(p.Estimates, tx)
	if p.FeeErr != nil {
		return rpc.FeeEstimate{}, p.FeeErr
	}
	return p.Fee, nil
}

func (p *Provider) Call(_ context.Context, call rpc.FunctionCall, _ rpc.BlockID) ([]*felt.Felt, error) {
	p.mu.Lock()
	fn := p.CallFunc
	p.record("Call")
	p.mu.Unlock()
	if fn == nil {
		return []*felt.Felt{}, nil
	}
	return fn(call)
}

func (p *Provider) AddInvokeTransaction(_ context.Context, tx rpc.InvokeTxn) (rpc.InvokeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("AddInvokeTransaction")
	idx := len(p.Invokes)
	p.Invokes = append(p.Invokes, tx)
	if idx < len(p.InvokeErrs) && p.InvokeErrs[idx] != nil {
		return rpc.InvokeResult{}, p.InvokeErrs[idx]
	}
	return rpc.InvokeResult{TransactionHash: p.nextHash()}, nil
}

func (p *Provider) AddDeclareTransaction(_ context.Context, tx rpc.DeclareTxn) (rpc.DeclareResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("AddDeclareTransaction")
	p.Declares = append(p.Declares, tx)
	if p.DeclareErr != nil {
		return rpc.DeclareResult{}, p.DeclareErr
	}
	return rpc.DeclareResult{TransactionHash: p.nextHash()}, nil
}

func (p *Provider) AddDeployAccountTransaction(_ context.Context, tx rpc.DeployAccountTxn) (rpc.DeployAccountResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("AddDeployAccountTransaction")
	p.DeployAccounts = append(p.DeployAccounts, tx)
	if p.DeployAccountErr != nil {
		return rpc.DeployAccountResult{}, p.DeployAccountErr
	}
	return rpc.DeployAccountResult{TransactionHash: p.nextHash()}, nil
}

// TransactionStatus pops the next scripted step. Once the script is
// exhausted the last step repeats; with no script every transaction is
// accepted.
func (p *Provider) TransactionStatus(_ context.Context, _ *felt.Felt) (rpc.TxStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("TransactionStatus")
	if len(p.Statuses) == 0 {
		return rpc.TxStatus{FinalityStatus: rpc.FinalityAcceptedOnL2, ExecutionStatus: rpc.ExecutionSucceeded}, nil
	}
	step := p.Statuses[0]
	if len(p.Statuses) > 1 {
		p.Statuses = p.Statuses[1:]
	}
	return step.Status, step.Err
}

func (p *Provider) ClassHashAt(_ context.Context, address *felt.Felt) (*felt.Felt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ClassHashAt")
	if h, ok := p.ClassHash[address.String()]; ok {
		return h, nil
	}
	return nil, &rpc.ProviderError{Method: "starknet_getClassHashAt", Code: rpc.CodeContractNotFound, Message: fmt.Sprintf("Contract not found: %s", address)}
}

// Pending returns a not-yet-final status step.
func Pending() StatusStep {
	return StatusStep{Status: rpc.TxStatus{FinalityStatus: rpc.FinalityReceived}}
}

func Accepted() StatusStep {
	return StatusStep{Status: rpc.TxStatus{FinalityStatus: rpc.FinalityAcceptedOnL2, ExecutionStatus: rpc.ExecutionSucceeded}}
}

func Reverted() StatusStep {
	return StatusStep{Status: rpc.TxStatus{FinalityStatus: rpc.FinalityAcceptedOnL2, ExecutionStatus: rpc.ExecutionReverted}}
}

func Failing(err error) StatusStep {
	return StatusStep{Err: err}
}
