package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/NethermindEth/juno/core/felt"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Starknet JSON-RPC error codes the CLI reacts to.
const (
	CodeContractNotFound       = 20
	CodeTransactionNotFound    = 29
	CodeClassAlreadyDeclared   = 51
	CodeInvalidNonce           = 52
	CodeInsufficientMaxFee     = 53
	CodeInsufficientBalance    = 54
	CodeValidationFailure      = 55
	simulationFlagSkipValidate = "SKIP_VALIDATE"
)

// Provider is the read/write surface of a Starknet node used by the CLI.
type Provider interface {
	ChainID(ctx context.Context) (*felt.Felt, error)
	Nonce(ctx context.Context, address *felt.Felt) (*felt.Felt, error)
	EstimateFee(ctx context.Context, tx BroadcastedTxn) (FeeEstimate, error)
	Call(ctx context.Context, call FunctionCall, block BlockID) ([]*felt.Felt, error)
	AddInvokeTransaction(ctx context.Context, tx InvokeTxn) (InvokeResult, error)
	AddDeclareTransaction(ctx context.Context, tx DeclareTxn) (DeclareResult, error)
	AddDeployAccountTransaction(ctx context.Context, tx DeployAccountTxn) (DeployAccountResult, error)
	TransactionStatus(ctx context.Context, hash *felt.Felt) (TxStatus, error)
	ClassHashAt(ctx context.Context, address *felt.Felt) (*felt.Felt, error)
}

// ProviderError carries the node's error payload unchanged.
type ProviderError struct {
	Method  string
	Code    int
	Message string
	Data    any
}

func (e *ProviderError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s failed: %s (code %d, data: %v)", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// IsTransactionNotFound reports whether err is the node's TXN_HASH_NOT_FOUND.
func IsTransactionNotFound(err error) bool {
	return hasCode(err, CodeTransactionNotFound)
}

func IsContractNotFound(err error) bool {
	return hasCode(err, CodeContractNotFound)
}

func hasCode(err error, code int) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}

// Client talks to a node over HTTP JSON-RPC.
type Client struct {
	rpc *gethrpc.Client
}

var _ Provider = (*Client)(nil)

func Dial(ctx context.Context, url string, httpClient *http.Client) (*Client, error) {
	opts := []gethrpc.ClientOption{}
	if httpClient != nil {
		opts = append(opts, gethrpc.WithHTTPClient(httpClient))
	}
	c, err := gethrpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

func (c *Client) call(ctx context.Context, out any, method string, args ...any) error {
	if err := c.rpc.CallContext(ctx, out, method, args...); err != nil {
		return wrapError(method, err)
	}
	return nil
}

func wrapError(method string, err error) error {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		perr := &ProviderError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		var dataErr gethrpc.DataError
		if errors.As(err, &dataErr) {
			perr.Data = dataErr.ErrorData()
		}
		return perr
	}
	return fmt.Errorf("%s: %w", method, err)
}

func (c *Client) ChainID(ctx context.Context) (*felt.Felt, error) {
	var out felt.Felt
	if err := c.call(ctx, &out, "starknet_chainId"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Nonce(ctx context.Context, address *felt.Felt) (*felt.Felt, error) {
	var out felt.Felt
	if err := c.call(ctx, &out, "starknet_getNonce", PendingBlock(), address); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EstimateFee(ctx context.Context, tx BroadcastedTxn) (FeeEstimate, error) {
	var out []FeeEstimate
	if err := c.call(ctx, &out, "starknet_estimateFee", []BroadcastedTxn{tx}, []string{simulationFlagSkipValidate}, PendingBlock()); err != nil {
		return FeeEstimate{}, err
	}
	if len(out) != 1 {
		return FeeEstimate{}, fmt.Errorf("starknet_estimateFee: expected 1 estimate, got %d", len(out))
	}
	return out[0], nil
}

func (c *Client) Call(ctx context.Context, call FunctionCall, block BlockID) ([]*felt.Felt, error) {
	if call.Calldata == nil {
		call.Calldata = []*felt.Felt{}
	}
	var out []*felt.Felt
	if err := c.call(ctx, &out, "starknet_call", call, block); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddInvokeTransaction(ctx context.Context, tx InvokeTxn) (InvokeResult, error) {
	var out InvokeResult
	err := c.call(ctx, &out, "starknet_addInvokeTransaction", tx)
	return out, err
}

func (c *Client) AddDeclareTransaction(ctx context.Context, tx DeclareTxn) (DeclareResult, error) {
	var out DeclareResult
	err := c.call(ctx, &out, "starknet_addDeclareTransaction", tx)
	return out, err
}

func (c *Client) AddDeployAccountTransaction(ctx context.Context, tx DeployAccountTxn) (DeployAccountResult, error) {
	var out DeployAccountResult
	err := c.call(ctx, &out, "starknet_addDeployAccountTransaction", tx)
	return out, err
}

func (c *Client) TransactionStatus(ctx context.Context, hash *felt.Felt) (TxStatus, error) {
	var out TxStatus
	err := c.call(ctx, &out, "starknet_getTransactionStatus", hash)
	return out, err
}

func (c *Client) ClassHashAt(ctx context.Context, address *felt.Felt) (*felt.Felt, error) {
	var out felt.Felt
	if err := c.call(ctx, &out, "starknet_getClassHashAt", PendingBlock(), address); err != nil {
		return nil, err
	}
	return &out, nil
}
