package execution

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/NethermindEth/juno/core/felt"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/starknet"
)

const (
	CallTypeDeploy = "deploy"
	CallTypeInvoke = "invoke"
)

// Batch is an ordered list of calls read from a TOML file of [[call]]
// tables. Later entries may refer to contracts deployed by earlier ones
// through their id.
type Batch struct {
	Calls []BatchEntry `toml:"call"`
}

type BatchEntry struct {
	CallType string `toml:"call_type"`
	ID       string `toml:"id"`

	// deploy
	ClassHash string `toml:"class_hash"`
	Unique    bool   `toml:"unique"`
	Salt      string `toml:"salt"`

	// invoke
	ContractAddress string `toml:"contract_address"`
	Function        string `toml:"function"`

	Inputs []string `toml:"inputs"`
}

// LoadBatch reads and validates a batch file.
func LoadBatch(path string) (Batch, error) {
	var b Batch
	md, err := toml.DecodeFile(path, &b)
	if err != nil {
		if os.IsNotExist(err) {
			return Batch{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("batch file %s not found", path), err)
		}
		return Batch{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("parse batch file %s", path), err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Batch{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown key %q in batch file %s", undecoded[0].String(), path))
	}
	if err := b.Validate(); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Validate checks every entry without touching the network. An id may only
// be referenced after the entry that defines it.
func (b Batch) Validate() error {
	if len(b.Calls) == 0 {
		return clierr.New(clierr.CodeUsage, "batch has no [[call]] entries")
	}
	ids := map[string]bool{}
	for i, e := range b.Calls {
		switch e.CallType {
		case CallTypeDeploy:
			if strings.TrimSpace(e.ClassHash) == "" {
				return clierr.New(clierr.CodeBuild, fmt.Sprintf("call %d: deploy requires class_hash", i))
			}
		case CallTypeInvoke:
			if strings.TrimSpace(e.ContractAddress) == "" || strings.TrimSpace(e.Function) == "" {
				return clierr.New(clierr.CodeBuild, fmt.Sprintf("call %d: invoke requires contract_address and function", i))
			}
			if !isNumeric(e.ContractAddress) && !ids[e.ContractAddress] {
				return clierr.New(clierr.CodeBuild, fmt.Sprintf("call %d: unknown contract id %q", i, e.ContractAddress))
			}
		default:
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("call %d: call_type must be deploy or invoke, got %q", i, e.CallType))
		}
		for _, in := range e.Inputs {
			if !isNumeric(in) && !ids[in] {
				return clierr.New(clierr.CodeBuild, fmt.Sprintf("call %d: input %q is neither a number nor a known id", i, in))
			}
		}
		if e.ID != "" {
			if isNumeric(e.ID) {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("call %d: id %q must not be a number", i, e.ID))
			}
			if ids[e.ID] {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("call %d: duplicate id %q", i, e.ID))
			}
			if e.CallType != CallTypeDeploy {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("call %d: only deploy entries can carry an id", i))
			}
			ids[e.ID] = true
		}
	}
	return nil
}

// NewBatchTemplate is the starting point written by `multicall new`.
func NewBatchTemplate() string {
	return `[[call]]
call_type = "deploy"
class_hash = "0x0"
inputs = []
id = "map"
unique = false

[[call]]
call_type = "invoke"
contract_address = "map"
function = "put"
inputs = ["0x1", "0x2"]
`
}

// EntryResult is the outcome of one batch entry. Exactly one of Result and
// Error is set unless the entry was submitted and then rejected, in which
// case both are.
type EntryResult struct {
	Index    int               `json:"index"`
	CallType string            `json:"call_type"`
	ID       string            `json:"id,omitempty"`
	Result   *SubmissionResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// MulticallRunner submits batch entries one at a time in file order and
// stops at the first failure.
type MulticallRunner struct {
	Builder      *Builder
	Orchestrator *Orchestrator
	// SaltSource supplies salts for deploy entries without one.
	SaltSource func() (*felt.Felt, error)
}

// Run returns one EntryResult per attempted entry. On failure the error
// names the failing index and carries the results gathered so far; no
// entry after it is attempted. Chain id and nonce are read again for every
// entry. The nonce never goes below the previous entry's nonce plus one,
// since a node's pending nonce can lag behind a transaction it just
// accepted.
func (r *MulticallRunner) Run(ctx context.Context, batch Batch, s Signer, maxFee *felt.Felt, wait bool) ([]EntryResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	salt := r.SaltSource
	if salt == nil {
		salt = RandomSalt
	}
	sender := s.Address()
	addresses := map[string]*felt.Felt{}
	results := make([]EntryResult, 0, len(batch.Calls))
	var lastNonce *big.Int

	fail := func(i int, entry EntryResult, err error) ([]EntryResult, error) {
		entry.Error = err.Error()
		results = append(results, entry)
		code := clierr.CodeInternal
		if cerr, ok := clierr.As(err); ok {
			code = cerr.Code
		}
		return results, clierr.Wrap(code, fmt.Sprintf("multicall entry %d failed", i), err).WithData(results)
	}

	for i, e := range batch.Calls {
		entry := EntryResult{Index: i, CallType: e.CallType, ID: e.ID}
		req, err := r.request(e, addresses, salt)
		if err != nil {
			return fail(i, entry, err)
		}

		chainID, err := r.Builder.Provider.ChainID(ctx)
		if err != nil {
			return fail(i, entry, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err))
		}
		fetched, err := r.Builder.Provider.Nonce(ctx, sender)
		if err != nil {
			return fail(i, entry, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err))
		}
		nonce := starknet.FeltToBig(fetched)
		if lastNonce != nil {
			if next := new(big.Int).Add(lastNonce, big.NewInt(1)); next.Cmp(nonce) > 0 {
				nonce = next
			}
		}
		nonceFelt, err := starknet.FeltFromBig(nonce)
		if err != nil {
			return fail(i, entry, clierr.Wrap(clierr.CodeInternal, "encode nonce", err))
		}

		tx, err := r.Builder.Build(ctx, req, sender, chainID, nonceFelt, maxFee)
		if err != nil {
			return fail(i, entry, err)
		}
		res, err := r.Orchestrator.Submit(ctx, tx, s, wait)
		if res.TransactionHash != nil {
			entry.Result = &res
			lastNonce = nonce
		}
		if err != nil {
			return fail(i, entry, err)
		}
		if e.ID != "" && res.ContractAddress != nil {
			addresses[e.ID] = res.ContractAddress
		}
		results = append(results, entry)
	}
	return results, nil
}

func (r *MulticallRunner) request(e BatchEntry, addresses map[string]*felt.Felt, salt func() (*felt.Felt, error)) (Request, error) {
	inputs := make([]*felt.Felt, 0, len(e.Inputs))
	for _, raw := range e.Inputs {
		v, err := resolveValue(raw, addresses)
		if err != nil {
			return Request{}, err
		}
		inputs = append(inputs, v)
	}
	switch e.CallType {
	case CallTypeDeploy:
		classHash, err := starknet.FeltFromString(e.ClassHash)
		if err != nil {
			return Request{}, clierr.Wrap(clierr.CodeBuild, "parse class_hash", err)
		}
		var s *felt.Felt
		if strings.TrimSpace(e.Salt) != "" {
			if s, err = starknet.FeltFromString(e.Salt); err != nil {
				return Request{}, clierr.Wrap(clierr.CodeBuild, "parse salt", err)
			}
		} else if s, err = salt(); err != nil {
			return Request{}, clierr.Wrap(clierr.CodeInternal, "generate salt", err)
		}
		return DeployRequest(classHash, inputs, s, e.Unique), nil
	default:
		to, err := resolveValue(e.ContractAddress, addresses)
		if err != nil {
			return Request{}, err
		}
		return InvokeRequest(starknet.Call{To: to, Selector: starknet.Selector(e.Function), Calldata: inputs}), nil
	}
}

func resolveValue(raw string, addresses map[string]*felt.Felt) (*felt.Felt, error) {
	if addr, ok := addresses[raw]; ok {
		return addr, nil
	}
	if !isNumeric(raw) {
		return nil, clierr.New(clierr.CodeBuild, fmt.Sprintf("id %q does not name a deployed contract", raw))
	}
	v, err := starknet.FeltFromString(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeBuild, fmt.Sprintf("parse value %q", raw), err)
	}
	return v, nil
}

// RandomSalt draws a uniform 248-bit salt.
func RandomSalt() (*felt.Felt, error) {
	buf := make([]byte, 31)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return starknet.FeltFromBig(new(big.Int).SetBytes(buf))
}

func isHex(v string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "0x")
}

func isNumeric(v string) bool {
	v = strings.TrimSpace(v)
	if isHex(v) {
		return len(v) > 2
	}
	if v == "" {
		return false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
