package starknet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/samber/lo"
)

// FieldPrime is the Starknet field modulus 2^251 + 17*2^192 + 1.
var FieldPrime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)

// FeltFromString parses a 0x-prefixed hex or decimal felt.
func FeltFromString(raw string) (*felt.Felt, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil, fmt.Errorf("empty felt value")
	}
	v, ok := new(big.Int).SetString(clean, 0)
	if !ok {
		return nil, fmt.Errorf("invalid felt %q", raw)
	}
	return FeltFromBig(v)
}

// MustFelt parses a constant; it panics on malformed input.
func MustFelt(raw string) *felt.Felt {
	f, err := FeltFromString(raw)
	if err != nil {
		panic(err)
	}
	return f
}

func FeltFromUint64(v uint64) *felt.Felt {
	return new(felt.Felt).SetUint64(v)
}

func FeltFromBig(v *big.Int) (*felt.Felt, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("felt must be non-negative")
	}
	if v.Cmp(FieldPrime) >= 0 {
		return nil, fmt.Errorf("value exceeds field prime")
	}
	buf := make([]byte, 32)
	v.FillBytes(buf)
	return new(felt.Felt).SetBytes(buf), nil
}

func FeltToBig(f *felt.Felt) *big.Int {
	if f == nil {
		return new(big.Int)
	}
	b := f.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// FeltsFromStrings parses a list of calldata values.
func FeltsFromStrings(values []string) ([]*felt.Felt, error) {
	out := make([]*felt.Felt, 0, len(values))
	for i, v := range values {
		f, err := FeltFromString(v)
		if err != nil {
			return nil, fmt.Errorf("calldata[%d]: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func FeltStrings(values []*felt.Felt) []string {
	return lo.Map(values, func(v *felt.Felt, _ int) string { return v.String() })
}

// ShortString encodes up to 31 ASCII characters as a felt.
func ShortString(s string) *felt.Felt {
	return new(felt.Felt).SetBytes([]byte(s))
}

// DecodeShortString returns the ASCII string packed in f, or "" when f
// holds non-printable bytes.
func DecodeShortString(f *felt.Felt) string {
	b := FeltToBig(f).Bytes()
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return ""
		}
	}
	return string(b)
}
