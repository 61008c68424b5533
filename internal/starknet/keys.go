package starknet

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"
	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
)

var (
	curveOrder, _ = new(big.Int).SetString("800000000000010ffffffffffffffffb781126dcae7b2321e66a241adc64d2f", 16)
	sigBound      = new(big.Int).Lsh(big.NewInt(1), 251)
)

var errInvalidKey = errors.New("private key out of range")

// PrivateKey is a Stark curve scalar. Its String method never prints the scalar.
type PrivateKey struct {
	d *big.Int
}

func NewPrivateKey(f *felt.Felt) (*PrivateKey, error) {
	d := FeltToBig(f)
	if d.Sign() <= 0 || d.Cmp(curveOrder) >= 0 {
		return nil, errInvalidKey
	}
	return &PrivateKey{d: d}, nil
}

// PrivateKeyFromBytes interprets raw as a big-endian scalar.
func PrivateKeyFromBytes(raw []byte) (*PrivateKey, error) {
	d := new(big.Int).SetBytes(raw)
	if d.Sign() <= 0 || d.Cmp(curveOrder) >= 0 {
		return nil, errInvalidKey
	}
	return &PrivateKey{d: d}, nil
}

func GeneratePrivateKey(r io.Reader) (*PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	max := new(big.Int).Sub(curveOrder, big.NewInt(1))
	for {
		d, err := rand.Int(r, max)
		if err != nil {
			return nil, fmt.Errorf("generate private key: %w", err)
		}
		if d.Sign() > 0 {
			return &PrivateKey{d: d}, nil
		}
	}
}

func (k *PrivateKey) String() string { return "PrivateKey(redacted)" }

// Felt exposes the scalar for persistence in accounts files and keystores.
func (k *PrivateKey) Felt() *felt.Felt {
	f, _ := FeltFromBig(k.d)
	return f
}

// Bytes returns the 32-byte big-endian scalar.
func (k *PrivateKey) Bytes() []byte {
	return k.d.FillBytes(make([]byte, 32))
}

// PublicKey returns the x coordinate of d·G.
func (k *PrivateKey) PublicKey() *felt.Felt {
	_, g := starkcurve.Generators()
	var p starkcurve.G1Affine
	p.ScalarMultiplication(&g, k.d)
	f, _ := FeltFromBig(p.X.BigInt(new(big.Int)))
	return f
}

// Sign produces an (r, s) signature over hash using RFC 6979 nonces.
func (k *PrivateKey) Sign(hash *felt.Felt) (*felt.Felt, *felt.Felt, error) {
	z := FeltToBig(hash)
	if z.Cmp(sigBound) >= 0 {
		return nil, nil, fmt.Errorf("message hash out of range")
	}
	_, g := starkcurve.Generators()
	next := newNonceGenerator(k.d, z)
	for attempt := 0; attempt < 64; attempt++ {
		nonce := next()
		var p starkcurve.G1Affine
		p.ScalarMultiplication(&g, nonce)
		r := p.X.BigInt(new(big.Int))
		if r.Sign() == 0 || r.Cmp(sigBound) >= 0 {
			continue
		}
		s := new(big.Int).Mul(r, k.d)
		s.Add(s, z)
		s.Mul(s, new(big.Int).ModInverse(nonce, curveOrder))
		s.Mod(s, curveOrder)
		if s.Sign() == 0 {
			continue
		}
		w := new(big.Int).ModInverse(s, curveOrder)
		if w == nil || w.Cmp(sigBound) >= 0 {
			continue
		}
		rf, _ := FeltFromBig(r)
		sf, _ := FeltFromBig(s)
		return rf, sf, nil
	}
	return nil, nil, fmt.Errorf("could not produce signature")
}

// newNonceGenerator implements the HMAC-DRBG of RFC 6979 section 3.2.
// Each call returns the next candidate nonce in [1, n-1].
func newNonceGenerator(d, z *big.Int) func() *big.Int {
	qlen := curveOrder.BitLen()
	bits2int := func(b []byte) *big.Int {
		v := new(big.Int).SetBytes(b)
		if excess := len(b)*8 - qlen; excess > 0 {
			v.Rsh(v, uint(excess))
		}
		return v
	}
	x := d.FillBytes(make([]byte, 32))
	h := bits2int(z.FillBytes(make([]byte, 32)))
	h.Mod(h, curveOrder)
	hb := h.FillBytes(make([]byte, 32))

	mac := func(key []byte, parts ...[]byte) []byte {
		m := hmac.New(sha256.New, key)
		for _, p := range parts {
			m.Write(p)
		}
		return m.Sum(nil)
	}
	v := make([]byte, 32)
	for i := range v {
		v[i] = 0x01
	}
	key := make([]byte, 32)
	key = mac(key, v, []byte{0x00}, x, hb)
	v = mac(key, v)
	key = mac(key, v, []byte{0x01}, x, hb)
	v = mac(key, v)

	first := true
	return func() *big.Int {
		for {
			if !first {
				key = mac(key, v, []byte{0x00})
				v = mac(key, v)
			}
			first = false
			v = mac(key, v)
			k := bits2int(v)
			if k.Sign() > 0 && k.Cmp(curveOrder) < 0 {
				return k
			}
		}
	}
}
