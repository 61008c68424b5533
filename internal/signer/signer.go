package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/accounts"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/starknet"
)

// Signer signs transaction hashes on behalf of an account.
type Signer interface {
	Address() *felt.Felt
	Sign(ctx context.Context, hash *felt.Felt) ([]*felt.Felt, error)
}

// Open turns an identity into a Signer. Keystore identities read their
// descriptor now and decrypt the key on the first Sign.
func Open(identity Identity, passphrase PassphraseFunc) (Signer, error) {
	switch id := identity.(type) {
	case *AccountsFileEntry:
		key, err := starknet.NewPrivateKey(id.privateKey)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("account %q has an invalid private key", id.Name), err)
		}
		return NewLocalSigner(id.Address, key), nil
	case *KeystoreEntry:
		desc, err := accounts.ReadDescriptor(id.DescriptorPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "open account file", err)
		}
		if passphrase == nil {
			return nil, clierr.New(clierr.CodeSigner, "keystore requires a passphrase source")
		}
		return &KeystoreSigner{
			path:       id.KeystorePath,
			address:    desc.Deployment.Address,
			publicKey:  desc.Variant.PublicKey,
			passphrase: passphrase,
		}, nil
	default:
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("unsupported identity %T", identity))
	}
}

// LocalSigner holds a plaintext key.
type LocalSigner struct {
	address *felt.Felt
	key     *starknet.PrivateKey
}

func NewLocalSigner(address *felt.Felt, key *starknet.PrivateKey) *LocalSigner {
	return &LocalSigner{address: address, key: key}
}

func (s *LocalSigner) Address() *felt.Felt { return s.address }

func (s *LocalSigner) Sign(_ context.Context, hash *felt.Felt) ([]*felt.Felt, error) {
	r, sig, err := s.key.Sign(hash)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	return []*felt.Felt{r, sig}, nil
}

// KeystoreSigner decrypts its keystore once, on first use.
type KeystoreSigner struct {
	path       string
	address    *felt.Felt
	publicKey  *felt.Felt
	passphrase PassphraseFunc

	mu  sync.Mutex
	key *starknet.PrivateKey
}

func (s *KeystoreSigner) Address() *felt.Felt { return s.address }

// Unlocked reports whether the keystore has been decrypted.
func (s *KeystoreSigner) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != nil
}

func (s *KeystoreSigner) unlock(ctx context.Context) (*starknet.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return s.key, nil
	}
	pass, err := s.passphrase(ctx, s.path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "read keystore passphrase", err)
	}
	key, err := accounts.ReadKeystore(s.path, pass)
	if err != nil {
		return nil, err
	}
	if s.publicKey != nil && !key.PublicKey().Equal(s.publicKey) {
		return nil, clierr.New(clierr.CodeSigner, "keystore key does not match the account file public key")
	}
	s.key = key
	return key, nil
}

func (s *KeystoreSigner) Sign(ctx context.Context, hash *felt.Felt) ([]*felt.Felt, error) {
	key, err := s.unlock(ctx)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(s.address, key).Sign(ctx, hash)
}
