package signer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/accounts"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
)

// Identity is the signing identity of one run. It is either an
// *AccountsFileEntry or a *KeystoreEntry, never both.
type Identity interface {
	// Label is a human readable name for logs and results.
	Label() string
	isIdentity()
}

// AccountsFileEntry is a named account read from an accounts file.
type AccountsFileEntry struct {
	Name         string
	Network      string
	AccountsFile string
	Address      *felt.Felt
	PublicKey    *felt.Felt
	Deployed     bool

	privateKey *felt.Felt
}

func (e *AccountsFileEntry) Label() string { return e.Name }
func (*AccountsFileEntry) isIdentity()     {}

// KeystoreEntry is an encrypted keystore and its account descriptor. Neither
// file is decrypted by Resolve.
type KeystoreEntry struct {
	KeystorePath   string
	DescriptorPath string
}

func (e *KeystoreEntry) Label() string { return e.DescriptorPath }
func (*KeystoreEntry) isIdentity()     {}

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

type ResolveRequest struct {
	Account             string
	AccountsFile        string
	DefaultAccountsFile string
	Keystore            string
	// Network is the accounts-file key of the connected chain.
	Network string
	// Confirm is asked before an account from another network is used. When
	// nil, such accounts are refused.
	Confirm ConfirmFunc
}

// Resolve picks the signing identity for a run. A keystore path selects the
// keystore variant and the account is then a path to its descriptor;
// otherwise the account is a name in the accounts file, scoped to Network.
func Resolve(ctx context.Context, req ResolveRequest) (Identity, error) {
	account := strings.TrimSpace(req.Account)
	if strings.TrimSpace(req.Keystore) != "" {
		if customAccountsFile(req.AccountsFile, req.DefaultAccountsFile) {
			return nil, clierr.Wrap(clierr.CodeSigner, "--keystore and --accounts-file cannot be used together", clierr.ErrAmbiguousSignerSource)
		}
		return resolveKeystore(req.Keystore, account)
	}
	return resolveAccountsFile(ctx, req, account)
}

func customAccountsFile(path, defaultPath string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	return filepath.Clean(path) != filepath.Clean(defaultPath)
}

func resolveKeystore(keystorePath, descriptorPath string) (Identity, error) {
	if descriptorPath == "" {
		return nil, clierr.Wrap(clierr.CodeSigner, "--account must point to an account file when --keystore is used", clierr.ErrSignerNotFound)
	}
	if _, err := os.Stat(keystorePath); err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("keystore %s not found", keystorePath), errors.Join(clierr.ErrSignerNotFound, err))
	}
	if _, err := os.Stat(descriptorPath); err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("account file %s not found", descriptorPath), errors.Join(clierr.ErrSignerNotFound, err))
	}
	return &KeystoreEntry{KeystorePath: keystorePath, DescriptorPath: descriptorPath}, nil
}

func resolveAccountsFile(ctx context.Context, req ResolveRequest, name string) (Identity, error) {
	if name == "" {
		return nil, clierr.Wrap(clierr.CodeSigner, "no account specified: pass --account or set it in the profile", clierr.ErrSignerNotFound)
	}
	path := req.AccountsFile
	if strings.TrimSpace(path) == "" {
		path = req.DefaultAccountsFile
	}
	file := accounts.Open(path)
	network := req.Network

	entry, err := file.Get(network, name)
	if errors.Is(err, clierr.ErrAccountNotFound) {
		others, lerr := file.Networks(name)
		if lerr != nil {
			return nil, lerr
		}
		if len(others) == 0 {
			return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("account %q not found in %s for network %s", name, path, network), clierr.ErrSignerNotFound)
		}
		if req.Confirm == nil {
			return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("account %q exists only on %s, not on %s", name, strings.Join(others, ", "), network), clierr.ErrSignerNotFound)
		}
		ok, cerr := req.Confirm(ctx, fmt.Sprintf("Account %q was created on %s. Use it on %s", name, others[0], network))
		if cerr != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "confirm cross-network account", cerr)
		}
		if !ok {
			return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("account %q not used on %s", name, network), clierr.ErrSignerNotFound)
		}
		network = others[0]
		entry, err = file.Get(network, name)
	}
	if err != nil {
		var cliErr *clierr.Error
		if errors.As(err, &cliErr) {
			return nil, err
		}
		return nil, clierr.Wrap(clierr.CodeSigner, "read account", err)
	}
	if entry.PrivateKey == nil || entry.Address == nil {
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("account %q in %s is missing private_key or address", name, path))
	}
	return &AccountsFileEntry{
		Name:         name,
		Network:      network,
		AccountsFile: path,
		Address:      entry.Address,
		PublicKey:    entry.PublicKey,
		Deployed:     entry.Deployed,
		privateKey:   entry.PrivateKey,
	}, nil
}
