// Package lifecycle creates, imports, deploys and deletes accounts.
//
// An account lives either in a shared accounts file, keyed by network and
// name, or in a keystore pair: an encrypted key plus a plaintext account
// file describing the deployment.
package lifecycle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/accounts"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/signer"
	"github.com/ggonzalez94/sncast/internal/starknet"
	"github.com/rs/zerolog"
)

// Target is where an account is stored. A keystore path selects the
// keystore pair; Descriptor is then the path of the account file.
type Target struct {
	AccountsFile string
	Keystore     string
	Descriptor   string
}

func (t Target) keystore() bool { return strings.TrimSpace(t.Keystore) != "" }

// Account describes a stored account.
type Account struct {
	Name      string     `json:"name,omitempty"`
	Network   string     `json:"network,omitempty"`
	Address   *felt.Felt `json:"address"`
	PublicKey *felt.Felt `json:"public_key"`
	ClassHash *felt.Felt `json:"class_hash,omitempty"`
	Salt      *felt.Felt `json:"salt,omitempty"`
	Deployed  bool       `json:"deployed"`
	// Path is the accounts file or, in keystore mode, the account file.
	Path string `json:"path"`
}

// Manager runs account operations. Only Deploy and Add talk to the node.
type Manager struct {
	Provider     rpc.Provider
	Builder      *execution.Builder
	Orchestrator *execution.Orchestrator
	// Rand feeds key and salt generation. Nil means crypto/rand.
	Rand   io.Reader
	Scrypt accounts.ScryptParams
	Log    zerolog.Logger
}

type CreateRequest struct {
	Name    string
	Network string
	Target  Target
	// ClassHash defaults to the OpenZeppelin account class.
	ClassHash *felt.Felt
	// Salt is random when nil.
	Salt *felt.Felt
	// Passphrase encrypts the keystore in keystore mode.
	Passphrase signer.PassphraseFunc
}

// Create generates a key, computes the counterfactual address and persists
// an undeployed account.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Account, error) {
	if !req.Target.keystore() && strings.TrimSpace(req.Name) == "" {
		return Account{}, clierr.New(clierr.CodeUsage, "account create requires --name")
	}
	key, err := starknet.GeneratePrivateKey(m.random())
	if err != nil {
		return Account{}, clierr.Wrap(clierr.CodeInternal, "generate private key", err)
	}
	classHash := req.ClassHash
	if classHash == nil {
		classHash = starknet.OpenZeppelinAccountClassHash
	}
	salt := req.Salt
	if salt == nil {
		if salt, err = m.salt(); err != nil {
			return Account{}, clierr.Wrap(clierr.CodeInternal, "generate salt", err)
		}
	}
	pub := key.PublicKey()
	addr := deployRequest(classHash, salt, pub).Address()
	acct := Account{Name: req.Name, Network: req.Network, Address: addr, PublicKey: pub, ClassHash: classHash, Salt: salt}

	if req.Target.keystore() {
		acct.Path = req.Target.Descriptor
		return acct, m.createKeystore(ctx, req, key, acct)
	}
	acct.Path = req.Target.AccountsFile
	entry := accounts.Entry{PrivateKey: key.Felt(), PublicKey: pub, Address: addr, Salt: salt, ClassHash: classHash}
	if err := accounts.Open(req.Target.AccountsFile).Insert(ctx, req.Network, req.Name, entry); err != nil {
		return Account{}, storeError(err)
	}
	m.Log.Info().Str("account", req.Name).Str("network", req.Network).Str("address", addr.String()).Msg("account created")
	return acct, nil
}

func (m *Manager) createKeystore(ctx context.Context, req CreateRequest, key *starknet.PrivateKey, acct Account) error {
	desc := req.Target.Descriptor
	if strings.TrimSpace(desc) == "" {
		return clierr.New(clierr.CodeUsage, "--account must name the account file to create when --keystore is used")
	}
	if _, err := os.Stat(desc); err == nil {
		return clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("account file %s already exists", desc), clierr.ErrAccountExists)
	}
	if req.Passphrase == nil {
		return clierr.New(clierr.CodeSigner, "keystore requires a passphrase source")
	}
	pass, err := req.Passphrase(ctx, req.Target.Keystore)
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "read keystore passphrase", err)
	}
	if err := accounts.WriteKeystore(req.Target.Keystore, key, pass, m.Scrypt); err != nil {
		return err
	}
	d := accounts.Descriptor{
		Version: 1,
		Variant: accounts.Variant{Type: accounts.VariantOpenZeppelin, Version: 1, PublicKey: acct.PublicKey},
		Deployment: accounts.Deployment{
			Status:    accounts.StatusUndeployed,
			ClassHash: acct.ClassHash,
			Address:   acct.Address,
			Salt:      acct.Salt,
		},
	}
	if err := accounts.WriteDescriptor(desc, d); err != nil {
		// Leave nothing behind when the pair is incomplete.
		_ = os.Remove(req.Target.Keystore)
		return err
	}
	m.Log.Info().Str("keystore", req.Target.Keystore).Str("address", acct.Address.String()).Msg("keystore account created")
	return nil
}

type DeployRequest struct {
	Name       string
	Network    string
	Target     Target
	MaxFee     *felt.Felt
	Wait       bool
	Passphrase signer.PassphraseFunc
}

// Deploy submits the deploy_account transaction of an undeployed account
// and marks it deployed once the submission succeeded. On any failure the
// stored account is left as it was, so the command can be retried.
func (m *Manager) Deploy(ctx context.Context, req DeployRequest) (Account, execution.SubmissionResult, error) {
	acct, sgn, err := m.loadForDeploy(req)
	if err != nil {
		return Account{}, execution.SubmissionResult{}, err
	}
	if acct.Deployed {
		return acct, execution.SubmissionResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("account %s is already deployed", acct.Address))
	}
	if acct.ClassHash == nil || acct.Salt == nil {
		return acct, execution.SubmissionResult{}, clierr.New(clierr.CodeBuild, fmt.Sprintf("account %s has no class hash or salt to deploy with", acct.Address))
	}

	chainID, err := m.Provider.ChainID(ctx)
	if err != nil {
		return acct, execution.SubmissionResult{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	tx, err := m.Builder.BuildDeployAccount(ctx, deployRequest(acct.ClassHash, acct.Salt, acct.PublicKey), chainID, req.MaxFee)
	if err != nil {
		return acct, execution.SubmissionResult{}, err
	}
	if !tx.ContractAddress.Equal(acct.Address) {
		return acct, execution.SubmissionResult{}, clierr.New(clierr.CodeBuild, fmt.Sprintf("stored address %s does not match computed address %s", acct.Address, tx.ContractAddress))
	}
	res, err := m.Orchestrator.Submit(ctx, tx, sgn, req.Wait)
	if err != nil {
		return acct, res, err
	}

	if err := m.markDeployed(ctx, req); err != nil {
		cerr := clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("account deployed in %s but not marked deployed", res.TransactionHash), err)
		return acct, res, cerr.WithData(res)
	}
	acct.Deployed = true
	m.Log.Info().Str("address", acct.Address.String()).Str("tx", res.TransactionHash.String()).Msg("account deployed")
	return acct, res, nil
}

func (m *Manager) loadForDeploy(req DeployRequest) (Account, execution.Signer, error) {
	if req.Target.keystore() {
		id := &signer.KeystoreEntry{KeystorePath: req.Target.Keystore, DescriptorPath: req.Target.Descriptor}
		d, err := accounts.ReadDescriptor(req.Target.Descriptor)
		if err != nil {
			return Account{}, nil, storeError(err)
		}
		sgn, err := signer.Open(id, req.Passphrase)
		if err != nil {
			return Account{}, nil, err
		}
		return Account{
			Address:   d.Deployment.Address,
			PublicKey: d.Variant.PublicKey,
			ClassHash: d.Deployment.ClassHash,
			Salt:      d.Deployment.Salt,
			Deployed:  d.Deployed(),
			Path:      req.Target.Descriptor,
		}, sgn, nil
	}

	e, err := accounts.Open(req.Target.AccountsFile).Get(req.Network, req.Name)
	if err != nil {
		return Account{}, nil, storeError(err)
	}
	if e.PrivateKey == nil || e.Address == nil {
		return Account{}, nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("account %q is missing private_key or address", req.Name))
	}
	key, err := starknet.NewPrivateKey(e.PrivateKey)
	if err != nil {
		return Account{}, nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("account %q has an invalid private key", req.Name), err)
	}
	pub := e.PublicKey
	if pub == nil {
		pub = key.PublicKey()
	}
	return Account{
		Name:      req.Name,
		Network:   req.Network,
		Address:   e.Address,
		PublicKey: pub,
		ClassHash: e.ClassHash,
		Salt:      e.Salt,
		Deployed:  e.Deployed,
		Path:      req.Target.AccountsFile,
	}, signer.NewLocalSigner(e.Address, key), nil
}

func (m *Manager) markDeployed(ctx context.Context, req DeployRequest) error {
	if req.Target.keystore() {
		d, err := accounts.ReadDescriptor(req.Target.Descriptor)
		if err != nil {
			return err
		}
		d.Deployment.Status = accounts.StatusDeployed
		return accounts.WriteDescriptor(req.Target.Descriptor, d)
	}
	return accounts.Open(req.Target.AccountsFile).Update(ctx, req.Network, req.Name, func(e *accounts.Entry) error {
		e.Deployed = true
		return nil
	})
}

type AddRequest struct {
	Name         string
	Network      string
	AccountsFile string
	Address      *felt.Felt
	PrivateKey   *felt.Felt
	// PublicKey, when given, must match the private key.
	PublicKey *felt.Felt
	ClassHash *felt.Felt
	Salt      *felt.Felt
}

// Add imports an existing account into the accounts file. It is recorded
// as deployed when the node knows a class at its address.
func (m *Manager) Add(ctx context.Context, req AddRequest) (Account, error) {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return Account{}, clierr.New(clierr.CodeUsage, "account add requires --name")
	case req.Address == nil:
		return Account{}, clierr.New(clierr.CodeUsage, "account add requires --address")
	case req.PrivateKey == nil:
		return Account{}, clierr.New(clierr.CodeUsage, "account add requires --private-key")
	}
	key, err := starknet.NewPrivateKey(req.PrivateKey)
	if err != nil {
		return Account{}, clierr.Wrap(clierr.CodeUsage, "invalid private key", err)
	}
	pub := key.PublicKey()
	if req.PublicKey != nil && !req.PublicKey.Equal(pub) {
		return Account{}, clierr.New(clierr.CodeUsage, "public key does not match the private key")
	}

	deployed := false
	classHash := req.ClassHash
	onChain, err := m.Provider.ClassHashAt(ctx, req.Address)
	switch {
	case err == nil:
		deployed = true
		if classHash != nil && !classHash.Equal(onChain) {
			return Account{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("class hash %s does not match %s deployed at %s", classHash, onChain, req.Address))
		}
		classHash = onChain
	case rpc.IsContractNotFound(err):
	default:
		return Account{}, clierr.Wrap(clierr.CodeUnavailable, "check account deployment", err)
	}

	entry := accounts.Entry{
		PrivateKey: req.PrivateKey,
		PublicKey:  pub,
		Address:    req.Address,
		Salt:       req.Salt,
		ClassHash:  classHash,
		Deployed:   deployed,
	}
	if err := accounts.Open(req.AccountsFile).Insert(ctx, req.Network, req.Name, entry); err != nil {
		return Account{}, storeError(err)
	}
	return Account{
		Name:      req.Name,
		Network:   req.Network,
		Address:   req.Address,
		PublicKey: pub,
		ClassHash: classHash,
		Salt:      req.Salt,
		Deployed:  deployed,
		Path:      req.AccountsFile,
	}, nil
}

type DeleteRequest struct {
	Name         string
	Network      string
	AccountsFile string
}

// Delete removes (network, name) from the accounts file. Accounts with the
// same name on other networks are kept.
func (m *Manager) Delete(ctx context.Context, req DeleteRequest) (Account, error) {
	file := accounts.Open(req.AccountsFile)
	e, err := file.Get(req.Network, req.Name)
	if err != nil {
		return Account{}, storeError(err)
	}
	if err := file.Delete(ctx, req.Network, req.Name); err != nil {
		return Account{}, storeError(err)
	}
	m.Log.Info().Str("account", req.Name).Str("network", req.Network).Msg("account deleted")
	return Account{
		Name:      req.Name,
		Network:   req.Network,
		Address:   e.Address,
		PublicKey: e.PublicKey,
		ClassHash: e.ClassHash,
		Salt:      e.Salt,
		Deployed:  e.Deployed,
		Path:      req.AccountsFile,
	}, nil
}

func deployRequest(classHash, salt, publicKey *felt.Felt) execution.DeployAccountRequest {
	return execution.DeployAccountRequest{ClassHash: classHash, Salt: salt, ConstructorCalldata: []*felt.Felt{publicKey}}
}

func (m *Manager) random() io.Reader {
	if m.Rand != nil {
		return m.Rand
	}
	return rand.Reader
}

func (m *Manager) salt() (*felt.Felt, error) {
	buf := make([]byte, 31)
	if _, err := io.ReadFull(m.random(), buf); err != nil {
		return nil, err
	}
	return starknet.FeltFromBig(new(big.Int).SetBytes(buf))
}

// storeError gives account store failures a stable code.
func storeError(err error) error {
	if _, ok := clierr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, clierr.ErrAccountNotFound), errors.Is(err, clierr.ErrSignerNotFound):
		return clierr.Wrap(clierr.CodeUsage, "account lookup", err)
	case errors.Is(err, clierr.ErrAccountExists):
		return clierr.Wrap(clierr.CodeUsage, "account create", err)
	default:
		return clierr.Wrap(clierr.CodePersistence, "account store", err)
	}
}
