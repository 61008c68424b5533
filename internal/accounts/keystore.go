package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/starknet"
	"github.com/google/uuid"
)

const (
	StatusUndeployed = "undeployed"
	StatusDeployed   = "deployed"

	VariantOpenZeppelin = "open_zeppelin"
)

// ScryptParams controls keystore key derivation cost.
type ScryptParams struct {
	N int
	P int
}

// StandardScrypt is used for real keystores; tests use LightScrypt.
var (
	StandardScrypt = ScryptParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	LightScrypt    = ScryptParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

type keystoreFile struct {
	Crypto  keystore.CryptoJSON `json:"crypto"`
	ID      string              `json:"id"`
	Version int                 `json:"version"`
}

// WriteKeystore encrypts key with passphrase into a version 3 keystore. It
// refuses to overwrite an existing file.
func WriteKeystore(path string, key *starknet.PrivateKey, passphrase string, params ScryptParams) error {
	if _, err := os.Stat(path); err == nil {
		return clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("keystore %s already exists", path), clierr.ErrAccountExists)
	}
	cj, err := keystore.EncryptDataV3(key.Bytes(), []byte(passphrase), params.N, params.P)
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "encrypt keystore", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return clierr.Wrap(clierr.CodePersistence, "create keystore directory", err)
	}
	return writeJSONAtomic(path, keystoreFile{Crypto: cj, ID: uuid.NewString(), Version: 3}, 0o600)
}

// ReadKeystore decrypts the key stored at path. Decryption errors never
// include the passphrase.
func ReadKeystore(path, passphrase string) (*starknet.PrivateKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, "read keystore", err)
	}
	var ks keystoreFile
	if err := json.Unmarshal(buf, &ks); err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("parse keystore %s", path), err)
	}
	raw, err := keystore.DecryptDataV3(ks.Crypto, passphrase)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, clierr.New(clierr.CodeSigner, "decrypt keystore: wrong passphrase")
		}
		return nil, clierr.Wrap(clierr.CodeSigner, "decrypt keystore", err)
	}
	key, err := starknet.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "keystore holds an invalid stark key", err)
	}
	return key, nil
}

// Descriptor is the plaintext account file that accompanies a keystore.
type Descriptor struct {
	Version    int        `json:"version"`
	Variant    Variant    `json:"variant"`
	Deployment Deployment `json:"deployment"`
}

type Variant struct {
	Type      string     `json:"type"`
	Version   int        `json:"version"`
	PublicKey *felt.Felt `json:"public_key"`
}

type Deployment struct {
	Status    string     `json:"status"`
	ClassHash *felt.Felt `json:"class_hash"`
	Address   *felt.Felt `json:"address,omitempty"`
	Salt      *felt.Felt `json:"salt,omitempty"`
}

func (d Descriptor) Deployed() bool { return d.Deployment.Status == StatusDeployed }

func ReadDescriptor(path string) (Descriptor, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Descriptor{}, fmt.Errorf("%w: account file %s does not exist", clierr.ErrSignerNotFound, path)
		}
		return Descriptor{}, clierr.Wrap(clierr.CodePersistence, "read account file", err)
	}
	var d Descriptor
	if err := json.Unmarshal(buf, &d); err != nil {
		return Descriptor{}, clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("parse account file %s", path), err)
	}
	if d.Deployment.Address == nil {
		return Descriptor{}, clierr.New(clierr.CodePersistence, fmt.Sprintf("account file %s has no address", path))
	}
	return d, nil
}

func WriteDescriptor(path string, d Descriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return clierr.Wrap(clierr.CodePersistence, "create account file directory", err)
	}
	return writeJSONAtomic(path, d, 0o644)
}
