package signer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

const EnvKeystorePassword = "SNCAST_KEYSTORE_PASSWORD"

// PassphraseFunc supplies the passphrase of the keystore at path.
type PassphraseFunc func(ctx context.Context, path string) (string, error)

// OncePassphrase asks next at most once and replays the answer, including
// a failure, on every later call.
func OncePassphrase(next PassphraseFunc) PassphraseFunc {
	var (
		once sync.Once
		pass string
		err  error
	)
	return func(ctx context.Context, path string) (string, error) {
		once.Do(func() { pass, err = next(ctx, path) })
		return pass, err
	}
}

// EnvPassphrase reads SNCAST_KEYSTORE_PASSWORD and falls back to next.
func EnvPassphrase(next PassphraseFunc) PassphraseFunc {
	return func(ctx context.Context, path string) (string, error) {
		if v, ok := os.LookupEnv(EnvKeystorePassword); ok {
			return v, nil
		}
		if next == nil {
			return "", fmt.Errorf("keystore password is required: set %s", EnvKeystorePassword)
		}
		return next(ctx, path)
	}
}

// PasswordReader reads a masked secret, typically from a terminal.
type PasswordReader interface {
	Password(ctx context.Context, label string) (string, error)
}

// PromptPassphrase asks r for the passphrase of path.
func PromptPassphrase(r PasswordReader) PassphraseFunc {
	return func(ctx context.Context, path string) (string, error) {
		v, err := r.Password(ctx, fmt.Sprintf("Enter password for keystore %s", path))
		if err != nil {
			return "", err
		}
		return strings.TrimRight(v, "\r\n"), nil
	}
}
