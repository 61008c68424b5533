// Package accounts persists signing identities: the JSON accounts file keyed
// by network and name, and the encrypted keystore paired with a plaintext
// account descriptor.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/gofrs/flock"
	"github.com/samber/lo"
)

const lockTimeout = 5 * time.Second

// Entry is one account inside the accounts file. Keys this package does not
// know about are kept in Extra and written back untouched.
type Entry struct {
	PrivateKey *felt.Felt `json:"private_key"`
	PublicKey  *felt.Felt `json:"public_key"`
	Address    *felt.Felt `json:"address"`
	Salt       *felt.Felt `json:"salt,omitempty"`
	ClassHash  *felt.Felt `json:"class_hash,omitempty"`
	Deployed   bool       `json:"deployed"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownEntryKeys = []string{"private_key", "public_key", "address", "salt", "class_hash", "deployed"}

func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownEntryKeys {
		delete(all, k)
	}
	*e = Entry(p)
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	known, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return known, nil
	}
	merged := map[string]json.RawMessage{}
	for k, v := range e.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// File is an accounts file on disk. Reads never lock; every mutation is a
// read-modify-write under an advisory file lock followed by an atomic rename.
type File struct {
	path string
	lock *flock.Flock
}

func Open(path string) *File {
	return &File{path: path, lock: flock.New(path + ".lock")}
}

func (f *File) Path() string { return f.path }

// document keeps every network as raw JSON so networks that are never
// touched keep their content, unknown keys included.
type document map[string]json.RawMessage

func (f *File) read() (document, error) {
	buf, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return document{}, nil
		}
		return nil, clierr.Wrap(clierr.CodePersistence, "read accounts file", err)
	}
	doc := document{}
	if len(buf) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("parse accounts file %s", f.path), err)
	}
	return doc, nil
}

func (d document) network(name string) (map[string]Entry, error) {
	raw, ok := d[name]
	if !ok {
		return map[string]Entry{}, nil
	}
	out := map[string]Entry{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("parse accounts for network %s", name), err)
	}
	return out, nil
}

func (d document) setNetwork(name string, entries map[string]Entry) error {
	if len(entries) == 0 {
		delete(d, name)
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode accounts", err)
	}
	d[name] = raw
	return nil
}

// Get returns the entry for (network, name).
func (f *File) Get(network, name string) (Entry, error) {
	doc, err := f.read()
	if err != nil {
		return Entry{}, err
	}
	entries, err := doc.network(network)
	if err != nil {
		return Entry{}, err
	}
	e, ok := entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q on network %s", clierr.ErrAccountNotFound, name, network)
	}
	return e, nil
}

// Load returns every entry stored for network.
func (f *File) Load(network string) (map[string]Entry, error) {
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	return doc.network(network)
}

// Networks lists the networks that hold an account called name.
func (f *File) Networks(name string) ([]string, error) {
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	var out []string
	for network := range doc {
		entries, err := doc.network(network)
		if err != nil {
			continue
		}
		if _, ok := entries[name]; ok {
			out = append(out, network)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Names lists account names stored for network.
func (f *File) Names(network string) ([]string, error) {
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	entries, err := doc.network(network)
	if err != nil {
		return nil, err
	}
	names := lo.Keys(entries)
	sort.Strings(names)
	return names, nil
}

// Insert adds a new entry and fails with ErrAccountExists when the name is
// taken on that network.
func (f *File) Insert(ctx context.Context, network, name string, e Entry) error {
	return f.mutate(ctx, network, func(entries map[string]Entry) error {
		if _, ok := entries[name]; ok {
			return fmt.Errorf("%w: %q on network %s", clierr.ErrAccountExists, name, network)
		}
		entries[name] = e
		return nil
	})
}

// Update applies fn to an existing entry.
func (f *File) Update(ctx context.Context, network, name string, fn func(*Entry) error) error {
	return f.mutate(ctx, network, func(entries map[string]Entry) error {
		e, ok := entries[name]
		if !ok {
			return fmt.Errorf("%w: %q on network %s", clierr.ErrAccountNotFound, name, network)
		}
		if err := fn(&e); err != nil {
			return err
		}
		entries[name] = e
		return nil
	})
}

// Delete removes (network, name). Entries on other networks are untouched.
func (f *File) Delete(ctx context.Context, network, name string) error {
	return f.mutate(ctx, network, func(entries map[string]Entry) error {
		if _, ok := entries[name]; !ok {
			return fmt.Errorf("%w: %q on network %s", clierr.ErrAccountNotFound, name, network)
		}
		delete(entries, name)
		return nil
	})
}

func (f *File) mutate(ctx context.Context, network string, fn func(map[string]Entry) error) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return clierr.Wrap(clierr.CodePersistence, "create accounts directory", err)
	}
	locked, err := f.lock.TryLockContext(ctx, lockTimeout)
	if err != nil {
		return clierr.Wrap(clierr.CodePersistence, "lock accounts file", err)
	}
	if !locked {
		return clierr.New(clierr.CodePersistence, "lock accounts file: timeout acquiring lock")
	}
	defer func() { _ = f.lock.Unlock() }()

	doc, err := f.read()
	if err != nil {
		return err
	}
	entries, err := doc.network(network)
	if err != nil {
		return err
	}
	if err := fn(entries); err != nil {
		return err
	}
	if err := doc.setNetwork(network, entries); err != nil {
		return err
	}
	return writeJSONAtomic(f.path, doc, 0o600)
}

func writeJSONAtomic(path string, v any, perm os.FileMode) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode "+filepath.Base(path), err)
	}
	buf = append(buf, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return clierr.Wrap(clierr.CodePersistence, "create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return clierr.Wrap(clierr.CodePersistence, "write "+filepath.Base(path), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return clierr.Wrap(clierr.CodePersistence, "chmod "+filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return clierr.Wrap(clierr.CodePersistence, "close "+filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return clierr.Wrap(clierr.CodePersistence, "replace "+filepath.Base(path), err)
	}
	return nil
}
