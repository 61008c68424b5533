package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Record is one journaled transaction. The hash is written as soon as the
// node returns it, so a failed wait never loses it.
type Record struct {
	Hash            string    `json:"transaction_hash"`
	Kind            Kind      `json:"kind"`
	Network         string    `json:"network"`
	Sender          string    `json:"sender"`
	ContractAddress string    `json:"contract_address,omitempty"`
	ClassHash       string    `json:"class_hash,omitempty"`
	MaxFee          string    `json:"max_fee,omitempty"`
	Status          WaitState `json:"status"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
}

// Recorder persists submitted transactions.
type Recorder interface {
	Save(ctx context.Context, rec Record) error
}

// Journal is a sqlite-backed Recorder. Writers serialise on a file lock so
// concurrent invocations can share one database.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

var _ Recorder = (*Journal)(nil)

func OpenJournal(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, "create journal directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, "create journal lock directory", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, "open journal", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS transactions (
			tx_hash TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			network TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_transactions_status_updated ON transactions(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, clierr.Wrap(clierr.CodePersistence, "init journal schema", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath), now: time.Now}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Save inserts rec or updates the row with the same hash. CreatedAt of an
// existing row is kept and UpdatedAt is always the time of the save.
func (j *Journal) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Hash) == "" {
		return fmt.Errorf("save transaction: missing hash")
	}
	locked, err := j.lock.TryLockContext(ctx, 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	now := j.now().UTC()
	rec.Hash = normalizeHash(rec.Hash)
	var existing int64
	switch err := j.db.QueryRowContext(ctx, "SELECT created_at FROM transactions WHERE tx_hash = ?", rec.Hash).Scan(&existing); {
	case err == nil:
		rec.CreatedAt = time.Unix(existing, 0).UTC().Format(time.RFC3339)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("read transaction: %w", err)
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = now.Format(time.RFC3339)
	}
	rec.UpdatedAt = now.Format(time.RFC3339)
	if rec.Status == "" {
		rec.Status = StateReceived
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	createdUnix := unixOrNow(rec.CreatedAt, now)
	updatedUnix := now.Unix()

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO transactions (tx_hash, kind, network, status, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, rec.Hash, string(rec.Kind), rec.Network, string(rec.Status), createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (j *Journal) Get(ctx context.Context, hash string) (Record, error) {
	var payload []byte
	err := j.db.QueryRowContext(ctx, "SELECT payload FROM transactions WHERE tx_hash = ?", normalizeHash(hash)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("transaction not in journal: %s", hash))
		}
		return Record{}, clierr.Wrap(clierr.CodePersistence, "read transaction", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, clierr.Wrap(clierr.CodePersistence, "decode transaction", err)
	}
	return rec, nil
}

// List returns the most recently updated records, optionally filtered by
// status.
func (j *Journal) List(ctx context.Context, status string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = j.db.QueryContext(ctx, "SELECT payload FROM transactions ORDER BY updated_at DESC, rowid DESC LIMIT ?", limit)
	} else {
		rows, err = j.db.QueryContext(ctx, "SELECT payload FROM transactions WHERE status = ? ORDER BY updated_at DESC, rowid DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, "list transactions", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, clierr.Wrap(clierr.CodePersistence, "scan transaction row", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, clierr.Wrap(clierr.CodePersistence, "decode transaction row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, clierr.Wrap(clierr.CodePersistence, "iterate transaction rows", err)
	}
	return records, nil
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func unixOrNow(v string, now time.Time) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return now.Unix()
	}
	return t.UTC().Unix()
}
