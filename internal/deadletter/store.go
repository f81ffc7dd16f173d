// Package deadletter keeps relay items that could not be delivered in a
// SQLite database so they can be inspected and requeued.
package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("dead letter not found")

// Store implements domain.DeadLetterSink on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// AddDeadLetter records dl. An empty ID gets a fresh UUID; a zero FailedAt
// is set to now.
func (s *Store) AddDeadLetter(ctx context.Context, dl domain.DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}
	if dl.Attempts <= 0 {
		dl.Attempts = 1
	}
	itemJSON, err := json.Marshal(dl.Item)
	if err != nil {
		return fmt.Errorf("encode dead letter item: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, item_type, item_json, failure_type, last_error, attempts, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, string(dl.Item.Type), string(itemJSON), dl.FailureType, dl.LastError, dl.Attempts, dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	s.logger.Debug("dead letter recorded", "id", dl.ID, "failure", dl.FailureType)
	return nil
}

// List returns up to limit dead letters, oldest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	query := `SELECT id, item_json, failure_type, last_error, attempts, failed_at
		FROM dead_letters ORDER BY failed_at, rowid`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetter
	for rows.Next() {
		dl, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// Get returns one dead letter by id.
func (s *Store) Get(ctx context.Context, id string) (domain.DeadLetter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, item_json, failure_type, last_error, attempts, failed_at FROM dead_letters WHERE id = ?`, id)
	dl, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeadLetter{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return dl, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(r scanner) (domain.DeadLetter, error) {
	var (
		dl       domain.DeadLetter
		itemJSON string
	)
	if err := r.Scan(&dl.ID, &itemJSON, &dl.FailureType, &dl.LastError, &dl.Attempts, &dl.FailedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dl, err
		}
		return dl, fmt.Errorf("scan dead letter: %w", err)
	}
	if err := json.Unmarshal([]byte(itemJSON), &dl.Item); err != nil {
		return dl, fmt.Errorf("decode dead letter %s: %w", dl.ID, err)
	}
	return dl, nil
}

// Delete removes the given ids and returns how many existed.
func (s *Store) Delete(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("delete dead letters: %w", err)
	}
	return res.RowsAffected()
}

// Purge removes dead letters that failed before cutoff. A zero cutoff
// removes everything.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if cutoff.IsZero() {
		res, err = s.db.ExecContext(ctx, "DELETE FROM dead_letters")
	} else {
		res, err = s.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE failed_at < ?", cutoff.UTC())
	}
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored dead letters.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letters").Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}
