package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"
)

// ErrCorruptSnapshot marks a snapshot file that is not a JSON array.
var ErrCorruptSnapshot = errors.New("snapshot is not a JSON array")

// FileStore keeps the queue snapshot as a JSON array in a single file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store for the snapshot at path. The file is not
// touched until the first Load or Save.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Path() string { return s.path }

// Save replaces the snapshot atomically: the items are written to a
// temporary file in the same directory, synced, and renamed over the old
// snapshot.
func (s *FileStore) Save(items []domain.RelayItem) error {
	if items == nil {
		items = []domain.RelayItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", domain.ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create snapshot directory %s: %v", domain.ErrPersistence, dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", domain.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write snapshot: %v", domain.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync snapshot: %v", domain.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close snapshot: %v", domain.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: replace snapshot: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Load reads the snapshot. A missing or empty file is an empty queue.
// Entries that do not decode as relay items are skipped; the rest load.
func (s *FileStore) Load() ([]domain.RelayItem, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot %s: %v", domain.ErrPersistence, s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w: %s: %v", domain.ErrPersistence, ErrCorruptSnapshot, s.path, err)
	}

	items := make([]domain.RelayItem, 0, len(raw))
	for i, r := range raw {
		var item domain.RelayItem
		if err := json.Unmarshal(r, &item); err != nil {
			s.logger.Warn("skipping malformed snapshot entry", "index", i, "err", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Append adds items to the end of the stored snapshot. It is meant for
// offline tools; a running relay overwrites the file on its next tick.
func (s *FileStore) Append(items ...domain.RelayItem) error {
	existing, err := s.Load()
	if err != nil {
		return err
	}
	return s.Save(append(existing, items...))
}

// Restore loads the snapshot into q in its stored order and returns the
// number of items restored. A snapshot that cannot be read is moved aside
// so the next Save does not overwrite it, and q starts empty. Only a failed
// move is returned as an error.
func Restore(q *Queue, s *FileStore) (int, error) {
	items, err := s.Load()
	if err != nil {
		aside, qerr := s.quarantine()
		if qerr != nil {
			return 0, errors.Join(err, qerr)
		}
		s.logger.Error("snapshot unreadable, starting with an empty queue", "err", err, "moved_to", aside)
		return 0, nil
	}
	n := 0
	for _, item := range items {
		if _, err := q.Enqueue(item); err != nil {
			s.logger.Warn("skipping snapshot entry", "item", item.String(), "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// quarantine renames the snapshot to <path>.corrupt-<unix seconds>.
func (s *FileStore) quarantine() (string, error) {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, aside); err != nil {
		return "", fmt.Errorf("%w: move unreadable snapshot aside: %v", domain.ErrPersistence, err)
	}
	return aside, nil
}
