package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

func TestFileStore_RoundTripAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	items := []domain.RelayItem{
		domain.NewText("From a (x): one"),
		domain.NewAttachment("https://cdn.example.com/p.png?ex=1", "From a (x): pic"),
		domain.NewText("three"),
		domain.NewAttachment("https://cdn.example.com/f", ""),
	}

	q := New(testLogger())
	for _, it := range items {
		mustEnqueue(t, q, it)
	}
	p := NewPersister(PersisterConfig{Queue: q, Store: NewFileStore(path, testLogger()), Logger: testLogger()})
	if err := p.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// simulated restart
	fresh := New(testLogger())
	n, err := Restore(fresh, NewFileStore(path, testLogger()))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != len(items) {
		t.Fatalf("restored %d items, want %d", n, len(items))
	}
	for i, want := range items {
		e, err := fresh.Dequeue(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if e.Item != want {
			t.Errorf("item %d: got %+v, want %+v", i, e.Item, want)
		}
	}
}

func TestFileStore_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	items, err := NewFileStore(filepath.Join(dir, "absent.json"), testLogger()).Load()
	if err != nil || len(items) != 0 {
		t.Errorf("missing file: %v %v", items, err)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	items, err = NewFileStore(empty, testLogger()).Load()
	if err != nil || len(items) != 0 {
		t.Errorf("empty file: %v %v", items, err)
	}
}

func TestFileStore_SkipsMalformedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	data := `[
		{"type":"text","content":"first"},
		{"type":"sticker","id":"9"},
		{"type":"attachment","caption":"no url"},
		42,
		{"type":"attachment","url":"https://x.test/a.jpg","caption":"last"}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := NewFileStore(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 valid items, got %d: %+v", len(items), items)
	}
	if items[0].Content != "first" || items[1].URL != "https://x.test/a.jpg" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(path, testLogger()).Load()
	if !errors.Is(err, domain.ErrPersistence) || !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("expected ErrPersistence and ErrCorruptSnapshot, got %v", err)
	}
}

func TestRestore_TruncatedSnapshotIsMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")
	truncated := []byte(`[{"type":"text","content":"a"},{"type":"te`)
	if err := os.WriteFile(path, truncated, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path, testLogger())
	q := New(testLogger())
	n, err := Restore(q, store)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 0 || q.Len() != 0 {
		t.Fatalf("restored %d items, queue len %d, want empty", n, q.Len())
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("snapshot still at %s: %v", path, err)
	}
	matches, err := filepath.Glob(path + ".corrupt-*")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one quarantined file, got %v (%v)", matches, err)
	}

	// the relay keeps going and its next snapshot leaves the old file alone
	mustEnqueue(t, q, domain.NewText("after restart"))
	p := NewPersister(PersisterConfig{Queue: q, Store: store, Logger: testLogger()})
	if err := p.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	kept, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(kept) != string(truncated) {
		t.Errorf("quarantined file changed: %q", kept)
	}
	items, err := store.Load()
	if err != nil || len(items) != 1 || items[0].Content != "after restart" {
		t.Errorf("new snapshot = %+v, %v", items, err)
	}
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "queue.json"), testLogger())
	for i := 0; i < 3; i++ {
		if err := s.Save([]domain.RelayItem{domain.NewText("x")}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "queue.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected directory contents: %v", names)
	}
}

func TestFileStore_SaveEmptyWritesArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := NewFileStore(path, testLogger()).Save(nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("got %q", data)
	}
}

func TestFileStore_SaveFailure(t *testing.T) {
	dir := t.TempDir()
	// the snapshot path is an existing directory, so the rename fails
	target := filepath.Join(dir, "queue.json")
	if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	err := NewFileStore(target, testLogger()).Save([]domain.RelayItem{domain.NewText("x")})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestFileStore_Append(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "queue.json"), testLogger())
	if err := s.Save([]domain.RelayItem{domain.NewText("a")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(domain.NewText("b")); err != nil {
		t.Fatal(err)
	}
	items, _ := s.Load()
	if len(items) != 2 || items[1].Content != "b" {
		t.Errorf("got %+v", items)
	}
}

func TestPersister_SkipsUnchangedQueue(t *testing.T) {
	q := New(testLogger())
	events := bus.NewEventBus(testLogger())
	var writes int
	events.On(bus.EventSnapshotWritten, func(bus.Event) { writes++ })

	p := NewPersister(PersisterConfig{
		Queue:  q,
		Store:  NewFileStore(filepath.Join(t.TempDir(), "queue.json"), testLogger()),
		Events: events,
		Logger: testLogger(),
	})

	mustEnqueue(t, q, domain.NewText("a"))
	if err := p.tick(false); err != nil {
		t.Fatal(err)
	}
	if err := p.tick(false); err != nil {
		t.Fatal(err)
	}
	if writes != 1 {
		t.Errorf("expected 1 write for an unchanged queue, got %d", writes)
	}
	if err := p.Flush(); err != nil {
		t.Fatal(err)
	}
	if writes != 2 {
		t.Errorf("flush should always write, got %d writes", writes)
	}
}

func TestPersister_RunWritesPeriodically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	q := New(testLogger())
	store := NewFileStore(path, testLogger())
	p := NewPersister(PersisterConfig{Queue: q, Store: store, Interval: 10 * time.Millisecond, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	mustEnqueue(t, q, domain.NewText("persist me"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		items, err := store.Load()
		if err == nil && len(items) == 1 && items[0].Content == "persist me" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("snapshot was not written by the periodic task")
}
