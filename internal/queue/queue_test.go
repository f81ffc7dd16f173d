package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func mustEnqueue(t *testing.T, q *Queue, item domain.RelayItem) uint64 {
	t.Helper()
	seq, err := q.Enqueue(item)
	if err != nil {
		t.Fatalf("enqueue %s: %v", item, err)
	}
	return seq
}

func TestQueue_FIFO(t *testing.T) {
	q := New(testLogger())
	for i := 0; i < 5; i++ {
		mustEnqueue(t, q, domain.NewText(fmt.Sprintf("m%d", i)))
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("m%d", i); e.Item.Content != want {
			t.Fatalf("dequeue %d: got %q, want %q", i, e.Item.Content, want)
		}
		q.Ack(e.Seq)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(testLogger())

	got := make(chan Entry, 1)
	go func() {
		e, err := q.Dequeue(context.Background())
		if err == nil {
			got <- e
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	mustEnqueue(t, q, domain.NewText("late"))
	select {
	case e := <-got:
		if e.Item.Content != "late" {
			t.Errorf("got %q", e.Item.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestQueue_DequeueContextCancel(t *testing.T) {
	q := New(testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestQueue_RejectsMalformed(t *testing.T) {
	q := New(testLogger())
	_, err := q.Enqueue(domain.RelayItem{Type: "video"})
	if !errors.Is(err, domain.ErrMalformedItem) {
		t.Errorf("expected ErrMalformedItem, got %v", err)
	}
	if _, err := q.Enqueue(domain.NewAttachment("", "x")); !errors.Is(err, domain.ErrMalformedItem) {
		t.Errorf("attachment without url: got %v", err)
	}
}

func TestQueue_SnapshotKeepsInflightFirst(t *testing.T) {
	q := New(testLogger())
	mustEnqueue(t, q, domain.NewText("a"))
	mustEnqueue(t, q, domain.NewText("b"))
	mustEnqueue(t, q, domain.NewText("c"))

	e, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	snap := q.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot should include the in-flight item: got %d items", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].Content != want {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Content, want)
		}
	}
	if q.Len() != 3 {
		t.Errorf("snapshot must not drain the queue, len = %d", q.Len())
	}

	q.Ack(e.Seq)
	if snap := q.Snapshot(); len(snap) != 2 || snap[0].Content != "b" {
		t.Errorf("after ack: %+v", snap)
	}
}

func TestQueue_SnapshotDuringDequeuePreservesOrder(t *testing.T) {
	q := New(testLogger())
	const n = 500
	for i := 0; i < n; i++ {
		mustEnqueue(t, q, domain.NewText(fmt.Sprintf("%04d", i)))
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				snap := q.Snapshot()
				for i := 1; i < len(snap); i++ {
					if snap[i-1].Content >= snap[i].Content {
						t.Errorf("snapshot out of order at %d: %q then %q", i, snap[i-1].Content, snap[i].Content)
						return
					}
				}
			}
		}
	}()

	for i := 0; i < n; i++ {
		e, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("%04d", i); e.Item.Content != want {
			t.Fatalf("dequeue %d: got %q, want %q", i, e.Item.Content, want)
		}
		q.Ack(e.Seq)
	}
	close(stop)
	wg.Wait()
}

func TestQueue_AckUnknownIsHarmless(t *testing.T) {
	q := New(testLogger())
	mustEnqueue(t, q, domain.NewText("a"))
	q.Ack(999)
	if q.Len() != 1 {
		t.Errorf("len = %d", q.Len())
	}
}

func TestQueue_WaitIdle(t *testing.T) {
	q := New(testLogger())
	mustEnqueue(t, q, domain.NewText("a"))

	done := make(chan error, 1)
	go func() { done <- q.WaitIdle(context.Background()) }()

	e, _ := q.Dequeue(context.Background())
	select {
	case <-done:
		t.Fatal("WaitIdle returned while an item was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	q.Ack(e.Seq)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitIdle: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIdle did not return after ack")
	}
}

func TestQueue_Close(t *testing.T) {
	q := New(testLogger())
	mustEnqueue(t, q, domain.NewText("a"))
	q.Close()

	if _, err := q.Enqueue(domain.NewText("b")); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue after close: %v", err)
	}
	e, err := q.Dequeue(context.Background())
	if err != nil || e.Item.Content != "a" {
		t.Fatalf("pending item should still be handed out: %v %+v", err, e)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("dequeue on closed empty queue: %v", err)
	}
}

func TestQueue_VersionChanges(t *testing.T) {
	q := New(testLogger())
	v0 := q.Version()
	mustEnqueue(t, q, domain.NewText("a"))
	if q.Version() == v0 {
		t.Error("version should change on enqueue")
	}
}
