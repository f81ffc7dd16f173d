// Package queue holds relay items between the source listener and the
// dispatcher, and persists them so in-flight work survives a restart.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Entry is a dequeued item together with its sequence number, which is
// what Ack takes.
type Entry struct {
	Seq        uint64
	Item       domain.RelayItem
	EnqueuedAt time.Time
}

// Queue is an unbounded FIFO of relay items. Dequeued entries stay in an
// in-flight set until acked, so a snapshot taken while an item is being
// delivered still contains it.
type Queue struct {
	mu       sync.Mutex
	pending  []Entry
	inflight map[uint64]Entry
	nextSeq  uint64
	version  uint64
	closed   bool
	changed  chan struct{} // closed and replaced on every state change
	logger   *slog.Logger
}

// New creates an empty, open queue.
func New(logger *slog.Logger) *Queue {
	return &Queue{
		inflight: make(map[uint64]Entry),
		changed:  make(chan struct{}),
		logger:   logger,
	}
}

// signal wakes every waiter. Callers hold q.mu.
func (q *Queue) signal() {
	q.version++
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue appends item to the tail. It never blocks.
func (q *Queue) Enqueue(item domain.RelayItem) (uint64, error) {
	if err := item.Validate(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("attempted to enqueue to closed queue", "item", item.String())
		return 0, ErrClosed
	}
	q.nextSeq++
	q.pending = append(q.pending, Entry{Seq: q.nextSeq, Item: item, EnqueuedAt: time.Now()})
	q.signal()
	return q.nextSeq, nil
}

// Dequeue removes the head of the queue, blocking until an item is
// available, ctx is done or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			e := q.pending[0]
			q.pending[0] = Entry{}
			q.pending = q.pending[1:]
			if len(q.pending) == 0 {
				q.pending = nil
			}
			q.inflight[e.Seq] = e
			q.signal()
			q.mu.Unlock()
			return e, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Entry{}, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-wait:
		}
	}
}

// Ack marks an in-flight entry as fully processed.
func (q *Queue) Ack(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[seq]; !ok {
		q.logger.Warn("ack for unknown sequence", "seq", seq)
		return
	}
	delete(q.inflight, seq)
	q.signal()
}

// Len counts pending and in-flight entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

// Version increases on every mutation. Equal versions mean equal contents.
func (q *Queue) Version() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.version
}

// Snapshot returns a point-in-time copy of the queue contents: in-flight
// entries in sequence order, then pending entries. The live queue is not
// modified.
func (q *Queue) Snapshot() []domain.RelayItem {
	items, _ := q.snapshot()
	return items
}

func (q *Queue) snapshot() ([]domain.RelayItem, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inflight := make([]Entry, 0, len(q.inflight))
	for _, e := range q.inflight {
		inflight = append(inflight, e)
	}
	sort.Slice(inflight, func(i, j int) bool { return inflight[i].Seq < inflight[j].Seq })

	items := make([]domain.RelayItem, 0, len(inflight)+len(q.pending))
	for _, e := range inflight {
		items = append(items, e.Item)
	}
	for _, e := range q.pending {
		items = append(items, e.Item)
	}
	return items, q.version
}

// WaitIdle blocks until nothing is pending or in flight.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 && len(q.inflight) == 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Close rejects further enqueues. Dequeue keeps handing out pending entries
// and then returns ErrClosed. Contents are kept for the final snapshot.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.changed)
		q.changed = make(chan struct{})
	}
}
