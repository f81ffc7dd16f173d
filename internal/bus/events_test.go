package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On(EventItemDelivered, func(e Event) {
		atomic.AddInt32(&received, 1)
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be filled in")
		}
	})

	eb.Emit(Event{Type: EventItemDelivered, Payload: map[string]any{"seq": uint64(1)}})
	eb.Emit(Event{Type: EventItemFailed})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventItemEnqueued})
	eb.Emit(Event{Type: EventSnapshotWritten})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On(EventItemFailed, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventItemFailed})
	eb.Off(EventItemFailed, id)
	eb.Emit(Event{Type: EventItemFailed})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var first, second, third int32
	id1 := eb.On(EventItemFailed, func(e Event) { atomic.AddInt32(&first, 1) })
	eb.On(EventItemFailed, func(e Event) { atomic.AddInt32(&second, 1) })
	eb.Off(EventItemFailed, id1)
	id3 := eb.On(EventItemFailed, func(e Event) { atomic.AddInt32(&third, 1) })
	if id3 == id1 {
		t.Fatalf("handler id %q reused", id3)
	}
	eb.Off(EventItemFailed, id3)

	eb.Emit(Event{Type: EventItemFailed})
	if first != 0 || second != 1 || third != 0 {
		t.Errorf("calls = %d/%d/%d, want 0/1/0", first, second, third)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var reached int32
	eb.On(EventItemFailed, func(e Event) {
		panic("boom")
	})
	eb.On(EventItemFailed, func(e Event) {
		atomic.AddInt32(&reached, 1)
	})

	eb.Emit(Event{Type: EventItemFailed})

	if atomic.LoadInt32(&reached) != 1 {
		t.Error("handler after a panicking one should still run")
	}
}
