package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relaybot/internal/attachment"
	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/queue"
)

type harness struct {
	q      *queue.Queue
	dest   *fakeDestination
	dls    *fakeDeadLetters
	events *bus.EventBus
	disp   *Dispatcher
}

func newHarness(t *testing.T, itemTimeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		q:      queue.New(testLogger()),
		dest:   &fakeDestination{},
		dls:    &fakeDeadLetters{},
		events: bus.NewEventBus(testLogger()),
	}
	h.disp = New(Config{
		Queue:       h.q,
		Destination: h.dest,
		Attachments: attachment.New(attachment.Config{
			Destination: h.dest,
			Fetcher:     attachment.NewFetcher(attachment.FetcherConfig{Client: http.DefaultClient, Logger: testLogger()}),
			Logger:      testLogger(),
		}),
		Target:      "-100",
		ItemTimeout: itemTimeout,
		DeadLetters: h.dls,
		Events:      h.events,
		Logger:      testLogger(),
	})
	return h
}

// runUntilIdle starts the dispatcher, waits for the queue to drain and
// stops it again.
func (h *harness) runUntilIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.disp.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := h.q.WaitIdle(waitCtx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func (h *harness) enqueue(t *testing.T, items ...domain.RelayItem) {
	t.Helper()
	for _, it := range items {
		if _, err := h.q.Enqueue(it); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDispatcher_FailureDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, time.Second)
	h.dest.onSend = func(_ context.Context, _ string, text domain.FormattedText) error {
		if text.Plain == "two" {
			return &domain.SendError{Op: "sendMessage", Code: 400, Err: errors.New("Bad Request: chat not found")}
		}
		return nil
	}
	var failed, delivered int
	h.events.On(bus.EventItemFailed, func(bus.Event) { failed++ })
	h.events.On(bus.EventItemDelivered, func(bus.Event) { delivered++ })

	h.enqueue(t, domain.NewText("one"), domain.NewText("two"), domain.NewText("three"))
	h.runUntilIdle(t)

	sent := h.dest.Sent()
	want := []string{"text:one", "text:two", "text:three"}
	if len(sent) != len(want) {
		t.Fatalf("sent = %v", sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("send %d = %q, want %q", i, sent[i], want[i])
		}
	}
	if failed != 1 || delivered != 2 {
		t.Errorf("events: failed=%d delivered=%d", failed, delivered)
	}

	dls := h.dls.All()
	if len(dls) != 1 {
		t.Fatalf("dead letters = %+v", dls)
	}
	if dls[0].Item.Content != "two" || dls[0].FailureType != domain.FailureSend || dls[0].ID == "" {
		t.Errorf("dead letter = %+v", dls[0])
	}
	if h.q.Len() != 0 {
		t.Errorf("every item must be acked, %d left", h.q.Len())
	}
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	h := newHarness(t, time.Second)
	h.dest.onSend = func(_ context.Context, _ string, text domain.FormattedText) error {
		if text.Plain == "explode" {
			panic("nil map write")
		}
		return nil
	}

	h.enqueue(t, domain.NewText("explode"), domain.NewText("after"))
	h.runUntilIdle(t)

	sent := h.dest.Sent()
	if len(sent) != 2 || sent[1] != "text:after" {
		t.Errorf("sent = %v", sent)
	}
	dls := h.dls.All()
	if len(dls) != 1 || dls[0].FailureType != domain.FailurePanic {
		t.Errorf("dead letters = %+v", dls)
	}
}

func TestDispatcher_ItemTimeout(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.dest.onSend = func(ctx context.Context, _ string, text domain.FormattedText) error {
		if text.Plain == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	h.enqueue(t, domain.NewText("slow"), domain.NewText("fast"))
	h.runUntilIdle(t)

	dls := h.dls.All()
	if len(dls) != 1 || dls[0].FailureType != domain.FailureTimeout {
		t.Fatalf("dead letters = %+v", dls)
	}
	if sent := h.dest.Sent(); sent[len(sent)-1] != "text:fast" {
		t.Errorf("sent = %v", sent)
	}
}

func TestDispatcher_DownloadFailureRecorded(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := newHarness(t, time.Second)
	h.enqueue(t, domain.NewAttachment(srv.URL+"/missing.png", "cap"), domain.NewText("next"))
	h.runUntilIdle(t)

	dls := h.dls.All()
	if len(dls) != 1 || dls[0].FailureType != domain.FailureDownload {
		t.Fatalf("dead letters = %+v", dls)
	}
	if dls[0].Item.URL != srv.URL+"/missing.png" {
		t.Errorf("dead letter item = %+v", dls[0].Item)
	}
	if sent := h.dest.Sent(); len(sent) != 1 || sent[0] != "text:next" {
		t.Errorf("sent = %v", sent)
	}
}

func TestDispatcher_AttachmentDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("GIF89a"))
	}))
	defer srv.Close()

	h := newHarness(t, time.Second)
	h.enqueue(t, domain.NewAttachment(srv.URL+"/a.gif", "From c (u): look"))
	h.runUntilIdle(t)

	sent := h.dest.Sent()
	if len(sent) != 1 || sent[0] != "photo:From c (u):\nlook" {
		t.Errorf("sent = %v", sent)
	}
	if len(h.dls.All()) != 0 {
		t.Errorf("unexpected dead letters: %+v", h.dls.All())
	}
}

func TestDispatcher_EmptyTextSkipped(t *testing.T) {
	h := newHarness(t, time.Second)
	h.enqueue(t, domain.NewText(""))
	h.runUntilIdle(t)

	if len(h.dest.Sent()) != 0 || len(h.dls.All()) != 0 {
		t.Errorf("sent=%v dead=%v", h.dest.Sent(), h.dls.All())
	}
}

func TestDispatcher_ShutdownKeepsInflightItem(t *testing.T) {
	h := newHarness(t, time.Minute)
	started := make(chan struct{})
	h.dest.onSend = func(ctx context.Context, _ string, _ domain.FormattedText) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	h.enqueue(t, domain.NewText("in flight"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.disp.Run(ctx) }()

	<-started
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := h.q.Snapshot()
	if len(snap) != 1 || snap[0].Content != "in flight" {
		t.Errorf("interrupted item should stay queued, snapshot = %+v", snap)
	}
	if len(h.dls.All()) != 0 {
		t.Errorf("interrupted item must not be dead-lettered")
	}
}

func TestDispatcher_StopsOnClosedQueue(t *testing.T) {
	h := newHarness(t, time.Second)
	h.q.Close()
	if err := h.disp.Run(context.Background()); err != nil {
		t.Errorf("Run on closed queue: %v", err)
	}
}

func TestIntake_EmitsEnqueued(t *testing.T) {
	q := queue.New(testLogger())
	events := bus.NewEventBus(testLogger())
	var depth any
	events.On(bus.EventItemEnqueued, func(e bus.Event) { depth = e.Payload["depth"] })

	in := &Intake{Queue: q, Events: events}
	if _, err := in.Enqueue(domain.NewText("x")); err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Errorf("depth = %v", depth)
	}
	if _, err := in.Enqueue(domain.RelayItem{}); !errors.Is(err, domain.ErrMalformedItem) {
		t.Errorf("malformed item accepted: %v", err)
	}
}
