// Package relay drains the queue and delivers each item to the destination.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/attachment"
	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/markup"
	"relaybot/internal/queue"
)

const DefaultItemTimeout = 120 * time.Second

// deadLetterTimeout bounds the dead-letter write, which runs after the
// item's own deadline may already have passed.
const deadLetterTimeout = 5 * time.Second

// Outcome labels carried on item events.
const (
	OutcomeDelivered = "delivered"
	OutcomeFellBack  = "fell_back_to_link"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

type Config struct {
	Queue       *queue.Queue
	Destination domain.Destination
	Attachments *attachment.Handler
	Target      string
	ItemTimeout time.Duration
	DeadLetters domain.DeadLetterSink // optional
	Events      *bus.EventBus         // optional
	Logger      *slog.Logger
}

// Dispatcher is the single consumer of the queue.
type Dispatcher struct {
	queue       *queue.Queue
	dest        domain.Destination
	attachments *attachment.Handler
	target      string
	itemTimeout time.Duration
	deadLetters domain.DeadLetterSink
	events      *bus.EventBus
	logger      *slog.Logger
}

// New creates a dispatcher. Missing timeouts fall back to the defaults.
func New(cfg Config) *Dispatcher {
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}
	return &Dispatcher{
		queue:       cfg.Queue,
		dest:        cfg.Destination,
		attachments: cfg.Attachments,
		target:      cfg.Target,
		itemTimeout: cfg.ItemTimeout,
		deadLetters: cfg.DeadLetters,
		events:      cfg.Events,
		logger:      cfg.Logger,
	}
}

// Run processes items one at a time until ctx is done or the queue is
// closed and empty. A failing item never stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "target", d.target)
	defer d.logger.Info("dispatcher stopped")

	for {
		entry, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		d.handle(ctx, entry)
	}
}

func (d *Dispatcher) handle(ctx context.Context, entry queue.Entry) {
	item := entry.Item
	start := time.Now()
	log := d.logger.With("seq", entry.Seq, "type", item.Type)
	if item.Type == domain.ItemAttachment {
		log = log.With("url", item.URL)
	} else {
		log = log.With("length", len(item.Content))
	}

	outcome, err := d.process(ctx, entry)
	elapsed := time.Since(start)

	// Interrupted by shutdown: leave the entry in flight so the final
	// snapshot keeps it.
	if err != nil && ctx.Err() != nil {
		log.Warn("item interrupted by shutdown, keeping it queued", "err", err)
		return
	}
	defer d.queue.Ack(entry.Seq)

	payload := map[string]any{
		"seq":      entry.Seq,
		"type":     string(item.Type),
		"outcome":  outcome,
		"duration": elapsed.Seconds(),
		"depth":    d.queue.Len() - 1,
	}
	if err == nil {
		log.Info("item relayed", "outcome", outcome, "elapsed", elapsed)
		if outcome == OutcomeFellBack {
			d.emit(bus.EventItemFellBack, payload)
		} else {
			d.emit(bus.EventItemDelivered, payload)
		}
		return
	}

	failure := classifyFailure(err)
	payload["failure"] = failure
	payload["err"] = err.Error()
	log.Error("item failed, skipping", "failure", failure, "attempts", Attempts(err), "err", err)
	d.emit(bus.EventItemFailed, payload)
	d.deadLetter(ctx, item, failure, err)
}

// process runs one item under the item timeout. Panics are turned into
// errors here so one bad item cannot take the dispatcher down.
func (d *Dispatcher) process(ctx context.Context, entry queue.Entry) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while relaying item", "seq", entry.Seq, "panic", r, "stack", string(debug.Stack()))
			outcome = OutcomeFailed
			err = &panicError{value: r}
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, d.itemTimeout)
	defer cancel()

	item := entry.Item
	switch item.Type {
	case domain.ItemText:
		return d.relayText(itemCtx, item.Content)
	case domain.ItemAttachment:
		return d.relayAttachment(itemCtx, item)
	default:
		return OutcomeFailed, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedItem, item.Type)
	}
}

func (d *Dispatcher) relayText(ctx context.Context, content string) (string, error) {
	text := markup.Format(content)
	if text.IsEmpty() {
		d.logger.Warn("empty text item, nothing to send")
		return OutcomeSkipped, nil
	}
	if err := d.dest.SendText(ctx, d.target, text); err != nil {
		return OutcomeFailed, fmt.Errorf("send text: %w", withDeadline(ctx, err))
	}
	return OutcomeDelivered, nil
}

func (d *Dispatcher) relayAttachment(ctx context.Context, item domain.RelayItem) (string, error) {
	out, err := d.attachments.Handle(ctx, d.target, item.URL, item.Caption)
	if err != nil {
		return OutcomeFailed, withDeadline(ctx, err)
	}
	if out.Status == attachment.FellBackToLink {
		return OutcomeFellBack, nil
	}
	return OutcomeDelivered, nil
}

// withDeadline marks err as a timeout when the item context expired, since
// transports do not always surface context.DeadlineExceeded themselves.
func withDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w (%w)", err, context.DeadlineExceeded)
	}
	return err
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func classifyFailure(err error) string {
	var pe *panicError
	switch {
	case errors.As(err, &pe):
		return domain.FailurePanic
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	case errors.Is(err, domain.ErrMalformedItem):
		return domain.FailureMalformed
	case errors.Is(err, domain.ErrDownloadFailed):
		return domain.FailureDownload
	default:
		return domain.FailureSend
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, item domain.RelayItem, failure string, cause error) {
	if d.deadLetters == nil {
		return
	}
	dl := domain.DeadLetter{
		ID:          uuid.NewString(),
		Item:        item,
		FailureType: failure,
		LastError:   cause.Error(),
		Attempts:    Attempts(cause),
		FailedAt:    time.Now().UTC(),
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	if err := d.deadLetters.AddDeadLetter(wctx, dl); err != nil {
		d.logger.Error("failed to record dead letter", "id", dl.ID, "err", err)
		return
	}
	d.emit(bus.EventDeadLettered, map[string]any{"id": dl.ID, "failure": failure})
}

func (d *Dispatcher) emit(eventType string, payload map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Emit(bus.Event{Type: eventType, Source: "dispatcher", Payload: payload})
}
