package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"relaybot/internal/domain"
)

const DefaultMaxAttempts = 3

// RetryPolicy bounds how often a transient destination failure is retried.
// MaxAttempts of 1 sends exactly once.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// backoff grows quadratically with jitter so concurrent senders spread out.
// A platform-provided retry-after wins.
func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	var se *domain.SendError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return min(se.RetryAfter, p.MaxDelay)
	}
	base := time.Duration(attempt*attempt) * p.BaseDelay
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return min(base+jitter, p.MaxDelay)
}

// AttemptsError reports a send that failed after more than one try.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// Attempts returns how many sends err took; 1 when it carries no count.
func Attempts(err error) int {
	var ae *AttemptsError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 1
}

// retryingDestination retries transient SendErrors from the wrapped
// destination.
type retryingDestination struct {
	next   domain.Destination
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps dest so that transient failures are retried under policy.
func WithRetry(dest domain.Destination, policy RetryPolicy, logger *slog.Logger) domain.Destination {
	policy = policy.withDefaults()
	if policy.MaxAttempts == 1 {
		return dest
	}
	return &retryingDestination{next: dest, policy: policy, logger: logger}
}

func (r *retryingDestination) do(ctx context.Context, op string, send func() error) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := r.policy.backoff(attempt-1, err)
			r.logger.Warn("retrying send", "op", op, "attempt", attempt, "backoff", wait, "err", err)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return &AttemptsError{Attempts: attempt - 1, Err: err}
			case <-t.C:
			}
		}

		err = send()
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			if attempt == 1 {
				return err
			}
			return &AttemptsError{Attempts: attempt, Err: err}
		}
	}
	return &AttemptsError{Attempts: r.policy.MaxAttempts, Err: err}
}

func (r *retryingDestination) SendText(ctx context.Context, target string, text domain.FormattedText) error {
	return r.do(ctx, "sendMessage", func() error { return r.next.SendText(ctx, target, text) })
}

func (r *retryingDestination) SendPhoto(ctx context.Context, target string, file domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return r.do(ctx, "sendPhoto", func() error { return r.next.SendPhoto(ctx, target, file, caption) })
}

func (r *retryingDestination) SendVideo(ctx context.Context, target string, file domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return r.do(ctx, "sendVideo", func() error { return r.next.SendVideo(ctx, target, file, caption) })
}

func (r *retryingDestination) SendDocument(ctx context.Context, target string, file domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return r.do(ctx, "sendDocument", func() error { return r.next.SendDocument(ctx, target, file, caption) })
}
