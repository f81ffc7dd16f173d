package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sony/gobreaker"

	"relaybot/internal/domain"
)

// errUpstream marks failures that count against the circuit breaker:
// network errors and 5xx responses.
var errUpstream = errors.New("upstream unavailable")

type FetcherConfig struct {
	Client           *http.Client
	FailureThreshold uint32        // consecutive failures before the breaker opens
	ResetTimeout     time.Duration // how long the breaker stays open
	Logger           *slog.Logger
}

// Fetcher downloads attachments through a shared client guarded by a
// circuit breaker.
type Fetcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Fetched is a download result. Data is nil when Size exceeded the ceiling.
type Fetched struct {
	Data []byte
	Size int64
}

// NewFetcher creates a fetcher with its own circuit breaker.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	threshold := cfg.FailureThreshold

	return &Fetcher{
		client: cfg.Client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "attachment-download",
			MaxRequests: 1,
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, errUpstream)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("download circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
		logger: logger,
	}
}

// Fetch downloads url, reading at most ceiling+1 bytes. A body larger than
// ceiling returns ErrSizeLimitExceeded together with the observed size.
// Every other failure wraps ErrDownloadFailed.
func (f *Fetcher) Fetch(ctx context.Context, url string, ceiling int64) (Fetched, error) {
	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.get(ctx, url, ceiling)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Fetched{}, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
		}
		return Fetched{}, err
	}
	fetched := res.(Fetched)
	if fetched.Size > ceiling {
		return fetched, fmt.Errorf("%w: %s over %s", domain.ErrSizeLimitExceeded,
			humanize.IBytes(uint64(fetched.Size)), humanize.IBytes(uint64(ceiling)))
	}
	return fetched, nil
}

func (f *Fetcher) get(ctx context.Context, url string, ceiling int64) (Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Fetched{}, fmt.Errorf("%w: build request: %v", domain.ErrDownloadFailed, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Fetched{}, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, ctx.Err())
		}
		return Fetched{}, fmt.Errorf("%w: %w: %v", domain.ErrDownloadFailed, errUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return Fetched{}, fmt.Errorf("%w: %w: HTTP %d", domain.ErrDownloadFailed, errUpstream, resp.StatusCode)
		}
		return Fetched{}, fmt.Errorf("%w: HTTP %d", domain.ErrDownloadFailed, resp.StatusCode)
	}

	if resp.ContentLength > ceiling {
		return Fetched{Size: resp.ContentLength}, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, ceiling+1))
	if err != nil {
		if ctx.Err() != nil {
			return Fetched{}, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, ctx.Err())
		}
		return Fetched{}, fmt.Errorf("%w: %w: read body: %v", domain.ErrDownloadFailed, errUpstream, err)
	}
	size := int64(len(data))
	if size > ceiling {
		return Fetched{Size: size}, nil
	}
	return Fetched{Data: data, Size: size}, nil
}
