package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/bus"
)

const DefaultSnapshotInterval = 60 * time.Second

// Persister writes the queue to its store on a fixed interval.
type Persister struct {
	queue    *Queue
	store    *FileStore
	interval time.Duration
	events   *bus.EventBus
	logger   *slog.Logger

	mu        sync.Mutex
	savedVer  uint64
	savedOnce bool
}

type PersisterConfig struct {
	Queue    *Queue
	Store    *FileStore
	Interval time.Duration
	Events   *bus.EventBus // optional
	Logger   *slog.Logger
}

// NewPersister creates a persister that snapshots cfg.Queue into cfg.Store.
func NewPersister(cfg PersisterConfig) *Persister {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSnapshotInterval
	}
	return &Persister{
		queue:    cfg.Queue,
		store:    cfg.Store,
		interval: cfg.Interval,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
}

// Run snapshots the queue every interval until ctx is done. It does not
// write a final snapshot; call Flush after the dispatcher has stopped.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("queue persister started", "path", p.store.Path(), "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.tick(false); err != nil {
				p.logger.Error("queue snapshot failed, keeping queue in memory", "err", err)
			}
		}
	}
}

// Flush writes the current contents unconditionally.
func (p *Persister) Flush() error {
	return p.tick(true)
}

func (p *Persister) tick(force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	items, ver := p.queue.snapshot()
	if !force && p.savedOnce && ver == p.savedVer {
		return nil
	}
	if err := p.store.Save(items); err != nil {
		p.emit(bus.EventSnapshotFailed, map[string]any{"err": err.Error()})
		return err
	}
	p.savedVer = ver
	p.savedOnce = true
	p.logger.Debug("queue snapshot written", "items", len(items), "path", p.store.Path())
	p.emit(bus.EventSnapshotWritten, map[string]any{"items": len(items)})
	return nil
}

func (p *Persister) emit(eventType string, payload map[string]any) {
	if p.events == nil {
		return
	}
	p.events.Emit(bus.Event{Type: eventType, Source: "persister", Payload: payload})
}
