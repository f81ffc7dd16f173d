package metrics

import (
	"fmt"

	"relaybot/internal/bus"
)

const namespace = "relaybot"

// RelayMetrics are the relay's series, fed from bus events.
type RelayMetrics struct {
	c *Collector

	Enqueued         *Counter
	QueueDepth       *Gauge
	Dispatch         *Histogram
	Snapshots        *Counter
	SnapshotFailures *Counter
	DeadLetters      *Counter
}

func NewRelayMetrics(c *Collector) *RelayMetrics {
	return &RelayMetrics{
		c:                c,
		Enqueued:         c.Counter(namespace+"_items_enqueued_total", "Relay items accepted from the source", ""),
		QueueDepth:       c.Gauge(namespace+"_queue_depth", "Items pending or in flight", ""),
		Dispatch:         c.Histogram(namespace+"_dispatch_seconds", "Time to relay one item", "", []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}),
		Snapshots:        c.Counter(namespace+"_snapshots_total", "Queue snapshots written", ""),
		SnapshotFailures: c.Counter(namespace+"_snapshot_failures_total", "Queue snapshot writes that failed", ""),
		DeadLetters:      c.Counter(namespace+"_deadletters_total", "Items recorded as dead letters", ""),
	}
}

// Items returns the per-outcome item counter.
func (m *RelayMetrics) Items(outcome string) *Counter {
	return m.c.Counter(namespace+"_items_total", "Relay items processed by outcome", fmt.Sprintf("outcome=%q", outcome))
}

// Subscribe updates the series from relay events. The returned func
// removes the handlers again.
func (m *RelayMetrics) Subscribe(events *bus.EventBus) func() {
	processed := func(e bus.Event) {
		if outcome, ok := e.Payload["outcome"].(string); ok {
			m.Items(outcome).Inc()
		}
		if d, ok := e.Payload["duration"].(float64); ok {
			m.Dispatch.Observe(d)
		}
		m.setDepth(e)
	}
	handlers := map[string]bus.EventHandler{
		bus.EventItemEnqueued: func(e bus.Event) {
			m.Enqueued.Inc()
			m.setDepth(e)
		},
		bus.EventItemDelivered:   processed,
		bus.EventItemFellBack:    processed,
		bus.EventItemFailed:      processed,
		bus.EventDeadLettered:    func(bus.Event) { m.DeadLetters.Inc() },
		bus.EventSnapshotWritten: func(bus.Event) { m.Snapshots.Inc() },
		bus.EventSnapshotFailed:  func(bus.Event) { m.SnapshotFailures.Inc() },
	}
	ids := make(map[string]string, len(handlers))
	for eventType, h := range handlers {
		ids[eventType] = events.On(eventType, h)
	}
	return func() {
		for eventType, id := range ids {
			events.Off(eventType, id)
		}
	}
}

func (m *RelayMetrics) setDepth(e bus.Event) {
	if d, ok := e.Payload["depth"].(int); ok {
		m.QueueDepth.Set(int64(d))
	}
}
