package relay

import (
	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/queue"
)

// Intake is the ItemSink handed to source listeners. It enqueues and
// announces each accepted item.
type Intake struct {
	Queue  *queue.Queue
	Events *bus.EventBus // optional
}

func (in *Intake) Enqueue(item domain.RelayItem) (uint64, error) {
	seq, err := in.Queue.Enqueue(item)
	if err != nil {
		return 0, err
	}
	if in.Events != nil {
		in.Events.Emit(bus.Event{
			Type:   bus.EventItemEnqueued,
			Source: "intake",
			Payload: map[string]any{
				"seq":   seq,
				"type":  string(item.Type),
				"depth": in.Queue.Len(),
			},
		})
	}
	return seq, nil
}
