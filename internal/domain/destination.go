package domain

import "context"

// Destination is the capability the relay needs from the output platform.
// Implementations return *SendError when the platform rejects a call.
type Destination interface {
	SendText(ctx context.Context, target string, text FormattedText) error
	SendPhoto(ctx context.Context, target string, file AttachmentDescriptor, caption FormattedText) error
	SendVideo(ctx context.Context, target string, file AttachmentDescriptor, caption FormattedText) error
	SendDocument(ctx context.Context, target string, file AttachmentDescriptor, caption FormattedText) error
}

// ItemSink accepts relay items from a source listener.
type ItemSink interface {
	Enqueue(item RelayItem) (uint64, error)
}

// Source is a listener on the input platform. It decides which events
// become RelayItems and pushes them into the sink until ctx is cancelled.
type Source interface {
	Name() string
	Start(ctx context.Context, sink ItemSink) error
}
