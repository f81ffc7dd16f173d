package relay

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// fakeDestination records sends; onSend decides the result of each call.
type fakeDestination struct {
	mu     sync.Mutex
	sent   []string // "<method>:<plain text>"
	onSend func(ctx context.Context, method string, text domain.FormattedText) error
}

func (f *fakeDestination) send(ctx context.Context, method string, text domain.FormattedText) error {
	f.mu.Lock()
	f.sent = append(f.sent, method+":"+text.Plain)
	hook := f.onSend
	f.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, method, text)
}

func (f *fakeDestination) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeDestination) SendText(ctx context.Context, _ string, text domain.FormattedText) error {
	return f.send(ctx, "text", text)
}

func (f *fakeDestination) SendPhoto(ctx context.Context, _ string, _ domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return f.send(ctx, "photo", caption)
}

func (f *fakeDestination) SendVideo(ctx context.Context, _ string, _ domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return f.send(ctx, "video", caption)
}

func (f *fakeDestination) SendDocument(ctx context.Context, _ string, _ domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return f.send(ctx, "document", caption)
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
}

func (f *fakeDeadLetters) AddDeadLetter(_ context.Context, dl domain.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, dl)
	return nil
}

func (f *fakeDeadLetters) All() []domain.DeadLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DeadLetter(nil), f.letters...)
}
