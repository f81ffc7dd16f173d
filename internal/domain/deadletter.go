package domain

import (
	"context"
	"time"
)

// Failure types recorded on dead letters.
const (
	FailureDownload  = "download_failed"
	FailureSend      = "send_failed"
	FailureTimeout   = "timeout"
	FailurePanic     = "panic"
	FailureMalformed = "malformed"
)

// DeadLetter is an item the relay gave up on.
type DeadLetter struct {
	ID          string
	Item        RelayItem
	FailureType string
	LastError   string
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterSink records permanently failed items.
type DeadLetterSink interface {
	AddDeadLetter(ctx context.Context, dl DeadLetter) error
}
