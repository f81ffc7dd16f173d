package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDownloadFailed: attachment fetch returned non-200 or failed on the network.
	ErrDownloadFailed = errors.New("download failed")
	// ErrSizeLimitExceeded: attachment is over the destination ceiling; triggers link fallback.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	// ErrSendFailed: the destination rejected a send.
	ErrSendFailed = errors.New("destination send failed")
	// ErrPersistence: snapshot read or write failed.
	ErrPersistence = errors.New("persistence failed")
	// ErrMalformedItem: a queue item has an unexpected shape.
	ErrMalformedItem = errors.New("malformed queue item")
)

// SendError describes a destination platform failure.
type SendError struct {
	Op         string // sendMessage, sendPhoto, ...
	Code       int    // platform error code, 0 for network errors
	RetryAfter time.Duration
	Transient  bool
	Err        error
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrSendFailed, e.Err} }

// IsTransient reports whether err is a destination failure worth retrying.
func IsTransient(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Transient
}
