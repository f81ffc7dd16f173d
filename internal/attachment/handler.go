package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"relaybot/internal/domain"
	"relaybot/internal/markup"
)

const DefaultCaption = "Attachment"

// Status is how an attachment item ended.
type Status int

const (
	Delivered Status = iota
	Skipped
	FellBackToLink
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case FellBackToLink:
		return "fell_back_to_link"
	default:
		return "skipped"
	}
}

// Outcome describes one handled attachment. Reason is set for Skipped.
type Outcome struct {
	Status Status
	Kind   domain.MediaKind
	Reason string
	Size   int64
}

type Config struct {
	Destination    domain.Destination
	Fetcher        *Fetcher
	Limits         Limits
	DefaultCaption string
	Logger         *slog.Logger
}

// Handler delivers attachment items to the destination.
type Handler struct {
	dest           domain.Destination
	fetcher        *Fetcher
	limits         Limits
	defaultCaption string
	logger         *slog.Logger
}

// New creates an attachment handler that sends through cfg.Destination.
func New(cfg Config) *Handler {
	if cfg.DefaultCaption == "" {
		cfg.DefaultCaption = DefaultCaption
	}
	return &Handler{
		dest:           cfg.Destination,
		fetcher:        cfg.Fetcher,
		limits:         cfg.Limits,
		defaultCaption: cfg.DefaultCaption,
		logger:         cfg.Logger,
	}
}

// Handle fetches url and delivers it to target with caption. Oversized
// files are replaced by a text message linking to the original URL.
func (h *Handler) Handle(ctx context.Context, target, url, caption string) (Outcome, error) {
	if strings.TrimSpace(caption) == "" {
		caption = h.defaultCaption
	}
	formatted := markup.Format(caption)

	fileName, kind := Classify(url)
	ceiling := h.limits.Ceiling(kind)
	out := Outcome{Kind: kind}

	fetched, err := h.fetcher.Fetch(ctx, url, ceiling)
	out.Size = fetched.Size
	switch {
	case errors.Is(err, domain.ErrSizeLimitExceeded):
		h.logger.Info("attachment over size limit, sending link",
			"url", url, "kind", kind, "size", humanize.IBytes(uint64(fetched.Size)), "limit", humanize.IBytes(uint64(ceiling)))
		if err := h.dest.SendText(ctx, target, markup.AppendLink(formatted, kind.String(), url)); err != nil {
			out.Status = Skipped
			out.Reason = domain.FailureSend
			return out, fmt.Errorf("send link for %s: %w", fileName, err)
		}
		out.Status = FellBackToLink
		return out, nil
	case err != nil:
		out.Status = Skipped
		out.Reason = domain.FailureDownload
		return out, fmt.Errorf("fetch %s: %w", url, err)
	}

	file := domain.AttachmentDescriptor{
		Kind:     kind,
		Size:     fetched.Size,
		FileName: fileName,
		Content:  fetched.Data,
	}
	switch kind {
	case domain.KindPhoto:
		err = h.dest.SendPhoto(ctx, target, file, formatted)
	case domain.KindVideo:
		err = h.dest.SendVideo(ctx, target, file, formatted)
	default:
		err = h.dest.SendDocument(ctx, target, file, formatted)
	}
	if err != nil {
		out.Status = Skipped
		out.Reason = domain.FailureSend
		return out, fmt.Errorf("send %s %s: %w", strings.ToLower(kind.String()), fileName, err)
	}

	h.logger.Debug("attachment delivered", "url", url, "kind", kind, "size", humanize.IBytes(uint64(fetched.Size)))
	out.Status = Delivered
	return out, nil
}
