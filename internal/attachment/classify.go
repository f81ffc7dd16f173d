// Package attachment fetches attachment URLs, decides how each one is
// delivered and falls back to a link when it exceeds the destination's
// size ceiling.
package attachment

import (
	"net/url"
	"path"
	"strings"

	"relaybot/internal/domain"
)

const (
	MiB = 1 << 20

	DefaultPhotoMaxBytes    = 10 * MiB
	DefaultVideoMaxBytes    = 50 * MiB
	DefaultDocumentMaxBytes = 50 * MiB
)

var (
	photoExts = map[string]bool{"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true}
	videoExts = map[string]bool{"mp4": true, "mov": true, "webm": true, "mkv": true, "avi": true, "m4v": true}
)

// Limits are the destination's per-kind upload ceilings in bytes.
type Limits struct {
	Photo    int64
	Video    int64
	Document int64
}

func DefaultLimits() Limits {
	return Limits{
		Photo:    DefaultPhotoMaxBytes,
		Video:    DefaultVideoMaxBytes,
		Document: DefaultDocumentMaxBytes,
	}
}

// Ceiling returns the largest size delivered inline for kind. Zero fields
// fall back to the defaults.
func (l Limits) Ceiling(kind domain.MediaKind) int64 {
	d := DefaultLimits()
	switch kind {
	case domain.KindPhoto:
		return orDefault(l.Photo, d.Photo)
	case domain.KindVideo:
		return orDefault(l.Video, d.Video)
	default:
		return orDefault(l.Document, d.Document)
	}
}

func orDefault(v, d int64) int64 {
	if v > 0 {
		return v
	}
	return d
}

// Classify derives the upload file name and media kind from the URL path.
// The query string and fragment are ignored; an extensionless name is a
// document.
func Classify(rawURL string) (fileName string, kind domain.MediaKind) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	fileName = path.Base(p)
	if fileName == "." || fileName == "/" || fileName == "" {
		fileName = "attachment"
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	switch {
	case photoExts[ext]:
		return fileName, domain.KindPhoto
	case videoExts[ext]:
		return fileName, domain.KindVideo
	default:
		return fileName, domain.KindDocument
	}
}
