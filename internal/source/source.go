// Package source reads JPEG frames from camera streams.
package source

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"herdwatch/internal/engine"
)

// ErrStreamRead is returned when a frame cannot be read; the caller is
// expected to close, wait and reopen.
var ErrStreamRead = errors.New("stream read failed")

// FrameSource is an openable stream of frames.
type FrameSource interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (engine.Frame, error)
	Close() error
}

type Options struct {
	FFmpegPath string
	Now        func() time.Time
}

type Option func(*Options)

func WithFFmpegPath(p string) Option {
	return func(o *Options) { o.FFmpegPath = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// New picks the source implementation for uri. http(s) URLs are polled as
// snapshots; everything else (rtsp, files) goes through ffmpeg.
func New(uri string, opts ...Option) FrameSource {
	o := Options{FFmpegPath: "ffmpeg", Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if u, err := url.Parse(uri); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return NewSnapshotSource(uri, o.Now)
		}
	}
	return NewFFmpegSource(uri, o.FFmpegPath, o.Now)
}
