// Package source produces RGBA frames at a fixed rate for the pipeline.
//
// Sources reuse one frame buffer: a frame returned by Next is only valid
// until the following call.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/config"
	"github.com/dj-oyu/livecam-uploader/pkg/types"
)

// Source delivers frames until ctx is done or the source is exhausted
// (io.EOF).
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
	Close() error
}

// New returns the source selected by cfg.Kind.
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case config.SourcePattern, "":
		return NewPattern(cfg.Width, cfg.Height, cfg.FPS), nil
	case config.SourceDir:
		return NewDir(cfg.Dir, cfg.Width, cfg.Height, cfg.FPS, cfg.Loop)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// pacer spaces calls at 1/fps. fps <= 0 disables pacing.
type pacer struct {
	ticker *time.Ticker
}

func newPacer(fps int) pacer {
	if fps <= 0 {
		return pacer{}
	}
	d := time.Second / time.Duration(fps)
	if d <= 0 {
		d = time.Nanosecond
	}
	return pacer{ticker: time.NewTicker(d)}
}

func (p pacer) wait(ctx context.Context) error {
	if p.ticker == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}
