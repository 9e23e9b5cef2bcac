// Package pipeline runs the producer loop: source -> gate -> uploader.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/gate"
	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/metrics"
	"github.com/dj-oyu/livecam-uploader/internal/settings"
	"github.com/dj-oyu/livecam-uploader/internal/source"
	"github.com/dj-oyu/livecam-uploader/internal/uploader"
	"github.com/dj-oyu/livecam-uploader/pkg/types"
)

const defaultErrorBackoff = 500 * time.Millisecond

// Submitter accepts frames for upload.
type Submitter interface {
	Submit(f *types.Frame, ep settings.Endpoint) error
}

// Pipeline drives one source. Run and HandleFrame are meant for a single
// producer goroutine; the gate and settings store are safe to share.
type Pipeline struct {
	Source   source.Source
	Gate     *gate.Gate
	Uploader Submitter
	Settings *settings.Store
	Metrics  *metrics.Metrics // optional

	// Clock defaults to time.Now, whose monotonic reading the gate uses.
	Clock func() time.Time
	// ErrorBackoff is the pause after a source error.
	ErrorBackoff time.Duration
}

// Run pulls frames until ctx is done or the source reports io.EOF.
func (p *Pipeline) Run(ctx context.Context) error {
	backoff := p.ErrorBackoff
	if backoff <= 0 {
		backoff = defaultErrorBackoff
	}

	logger.Info("Pipeline", "Producer started")
	defer logger.Info("Pipeline", "Producer stopped")

	for {
		f, err := p.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				logger.Info("Pipeline", "Source exhausted")
				return nil
			}
			if p.Metrics != nil {
				p.Metrics.SourceErrors.Add(1)
			}
			logger.Warn("Pipeline", "Source error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		p.HandleFrame(f)
	}
}

// HandleFrame runs the gate decision for one frame and submits it when
// accepted. It never returns an upload error to the caller; it reports
// only whether the gate accepted the frame.
func (p *Pipeline) HandleFrame(f *types.Frame) bool {
	if p.Metrics != nil {
		p.Metrics.FramesSeen.Add(1)
	}

	now := p.now()
	if !p.Gate.ShouldAccept(now) {
		if p.Metrics != nil {
			p.Metrics.FramesRejected.Add(1)
		}
		return false
	}
	if p.Metrics != nil {
		p.Metrics.FramesAccepted.Add(1)
	}

	ep := p.Settings.Get()
	logger.Debug("Pipeline", "Accepted frame %d for %s", f.FrameNum, ep.HostAddress)

	if err := p.Uploader.Submit(f, ep); err != nil {
		switch {
		case errors.Is(err, uploader.ErrBusy):
			logger.Debug("Pipeline", "Dropped frame %d: %v", f.FrameNum, err)
		case errors.Is(err, uploader.ErrClosed):
			logger.Debug("Pipeline", "Dropped frame %d during shutdown", f.FrameNum)
		default:
			logger.Error("Pipeline", "Frame %d not uploaded: %v", f.FrameNum, err)
		}
	}
	return true
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}
