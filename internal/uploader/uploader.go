// Package uploader encodes accepted frames and hands them to one or more
// transports without blocking the frame producer.
//
// Delivery is best effort: a failed send is logged, counted and reported
// through Options.OnResult, and the next accepted frame supersedes it.
// Nothing is retried or queued.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/livecam-uploader/internal/encoder"
	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/metrics"
	"github.com/dj-oyu/livecam-uploader/internal/settings"
	"github.com/dj-oyu/livecam-uploader/pkg/types"
)

var (
	ErrClosed      = errors.New("uploader closed")
	ErrBusy        = errors.New("too many uploads in flight")
	ErrNoTransport = errors.New("no transport configured")
)

// Payload is one encoded frame ready to send.
type Payload struct {
	ID       string
	JPEG     []byte
	FrameNum uint64
	Captured time.Time
	Width    int
	Height   int
	Endpoint settings.Endpoint
}

// Result is the outcome of one send. Err is nil on success.
type Result struct {
	ID         string        `json:"id"`
	Transport  string        `json:"transport"`
	Target     string        `json:"target"`
	FrameNum   uint64        `json:"frame_num"`
	StatusCode int           `json:"status_code,omitempty"`
	Header     http.Header   `json:"-"`
	Body       []byte        `json:"-"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration_ns"`
	Finished   time.Time     `json:"finished"`
}

// OK reports whether the send succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Error returns the failure message, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// UploadError is returned for responses outside the 2xx range.
type UploadError struct {
	StatusCode int
	Status     string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("unexpected response: %s", e.Status)
}

// Transport sends one payload. Implementations must honor ctx and report
// every failure through Result.Err rather than panicking.
type Transport interface {
	Name() string
	Send(ctx context.Context, p Payload) Result
}

// Switchable is implemented by transports that can be turned off at
// runtime. Inactive transports are skipped when a frame is submitted.
type Switchable interface {
	Active() bool
}

// Options configures an Uploader.
type Options struct {
	Encoder     *encoder.Encoder // defaults to encoder.New()
	MaxInFlight int              // 0 means unbounded
	Metrics     *metrics.Metrics
	OnResult    func(Result) // called from the send goroutine
}

// Uploader dispatches accepted frames to its transports.
type Uploader struct {
	opts       Options
	transports []Transport
	slots      chan struct{} // nil when unbounded

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	inFlight atomic.Int64
}

// New creates an uploader sending every frame to all transports.
func New(opts Options, transports ...Transport) *Uploader {
	if opts.Encoder == nil {
		opts.Encoder = encoder.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &Uploader{
		opts:       opts,
		transports: transports,
		ctx:        ctx,
		cancel:     cancel,
	}
	if opts.MaxInFlight > 0 {
		u.slots = make(chan struct{}, opts.MaxInFlight)
	}
	return u
}

// Submit encodes f and starts sending it to ep in the background. It
// returns once the frame has been encoded, so the caller may reuse the
// frame buffer immediately. Errors only describe why the frame was not
// sent; send outcomes are delivered through OnResult.
func (u *Uploader) Submit(f *types.Frame, ep settings.Endpoint) error {
	if len(u.transports) == 0 {
		return ErrNoTransport
	}
	targets := u.activeTransports()
	if len(targets) == 0 {
		return nil
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		u.countDrop()
		return ErrClosed
	}
	u.wg.Add(1)
	u.mu.Unlock()

	if !u.acquire() {
		u.wg.Done()
		u.countDrop()
		return ErrBusy
	}

	jpegData, err := u.opts.Encoder.Encode(f)
	if err != nil {
		u.release()
		u.wg.Done()
		if u.opts.Metrics != nil {
			u.opts.Metrics.EncodeErrors.Add(1)
		}
		return fmt.Errorf("encode frame %d: %w", frameNum(f), err)
	}

	p := Payload{
		ID:       uuid.NewString(),
		JPEG:     jpegData,
		FrameNum: f.FrameNum,
		Captured: f.Timestamp,
		Width:    f.Width,
		Height:   f.Height,
		Endpoint: ep,
	}
	go u.dispatch(targets, p)
	return nil
}

func (u *Uploader) activeTransports() []Transport {
	active := make([]Transport, 0, len(u.transports))
	for _, t := range u.transports {
		if s, ok := t.(Switchable); ok && !s.Active() {
			continue
		}
		active = append(active, t)
	}
	return active
}

func (u *Uploader) dispatch(targets []Transport, p Payload) {
	defer u.wg.Done()
	defer u.release()

	if len(targets) == 1 {
		u.send(targets[0], p)
		return
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.send(t, p)
		}()
	}
	wg.Wait()
}

func (u *Uploader) send(t Transport, p Payload) {
	m := u.opts.Metrics
	// uploads_* counters cover the HTTP path only.
	upload := m != nil && t.Name() == HTTPTransportName
	if upload {
		m.UploadsStarted.Add(1)
		m.UploadBytes.Add(uint64(len(p.JPEG)))
		m.UploadsInFlight.Add(1)
	}
	u.inFlight.Add(1)

	start := time.Now()
	res := t.Send(u.ctx, p)
	res.ID = p.ID
	res.FrameNum = p.FrameNum
	if res.Transport == "" {
		res.Transport = t.Name()
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	res.Finished = time.Now()

	u.inFlight.Add(-1)
	if m != nil {
		outcome := metrics.OutcomeOK
		var ue *UploadError
		switch {
		case res.Err == nil:
		case errors.As(res.Err, &ue):
			outcome = metrics.OutcomeRejected
		default:
			outcome = metrics.OutcomeFailed
		}
		m.ObserveTransport(res.Transport, outcome)

		if upload {
			m.UploadsInFlight.Add(-1)
			switch outcome {
			case metrics.OutcomeOK:
				m.UploadsSucceeded.Add(1)
			case metrics.OutcomeRejected:
				m.UploadsRejected.Add(1)
			default:
				m.UploadsFailed.Add(1)
			}
			m.ObserveUpload(res.Duration, res.OK())
		}
	}

	if res.OK() {
		logger.Debug("Uploader", "frame %d sent via %s to %s in %v", p.FrameNum, res.Transport, res.Target, res.Duration)
	} else {
		logger.Warn("Uploader", "frame %d via %s to %s failed: %v", p.FrameNum, res.Transport, res.Target, res.Err)
	}

	if u.opts.OnResult != nil {
		u.opts.OnResult(res)
	}
}

func (u *Uploader) acquire() bool {
	if u.slots == nil {
		return true
	}
	select {
	case u.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (u *Uploader) release() {
	if u.slots != nil {
		<-u.slots
	}
}

func (u *Uploader) countDrop() {
	if u.opts.Metrics != nil {
		u.opts.Metrics.FramesDropped.Add(1)
	}
}

// InFlight returns the number of sends currently running.
func (u *Uploader) InFlight() int {
	return int(u.inFlight.Load())
}

// Close stops accepting frames and waits for running sends until ctx is
// done. Sends still running at that point are cancelled and abandoned.
func (u *Uploader) Close(ctx context.Context) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		u.cancel()
		return nil
	case <-ctx.Done():
		u.cancel()
		logger.Warn("Uploader", "abandoning %d in-flight uploads", u.InFlight())
		return ctx.Err()
	}
}

func frameNum(f *types.Frame) uint64 {
	if f == nil {
		return 0
	}
	return f.FrameNum
}
