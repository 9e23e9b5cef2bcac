// Package recorder archives accepted JPEG frames to local disk while a
// recording session is active.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/uploader"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder writes each frame of a session as one JPEG file in a
// per-session directory under basePath. It is an uploader.Transport that
// is only active while recording.
type Recorder struct {
	mu           sync.RWMutex
	basePath     string
	dir          string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time
}

// NewRecorder creates a recorder rooted at basePath.
func NewRecorder(basePath string) *Recorder {
	return &Recorder{basePath: basePath}
}

// Start opens a new session directory named after the current time.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	now := time.Now()
	dir := filepath.Join(r.basePath, "recording_"+now.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording dir: %w", err)
	}

	r.dir = dir
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startTime = now

	logger.Info("Recorder", "Recording to %s", dir)
	return dir, nil
}

// Stop ends the session. Frames already handed to Send still complete.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return "", ErrNotRecording
	}
	r.recording = false
	logger.Info("Recorder", "Stopped: %d frames, %d bytes in %s", r.frameCount, r.bytesWritten, r.dir)
	return r.dir, nil
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Active lets the uploader skip the recorder between sessions.
func (r *Recorder) Active() bool { return r.IsRecording() }

// Name implements uploader.Transport.
func (r *Recorder) Name() string { return "recorder" }

// Send implements uploader.Transport.
func (r *Recorder) Send(ctx context.Context, p uploader.Payload) uploader.Result {
	r.mu.RLock()
	dir, recording := r.dir, r.recording
	r.mu.RUnlock()

	path := filepath.Join(dir, fmt.Sprintf("frame_%08d.jpg", p.FrameNum))
	res := uploader.Result{Transport: r.Name(), Target: path}
	if !recording {
		res.Err = ErrNotRecording
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if err := os.WriteFile(path, p.JPEG, 0o644); err != nil {
		res.Err = fmt.Errorf("write frame: %w", err)
		return res
	}

	r.mu.Lock()
	r.frameCount++
	r.bytesWritten += uint64(len(p.JPEG))
	r.mu.Unlock()
	return res
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Dir:          r.dir,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Dir          string    `json:"dir"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
