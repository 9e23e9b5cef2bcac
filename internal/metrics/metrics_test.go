package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FramesSeen.Add(3)
	m.FramesAccepted.Add(1)
	m.UploadsInFlight.Store(2)
	m.IntervalSeconds.Store(5)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"livecam_frames_seen_total 3",
		"livecam_frames_accepted_total 1",
		"livecam_uploads_in_flight 2",
		"livecam_interval_seconds 5",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestObserveUpload(t *testing.T) {
	m := New()
	m.ObserveUpload(1500*time.Millisecond, false)
	if m.UploadLatencyMs.Load() != 1500 {
		t.Fatalf("latency = %d", m.UploadLatencyMs.Load())
	}
	if m.LastUploadUnixMs.Load() != 0 {
		t.Fatalf("failed upload should not set last upload time")
	}
	m.ObserveUpload(time.Millisecond, true)
	if m.LastUploadUnixMs.Load() == 0 {
		t.Fatalf("successful upload should set last upload time")
	}
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.UploadsFailed.Add(2)
	m.MQTTErrors.Add(1)
	s := m.Snapshot()
	if s.UploadsFailed != 2 || s.MQTTErrors != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
}
