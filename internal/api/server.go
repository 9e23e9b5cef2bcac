// Package api serves the local control surface for the uploader.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/livecam-uploader/internal/gate"
	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/metrics"
	"github.com/dj-oyu/livecam-uploader/internal/recorder"
	"github.com/dj-oyu/livecam-uploader/internal/settings"
)

const defaultKeepalive = 30 * time.Second

// Options wires the server to the running pipeline. Settings is required.
type Options struct {
	Settings  *settings.Store
	Gate      *gate.Gate
	Metrics   *metrics.Metrics
	Results   *ResultBroadcaster
	Recorder  *recorder.Recorder
	Uploads   interface{ InFlight() int }
	Keepalive time.Duration // SSE keepalive comment period
}

// Server handles the control API.
type Server struct {
	opts Options
}

// NewServer returns a server using opts.
func NewServer(opts Options) *Server {
	if opts.Results == nil {
		opts.Results = NewResultBroadcaster()
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = defaultKeepalive
	}
	return &Server{opts: opts}
}

// Results returns the broadcaster fed by the uploader.
func (s *Server) Results() *ResultBroadcaster { return s.opts.Results }

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/settings", s.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings", s.handleUpdateSettings).Methods(http.MethodPost)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/uploads/stream", s.handleUploadStream).Methods(http.MethodGet)
	if s.opts.Recorder != nil {
		r.HandleFunc("/api/recording/start", s.handleRecordingStart).Methods(http.MethodPost)
		r.HandleFunc("/api/recording/stop", s.handleRecordingStop).Methods(http.MethodPost)
		r.HandleFunc("/api/recording/status", s.handleRecordingStatus).Methods(http.MethodGet)
	}
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.opts.Settings.Get())
}

type settingsRequest struct {
	HostAddress string          `json:"host_address"`
	Interval    json.RawMessage `json:"interval_s"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	host, intervalText, err := readSettingsRequest(r)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	interval := parseInterval(intervalText)
	updated, err := s.opts.Settings.Submit(host, interval)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, settings.ErrInvalidInterval) && !errors.Is(err, settings.ErrEmptyHost) {
			status = http.StatusInternalServerError
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	current := s.opts.Settings.Get()
	if updated {
		logger.Info("API", "Settings updated: host=%s interval=%ds", current.HostAddress, current.MinInterval)
	} else {
		logger.Debug("API", "Settings submit ignored: empty host address")
	}
	writeJSON(w, map[string]any{
		"updated":  updated,
		"settings": current,
	})
}

// readSettingsRequest accepts a JSON body or form fields.
func readSettingsRequest(r *http.Request) (host, interval string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", "", fmt.Errorf("invalid JSON: %w", err)
		}
		return req.HostAddress, strings.Trim(string(req.Interval), `"`), nil
	}

	if err := r.ParseForm(); err != nil {
		return "", "", fmt.Errorf("invalid form: %w", err)
	}
	return r.PostFormValue("host_address"), r.PostFormValue("interval_s"), nil
}

// parseInterval reads the frequency field. Anything that is not an integer
// falls back to the default interval.
func parseInterval(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return settings.DefaultMinInterval
	}
	return v
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"settings":  s.opts.Settings.Get(),
		"timestamp": float64(time.Now().UnixMilli()) / 1000,
	}
	if s.opts.Gate != nil {
		gs := map[string]any{"stats": s.opts.Gate.Stats()}
		if last, ok := s.opts.Gate.LastAccepted(); ok {
			gs["last_accepted"] = last
		}
		payload["gate"] = gs
	}
	if s.opts.Metrics != nil {
		payload["metrics"] = s.opts.Metrics.Snapshot()
	}
	if s.opts.Uploads != nil {
		payload["uploads_in_flight"] = s.opts.Uploads.InFlight()
	}
	if s.opts.Recorder != nil {
		payload["recording"] = s.opts.Recorder.GetStatus()
	}
	if last, ok := s.opts.Results.Last(); ok {
		payload["last_result"] = last
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	dir, err := s.opts.Recorder.Start()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"status":     "recording",
		"dir":        dir,
		"started_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	dir, err := s.opts.Recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"status":     "stopped",
		"dir":        dir,
		"stats":      s.opts.Recorder.GetStatus(),
		"stopped_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.opts.Recorder.GetStatus())
}

func (s *Server) handleUploadStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.opts.Results.Subscribe()
	defer s.opts.Results.Unsubscribe(id)
	streamEvents(w, r, ch, s.opts.Keepalive)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
