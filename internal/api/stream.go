package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/logger"
)

// streamEvents writes pre-serialized events as SSE until the client goes
// away or the channel is closed.
func streamEvents(w http.ResponseWriter, r *http.Request, eventCh <-chan []byte, keepalive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case data, ok := <-eventCh:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: upload\ndata: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
