package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/uploader"
)

// ResultEvent is the JSON form of an upload result.
type ResultEvent struct {
	ID         string    `json:"id"`
	Transport  string    `json:"transport"`
	Target     string    `json:"target"`
	FrameNum   uint64    `json:"frame_num"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	Finished   time.Time `json:"finished"`
}

func newResultEvent(r uploader.Result) ResultEvent {
	return ResultEvent{
		ID:         r.ID,
		Transport:  r.Transport,
		Target:     r.Target,
		FrameNum:   r.FrameNum,
		OK:         r.OK(),
		StatusCode: r.StatusCode,
		Error:      r.Error(),
		DurationMs: float64(r.Duration.Microseconds()) / 1000,
		Finished:   r.Finished,
	}
}

// ResultBroadcaster fans upload results out to SSE clients. Each event is
// serialized once; slow clients miss events instead of blocking uploads.
type ResultBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	last    *ResultEvent
	closed  bool
}

// NewResultBroadcaster creates an empty broadcaster.
func NewResultBroadcaster() *ResultBroadcaster {
	return &ResultBroadcaster{clients: make(map[int]chan []byte)}
}

// Subscribe adds a client and returns its event channel.
func (b *ResultBroadcaster) Subscribe() (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 16)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug("API", "SSE client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *ResultBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("API", "SSE client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Publish records r as the latest result and sends it to every client.
// It is safe to use as uploader.Options.OnResult.
func (b *ResultBroadcaster) Publish(r uploader.Result) {
	ev := newResultEvent(r)
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("API", "Failed to serialize upload result: %v", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &ev
	for id, ch := range b.clients {
		select {
		case ch <- data:
		default:
			logger.Debug("API", "SSE client #%d too slow, event dropped", id)
		}
	}
}

// Last returns the most recent result, if any.
func (b *ResultBroadcaster) Last() (ResultEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return ResultEvent{}, false
	}
	return *b.last, true
}

// Clients returns the number of subscribed clients.
func (b *ResultBroadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects all clients.
func (b *ResultBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}
