// Package settings holds the runtime-mutable upload endpoint shared by the
// frame producer (reader) and the control API / config watcher (writers).
package settings

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultHostAddress = "http://"
	DefaultMinInterval = 5 // seconds

	// ImagesPath is appended to the host address for every upload.
	ImagesPath = "/devices/images"

	// MaxMinInterval is the largest interval in seconds that fits a
	// time.Duration.
	MaxMinInterval int64 = math.MaxInt64 / int64(time.Second)
)

var (
	ErrInvalidInterval = fmt.Errorf("interval must be between 0 and %d seconds", MaxMinInterval)
	ErrEmptyHost       = errors.New("host address is empty")
)

// Endpoint is the upload destination and throttle interval.
type Endpoint struct {
	HostAddress string `json:"host_address" yaml:"host_address"`
	MinInterval int    `json:"interval_s" yaml:"interval_s"`
}

// Default returns the endpoint used before any configuration is read.
func Default() Endpoint {
	return Endpoint{HostAddress: DefaultHostAddress, MinInterval: DefaultMinInterval}
}

// Interval returns MinInterval as a duration, saturating at the largest
// representable duration.
func (e Endpoint) Interval() time.Duration {
	if int64(e.MinInterval) > MaxMinInterval {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(e.MinInterval) * time.Second
}

// UploadURL joins the host address with path.
func (e Endpoint) UploadURL(path string) string {
	if path == "" {
		path = ImagesPath
	}
	return strings.TrimRight(e.HostAddress, "/") + path
}

// Validate checks the endpoint values.
func (e Endpoint) Validate() error {
	if e.MinInterval < 0 || int64(e.MinInterval) > MaxMinInterval {
		return ErrInvalidInterval
	}
	if e.HostAddress == "" {
		return ErrEmptyHost
	}
	return nil
}

// Store is a concurrency-safe holder for the current Endpoint.
// Reads are a single atomic load so the producer never blocks on a writer.
type Store struct {
	current atomic.Pointer[Endpoint]

	mu        sync.Mutex // serializes writers and guards listeners
	listeners []func(old, updated Endpoint)
}

// NewStore returns a store seeded with initial.
func NewStore(initial Endpoint) *Store {
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Get returns the current endpoint.
func (s *Store) Get() Endpoint {
	return *s.current.Load()
}

// Set replaces the endpoint after validation.
func (s *Store) Set(e Endpoint) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	old := *s.current.Load()
	s.current.Store(&e)
	listeners := append([]func(old, updated Endpoint){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(old, e)
	}
	return nil
}

// Submit applies a settings form submission. An empty host leaves the
// settings untouched and reports false.
func (s *Store) Submit(host string, interval int) (bool, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return false, nil
	}
	if err := s.Set(Endpoint{HostAddress: host, MinInterval: interval}); err != nil {
		return false, err
	}
	return true, nil
}

// Subscribe registers fn to be called after every successful Set.
func (s *Store) Subscribe(fn func(old, updated Endpoint)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
