package monitoring

import (
	"sort"
	"strings"
	"sync"
	"time"

	nuts "github.com/vaudience/go-nuts"
)

const defaultWindowSize = 10000

// Config holds monitoring configuration
type Config struct {
	// WindowSize bounds how many recent events are kept for windowed queries.
	WindowSize int
}

type event struct {
	name string
	at   time.Time
}

// Service counts protocol events in memory. Totals live for the process
// lifetime; a bounded ring of recent events answers windowed queries.
type Service struct {
	config  Config
	mu      sync.Mutex
	totals  map[string]int64
	recent  []event
	next    int
	started time.Time
	now     func() time.Time
}

// NewService creates a new monitoring service
func NewService(config Config) *Service {
	if config.WindowSize <= 0 {
		config.WindowSize = defaultWindowSize
	}
	return &Service{
		config:  config,
		totals:  make(map[string]int64),
		recent:  make([]event, 0, config.WindowSize),
		started: time.Now(),
		now:     time.Now,
	}
}

// RecordEvent records a monitored event with labels
func (s *Service) RecordEvent(eventName string, labels map[string]string) {
	ts := s.now()

	s.mu.Lock()
	s.totals[eventName]++
	if len(s.recent) < s.config.WindowSize {
		s.recent = append(s.recent, event{name: eventName, at: ts})
	} else {
		s.recent[s.next] = event{name: eventName, at: ts}
		s.next = (s.next + 1) % s.config.WindowSize
	}
	s.mu.Unlock()

	nuts.L.Debugf("[Monitoring] Event %s with labels: %v", eventName, labels)
}

// GetEventMetrics counts events whose name starts with eventType that were
// recorded within the last duration, keyed by event name.
func (s *Service) GetEventMetrics(eventType string, duration time.Duration) (map[string]int64, error) {
	since := s.now().Add(-duration)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64)
	for _, e := range s.recent {
		if e.at.Before(since) || !strings.HasPrefix(e.name, eventType) {
			continue
		}
		out[e.name]++
	}
	return out, nil
}

// Totals returns a copy of the lifetime counters.
func (s *Service) Totals() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out
}

// EventNames returns the recorded event names in sorted order.
func (s *Service) EventNames() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.totals))
	for k := range s.totals {
		names = append(names, k)
	}
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// Uptime reports how long the service has been running.
func (s *Service) Uptime() time.Duration {
	return s.now().Sub(s.started)
}
