package bridge

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultEchoTTL bounds how long an outbound publish waits for its echo.
const DefaultEchoTTL = 5 * time.Second

// EchoSet tracks outbound topics awaiting their own echo from the broker.
//
// Markers are counted: two publishes on one topic are only cleared by two
// inbound messages. Each marker expires after the TTL so a lost echo does not
// swallow the next legitimate message forever.
type EchoSet struct {
	mu    sync.Mutex
	ttl   time.Duration
	items *cache.Cache
}

// NewEchoSet creates an empty set. A non-positive ttl uses DefaultEchoTTL.
func NewEchoSet(ttl time.Duration) *EchoSet {
	if ttl <= 0 {
		ttl = DefaultEchoTTL
	}
	return &EchoSet{
		ttl:   ttl,
		items: cache.New(ttl, 2*ttl),
	}
}

// Add records one pending echo for topic and refreshes its expiry.
func (s *EchoSet) Add(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	if v, ok := s.items.Get(topic); ok {
		n = v.(int)
	}
	s.items.Set(topic, n+1, s.ttl)
}

// Consume removes one pending echo for topic. It reports whether there was
// one to remove.
func (s *EchoSet) Consume(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(topic)
}

// Remove drops one pending echo without reporting it, for publishes that
// never left the process.
func (s *EchoSet) Remove(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decrementLocked(topic)
}

func (s *EchoSet) decrementLocked(topic string) bool {
	v, exp, ok := s.items.GetWithExpiration(topic)
	if !ok {
		return false
	}
	n := v.(int)
	if n <= 1 {
		s.items.Delete(topic)
		return true
	}

	remaining := time.Until(exp)
	if remaining <= 0 {
		s.items.Delete(topic)
		return true
	}
	s.items.Set(topic, n-1, remaining)
	return true
}

// Pending returns the outstanding count for topic.
func (s *EchoSet) Pending(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items.Get(topic); ok {
		return v.(int)
	}
	return 0
}

// Len returns the number of topics with unexpired markers.
func (s *EchoSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items.Items())
}

// Clear drops every marker.
func (s *EchoSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Flush()
}
