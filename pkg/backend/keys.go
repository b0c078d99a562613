package backend

import (
	"sync"
	"time"
)

// Stamper hands out strictly increasing Unix millisecond timestamps for
// object keys, so two uploads of the same name in the same millisecond still
// get distinct keys.
type Stamper struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewStamper returns a Stamper reading time from now (time.Now when nil).
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

// Next returns the current time in milliseconds, bumped past the last value
// handed out if the clock has not advanced.
func (s *Stamper) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}
