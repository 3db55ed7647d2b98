// Package clock abstracts wall-clock time so scheduling decisions can be tested
// without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time
type Clock interface {
	Now() time.Time
}

// Real is the system clock
type Real struct{}

// Now returns time.Now()
func (Real) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the frozen time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
