package testutil

import (
	"strconv"
	"sync/atomic"
	"time"

	"medguard/internal/guard"
)

// StubClock is a guard.Clock that only moves when told to.
type StubClock struct {
	nanos atomic.Int64
}

var _ guard.Clock = (*StubClock)(nil)

// NewStubClock creates a StubClock reading t.
func NewStubClock(t time.Time) *StubClock {
	c := &StubClock{}
	c.Set(t)
	return c
}

// FixedClock returns a StubClock at 2026-03-02 09:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time { return time.Unix(0, c.nanos.Load()).UTC() }

// Set jumps the clock to t.
func (c *StubClock) Set(t time.Time) { c.nanos.Store(t.UnixNano()) }

// Advance moves the clock forward by d. Detector tests use it to age events
// out of the sliding window.
func (c *StubClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

// StubIDGenerator hands out alert IDs "alert-1", "alert-2", ...
type StubIDGenerator struct {
	next atomic.Uint64
}

var _ guard.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator { return &StubIDGenerator{} }

func (g *StubIDGenerator) New() string {
	return "alert-" + strconv.FormatUint(g.next.Add(1), 10)
}
