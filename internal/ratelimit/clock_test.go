package ratelimit

import (
	"sync"
	"time"
)

// baseMillis is the epoch millisecond that test offsets are relative to.
const baseMillis int64 = 1_700_000_000_000

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(baseMillis)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// At moves the clock to baseMillis+offsetMs.
func (c *fakeClock) At(offsetMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.UnixMilli(baseMillis + offsetMs)
}
