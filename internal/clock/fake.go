package clock

import "time"

// FakeClock pins time for tests that exercise batch expiry and grant
// windows, which all key off Clock.Now.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward, e.g. past a batch expiry.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
