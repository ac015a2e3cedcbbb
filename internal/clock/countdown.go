package clock

// Countdown is a single-fire countdown measured in ticks (one tick per second).
// It is not safe for concurrent use; the owning session event loop drives it.
type Countdown struct {
	remaining int
	fired     bool
	stopped   bool
}

func NewCountdown(seconds int) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{remaining: seconds}
}

// Tick decrements the countdown. expired is true exactly once: on the tick
// that reaches zero. Ticks after that, or after Stop, change nothing.
func (c *Countdown) Tick() (remaining int, expired bool) {
	if c.stopped || c.fired {
		return c.remaining, false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining == 0 {
		c.fired = true
		return 0, true
	}
	return c.remaining, false
}

// Reset re-arms the countdown with a new duration.
func (c *Countdown) Reset(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	c.remaining = seconds
	c.fired = false
	c.stopped = false
}

// Stop cancels the countdown; it never expires afterwards.
func (c *Countdown) Stop() {
	c.stopped = true
}

func (c *Countdown) Remaining() int { return c.remaining }

func (c *Countdown) Expired() bool { return c.fired }

func (c *Countdown) Stopped() bool { return c.stopped }
