package treadmill

// countdown fires once after Done has been called n times.
// It is owned by the run loop and is not safe for concurrent use.
type countdown struct {
	remaining int
	fire      func()
	fired     bool
}

// newCountdown fires immediately when n is zero
func newCountdown(n int, fire func()) *countdown {
	c := &countdown{remaining: n, fire: fire}
	if n <= 0 {
		c.trigger()
	}
	return c
}

func (c *countdown) Done() {
	if c.fired {
		return
	}
	c.remaining--
	if c.remaining <= 0 {
		c.trigger()
	}
}

func (c *countdown) Remaining() int {
	if c.remaining < 0 {
		return 0
	}
	return c.remaining
}

func (c *countdown) trigger() {
	c.fired = true
	c.remaining = 0
	if c.fire != nil {
		c.fire()
	}
}
