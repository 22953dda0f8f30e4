package core

import "time"

// Clock measures elapsed wall time in seconds. The zero value is stopped.
type Clock struct {
	startTime time.Time
	elapsed   time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Samples the clock. Call once per frame, before reading Elapsed or Delta.
// Has no effect on stopped clocks.
func (c *Clock) Update() {
	if !c.startTime.IsZero() {
		c.elapsed = time.Since(c.startTime)
	}
}

// Starts the clock. Resets elapsed time.
func (c *Clock) Start() {
	c.startTime = time.Now()
	c.elapsed = 0
}

// Stops the clock. Does not reset elapsed time.
func (c *Clock) Stop() {
	c.startTime = time.Time{}
}

// Elapsed returns seconds since Start, as of the last Update.
func (c *Clock) Elapsed() float64 {
	return c.elapsed.Seconds()
}

// Delta returns the seconds elapsed past a previous Elapsed sample.
func (c *Clock) Delta(since float64) float64 {
	return c.elapsed.Seconds() - since
}
