// Package admission gates how many jobs may run at once and reports an
// advisory host load figure for callers that want to shed uploads early.
package admission

import (
	"sync"
)

// DefaultCeiling is the concurrency ceiling used when none is configured.
const DefaultCeiling = 2

// LoadSampler returns a host load percentage and whether it was available.
type LoadSampler func() (float64, bool)

// Controller is a counting semaphore sized to the concurrency ceiling.
// Only the slot count gates admission; Load is advisory.
type Controller struct {
	ceiling int
	sample  LoadSampler

	mu     sync.Mutex
	active int
}

// New builds a controller. A non-positive ceiling falls back to DefaultCeiling.
func New(ceiling int, sample LoadSampler) *Controller {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if sample == nil {
		sample = HostLoad
	}
	return &Controller{ceiling: ceiling, sample: sample}
}

// Ceiling returns the configured maximum number of concurrent jobs.
func (c *Controller) Ceiling() int {
	return c.ceiling
}

// CanAdmit reports whether a slot is free right now.
func (c *Controller) CanAdmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active < c.ceiling
}

// TryAcquire takes a slot if one is free.
func (c *Controller) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active >= c.ceiling {
		return false
	}
	c.active++
	return true
}

// Release frees a slot taken by TryAcquire.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active > 0 {
		c.active--
	}
}

// Active returns the number of held slots.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Load returns the host load percentage, falling back to slot utilisation
// when the host signal cannot be read.
func (c *Controller) Load() float64 {
	if pct, ok := c.sample(); ok {
		return pct
	}
	return float64(c.Active()) / float64(c.ceiling) * 100
}
