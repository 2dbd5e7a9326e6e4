// Package warmup decides when ambient audio stops while an avatar session
// initializes: at readiness or at the deadline, whichever comes first, and
// exactly once per armed window.
//
// The coordinator holds no timer. Hosts poll it on every tick and on every
// readiness event.
package warmup

import (
	"sync"
	"time"
)

const DefaultDuration = 5 * time.Second

type StopReason string

const (
	ReasonNone     StopReason = ""
	ReasonReady    StopReason = "ready"
	ReasonDeadline StopReason = "deadline"
)

// Window is the current warmup window.
type Window struct {
	ArmedAt  time.Time `json:"armed_at"`
	Deadline time.Time `json:"deadline"`
	Active   bool      `json:"active"`
}

type Coordinator struct {
	duration time.Duration

	mu     sync.Mutex
	window Window
}

func NewCoordinator(duration time.Duration) *Coordinator {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Coordinator{duration: duration}
}

func (c *Coordinator) Duration() time.Duration { return c.duration }

// Arm starts a new warmup cycle at now. Re-arming replaces any active window.
func (c *Coordinator) Arm(now time.Time) Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = Window{ArmedAt: now, Deadline: now.Add(c.duration), Active: true}
	return c.window
}

// Disarm clears the window without a stop decision.
func (c *Coordinator) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.Active = false
}

func (c *Coordinator) Window() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// ShouldStopAmbientAudio returns true iff the window is active and either the
// session is ready or the deadline has passed. A true result clears the window.
func (c *Coordinator) ShouldStopAmbientAudio(now time.Time, sessionReady bool) bool {
	stop, _ := c.Evaluate(now, sessionReady)
	return stop
}

// Evaluate is ShouldStopAmbientAudio with the reason for the decision.
// Readiness wins when both conditions hold.
func (c *Coordinator) Evaluate(now time.Time, sessionReady bool) (bool, StopReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.window.Active {
		return false, ReasonNone
	}
	switch {
	case sessionReady:
		c.window.Active = false
		return true, ReasonReady
	case !now.Before(c.window.Deadline):
		c.window.Active = false
		return true, ReasonDeadline
	default:
		return false, ReasonNone
	}
}
