// Package selection turns pointer-drag gestures on the injected overlay into
// capture regions and polices the selection lifecycle.
package selection

import (
	"log/slog"
	"sync"
)

// State is the controller's lifecycle state.
type State int

const (
	// Idle: no drag in progress. The overlay may or may not be visible.
	Idle State = iota
	// Selecting: pointer is down, the live rectangle follows the pointer.
	Selecting
	// AwaitingCapture: a region was confirmed and handed off; the controller
	// is inert until the next Activate.
	AwaitingCapture
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case AwaitingCapture:
		return "awaiting-capture"
	}
	return "unknown"
}

// Controller is the selection state machine. It is fed pointer events by the
// page host and resolves them into a confirmed Region or a cancellation.
type Controller struct {
	mu     sync.Mutex
	state  State
	startX float64
	startY float64
	curX   float64
	curY   float64

	onConfirm func(Region)
	onCancel  func()
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller. confirm is called with the resolved
// region on a successful pointer-up; cancel is called on explicit cancel or
// on a below-threshold release. Either may be nil.
func NewController(confirm func(Region), cancel func(), opts ...Option) *Controller {
	c := &Controller{
		state:     Idle,
		onConfirm: confirm,
		onCancel:  cancel,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Activate arms the controller for a new selection, discarding any previous
// confirmed state.
func (c *Controller) Activate() {
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

// PointerDown starts a drag at the given viewport coordinates. Ignored
// unless the controller is Idle.
func (c *Controller) PointerDown(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return
	}
	c.state = Selecting
	c.startX, c.startY = x, y
	c.curX, c.curY = x, y
}

// PointerMove updates the live rectangle. Ignored unless Selecting.
func (c *Controller) PointerMove(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Selecting {
		return
	}
	c.curX, c.curY = x, y
}

// LiveRect returns the rectangle the drag currently spans. Scroll and DPR
// are zero; this is presentation feedback only.
func (c *Controller) LiveRect() Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RegionFromPoints(c.startX, c.startY, c.curX, c.curY, 0, 0, 1)
}

// PointerUp ends the drag, resolving it with the scroll offset and device
// pixel ratio observed at release time. A region below MinSelectionSize in
// either dimension cancels silently; otherwise the region is confirmed and
// the controller becomes inert until the next Activate.
func (c *Controller) PointerUp(scrollX, scrollY, dpr float64) {
	c.mu.Lock()
	if c.state != Selecting {
		c.mu.Unlock()
		return
	}
	region := RegionFromPoints(c.startX, c.startY, c.curX, c.curY, scrollX, scrollY, dpr)

	if region.BelowThreshold() {
		c.state = Idle
		cancel := c.onCancel
		c.mu.Unlock()
		c.logger.Debug("selection: below threshold, cancelled",
			"width", region.Width, "height", region.Height)
		if cancel != nil {
			cancel()
		}
		return
	}

	c.state = AwaitingCapture
	confirm := c.onConfirm
	c.mu.Unlock()
	c.logger.Debug("selection: confirmed",
		"x", region.X, "y", region.Y, "width", region.Width, "height", region.Height)
	if confirm != nil {
		confirm(region)
	}
}

// Cancel aborts an in-progress drag (e.g. Escape). No-op when not Selecting.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state != Selecting {
		c.mu.Unlock()
		return
	}
	c.state = Idle
	cancel := c.onCancel
	c.mu.Unlock()
	c.logger.Debug("selection: cancelled")
	if cancel != nil {
		cancel()
	}
}
