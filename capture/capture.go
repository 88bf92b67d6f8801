// Package capture produces a cropped CapturedImage from a confirmed
// selection without the selection overlay appearing in the captured pixels.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JuhyeokC/whit/selection"
)

// SettleFrames is how many paint cycles to yield after detaching the
// overlay before taking the screenshot. A single yield is empirically not
// enough: the removal may not have been composited yet and the overlay
// bleeds into the capture. Tunable, not load-bearing.
const SettleFrames = 3

// ErrInvalidRegion is returned when the region to crop has no positive
// extent.
var ErrInvalidRegion = errors.New("capture: invalid region")

// ScreenshotError wraps a failure of the privileged screenshot step
// (permission denial, no active tab, transient platform error). It is never
// retried silently.
type ScreenshotError struct {
	Cause error
}

func (e *ScreenshotError) Error() string {
	return fmt.Sprintf("capture: screenshot failed: %v", e.Cause)
}

func (e *ScreenshotError) Unwrap() error { return e.Cause }

// CropError wraps a malformed region or a decode failure on the captured
// frame.
type CropError struct {
	Cause error
}

func (e *CropError) Error() string {
	return fmt.Sprintf("capture: crop failed: %v", e.Cause)
}

func (e *CropError) Unwrap() error { return e.Cause }

// CapturedImage is the cropped result. ImageData is an encoded PNG. At most
// one lives in the coordinator's latest-capture slot at a time.
type CapturedImage struct {
	CreatedAt time.Time        `json:"createdAt"`
	Region    selection.Region `json:"region"`
	ImageData []byte           `json:"imageData"`
}

// Overlay is the selection layer as the pipeline sees it. Detach must
// remove the overlay from the render tree (not merely hide it) and return a
// restore function that reinstates it at its exact prior place with its
// prior visibility and pointer-interactivity. Settle yields control to the
// rendering pipeline for the given number of paint cycles.
type Overlay interface {
	Detach(ctx context.Context) (restore func(context.Context) error, err error)
	Settle(ctx context.Context, frames int) error
}

// Screenshotter takes a full-viewport screenshot and returns it as an
// encoded PNG. In production this is a capture-request round-trip over the
// message bus.
type Screenshotter func(ctx context.Context) ([]byte, error)

// Orchestrator runs the detach → settle → screenshot → restore → crop
// pipeline. The step order is the correctness contract; restoration is
// unconditional once detach succeeded.
type Orchestrator struct {
	overlay Overlay
	shoot   Screenshotter
	frames  int
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettleFrames overrides the paint-cycle count. Values below 1 are
// clamped to 1.
func WithSettleFrames(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.frames = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an Orchestrator over the given overlay and
// screenshot source.
func NewOrchestrator(overlay Overlay, shoot Screenshotter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		overlay: overlay,
		shoot:   shoot,
		frames:  SettleFrames,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one capture for a confirmed region. Any failure after detach
// still restores the overlay before the error surfaces; there is no partial
// result and no retry.
func (o *Orchestrator) Run(ctx context.Context, region selection.Region) (CapturedImage, error) {
	if !region.Valid() {
		return CapturedImage{}, &CropError{Cause: ErrInvalidRegion}
	}

	restore, err := o.overlay.Detach(ctx)
	if err != nil {
		return CapturedImage{}, fmt.Errorf("capture: detach overlay: %w", err)
	}
	restored := false
	defer func() {
		if !restored {
			o.restore(restore)
		}
	}()

	if err := o.overlay.Settle(ctx, o.frames); err != nil {
		return CapturedImage{}, fmt.Errorf("capture: settle: %w", err)
	}

	frame, err := o.shoot(ctx)
	if err != nil {
		return CapturedImage{}, &ScreenshotError{Cause: err}
	}

	// Restore before cropping: the crop works on the already-taken frame,
	// and the overlay must come back regardless of what cropping does.
	o.restore(restore)
	restored = true

	cropped, err := Crop(frame, region)
	if err != nil {
		return CapturedImage{}, err
	}

	o.logger.Debug("capture: cropped",
		"width", region.Width, "height", region.Height, "dpr", region.DevicePixelRatio)

	return CapturedImage{
		CreatedAt: time.Now(),
		Region:    region,
		ImageData: cropped,
	}, nil
}

func (o *Orchestrator) restore(restore func(context.Context) error) {
	// Restoration must run even when the surrounding context is already
	// cancelled, so it gets a fresh one.
	if err := restore(context.Background()); err != nil {
		o.logger.Warn("capture: overlay restore failed", "error", err)
	}
}
