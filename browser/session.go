package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/JuhyeokC/whit/selection"
)

//go:embed overlay.js
var overlayJS string

// pollInterval is how often queued pointer events are drained from the
// page. 30ms keeps the live rectangle responsive without hammering CDP.
const pollInterval = 30 * time.Millisecond

// Session is a live tab with the selection overlay installed.
type Session struct {
	mgr  *Manager
	page *rod.Page
	url  string
}

// pageEvent is one queued overlay event as the injected script reports it.
type pageEvent struct {
	Kind string  `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// pageMetrics mirrors the overlay's metrics() result.
type pageMetrics struct {
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
	DPR     float64 `json:"dpr"`
}

// OpenSession creates a stealth tab, navigates to pageURL and injects the
// overlay script. The overlay stays dormant until StartSelection.
func OpenSession(ctx context.Context, mgr *Manager, pageURL string) (*Session, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	if _, err := page.Context(navCtx).Eval(overlayJS); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: inject overlay: %w", err)
	}

	return &Session{mgr: mgr, page: page, url: pageURL}, nil
}

// StartSelection shows the overlay and puts the page into crosshair mode.
func (s *Session) StartSelection(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => window.__whit.activate()`)
	if err != nil {
		return fmt.Errorf("browser: activate overlay: %w", err)
	}
	return nil
}

// StopSelection tears the overlay down regardless of its state.
func (s *Session) StopSelection(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => window.__whit.deactivate()`)
	if err != nil {
		return fmt.Errorf("browser: deactivate overlay: %w", err)
	}
	return nil
}

// Metrics reads the page's scroll offsets and device pixel ratio.
func (s *Session) Metrics(ctx context.Context) (pageMetrics, error) {
	res, err := s.page.Context(ctx).Eval(`() => window.__whit.metrics()`)
	if err != nil {
		return pageMetrics{}, fmt.Errorf("browser: read metrics: %w", err)
	}
	var m pageMetrics
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &m); err != nil {
		return pageMetrics{}, fmt.Errorf("browser: decode metrics: %w", err)
	}
	if m.DPR <= 0 {
		m.DPR = 1
	}
	return m, nil
}

// Screenshot captures the full viewport as PNG. This is the privileged
// capture primitive handed to the coordinator.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// Pump drains overlay pointer events into the controller until the
// context ends. It also pushes the live rectangle back for rendering.
func (s *Session) Pump(ctx context.Context, ctrl *selection.Controller) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		events, err := s.drainEvents(ctx)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := s.dispatch(ctx, ctrl, ev); err != nil {
				return err
			}
		}

		if ctrl.State() == selection.Selecting {
			if err := s.renderRect(ctx, ctrl.LiveRect()); err != nil {
				s.mgr.cfg.Logger.Debug("browser: render rect failed", "error", err)
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ctrl *selection.Controller, ev pageEvent) error {
	switch ev.Kind {
	case "down":
		ctrl.PointerDown(ev.X, ev.Y)
	case "move":
		ctrl.PointerMove(ev.X, ev.Y)
	case "up":
		m, err := s.Metrics(ctx)
		if err != nil {
			return err
		}
		ctrl.PointerUp(m.ScrollX, m.ScrollY, m.DPR)
	case "cancel":
		ctrl.Cancel()
	}
	return nil
}

func (s *Session) drainEvents(ctx context.Context) ([]pageEvent, error) {
	res, err := s.page.Context(ctx).Eval(`() => window.__whit.drain()`)
	if err != nil {
		return nil, fmt.Errorf("browser: drain events: %w", err)
	}
	return decodeEvents([]byte(res.Value.JSON("", "")))
}

func decodeEvents(raw []byte) ([]pageEvent, error) {
	var events []pageEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("browser: decode events: %w", err)
	}
	return events, nil
}

func (s *Session) renderRect(ctx context.Context, r selection.Region) error {
	_, err := s.page.Context(ctx).Eval(
		`(x, y, w, h) => window.__whit.rect(x, y, w, h)`,
		r.ViewportX, r.ViewportY, r.Width, r.Height,
	)
	return err
}

// Overlay exposes the session as the capture pipeline's overlay handle.
func (s *Session) Overlay() *PageOverlay {
	return &PageOverlay{s: s}
}

// Close closes the tab.
func (s *Session) Close() error {
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}

// PageOverlay adapts the injected overlay's detach/settle/restore calls
// to the capture orchestrator's contract.
type PageOverlay struct {
	s *Session
}

func (o *PageOverlay) Detach(ctx context.Context) (func(context.Context) error, error) {
	res, err := o.s.page.Context(ctx).Eval(`() => window.__whit.detach()`)
	if err != nil {
		return nil, fmt.Errorf("browser: detach overlay: %w", err)
	}
	if !res.Value.Bool() {
		return nil, fmt.Errorf("browser: overlay not attached")
	}
	restore := func(rctx context.Context) error {
		_, err := o.s.page.Context(rctx).Eval(`() => window.__whit.restore()`)
		if err != nil {
			return fmt.Errorf("browser: restore overlay: %w", err)
		}
		return nil
	}
	return restore, nil
}

func (o *PageOverlay) Settle(ctx context.Context, frames int) error {
	_, err := o.s.page.Context(ctx).Eval(
		`async (n) => { await window.__whit.settle(n); }`, frames,
	)
	if err != nil {
		return fmt.Errorf("browser: settle: %w", err)
	}
	return nil
}
