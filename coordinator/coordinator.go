// Package coordinator is the background context: the only owner of the
// persistent store, the analysis cache and the privileged capture
// primitive. Other contexts reach it exclusively through the message bus.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JuhyeokC/whit/bus"
	"github.com/JuhyeokC/whit/cache"
	"github.com/JuhyeokC/whit/gateway"
	"github.com/JuhyeokC/whit/store"
)

// DefaultModel is the analysis model used when the settings carry none.
const DefaultModel = "gpt-4o-mini"

// DefaultTone is the prompt tone used when a request names an unknown one.
const DefaultTone = "simple"

const settingModel = "model"

// tonePrompts maps a tone identifier to its analysis instruction.
var tonePrompts = map[string]string{
	"simple": "간결하고 요점만 bullet로 요약해줘. (브랜드/텍스트/색상/맥락 중심)",
	"detail": "텍스트, 로고, 색상, 브랜드, 구성요소, 의미를 항목별로 자세히 설명해줘.",
	"fun":    "결과를 재미있고 가볍게, 하지만 핵심은 빠짐없이 bullet로 적어줘.",
}

// PromptForTone builds the full analysis prompt for a tone identifier,
// falling back to DefaultTone for unknown tones.
func PromptForTone(tone string) (prompt, resolvedTone string) {
	p, ok := tonePrompts[tone]
	if !ok {
		tone = DefaultTone
		p = tonePrompts[DefaultTone]
	}
	return "이 이미지를 분석해줘. " + p, tone
}

// Screenshot is the privileged capture primitive: a full-viewport
// screenshot as encoded PNG. Only the coordinator may invoke it.
type Screenshot func(ctx context.Context) ([]byte, error)

// Coordinator wires the background handlers onto a bus.
type Coordinator struct {
	store  *store.Store
	cache  *cache.Cache
	shoot  Screenshot
	newID  func() string
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithIDGenerator substitutes the history ID generator (tests).
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// New creates a Coordinator. shoot may be nil on installs without a capture
// source; capture-request then reports failure instead of crashing.
func New(st *store.Store, ch *cache.Cache, shoot Screenshot, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: st,
		cache: ch,
		shoot: shoot,
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Register installs every background handler on the bus.
func (c *Coordinator) Register(b *bus.Bus) {
	b.Handle(bus.TypeCaptureRequest, c.handleCapture)
	b.Handle(bus.TypeSetLatestImage, c.handleSetLatest)
	b.Handle(bus.TypeGetLatestImage, c.handleGetLatest)
	b.Handle(bus.TypeAnalyzeRequest, c.handleAnalyze)
	b.Handle(bus.TypeCancelSelection, c.handleCancel)
	b.Handle(bus.TypeFinishSelection, c.handleFinish)
	b.Handle(bus.TypeSaveHistoryItem, c.handleSaveHistory)
	b.Handle(bus.TypeGetHistory, c.handleGetHistory)
	b.Handle(bus.TypeDeleteHistoryItem, c.handleDeleteHistory)
	b.Handle(bus.TypeClearHistory, c.handleClearHistory)
}

func (c *Coordinator) handleCapture(ctx context.Context, _ bus.Message) (bus.Message, error) {
	if c.shoot == nil {
		return bus.CaptureReply{OK: false, Error: "no capture source"}, nil
	}
	// One attempt; a platform failure propagates, never a silent retry.
	frame, err := c.shoot(ctx)
	if err != nil {
		c.logger.Warn("coordinator: screenshot failed", "error", err)
		return bus.CaptureReply{OK: false, Error: err.Error()}, nil
	}
	return bus.CaptureReply{OK: true, ImageData: frame}, nil
}

func (c *Coordinator) handleSetLatest(ctx context.Context, msg bus.Message) (bus.Message, error) {
	req, ok := msg.(bus.SetLatestImage)
	if !ok {
		return nil, fmt.Errorf("coordinator: bad payload for %q", msg.Type())
	}
	if err := c.store.SetLatest(ctx, req.Payload); err != nil {
		return nil, err
	}
	return bus.OKReply{T: bus.TypeSetLatestImage, OK: true}, nil
}

func (c *Coordinator) handleGetLatest(ctx context.Context, _ bus.Message) (bus.Message, error) {
	img, err := c.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return bus.LatestImageReply{OK: true, Payload: img}, nil
}

func (c *Coordinator) handleAnalyze(ctx context.Context, msg bus.Message) (bus.Message, error) {
	req, ok := msg.(bus.AnalyzeRequest)
	if !ok {
		return nil, fmt.Errorf("coordinator: bad payload for %q", msg.Type())
	}
	if len(req.ImageData) == 0 {
		return bus.AnalyzeReply{OK: false, Error: "missing image data"}, nil
	}

	model, err := c.store.Setting(ctx, settingModel, DefaultModel)
	if err != nil {
		return nil, err
	}

	prompt := req.PromptText
	tone := req.Tone
	if prompt == "" {
		prompt, tone = PromptForTone(req.Tone)
	}

	result, cached, err := c.cache.LookupOrCompute(ctx, model, tone, req.ImageData, prompt)
	if err != nil {
		// Gateway failures reply structured, not as handler errors: the
		// caller gets the backend's message, with quota kept distinct.
		if gateway.IsQuota(err) {
			return bus.AnalyzeReply{OK: false, Error: gateway.QuotaMessage}, nil
		}
		return bus.AnalyzeReply{OK: false, Error: err.Error()}, nil
	}

	return bus.AnalyzeReply{
		OK:     true,
		Result: result,
		Cached: cached,
		Model:  model,
		Tone:   tone,
	}, nil
}

func (c *Coordinator) handleCancel(_ context.Context, _ bus.Message) (bus.Message, error) {
	// Cancellation is a normal terminal state, not a failure. Nothing to
	// clean up: the latest-capture slot only changes on success.
	c.logger.Debug("coordinator: selection cancelled")
	return nil, nil
}

func (c *Coordinator) handleFinish(_ context.Context, _ bus.Message) (bus.Message, error) {
	c.logger.Debug("coordinator: selection finished")
	return nil, nil
}

// SetModel stores the model identifier used for subsequent analyses.
func (c *Coordinator) SetModel(ctx context.Context, model string) error {
	return c.store.SetSetting(ctx, settingModel, model)
}

// Model returns the configured model identifier.
func (c *Coordinator) Model(ctx context.Context) (string, error) {
	return c.store.Setting(ctx, settingModel, DefaultModel)
}

