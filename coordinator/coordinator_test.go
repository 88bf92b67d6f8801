package coordinator_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JuhyeokC/whit/bus"
	"github.com/JuhyeokC/whit/cache"
	"github.com/JuhyeokC/whit/capture"
	"github.com/JuhyeokC/whit/coordinator"
	"github.com/JuhyeokC/whit/gateway"
	"github.com/JuhyeokC/whit/selection"
	"github.com/JuhyeokC/whit/store"
)

type stubGateway struct {
	calls  int32
	result string
	err    error
}

func (g *stubGateway) Analyze(ctx context.Context, imageData []byte, model, prompt string) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	return g.result, g.err
}

func newRig(t *testing.T, gw cache.Analyzer, shoot coordinator.Screenshot) (*bus.Bus, *coordinator.Coordinator, *store.Store) {
	t.Helper()
	st := store.OpenMemory(t)
	ch := cache.New(st, gw)
	co := coordinator.New(st, ch, shoot)
	b := bus.New()
	co.Register(b)
	return b, co, st
}

func TestCaptureRequestRoundTrip(t *testing.T) {
	frame := []byte("png-bytes")
	b, _, _ := newRig(t, &stubGateway{}, func(ctx context.Context) ([]byte, error) {
		return frame, nil
	})

	reply, err := b.Request(context.Background(), bus.CaptureRequest{})
	if err != nil {
		t.Fatal(err)
	}
	cr := reply.(bus.CaptureReply)
	if !cr.OK || string(cr.ImageData) != "png-bytes" {
		t.Fatalf("reply = %+v", cr)
	}
}

func TestCaptureRequestFailurePropagates(t *testing.T) {
	b, _, _ := newRig(t, &stubGateway{}, func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("no active tab")
	})

	reply, err := b.Request(context.Background(), bus.CaptureRequest{})
	if err != nil {
		t.Fatal(err)
	}
	cr := reply.(bus.CaptureReply)
	if cr.OK {
		t.Fatal("failed capture reported ok")
	}
	if cr.Error != "no active tab" {
		t.Fatalf("error = %q", cr.Error)
	}
}

func TestLatestImageSlot(t *testing.T) {
	b, _, _ := newRig(t, &stubGateway{}, nil)
	ctx := context.Background()

	reply, err := b.Request(ctx, bus.GetLatestImage{})
	if err != nil {
		t.Fatal(err)
	}
	if got := reply.(bus.LatestImageReply); got.Payload != nil {
		t.Fatalf("empty slot = %+v", got.Payload)
	}

	img := capture.CapturedImage{
		CreatedAt: time.Now(),
		Region:    selection.Region{Width: 10, Height: 10, DevicePixelRatio: 1},
		ImageData: []byte("cropped"),
	}
	if _, err := b.Request(ctx, bus.SetLatestImage{Payload: img}); err != nil {
		t.Fatal(err)
	}

	reply, err = b.Request(ctx, bus.GetLatestImage{})
	if err != nil {
		t.Fatal(err)
	}
	got := reply.(bus.LatestImageReply)
	if got.Payload == nil || string(got.Payload.ImageData) != "cropped" {
		t.Fatalf("slot = %+v", got.Payload)
	}
}

// Two identical analyze requests: the first misses and invokes the gateway
// once, the second is served from the cache with the same result text.
func TestAnalyzeCachedSecondCall(t *testing.T) {
	gw := &stubGateway{result: "a screenshot of a login form"}
	b, _, _ := newRig(t, gw, nil)
	ctx := context.Background()

	req := bus.AnalyzeRequest{ImageData: []byte("image-X"), Tone: "simple"}

	reply, err := b.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	first := reply.(bus.AnalyzeReply)
	if !first.OK || first.Cached {
		t.Fatalf("first reply = %+v, want ok and uncached", first)
	}
	if first.Model != coordinator.DefaultModel || first.Tone != "simple" {
		t.Fatalf("first reply meta = %+v", first)
	}
	if atomic.LoadInt32(&gw.calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}

	reply, err = b.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second := reply.(bus.AnalyzeReply)
	if !second.OK || !second.Cached {
		t.Fatalf("second reply = %+v, want cached", second)
	}
	if second.Result != first.Result {
		t.Fatalf("results differ: %q vs %q", second.Result, first.Result)
	}
	if atomic.LoadInt32(&gw.calls) != 1 {
		t.Fatalf("gateway calls after hit = %d, want still 1", gw.calls)
	}
}

func TestAnalyzeToneChangesKey(t *testing.T) {
	gw := &stubGateway{result: "r"}
	b, _, _ := newRig(t, gw, nil)
	ctx := context.Background()
	img := []byte("image")

	if _, err := b.Request(ctx, bus.AnalyzeRequest{ImageData: img, Tone: "simple"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Request(ctx, bus.AnalyzeRequest{ImageData: img, Tone: "detail"}); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&gw.calls) != 2 {
		t.Fatalf("gateway calls = %d, want 2 for distinct tones", gw.calls)
	}
}

// A quota failure surfaces its distinct message and leaves no cache entry:
// the next identical request hits the gateway again.
func TestAnalyzeQuotaDistinctAndUncached(t *testing.T) {
	gw := &stubGateway{err: &gateway.Error{Kind: gateway.KindQuota, Message: gateway.QuotaMessage}}
	b, _, st := newRig(t, gw, nil)
	ctx := context.Background()

	req := bus.AnalyzeRequest{ImageData: []byte("image"), Tone: "simple"}

	reply, err := b.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	ar := reply.(bus.AnalyzeReply)
	if ar.OK {
		t.Fatal("quota failure reported ok")
	}
	if ar.Error != gateway.QuotaMessage {
		t.Fatalf("quota message = %q, want the distinct text", ar.Error)
	}
	if n, _ := st.CacheCount(ctx); n != 0 {
		t.Fatalf("cache entries after failure = %d, want 0", n)
	}

	// Distinguishable from a generic failure.
	gw.err = &gateway.Error{Kind: gateway.KindBackend, Message: "backend error (500): boom"}
	reply, _ = b.Request(ctx, req)
	if reply.(bus.AnalyzeReply).Error == gateway.QuotaMessage {
		t.Fatal("generic failure carries the quota message")
	}

	if atomic.LoadInt32(&gw.calls) != 2 {
		t.Fatalf("gateway calls = %d, want 2 (nothing cached)", gw.calls)
	}
}

func TestAnalyzeMissingImage(t *testing.T) {
	b, _, _ := newRig(t, &stubGateway{}, nil)
	reply, err := b.Request(context.Background(), bus.AnalyzeRequest{Tone: "simple"})
	if err != nil {
		t.Fatal(err)
	}
	if ar := reply.(bus.AnalyzeReply); ar.OK {
		t.Fatal("empty image accepted")
	}
}

func TestAnalyzeUsesConfiguredModel(t *testing.T) {
	gw := &stubGateway{result: "r"}
	b, co, _ := newRig(t, gw, nil)
	ctx := context.Background()

	if err := co.SetModel(ctx, "gpt-4o"); err != nil {
		t.Fatal(err)
	}

	reply, err := b.Request(ctx, bus.AnalyzeRequest{ImageData: []byte("i"), Tone: "simple"})
	if err != nil {
		t.Fatal(err)
	}
	if ar := reply.(bus.AnalyzeReply); ar.Model != "gpt-4o" {
		t.Fatalf("model = %q, want gpt-4o", ar.Model)
	}
}

func TestHistoryFlow(t *testing.T) {
	b, _, _ := newRig(t, &stubGateway{}, nil)
	ctx := context.Background()

	// Saved without an ID: the coordinator assigns one.
	if _, err := b.Request(ctx, bus.SaveHistoryItem{Item: bus.HistoryItem{Result: "first"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Request(ctx, bus.SaveHistoryItem{Item: bus.HistoryItem{
		ID: "fixed", Result: "second", CreatedAt: time.Now().Add(time.Second),
	}}); err != nil {
		t.Fatal(err)
	}

	reply, err := b.Request(ctx, bus.GetHistory{})
	if err != nil {
		t.Fatal(err)
	}
	items := reply.(bus.HistoryReply).Items
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Result != "second" {
		t.Fatalf("order wrong: %q first", items[0].Result)
	}
	if items[1].ID == "" {
		t.Fatal("auto ID missing")
	}

	reply, err = b.Request(ctx, bus.DeleteHistoryItem{ID: "fixed"})
	if err != nil {
		t.Fatal(err)
	}
	if dr := reply.(bus.DeleteHistoryReply); dr.Removed != 1 {
		t.Fatalf("removed = %d, want 1", dr.Removed)
	}

	if _, err := b.Request(ctx, bus.ClearHistory{}); err != nil {
		t.Fatal(err)
	}
	reply, _ = b.Request(ctx, bus.GetHistory{})
	if n := len(reply.(bus.HistoryReply).Items); n != 0 {
		t.Fatalf("items after clear = %d", n)
	}
}

func TestPromptForTone(t *testing.T) {
	p, tone := coordinator.PromptForTone("detail")
	if tone != "detail" || p == "" {
		t.Fatalf("tone = %q, prompt = %q", tone, p)
	}
	_, tone = coordinator.PromptForTone("no-such-tone")
	if tone != coordinator.DefaultTone {
		t.Fatalf("unknown tone resolved to %q", tone)
	}
}
