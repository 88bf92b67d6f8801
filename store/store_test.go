package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JuhyeokC/whit/capture"
	"github.com/JuhyeokC/whit/selection"
	"github.com/JuhyeokC/whit/store"
)

func TestLatestSlotLastWriterWins(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()

	got, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("empty slot = %+v, want nil", got)
	}

	first := capture.CapturedImage{
		CreatedAt: time.UnixMilli(1000),
		Region:    selection.Region{X: 1, Y: 2, Width: 30, Height: 40, DevicePixelRatio: 2},
		ImageData: []byte("first"),
	}
	second := capture.CapturedImage{
		CreatedAt: time.UnixMilli(2000),
		Region:    selection.Region{X: 5, Y: 6, Width: 70, Height: 80, DevicePixelRatio: 1},
		ImageData: []byte("second"),
	}

	if err := s.SetLatest(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLatest(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err = s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("slot empty after writes")
	}
	if string(got.ImageData) != "second" {
		t.Fatalf("slot = %q, want the last write", got.ImageData)
	}
	if got.Region.Width != 70 || got.Region.DevicePixelRatio != 1 {
		t.Fatalf("region round-trip = %+v", got.Region)
	}
	if !got.CreatedAt.Equal(time.UnixMilli(2000)) {
		t.Fatalf("createdAt = %v", got.CreatedAt)
	}
}

func TestCacheBucketRoundTrip(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()

	_, ok, err := s.CacheGet(ctx, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("missing key reported present")
	}

	e := store.CacheEntry{
		Result:    "a cat",
		CreatedAt: time.UnixMilli(42),
		Model:     "m1",
		Tone:      "simple",
	}
	if err := s.CachePut(ctx, "k1", e); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.CacheGet(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("written key missing")
	}
	if got.Result != e.Result || got.Model != e.Model || got.Tone != e.Tone {
		t.Fatalf("entry = %+v, want %+v", got, e)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestCacheTrimOldestFirst(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := s.CachePut(ctx, fmt.Sprintf("k%02d", i), store.CacheEntry{
			Result:    fmt.Sprintf("r%d", i),
			CreatedAt: time.UnixMilli(int64(i)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.CacheTrim(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	// The three oldest are gone, the rest remain.
	for i := 0; i < 3; i++ {
		_, ok, _ := s.CacheGet(ctx, fmt.Sprintf("k%02d", i))
		if ok {
			t.Fatalf("k%02d survived the trim", i)
		}
	}
	for i := 3; i < 10; i++ {
		_, ok, _ := s.CacheGet(ctx, fmt.Sprintf("k%02d", i))
		if !ok {
			t.Fatalf("k%02d was trimmed but is newer than the bound", i)
		}
	}
}

func TestCacheTrimTieBreaksByKey(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()

	// Same timestamp: enumeration order (key ASC) decides, deterministically.
	for _, k := range []string{"b", "a", "c"} {
		if err := s.CachePut(ctx, k, store.CacheEntry{CreatedAt: time.UnixMilli(5)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CacheTrim(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.CacheGet(ctx, "a"); ok {
		t.Fatal("tie-break should drop the smallest key first")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok, _ := s.CacheGet(ctx, k); !ok {
			t.Fatalf("%q should have survived", k)
		}
	}
}

func TestCacheTrimUnderCapacityNoop(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()
	if err := s.CachePut(ctx, "k", store.CacheEntry{CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	removed, err := s.CacheTrim(ctx, 120)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestHistoryNamespaceIsolation(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()

	if err := s.CachePut(ctx, "keep", store.CacheEntry{CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.HistoryAdd(ctx, store.HistoryRecord{ID: "h1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	if err := s.HistoryClear(ctx); err != nil {
		t.Fatal(err)
	}

	items, err := s.HistoryList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("history = %d items after clear", len(items))
	}
	if _, ok, _ := s.CacheGet(ctx, "keep"); !ok {
		t.Fatal("history clear leaked into the cache namespace")
	}
}

func TestHistoryOrderAndDelete(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.HistoryAdd(ctx, store.HistoryRecord{
			ID:        fmt.Sprintf("h%d", i),
			CreatedAt: time.UnixMilli(int64(i * 100)),
			Result:    fmt.Sprintf("result %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	items, err := s.HistoryList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].ID != "h2" || items[2].ID != "h0" {
		t.Fatalf("order = %s..%s, want newest first", items[0].ID, items[2].ID)
	}

	n, err := s.HistoryDelete(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	n, err = s.HistoryDelete(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second delete removed = %d, want 0", n)
	}
}

func TestSettings(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()

	v, err := s.Setting(ctx, "model", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if v != "gpt-4o-mini" {
		t.Fatalf("fallback = %q", v)
	}

	if err := s.SetSetting(ctx, "model", "gpt-4o"); err != nil {
		t.Fatal(err)
	}
	v, err = s.Setting(ctx, "model", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if v != "gpt-4o" {
		t.Fatalf("setting = %q, want gpt-4o", v)
	}
}
