package browser

import (
	"strings"
	"testing"
)

func TestDecodeEvents(t *testing.T) {
	events, err := decodeEvents([]byte(`[{"kind":"down","x":10,"y":20},{"kind":"cancel"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != "down" || events[0].X != 10 || events[0].Y != 20 {
		t.Fatalf("first = %+v", events[0])
	}
	if events[1].Kind != "cancel" {
		t.Fatalf("second = %+v", events[1])
	}
}

func TestDecodeEventsEmpty(t *testing.T) {
	events, err := decodeEvents([]byte(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}

func TestDecodeEventsMalformed(t *testing.T) {
	if _, err := decodeEvents([]byte(`{`)); err == nil {
		t.Fatal("malformed payload accepted")
	}
}

func TestOverlayScriptEmbedded(t *testing.T) {
	// The script must be a bare arrow function so Rod evaluates it as a
	// function definition, and it must expose the host-facing API.
	if !strings.HasPrefix(strings.TrimSpace(overlayJS), "() =>") {
		t.Fatalf("overlay script is not a function definition: %.40q", overlayJS)
	}
	for _, name := range []string{"activate", "deactivate", "drain", "detach", "restore", "settle", "metrics"} {
		if !strings.Contains(overlayJS, name+"(") {
			t.Fatalf("overlay script missing %s", name)
		}
	}
}
