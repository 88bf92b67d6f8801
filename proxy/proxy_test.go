package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func upstreamStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func doAnalyze(t *testing.T, s *Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var parsed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("non-JSON response: %v (%s)", err, rec.Body.String())
	}
	return rec.Result(), parsed
}

func TestHealth(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewServer("k", WithClock(func() time.Time { return fixed }))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var parsed struct {
		OK   bool   `json:"ok"`
		Time string `json:"time"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatal(err)
	}
	if !parsed.OK || parsed.Time != "2026-03-01T12:00:00Z" {
		t.Fatalf("body = %+v", parsed)
	}
}

func TestAnalyzeForwardsToUpstream(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	up := upstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  a red button  "}},
			},
		})
	})

	s := NewServer("sk-test", WithUpstream(up.URL))
	resp, parsed := doAnalyze(t, s, `{"dataUrl":"data:image/png;base64,AAAA","model":"gpt-4o","prompt":"describe"}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if parsed["ok"] != true || parsed["result"] != "a red button" {
		t.Fatalf("body = %+v", parsed)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o" {
		t.Fatalf("model = %v", gotBody["model"])
	}
	if gotBody["temperature"] != 0.2 {
		t.Fatalf("temperature = %v", gotBody["temperature"])
	}
	msgs := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	if img["url"] != "data:image/png;base64,AAAA" {
		t.Fatalf("image url = %v", img["url"])
	}
}

func TestAnalyzeDefaults(t *testing.T) {
	var gotBody map[string]any
	up := upstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	s := NewServer("k", WithUpstream(up.URL))
	_, parsed := doAnalyze(t, s, `{"dataUrl":"data:image/png;base64,AAAA"}`)

	if gotBody["model"] != "gpt-4o-mini" {
		t.Fatalf("default model = %v", gotBody["model"])
	}
	if parsed["result"] != "(no content)" {
		t.Fatalf("empty choices result = %v", parsed["result"])
	}
}

func TestAnalyzeMissingDataURL(t *testing.T) {
	s := NewServer("k")
	resp, parsed := doAnalyze(t, s, `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if parsed["ok"] != false || parsed["error"] != "missing dataUrl" {
		t.Fatalf("body = %+v", parsed)
	}
}

// Upstream failures keep their status code so the extension side can
// classify a 429 as quota exhaustion.
func TestAnalyzeUpstreamStatusPassthrough(t *testing.T) {
	up := upstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"insufficient_quota"}}`))
	})

	s := NewServer("k", WithUpstream(up.URL))
	resp, parsed := doAnalyze(t, s, `{"dataUrl":"data:image/png;base64,AAAA"}`)

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 passthrough", resp.StatusCode)
	}
	errText, _ := parsed["error"].(string)
	if !strings.Contains(errText, "insufficient_quota") {
		t.Fatalf("error = %q", errText)
	}
}

func TestAnalyzeUpstreamUnreachable(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	up.Close()

	s := NewServer("k", WithUpstream(up.URL))
	resp, parsed := doAnalyze(t, s, `{"dataUrl":"data:image/png;base64,AAAA"}`)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if parsed["ok"] != false {
		t.Fatalf("body = %+v", parsed)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer("k")
	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}
