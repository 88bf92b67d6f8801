// Package proxy is the analysis backend: a small HTTP service that
// forwards image analysis requests to OpenAI's vision API so the client
// never holds the API key.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

const defaultUpstream = "https://api.openai.com/v1"

const defaultModel = "gpt-4o-mini"

const defaultPrompt = "이 이미지를 분석해줘. 주요 객체/텍스트/브랜드/맥락을 bullet로 간결히 요약해."

const systemPrompt = "You are WHIT?, an expert visual analyst. Return concise, structured results in Korean."

// Server serves /health and /analyze.
type Server struct {
	apiKey   string
	upstream string
	httpc    *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithUpstream points the server at a different OpenAI-compatible base URL.
func WithUpstream(baseURL string) Option {
	return func(s *Server) { s.upstream = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient substitutes the upstream HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpc = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock substitutes the health endpoint's clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a Server using the given OpenAI API key.
func NewServer(apiKey string, opts ...Option) *Server {
	s := &Server{
		apiKey:   apiKey,
		upstream: defaultUpstream,
		httpc:    &http.Client{Timeout: 60 * time.Second},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP handler with CORS open to any origin, matching
// what a browser extension client needs.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	r.Use(c.Handler)

	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": s.now().UTC().Format(time.RFC3339),
	})
}

type analyzeBody struct {
	DataURL string `json:"dataUrl"`
	Model   string `json:"model,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// chatRequest is the OpenAI chat completions payload with an image part.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 32<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.DataURL == "" {
		writeError(w, http.StatusBadRequest, "missing dataUrl")
		return
	}
	model := body.Model
	if model == "" {
		model = defaultModel
	}
	prompt := body.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: body.DataURL}},
			}},
		},
		Temperature: 0.2,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		s.upstream+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		s.logger.Warn("proxy: upstream unreachable", "error", err)
		writeError(w, http.StatusBadGateway, "upstream unreachable: "+err.Error())
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadGateway, "read upstream response: "+err.Error())
		return
	}

	// Upstream failures keep their status code so the client can tell a
	// quota refusal (429) from everything else.
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("proxy: upstream error", "status", resp.StatusCode)
		writeError(w, resp.StatusCode,
			fmt.Sprintf("OpenAI error: %d %s", resp.StatusCode, strings.TrimSpace(string(raw))))
		return
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		writeError(w, http.StatusBadGateway, "malformed upstream payload")
		return
	}
	text := "(no content)"
	if len(parsed.Choices) > 0 {
		if t := strings.TrimSpace(parsed.Choices[0].Message.Content); t != "" {
			text = t
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
