// Package gateway adapts analysis requests to the remote backend's HTTP
// contract and normalises every failure mode into a typed error. Nothing
// escapes its boundary as a panic or a raw transport error.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Kind classifies a gateway failure.
type Kind int

const (
	// KindTransport: the backend was unreachable or the connection failed.
	KindTransport Kind = iota
	// KindBackend: the backend answered with a non-success status or a
	// malformed payload.
	KindBackend
	// KindQuota: the backend signalled quota/credits exhaustion. Surfaced
	// with a distinct message so the user can tell it from a generic error.
	KindQuota
)

// Error is the gateway's single failure shape.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return "gateway: " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// IsQuota reports whether err is a quota-exhausted gateway failure.
func IsQuota(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindQuota
}

// QuotaMessage is the user-facing text for the quota-exhausted condition.
const QuotaMessage = "analysis quota exhausted: check the backend's credits"

type analyzeRequest struct {
	DataURL string `json:"dataUrl"`
	Model   string `json:"model,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

type analyzeResponse struct {
	OK     bool   `json:"ok"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Client talks to the analyze proxy. It enforces no timeout of its own;
// callers bound waits through ctx if they want one.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) { g.httpc = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Client) { g.logger = l }
}

// New creates a gateway client for the proxy at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Analyze sends the image and instructions to the backend and returns the
// analysis text. All failures come back as *Error.
func (c *Client) Analyze(ctx context.Context, imageData []byte, model, prompt string) (string, error) {
	payload, err := json.Marshal(analyzeRequest{
		DataURL: DataURL(imageData),
		Model:   model,
		Prompt:  prompt,
	})
	if err != nil {
		return "", &Error{Kind: KindBackend, Message: "encode request: " + err.Error(), Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: "build request: " + err.Error(), Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: "backend unreachable: " + err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: "read response: " + err.Error(), Cause: err}
	}

	var parsed analyzeResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if quotaExhausted(resp.StatusCode, msg) {
			c.logger.Warn("gateway: quota exhausted", "status", resp.StatusCode)
			return "", &Error{Kind: KindQuota, Message: QuotaMessage}
		}
		return "", &Error{Kind: KindBackend,
			Message: fmt.Sprintf("backend error (%d): %s", resp.StatusCode, msg)}
	}

	if decodeErr != nil {
		return "", &Error{Kind: KindBackend, Message: "malformed backend payload: " + decodeErr.Error(), Cause: decodeErr}
	}
	if !parsed.OK {
		if quotaExhausted(resp.StatusCode, parsed.Error) {
			return "", &Error{Kind: KindQuota, Message: QuotaMessage}
		}
		return "", &Error{Kind: KindBackend, Message: "backend refused: " + parsed.Error}
	}

	return parsed.Result, nil
}

// DataURL encodes image bytes as a base64 data URL, sniffing the MIME type
// from the content. This is the backend's expected image transport format.
func DataURL(data []byte) string {
	mime := http.DetectContentType(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// quotaExhausted recognises the backend's quota/credits condition either by
// status code or by wording in the error text.
func quotaExhausted(status int, msg string) bool {
	if status == http.StatusPaymentRequired || status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") ||
		strings.Contains(lower, "credit") ||
		strings.Contains(lower, "insufficient_quota")
}
