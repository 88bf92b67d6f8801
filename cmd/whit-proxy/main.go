// Command whit-proxy serves the analysis backend: it keeps the OpenAI API
// key server-side and exposes /health and /analyze to whit clients.
//
// Usage:
//
//	OPENAI_API_KEY=sk-... whit-proxy -listen :8787
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JuhyeokC/whit/proxy"
)

func main() {
	listen := flag.String("listen", ":8787", "address to listen on")
	upstream := flag.String("upstream", "", "OpenAI-compatible base URL (default api.openai.com)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "whit-proxy: OPENAI_API_KEY is not set")
		os.Exit(1)
	}

	opts := []proxy.Option{proxy.WithLogger(logger)}
	if *upstream != "" {
		opts = append(opts, proxy.WithUpstream(*upstream))
	}
	srv := proxy.NewServer(apiKey, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("whit-proxy: listening", "addr", *listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("whit-proxy: shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("whit-proxy: fatal", "error", err)
			os.Exit(1)
		}
	}
}
