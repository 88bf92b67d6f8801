// Command whit opens a page in Chrome, lets the user drag-select a region,
// and runs the capture and analysis pipeline over it.
//
// Usage:
//
//	whit -url https://example.com                  # defaults
//	whit -url https://example.com -config w.yaml   # with config file
//	whit -url https://example.com -mcp             # also serve MCP on stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/JuhyeokC/whit/browser"
	"github.com/JuhyeokC/whit/bus"
	"github.com/JuhyeokC/whit/cache"
	"github.com/JuhyeokC/whit/capture"
	"github.com/JuhyeokC/whit/config"
	"github.com/JuhyeokC/whit/coordinator"
	"github.com/JuhyeokC/whit/gateway"
	"github.com/JuhyeokC/whit/selection"
	"github.com/JuhyeokC/whit/store"
)

func main() {
	pageURL := flag.String("url", "", "page to open for selection")
	configPath := flag.String("config", "", "path to whit.yaml config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	flag.Parse()

	if *pageURL == "" {
		fmt.Fprintln(os.Stderr, "usage: whit -url <url> [-config <file>] [-mcp]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "whit: load config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "whit:", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *pageURL, *serveMCP); err != nil && ctx.Err() == nil {
		logger.Error("whit: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, pageURL string, serveMCP bool) error {
	st, err := store.Open(cfg.StoreDB)
	if err != nil {
		return err
	}
	defer st.Close()

	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.Remote,
		Headless:  cfg.Browser.Headless,
		Logger:    logger,
	})
	if _, err := mgr.Start(); err != nil {
		return err
	}
	defer mgr.Close()

	session, err := browser.OpenSession(ctx, mgr, pageURL)
	if err != nil {
		return err
	}
	defer session.Close()

	remote := gateway.New(cfg.Analysis.ProxyURL, gateway.WithLogger(logger))
	analysisCache := cache.New(st, remote,
		cache.WithMaxEntries(cfg.Analysis.CacheMax),
		cache.WithLogger(logger),
	)

	co := coordinator.New(st, analysisCache, session.Screenshot, coordinator.WithLogger(logger))
	b := bus.New(bus.WithLogger(logger))
	co.Register(b)

	orch := capture.NewOrchestrator(session.Overlay(),
		func(sctx context.Context) ([]byte, error) {
			reply, err := b.Request(sctx, bus.CaptureRequest{})
			if err != nil {
				return nil, err
			}
			cr, ok := reply.(bus.CaptureReply)
			if !ok || !cr.OK {
				return nil, fmt.Errorf("whit: capture failed: %s", cr.Error)
			}
			return cr.ImageData, nil
		},
		capture.WithSettleFrames(cfg.Capture.SettleFrames),
		capture.WithLogger(logger),
	)

	ctrl := selection.NewController(
		func(region selection.Region) {
			go finishCapture(ctx, logger, b, session, orch, region)
		},
		func() {
			b.Notify(ctx, bus.CancelSelection{})
			if err := session.StopSelection(ctx); err != nil {
				logger.Debug("whit: stop selection", "error", err)
			}
		},
		selection.WithLogger(logger),
	)

	// The page context owns selection start: the coordinator's handlers
	// never touch the live page directly.
	b.Handle(bus.TypeStartSelection, func(hctx context.Context, _ bus.Message) (bus.Message, error) {
		if err := session.StartSelection(hctx); err != nil {
			return bus.OKReply{T: bus.TypeStartSelection, Error: err.Error()}, nil
		}
		ctrl.Activate()
		return bus.OKReply{T: bus.TypeStartSelection, OK: true}, nil
	})

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "whit", Version: "1.0.0"}, nil)
		co.RegisterMCP(srv)
		go func() {
			logger.Info("whit: MCP serving on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("whit: MCP", "error", err)
			}
		}()
	}

	// Selection starts armed: the overlay is up as soon as the page loads.
	if _, err := b.Request(ctx, bus.StartSelection{}); err != nil {
		return err
	}

	logger.Info("whit: ready", "url", pageURL)
	return session.Pump(ctx, ctrl)
}

// finishCapture runs the pipeline for a confirmed region and publishes
// the result to the coordinator.
func finishCapture(ctx context.Context, logger *slog.Logger, b *bus.Bus,
	session *browser.Session, orch *capture.Orchestrator, region selection.Region) {

	img, err := orch.Run(ctx, region)
	if err != nil {
		logger.Error("whit: capture pipeline", "error", err)
		b.Notify(ctx, bus.CancelSelection{})
	} else {
		if _, err := b.Request(ctx, bus.SetLatestImage{Payload: img}); err != nil {
			logger.Error("whit: publish capture", "error", err)
		}
		b.Notify(ctx, bus.FinishSelection{})
		logger.Info("whit: region captured",
			"width", region.Width, "height", region.Height, "bytes", len(img.ImageData))
	}

	if err := session.StopSelection(ctx); err != nil {
		logger.Debug("whit: stop selection", "error", err)
	}
}
