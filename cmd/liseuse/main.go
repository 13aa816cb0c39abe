// Command liseuse is the capture daemon for paginated cloud documents.
//
// Usage:
//
//	liseuse -config liseuse.yaml
//	liseuse -listen :8750 -db liseuse.db -data-dir data
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liseuse/capture"
	"github.com/hazyhaar/liseuse/config"
	"github.com/hazyhaar/liseuse/httpapi"
	"github.com/hazyhaar/liseuse/ocr"
	"github.com/hazyhaar/liseuse/reader"
	"github.com/hazyhaar/liseuse/store"
)

func main() {
	configPath := flag.String("config", "", "path to liseuse.yaml config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	dataDir := flag.String("data-dir", "", "page image directory (overrides config)")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen, *dbPath, *dataDir); err != nil {
		logger.Error("liseuse: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen, dbPath, dataDir string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	st, err := store.Open(cfg.Storage.DBPath, cfg.Storage.DataDir, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.Storage.ExportDir, 0o755); err != nil {
		return err
	}

	browser := reader.NewManager(reader.Config{
		RemoteURL:     cfg.Browser.Remote,
		UserDataDir:   cfg.Browser.UserDataDir,
		Headful:       cfg.Browser.Stealth == "headful",
		XvfbDisplay:   cfg.Browser.XvfbDisplay,
		NextSelectors: cfg.Browser.NextSelectors,
		EndSelectors:  cfg.Browser.EndSelectors,
		SurfaceFrame:  cfg.Browser.SurfaceFrame,
		Logger:        logger,
	})
	if err := browser.Start(ctx); err != nil {
		return err
	}
	defer browser.Close()

	sinks := []capture.PageSink{st}
	if cfg.OCR.Enabled {
		sinks = append(sinks, ocr.NewRecognizer(st, ocr.Config{
			Languages: cfg.OCR.Languages,
			DPI:       cfg.OCR.DPI,
			Logger:    logger,
		}))
	}

	mgr := capture.NewManager(
		browser.Factory(),
		capture.NewPageFanout(logger, sinks...),
		capture.NewReporterRouter(capture.SlogReporter{Logger: logger}, st),
		capture.Config{
			DuplicateThreshold: cfg.Capture.DuplicateThreshold,
			BackoffBase:        cfg.Capture.BackoffBase.Std(),
			BackoffMax:         cfg.Capture.BackoffMax.Std(),
			OpTimeout:          cfg.Capture.OpTimeout.Std(),
			Logger:             logger,
		},
	)

	svc := httpapi.NewService(mgr, st, cfg.Storage.ExportDir, logger)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("liseuse: listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := mgr.Shutdown(shutCtx); err != nil {
			logger.Warn("liseuse: session drain incomplete", "error", err)
		}
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
