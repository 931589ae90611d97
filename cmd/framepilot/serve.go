package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framepilot/framepilot/internal/capture"
	"github.com/framepilot/framepilot/internal/config"
	"github.com/framepilot/framepilot/internal/controller"
	"github.com/framepilot/framepilot/internal/devlink"
	"github.com/framepilot/framepilot/internal/journal"
	"github.com/framepilot/framepilot/internal/server"
	"github.com/framepilot/framepilot/internal/vision/cache"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/library"
	"github.com/framepilot/framepilot/internal/vision/match"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	capturer, err := capture.New(cfg.Capture.Backend, cfg.Capture.ZMQAddr)
	if err != nil {
		return err
	}
	defer capturer.Close()

	session, err := devlink.Open(devlink.Config{
		Port:       cfg.Device.Port,
		BaudRate:   cfg.Device.BaudRate,
		MaxRetries: cfg.Device.MaxRetries,
	})
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer func() { _ = jrnl.Close() }()

	prints := fingerprint.New()
	lib, err := library.Load(cfg.Vision.ManifestPath, prints)
	if err != nil {
		return err
	}

	matchCache, err := cache.New(cfg.Vision.CacheCapacity)
	if err != nil {
		return err
	}

	ctrl := controller.New(controller.Deps{
		Capturer:     capturer,
		Prints:       prints,
		Library:      lib,
		Cache:        matchCache,
		Matcher:      match.New(prints, cfg.Vision.AcceptThreshold, cfg.Vision.MaxHashDistance),
		Dispatcher:   session,
		Journal:      jrnl,
		TickInterval: cfg.TickInterval(),
		AckTimeout:   cfg.AckTimeout(),
		Cooldown:     cfg.Cooldown(),
	})

	srv := server.New(ctrl, jrnl, prints)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ctrl.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Handler(),
		// Header-only deadline: the websocket stream stays open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("daemon starting",
			"http", cfg.HTTPAddr,
			"port", cfg.Device.Port,
			"backend", cfg.Capture.Backend,
			"templates", lib.Len())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()
	ctrl.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
