// go-mlat: position tracking daemon
// Estimates a transmitter's position from observation point ranges and serves it over HTTP
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-mlat/internal/config"
	"github.com/teslashibe/go-mlat/internal/gateway"
	"github.com/teslashibe/go-mlat/internal/health"
	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/protocol"
	"github.com/teslashibe/go-mlat/internal/server"
	"github.com/teslashibe/go-mlat/internal/simulator"
	"github.com/teslashibe/go-mlat/internal/tracker"
	"github.com/teslashibe/go-mlat/internal/uplink"
)

var (
	version     = "0.1.0"
	configPath  = flag.String("config", "/etc/go-mlat/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-mlat %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	// Override log level if debug flag is set
	if *debug {
		cfg.Logging.Level = "debug"
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-mlat",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize range source
	source, err := newSource(cfg, logger)
	if err != nil {
		logger.Error("failed to create range source", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	logger.Info("range source ready",
		"type", source.Name(),
		"healthy", source.Healthy(),
	)

	// Create tracker configuration from config
	trackerCfg := tracker.TrackerConfig{
		PollInterval: cfg.Tracker.PollInterval(),
		EMAAlpha:     cfg.Tracker.EMAAlpha,
		HistorySize:  cfg.Tracker.HistorySize,
		Estimation:   cfg.Tracker.Options(),
		Confidence: tracker.ConfidenceConfig{
			Base:            cfg.Tracker.Confidence.Base,
			AgreementBonus:  cfg.Tracker.Confidence.AgreementBonus,
			StabilityBonus:  cfg.Tracker.Confidence.StabilityBonus,
			StabilityRadius: cfg.Tracker.Confidence.StabilityRadius,
		},
	}

	// Create tracker
	trk := tracker.NewTracker(source, trackerCfg, logger)

	// Start tracker in background
	go func() {
		if err := trk.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("tracker error", "error", err)
		}
	}()

	checker := health.NewChecker(version)

	// Optional uplink to a collector
	var up *uplink.Client
	if cfg.Uplink.Enabled {
		up = startUplink(ctx, cfg.Uplink, trk, checker, logger)
	}

	// Create server
	srv := server.New(cfg, trk, checker, logger, version)

	// Start WebSocket hub in background
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Print startup info
	printStartupBanner(cfg, version)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> uplink -> tracker -> source
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	if up != nil {
		logger.Info("closing uplink...")
		up.Close()
	}

	logger.Info("stopping tracker...")
	trk.Stop()

	logger.Info("go-mlat stopped")
}

func newSource(cfg *config.Config, logger *slog.Logger) (tracker.Source, error) {
	switch cfg.Source.Type {
	case "gateway":
		logger.Info("using gateway range source", "url", cfg.Source.GatewayURL)
		return gateway.NewSource(gateway.Config{
			BaseURL:     cfg.Source.GatewayURL,
			Timeout:     cfg.Source.Timeout,
			RateLimitHz: cfg.Source.RateLimitHz,
			Wavelength:  cfg.Scene.WavelengthM,
			TxPower:     cfg.Scene.TxPowerDBm,
			TxGain:      cfg.Scene.TxGainDBi,
		}, logger), nil
	default:
		logger.Info("using simulated range source",
			"observers", len(cfg.Scene.Observers),
			"noise_stddev_db", cfg.Scene.NoiseStdDevDB,
		)
		source, err := simulator.NewSource(simulator.Config{
			Scenario: cfg.Scene.Scenario(),
			Motion: simulator.Motion{
				Center: mlat.Pt(cfg.Scene.Motion.CenterX, cfg.Scene.Motion.CenterY),
				Radius: cfg.Scene.Motion.Radius,
				Period: cfg.Scene.Motion.Period,
			},
			NoiseStdDev: cfg.Scene.NoiseStdDevDB,
			Seed:        cfg.Scene.Seed,
		})
		if err != nil {
			return nil, err
		}
		return source, nil
	}
}

func startUplink(ctx context.Context, cfg config.UplinkConfig, trk *tracker.Tracker, checker *health.Checker, logger *slog.Logger) *uplink.Client {
	client := uplink.NewClient(uplink.Config{
		URL:              cfg.URL,
		ReconnectBackoff: cfg.ReconnectBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		PingInterval:     cfg.PingInterval,
		WriteTimeout:     cfg.WriteTimeout,
	}, logger)

	client.OnConfigUpdate(func(update protocol.ConfigUpdate) error {
		return update.Apply(trk)
	})

	checker.Register("uplink", false, func() (bool, string) {
		if client.IsConnected() {
			return true, cfg.URL
		}
		return false, "disconnected"
	})

	if err := client.Connect(ctx); err != nil {
		logger.Warn("uplink connect failed", "error", err)
	}

	go client.Forward(ctx, trk.Subscribe())

	logger.Info("uplink enabled", "url", cfg.URL)
	return client
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("📡 go-mlat v" + version)
	fmt.Println("   Multilateration position tracker")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET   /health               - Health check")
	fmt.Println("   GET   /api/position         - Current position fix")
	fmt.Println("   WS    /api/position/stream  - Real-time position stream")
	fmt.Println("   GET   /api/history          - Recent fixes")
	fmt.Println("   POST  /api/estimate         - Estimate from posted ranges")
	fmt.Println("   POST  /api/distance         - Range from received power")
	fmt.Println("   POST  /api/simulate         - Run one simulated scenario")
	fmt.Println("   GET   /api/config           - Current configuration")
	fmt.Println("   PATCH /api/config           - Tune trim fraction / EMA alpha")
	fmt.Println("   GET   /api/stats            - Tracker statistics")
	fmt.Println("   GET   /metrics              - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
