package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/detection-dashboard/internal/config"
	"github.com/vzahanych/detection-dashboard/internal/dashboard"
	"github.com/vzahanych/detection-dashboard/internal/detector"
	"github.com/vzahanych/detection-dashboard/internal/health"
	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/service"
	"github.com/vzahanych/detection-dashboard/internal/stream"
	"github.com/vzahanych/detection-dashboard/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Detection Dashboard",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"service_url", cfg.Dashboard.ServiceURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	client := detector.NewClient(detector.ClientConfig{
		ServiceURL: cfg.Dashboard.ServiceURL,
		Timeout:    cfg.Dashboard.RequestTimeout,
	}, log.Named("detector"), m)

	hub := web.NewHub(log.Named("hub"), m)

	opts := dashboard.OptionsFromConfig(cfg)
	opts.Detector = client
	opts.View = hub
	opts.Logger = log
	opts.Metrics = m
	opts.OpenFeed = func(ctx context.Context) (stream.Frames, error) {
		feed, err := client.OpenFeed(ctx)
		if err != nil {
			return nil, err
		}
		return feed, nil
	}
	dash := dashboard.New(opts)

	// Create service manager
	svcMgr := service.NewManager(log)

	// Create health check manager
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewDetectionServiceChecker(client))
	healthMgr.RegisterChecker(health.NewStreamChecker(dash))
	healthMgr.RegisterChecker(&health.SystemChecker{})

	server := web.NewServer(&cfg.Web, cfg.Limits, dash, hub, healthMgr, m, log)

	svcMgr.Register(dash)
	svcMgr.Register(server)

	// Initialize and start services
	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
