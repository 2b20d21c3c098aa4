// Command detect runs one detection against the detection service from a
// terminal: select a file, apply the threshold, print the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
	"github.com/vzahanych/detection-dashboard/internal/cli"
	"github.com/vzahanych/detection-dashboard/internal/config"
	"github.com/vzahanych/detection-dashboard/internal/dashboard"
	"github.com/vzahanych/detection-dashboard/internal/detector"
	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/selection"
)

func main() {
	var (
		configPath string
		threshold  float64
		showStats  bool
		reset      bool
		assumeYes  bool
		quiet      bool
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Float64Var(&threshold, "threshold", -1, "Confidence threshold between 0 and 1 (default from config)")
	flag.BoolVar(&showStats, "stats", false, "Print detection statistics")
	flag.BoolVar(&reset, "reset", false, "Reset statistics and stored files on the service")
	flag.BoolVar(&assumeYes, "yes", false, "Do not ask for confirmation")
	flag.BoolVar(&quiet, "q", false, "Only print results and errors")
	flag.BoolVar(&verbose, "v", false, "Log requests")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [image-or-video]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() > 1 || (flag.NArg() == 0 && !showStats && !reset) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logger.New(logger.LogConfig{Level: level, Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	term := cli.NewTerminal(os.Stdout)
	term.Quiet = quiet

	opts := dashboard.OptionsFromConfig(cfg)
	opts.Detector = detector.NewClient(detector.ClientConfig{
		ServiceURL: cfg.Dashboard.ServiceURL,
		Timeout:    cfg.Dashboard.RequestTimeout,
	}, log.Named("detector"), nil)
	opts.View = term
	opts.Logger = log
	dash := dashboard.New(opts)

	code := run(ctx, dash, runOptions{
		path:      flag.Arg(0),
		threshold: threshold,
		showStats: showStats,
		reset:     reset,
		assumeYes: assumeYes,
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dash.Close(closeCtx); err != nil {
		log.Warn("Failed to close dashboard", "error", err)
	}

	if code != 0 {
		log.Sync()
		os.Exit(code)
	}
}

type runOptions struct {
	path      string
	threshold float64
	showStats bool
	reset     bool
	assumeYes bool
}

// run returns the process exit code. Failures are already reported on the
// terminal through the dashboard's notifications.
func run(ctx context.Context, dash *dashboard.Controller, opts runOptions) int {
	if opts.reset {
		var confirmer dashboard.Confirmer = cli.NewPrompt(os.Stdin, os.Stdout)
		if opts.assumeYes {
			confirmer = dashboard.ConfirmFunc(func(context.Context, string) (bool, error) {
				return true, nil
			})
		}
		done, err := dash.Reset(ctx, confirmer)
		if err != nil {
			return 1
		}
		if !done {
			fmt.Println("Reset cancelled")
		}
	}

	if opts.path != "" {
		if code := detect(ctx, dash, opts.path, opts.threshold); code != 0 {
			return code
		}
	}

	if opts.showStats && !opts.reset && opts.path == "" {
		if err := dash.RefreshStats(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fetch statistics: %s\n", apperrors.UserMessage(err, err.Error()))
			return 1
		}
	}
	return 0
}

func detect(ctx context.Context, dash *dashboard.Controller, path string, threshold float64) int {
	f, err := selection.FromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if threshold >= 0 {
		if err := dash.SetThreshold(threshold); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 2
		}
	}

	if strings.HasPrefix(f.MIMEType, "video/") {
		if err := dash.SelectVideo(f); err != nil {
			return 1
		}
		if err := dash.DetectVideo(ctx); err != nil {
			return 1
		}
		return 0
	}

	if err := dash.SelectImage(f); err != nil {
		return 1
	}
	if err := dash.DetectImage(ctx); err != nil {
		return 1
	}
	return 0
}
