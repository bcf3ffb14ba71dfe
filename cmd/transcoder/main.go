package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basekick-labs/transcoder/internal/api"
	"github.com/basekick-labs/transcoder/internal/config"
	"github.com/basekick-labs/transcoder/internal/logger"
	"github.com/basekick-labs/transcoder/internal/metrics"
	"github.com/basekick-labs/transcoder/internal/pipeline"
	"github.com/basekick-labs/transcoder/internal/scheduler"
	"github.com/basekick-labs/transcoder/internal/shutdown"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

const usage = `Usage: transcoder <command> [flags]

Commands:
  run     map the configured source once and exit
  serve   run on a schedule with the status API
  version print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "serve":
		err = serveCommand(os.Args[2:])
	case "version":
		fmt.Println(Version)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Msg("transcoder failed")
		os.Exit(1)
	}
}

// loadConfig parses the shared flags, loads and validates the configuration
// and sets up logging.
func loadConfig(name string, args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to transcoder.toml (default: search ./, /etc/transcoder/, ~/.transcoder/)")
	logLevel := fs.String("log-level", "", "override log.level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	metrics.Init(logger.Get("metrics"))
	return cfg, nil
}

// runCommand performs a single run. A failed run exits non-zero.
func runCommand(args []string) error {
	cfg, err := loadConfig("run", args)
	if err != nil {
		return err
	}

	backend, err := storage.New(cfg.Storage, logger.Get("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	runner, err := pipeline.NewFromConfig(cfg, backend, logger.Get("pipeline"))
	if err != nil {
		return err
	}

	coordinator := shutdown.New(time.Duration(cfg.Server.ShutdownTimeout)*time.Second, logger.Get("shutdown"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// Cancel the run on SIGINT/SIGTERM
		coordinator.WaitForSignal(ctx)
		cancel()
	}()

	report, err := runner.Run(ctx, "cli")
	if report != nil {
		log.Info().
			Str("run_id", report.RunID).
			Str("status", string(report.Status)).
			Int64("rows", report.Rows).
			Int64("records", report.Records).
			Int64("duration_ms", report.DurationMs).
			Msg("Run finished")
	}
	return err
}

// serveCommand runs the scheduler and the status API until a signal arrives
func serveCommand(args []string) error {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		return err
	}
	log.Info().Str("version", Version).Msg("Starting transcoder...")

	coordinator := shutdown.New(time.Duration(cfg.Server.ShutdownTimeout)*time.Second, logger.Get("shutdown"))

	backend, err := storage.New(cfg.Storage, logger.Get("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	coordinator.Register("storage", backend, shutdown.PriorityStorage)

	runner, err := pipeline.NewFromConfig(cfg, backend, logger.Get("pipeline"))
	if err != nil {
		coordinator.Shutdown()
		return err
	}

	// Runs started by the scheduler or the API are canceled on shutdown
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	sched, err := scheduler.NewRunScheduler(&scheduler.RunSchedulerConfig{
		Runner:   runner,
		Schedule: cfg.Scheduler.Schedule,
		Context:  runCtx,
		Logger:   logger.Get("scheduler"),
	})
	if err != nil {
		coordinator.Shutdown()
		return fmt.Errorf("invalid scheduler.schedule: %w", err)
	}
	if err := sched.Start(); err != nil {
		coordinator.Shutdown()
		return err
	}
	coordinator.RegisterHook("scheduler", func(ctx context.Context) error {
		// Stop waits for an active scheduled run, so abort it first
		cancelRuns()
		sched.Stop()
		return nil
	}, shutdown.PriorityScheduler)

	var serverErr <-chan error
	if cfg.Server.Enabled {
		server := api.NewServer(&api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:  120 * time.Second,
		}, logger.Get("api"))
		server.RegisterRoutes()
		server.AddReadinessCheck("storage", func(ctx context.Context) error {
			// any answer other than an error proves the backend is reachable
			_, err := backend.Exists(ctx, cfg.Output.Prefix+"/.probe")
			return err
		})
		server.AddReadinessCheck("scheduler", func(ctx context.Context) error {
			if !sched.IsRunning() {
				return errors.New("scheduler is not running")
			}
			return nil
		})

		runs := api.NewRunsHandler(runCtx, runner, logger.Get("runs-api"))
		runs.RegisterRoutes(server.GetApp())

		coordinator.RegisterHook("http-server", server.Shutdown, shutdown.PriorityHTTPServer)
		coordinator.RegisterHook("api-runs", func(ctx context.Context) error {
			cancelRuns()
			return runs.Wait(ctx)
		}, shutdown.PriorityRuns)

		serverErr = server.Start()
	} else {
		coordinator.RegisterHook("runs", func(ctx context.Context) error {
			cancelRuns()
			return nil
		}, shutdown.PriorityRuns)
	}

	log.Info().
		Str("schedule", sched.Schedule()).
		Time("next_run", sched.NextRun()).
		Bool("api", cfg.Server.Enabled).
		Int("port", cfg.Server.Port).
		Str("version", Version).
		Msg("Transcoder is ready!")

	waitCtx, stopWaiting := context.WithCancel(context.Background())
	defer stopWaiting()
	go func() {
		if serverErr == nil {
			return
		}
		if err, ok := <-serverErr; ok && err != nil {
			log.Error().Err(err).Msg("HTTP server failed, shutting down")
			coordinator.TriggerShutdown()
		}
	}()

	sig := coordinator.WaitForSignal(waitCtx)
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	if err := coordinator.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown completed with errors: %w", err)
	}

	log.Info().Msg("Transcoder shutdown complete")
	return nil
}
