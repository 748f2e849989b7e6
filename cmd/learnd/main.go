// Learnd is a self-improvement daemon for a conversational agent.
//
// The daemon ingests interaction records, mines them for learning
// patterns, synthesizes a knowledge base, runs controlled experiments
// and numeric optimization passes, and applies the improvements that
// clear its confidence thresholds. Everything is exposed over an HTTP
// API with Server-Sent Event streams for long-running sessions.
//
// Usage:
//
//	# Start the daemon with defaults
//	learnd
//
//	# Configure via file and environment
//	learnd -config /etc/learnd/config.yaml
//	LEARND_SERVER_PORT=9090 learnd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/haldanelabs/learnd/internal/config"
	"github.com/haldanelabs/learnd/internal/events"
	"github.com/haldanelabs/learnd/internal/experiment"
	"github.com/haldanelabs/learnd/internal/feedback"
	"github.com/haldanelabs/learnd/internal/httpapi"
	"github.com/haldanelabs/learnd/internal/knowledge"
	"github.com/haldanelabs/learnd/internal/logging"
	"github.com/haldanelabs/learnd/internal/optimizer"
	"github.com/haldanelabs/learnd/internal/patterns"
	"github.com/haldanelabs/learnd/internal/store"
	"github.com/haldanelabs/learnd/internal/training"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  learnd           Start the learnd daemon\n")
			fmt.Fprintf(os.Stderr, "  learnd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("learnd by Haldane Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Build the logger
//  3. Start or connect to NATS
//  4. Wire the learning subsystems
//  5. Start the orchestrator, scheduler and HTTP server
//  6. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting learnd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)

	// Event broker: embedded in-process server by default.
	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{
			Host:  "127.0.0.1",
			Port:  -1,
			NoLog: true,
		})
		if err != nil {
			return fmt.Errorf("create embedded nats server: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			return fmt.Errorf("embedded nats server not ready")
		}
		defer func() {
			srv.Shutdown()
			srv.WaitForShutdown()
		}()
		natsURL = srv.ClientURL()
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	bus, err := events.NewBus(nc)
	if err != nil {
		return err
	}

	// Learning subsystems.
	interactions := store.NewInMemoryInteractionStore()

	engine, err := patterns.NewEngine(interactions, logger.Named("patterns"))
	if err != nil {
		return err
	}

	optim, err := optimizer.New(
		optimizer.DefaultEvaluator(interactions),
		bus,
		logger.Named("optimizer"),
	)
	if err != nil {
		return err
	}

	experiments, err := experiment.NewRunner(
		experiment.DefaultEvaluator(interactions),
		bus,
		logger.Named("experiment"),
		experiment.WithObservationWindow(cfg.Experiment.ObservationWindow.Duration()),
		experiment.WithSamples(cfg.Experiment.Samples),
	)
	if err != nil {
		return err
	}

	synth, err := knowledge.NewSynthesizer(interactions, logger.Named("knowledge"))
	if err != nil {
		return err
	}

	loop, err := feedback.NewLoop(engine, logger.Named("feedback"))
	if err != nil {
		return err
	}

	orch, err := training.NewOrchestrator(
		interactions,
		engine,
		optim,
		experiments,
		bus,
		logger.Named("training"),
		training.WithFitTimeout(cfg.Training.FitTimeout.Duration()),
	)
	if err != nil {
		return err
	}
	loop.SetRetrainer(orch)
	orch.Start()
	defer orch.Stop()

	var scheduler *training.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = training.NewScheduler(training.SchedulerConfig{
			IncrementalEvery: cfg.Scheduler.IncrementalEvery.Duration(),
			AnalysisEvery:    cfg.Scheduler.AnalysisEvery.Duration(),
			OptimizeEvery:    cfg.Scheduler.OptimizeEvery.Duration(),
			SynthesisEvery:   cfg.Scheduler.SynthesisEvery.Duration(),
		}, orch, synth, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv, err := httpapi.NewServer(httpapi.Deps{
		Interactions: interactions,
		Orchestrator: orch,
		Engine:       engine,
		Optimizer:    optim,
		Experiments:  experiments,
		Synthesizer:  synth,
		Feedback:     loop,
		NATS:         nc,
	}, logger.Named("http"), &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
