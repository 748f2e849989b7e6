package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/knowledge"
)

// Default scheduler cadences.
const (
	defaultIncrementalEvery = time.Hour
	defaultAnalysisEvery    = 6 * time.Hour
	defaultOptimizeEvery    = 12 * time.Hour
	defaultSynthesisEvery   = 24 * time.Hour
)

// SchedulerConfig holds the cadence for each recurring job. Zero values
// fall back to the defaults.
type SchedulerConfig struct {
	// IncrementalEvery is the cadence of incremental training sessions.
	IncrementalEvery time.Duration `koanf:"incremental_every"`

	// AnalysisEvery is the cadence of pattern analysis sessions.
	AnalysisEvery time.Duration `koanf:"analysis_every"`

	// OptimizeEvery is the cadence of optimization sessions.
	OptimizeEvery time.Duration `koanf:"optimize_every"`

	// SynthesisEvery is the cadence of deep knowledge synthesis.
	SynthesisEvery time.Duration `koanf:"synthesis_every"`
}

// withDefaults fills zero cadences.
func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.IncrementalEvery <= 0 {
		c.IncrementalEvery = defaultIncrementalEvery
	}
	if c.AnalysisEvery <= 0 {
		c.AnalysisEvery = defaultAnalysisEvery
	}
	if c.OptimizeEvery <= 0 {
		c.OptimizeEvery = defaultOptimizeEvery
	}
	if c.SynthesisEvery <= 0 {
		c.SynthesisEvery = defaultSynthesisEvery
	}
	return c
}

// Scheduler drives the recurring learning jobs: hourly incremental
// training, periodic pattern analysis, optimization passes and a daily
// deep knowledge synthesis.
type Scheduler struct {
	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cfg    SchedulerConfig
	orch   *Orchestrator
	synth  *knowledge.Synthesizer
	logger *zap.Logger
}

// NewScheduler creates a scheduler over the orchestrator and synthesizer.
func NewScheduler(cfg SchedulerConfig, orch *Orchestrator, synth *knowledge.Synthesizer, logger *zap.Logger) (*Scheduler, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if synth == nil {
		return nil, fmt.Errorf("knowledge synthesizer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		orch:   orch,
		synth:  synth,
		logger: logger,
	}, nil
}

// Start launches one ticker goroutine per job. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.every(s.cfg.IncrementalEvery, "incremental_training", func(ctx context.Context) error {
		_, err := s.orch.Submit(KindIncremental, PriorityNormal)
		return err
	})
	s.every(s.cfg.AnalysisEvery, "pattern_analysis", func(ctx context.Context) error {
		_, err := s.orch.Submit(KindPatternAnalysis, PriorityNormal)
		return err
	})
	s.every(s.cfg.OptimizeEvery, "optimization", func(ctx context.Context) error {
		_, err := s.orch.Submit(KindOptimization, PriorityHigh)
		return err
	})
	s.every(s.cfg.SynthesisEvery, "knowledge_synthesis", func(ctx context.Context) error {
		_, err := s.synth.Synthesize(ctx, knowledge.SourceAll, knowledge.DepthDeep)
		return err
	})

	s.logger.Info("training scheduler started",
		zap.Duration("incremental_every", s.cfg.IncrementalEvery),
		zap.Duration("analysis_every", s.cfg.AnalysisEvery),
		zap.Duration("optimize_every", s.cfg.OptimizeEvery),
		zap.Duration("synthesis_every", s.cfg.SynthesisEvery),
	)
}

// Stop halts all job tickers and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("training scheduler stopped")
}

// every runs fn on a fixed cadence until Stop. Panics in fn are
// recovered so one bad run cannot kill the ticker.
func (s *Scheduler) every(interval time.Duration, name string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runJob(name, fn)
			}
		}
	}()
}

// runJob executes one scheduled run with panic recovery.
func (s *Scheduler) runJob(name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked",
				zap.String("job", name),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Warn("scheduled job failed",
			zap.String("job", name),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("scheduled job ran", zap.String("job", name))
}
