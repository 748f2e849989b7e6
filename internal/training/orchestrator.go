package training

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/events"
	"github.com/haldanelabs/learnd/internal/experiment"
	"github.com/haldanelabs/learnd/internal/optimizer"
	"github.com/haldanelabs/learnd/internal/patterns"
	"github.com/haldanelabs/learnd/internal/store"
)

// Defaults for the orchestrator.
const (
	defaultFitTimeout  = 10 * time.Minute
	fullWindow         = 1000
	fullEpochs         = 10
	incrementalWindow  = time.Hour
	incrementalEpochs  = 3
	minTrainingRecords = 1
)

// Orchestrator runs training sessions one at a time.
//
// Thread Safety: all public methods are safe for concurrent use. A
// single worker goroutine executes sessions, so two sessions never run
// concurrently.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[string]*Session
	queue    []*Session
	current  *Session
	cancel   context.CancelFunc
	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	started  bool

	interactions store.InteractionStore
	engine       *patterns.Engine
	optim        *optimizer.Optimizer
	experiments  *experiment.Runner
	vectorizer   Vectorizer
	fitter       ModelFitter
	bus          events.Publisher
	logger       *zap.Logger
	fitTimeout   time.Duration
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithFitTimeout overrides the per-session fit timeout.
func WithFitTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.fitTimeout = d }
}

// WithFitter overrides the model fitter.
func WithFitter(f ModelFitter) Option {
	return func(o *Orchestrator) { o.fitter = f }
}

// WithVectorizer overrides the record vectorizer.
func WithVectorizer(v Vectorizer) Option {
	return func(o *Orchestrator) { o.vectorizer = v }
}

// NewOrchestrator creates a training orchestrator.
func NewOrchestrator(
	interactions store.InteractionStore,
	engine *patterns.Engine,
	optim *optimizer.Optimizer,
	experiments *experiment.Runner,
	bus events.Publisher,
	logger *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if interactions == nil {
		return nil, fmt.Errorf("interaction store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("pattern engine cannot be nil")
	}
	if optim == nil {
		return nil, fmt.Errorf("optimizer cannot be nil")
	}
	if experiments == nil {
		return nil, fmt.Errorf("experiment runner cannot be nil")
	}
	if bus == nil {
		bus = events.Nop{}
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	o := &Orchestrator{
		sessions:     make(map[string]*Session),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		interactions: interactions,
		engine:       engine,
		optim:        optim,
		experiments:  experiments,
		vectorizer:   NewBagVectorizer(),
		fitter:       SimulatedFitter{},
		bus:          bus,
		logger:       logger,
		fitTimeout:   defaultFitTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start launches the worker goroutine. Safe to call once.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	go o.worker()
	o.logger.Info("training orchestrator started")
}

// Stop shuts the worker down and waits for any running session to
// finish or be cancelled.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	close(o.stopCh)
	<-o.done
	o.logger.Info("training orchestrator stopped")
}

// Submit enqueues a training session. When no session is running the
// worker picks it up immediately; otherwise it waits its turn behind
// higher-priority work.
func (o *Orchestrator) Submit(kind Kind, priority Priority) (*Session, error) {
	if !validKind(kind) {
		return nil, ErrInvalidKind
	}
	if !validPriority(priority) {
		return nil, ErrInvalidPriority
	}

	s := newSession(kind, priority)

	o.mu.Lock()
	o.sessions[s.ID] = s
	o.queue = append(o.queue, s)
	// Stable sort keeps FIFO order within a priority band.
	sort.SliceStable(o.queue, func(i, j int) bool {
		return o.queue[i].Priority.rank() > o.queue[j].Priority.rank()
	})
	QueueDepth.Set(float64(len(o.queue)))
	o.mu.Unlock()

	o.publishStatus(s)
	o.signal()

	o.logger.Info("training session submitted",
		zap.String("session_id", s.ID),
		zap.String("kind", string(kind)),
		zap.String("priority", string(priority)),
	)
	return o.snapshot(s.ID)
}

// SubmitRetrain submits a high-priority incremental session. This is the
// feedback loop's retrain hook.
func (o *Orchestrator) SubmitRetrain(ctx context.Context) (string, error) {
	s, err := o.Submit(KindIncremental, PriorityHigh)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Session returns a snapshot of the session with the given ID.
func (o *Orchestrator) Session(id string) (*Session, error) {
	return o.snapshot(id)
}

// Current returns a snapshot of the running session, or nil when idle.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	cp := *o.current
	return &cp
}

// Sessions returns snapshots of every known session, newest first.
func (o *Orchestrator) Sessions() []Session {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel stops a running session or removes a pending one. Either way
// the session terminates as failed with the cancellation recorded in
// its results.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	s, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return ErrSessionNotFound
	}

	switch s.Status {
	case StatusRunning:
		if o.cancel != nil {
			o.cancel()
		}
		o.mu.Unlock()
		return nil
	case StatusPending:
		for i, pending := range o.queue {
			if pending.ID == id {
				o.queue = append(o.queue[:i], o.queue[i+1:]...)
				break
			}
		}
		now := time.Now()
		s.Status = StatusFailed
		s.Results["error"] = "session cancelled"
		s.CompletedAt = &now
		QueueDepth.Set(float64(len(o.queue)))
		cp := *s
		o.mu.Unlock()
		o.publishStatus(&cp)
		SessionsTotal.WithLabelValues(string(s.Kind), string(StatusFailed)).Inc()
		return nil
	default:
		o.mu.Unlock()
		return ErrNotRunning
	}
}

// worker drains the queue one session at a time.
func (o *Orchestrator) worker() {
	defer close(o.done)
	for {
		select {
		case <-o.stopCh:
			return
		case <-o.wake:
		}

		for {
			s := o.dequeue()
			if s == nil {
				break
			}
			o.run(s)

			select {
			case <-o.stopCh:
				return
			default:
			}
		}
	}
}

// dequeue pops the head of the queue and marks it running.
func (o *Orchestrator) dequeue() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	s := o.queue[0]
	o.queue = o.queue[1:]
	QueueDepth.Set(float64(len(o.queue)))
	return s
}

// run executes one session with panic recovery. Failures are recorded on
// the session and never propagate.
func (o *Orchestrator) run(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), o.fitTimeout)
	defer cancel()

	now := time.Now()
	o.mu.Lock()
	s.Status = StatusRunning
	s.StartedAt = &now
	o.current = s
	o.cancel = cancel
	cp := *s
	o.mu.Unlock()
	o.publishStatus(&cp)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("session panicked: %v", r)
			}
		}()
		return o.execute(ctx, s)
	}()

	end := time.Now()
	o.mu.Lock()
	s.CompletedAt = &end
	if err != nil {
		s.Status = StatusFailed
		s.Results["error"] = err.Error()
	} else {
		s.Status = StatusCompleted
		s.Progress = 100
	}
	o.current = nil
	o.cancel = nil
	cp = *s
	o.mu.Unlock()

	o.publishStatus(&cp)
	SessionsTotal.WithLabelValues(string(s.Kind), string(cp.Status)).Inc()
	SessionDuration.WithLabelValues(string(s.Kind)).Observe(end.Sub(now).Seconds())

	if err != nil {
		o.logger.Warn("training session failed",
			zap.String("session_id", s.ID),
			zap.String("kind", string(s.Kind)),
			zap.Error(err),
		)
		return
	}
	o.logger.Info("training session completed",
		zap.String("session_id", s.ID),
		zap.String("kind", string(s.Kind)),
		zap.Duration("duration", end.Sub(now)),
	)
}

// execute dispatches a session to its strategy.
func (o *Orchestrator) execute(ctx context.Context, s *Session) error {
	switch s.Kind {
	case KindFull:
		return o.runFit(ctx, s, fullWindow, fullEpochs, false)
	case KindIncremental:
		return o.runFit(ctx, s, 0, incrementalEpochs, true)
	case KindPatternAnalysis:
		return o.runPatternAnalysis(ctx, s)
	case KindOptimization:
		return o.runOptimization(ctx, s)
	case KindExperiment:
		return o.runExperiment(ctx, s)
	default:
		return ErrInvalidKind
	}
}

// runFit vectorizes a record window and fits the model over it. Full
// sessions train on the top-quality window; incremental sessions train
// on the last hour of interactions.
func (o *Orchestrator) runFit(ctx context.Context, s *Session, window, epochs int, incremental bool) error {
	var (
		records []store.InteractionRecord
		err     error
	)
	if incremental {
		records, err = o.interactions.Since(ctx, time.Now().Add(-incrementalWindow))
	} else {
		records, err = o.interactions.TopQuality(ctx, window)
	}
	if err != nil {
		return fmt.Errorf("load training records: %w", err)
	}
	if len(records) < minTrainingRecords {
		return fmt.Errorf("not enough interaction records to train on")
	}

	vectors := make([][]float64, len(records))
	var qualitySum float64
	for i := range records {
		vectors[i] = o.vectorizer.Vectorize(&records[i])
		qualitySum += records[i].Quality
	}

	final, err := o.fitter.Fit(ctx, vectors, epochs, func(report EpochReport) error {
		o.mu.Lock()
		s.Progress = float64(report.Epoch) / float64(epochs) * 100
		s.Metrics.Epochs = report.Epoch
		s.Metrics.Loss = report.Loss
		s.Metrics.Accuracy = report.Accuracy
		cp := *s
		o.mu.Unlock()
		o.publishProgress(&cp)
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("model fit: %w", err)
	}

	o.mu.Lock()
	s.Metrics.RecordsProcessed = len(records)
	s.Metrics.Epochs = final.Epoch
	s.Metrics.Loss = final.Loss
	s.Metrics.Accuracy = final.Accuracy
	s.Metrics.QualityMean = qualitySum / float64(len(records))
	s.Results["records"] = len(records)
	s.Results["final_loss"] = final.Loss
	o.mu.Unlock()
	return nil
}

// runPatternAnalysis delegates to the pattern engine.
func (o *Orchestrator) runPatternAnalysis(ctx context.Context, s *Session) error {
	res, err := o.engine.Analyze(ctx)
	if err != nil {
		return fmt.Errorf("pattern analysis: %w", err)
	}
	o.mu.Lock()
	s.Metrics.RecordsProcessed = res.Examined
	s.Results["new_patterns"] = len(res.NewPatterns)
	s.Results["merged"] = res.Merged
	s.Results["rejected"] = res.Rejected
	o.mu.Unlock()
	return nil
}

// runOptimization runs the high-priority optimization pass.
func (o *Orchestrator) runOptimization(ctx context.Context, s *Session) error {
	results, err := o.optim.RunHighPriority(ctx)
	if err != nil {
		return fmt.Errorf("optimization pass: %w", err)
	}
	applied := 0
	for _, r := range results {
		if r.Applied {
			applied++
		}
	}
	o.mu.Lock()
	s.Results["runs"] = len(results)
	s.Results["applied"] = applied
	o.mu.Unlock()
	return nil
}

// runExperiment runs a default AB test.
func (o *Orchestrator) runExperiment(ctx context.Context, s *Session) error {
	exp, err := o.experiments.Run(ctx, experiment.KindABTest, nil)
	if err != nil {
		return fmt.Errorf("experiment run: %w", err)
	}
	o.mu.Lock()
	s.Results["experiment_id"] = exp.ID
	s.Results["status"] = string(exp.Status)
	if exp.Results != nil {
		s.Results["winner"] = exp.Results.Winner
	}
	o.mu.Unlock()
	return nil
}

// signal wakes the worker without blocking.
func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// snapshot returns a copy of a session by ID.
func (o *Orchestrator) snapshot(id string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// publishStatus emits a training_status event for the session.
func (o *Orchestrator) publishStatus(s *Session) {
	if err := o.bus.Publish(s.ID, events.EventTrainingStatus, s); err != nil {
		o.logger.Debug("publish training status", zap.Error(err))
	}
}

// publishProgress emits a training_progress event for the session.
func (o *Orchestrator) publishProgress(s *Session) {
	if err := o.bus.Publish(s.ID, events.EventTrainingProgress, s); err != nil {
		o.logger.Debug("publish training progress", zap.Error(err))
	}
}
