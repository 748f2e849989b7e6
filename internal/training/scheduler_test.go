package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/events"
	"github.com/haldanelabs/learnd/internal/knowledge"
	"github.com/haldanelabs/learnd/internal/store"
)

func newTestSynth(t *testing.T) *knowledge.Synthesizer {
	t.Helper()
	synth, err := knowledge.NewSynthesizer(store.NewInMemoryInteractionStore(), zap.NewNop())
	require.NoError(t, err)
	return synth
}

func TestSchedulerConfig_WithDefaults(t *testing.T) {
	cfg := SchedulerConfig{}.withDefaults()
	assert.Equal(t, defaultIncrementalEvery, cfg.IncrementalEvery)
	assert.Equal(t, defaultAnalysisEvery, cfg.AnalysisEvery)
	assert.Equal(t, defaultOptimizeEvery, cfg.OptimizeEvery)
	assert.Equal(t, defaultSynthesisEvery, cfg.SynthesisEvery)

	custom := SchedulerConfig{IncrementalEvery: time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, custom.IncrementalEvery)
	assert.Equal(t, defaultAnalysisEvery, custom.AnalysisEvery)
}

func TestNewScheduler_Validation(t *testing.T) {
	o := newTestOrchestrator(t, 0, events.Nop{})
	synth := newTestSynth(t)

	_, err := NewScheduler(SchedulerConfig{}, nil, synth, zap.NewNop())
	assert.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{}, o, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{}, o, synth, nil)
	assert.Error(t, err)
}

func TestScheduler_SubmitsIncrementalOnCadence(t *testing.T) {
	o := newTestOrchestrator(t, 2, events.Nop{})
	cfg := SchedulerConfig{
		IncrementalEvery: 20 * time.Millisecond,
		AnalysisEvery:    time.Hour,
		OptimizeEvery:    time.Hour,
		SynthesisEvery:   time.Hour,
	}
	s, err := NewScheduler(cfg, o, newTestSynth(t), zap.NewNop())
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		for _, sess := range o.Sessions() {
			if sess.Kind == KindIncremental {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t, 0, events.Nop{})
	s, err := NewScheduler(SchedulerConfig{}, o, newTestSynth(t), zap.NewNop())
	require.NoError(t, err)

	// Stop before Start is a no-op, and stopping twice is safe.
	s.Stop()
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
