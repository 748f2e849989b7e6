package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/events"
	"github.com/haldanelabs/learnd/internal/experiment"
	"github.com/haldanelabs/learnd/internal/feedback"
	"github.com/haldanelabs/learnd/internal/knowledge"
	"github.com/haldanelabs/learnd/internal/optimizer"
	"github.com/haldanelabs/learnd/internal/patterns"
	"github.com/haldanelabs/learnd/internal/store"
	"github.com/haldanelabs/learnd/internal/training"
)

// newTestServer wires every subsystem over an in-memory store. The
// orchestrator worker is not started, so submitted sessions stay queued
// and tests stay deterministic.
func newTestServer(t *testing.T, records int) *Server {
	t.Helper()

	interactions := store.NewInMemoryInteractionStore()
	for i := 0; i < records; i++ {
		rec := store.InteractionRecord{
			ID:           uuid.New().String(),
			UserID:       "u1",
			Input:        "how do i adjust my plan",
			Response:     "open the settings page",
			Quality:      0.8,
			Satisfaction: 0.75,
			Timestamp:    time.Now(),
		}
		require.NoError(t, interactions.Add(context.Background(), &rec))
	}

	engine, err := patterns.NewEngine(interactions, zap.NewNop())
	require.NoError(t, err)
	optim, err := optimizer.New(optimizer.DefaultEvaluator(interactions), events.Nop{}, zap.NewNop(), optimizer.WithSeed(42))
	require.NoError(t, err)
	experiments, err := experiment.NewRunner(experiment.DefaultEvaluator(interactions), events.Nop{}, zap.NewNop(),
		experiment.WithObservationWindow(0),
		experiment.WithSamples(20),
		experiment.WithSeed(1),
	)
	require.NoError(t, err)
	synth, err := knowledge.NewSynthesizer(interactions, zap.NewNop())
	require.NoError(t, err)
	loop, err := feedback.NewLoop(engine, zap.NewNop())
	require.NoError(t, err)
	orch, err := training.NewOrchestrator(interactions, engine, optim, experiments, events.Nop{}, zap.NewNop())
	require.NoError(t, err)

	s, err := NewServer(Deps{
		Interactions: interactions,
		Orchestrator: orch,
		Engine:       engine,
		Optimizer:    optim,
		Experiments:  experiments,
		Synthesizer:  synth,
		Feedback:     loop,
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

// respEnvelope mirrors the wire envelope with raw data for re-decoding.
type respEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, respEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var env respEnvelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Deps{}, zap.NewNop(), nil)
	assert.Error(t, err)

	s := newTestServer(t, 0)
	_, err = NewServer(Deps{
		Interactions: s.interactions,
		Orchestrator: s.orch,
		Engine:       s.engine,
		Optimizer:    s.optim,
		Experiments:  s.experiments,
		Synthesizer:  s.synth,
		Feedback:     s.loop,
	}, nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)

	rec, _ := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 0)

	rec, _ := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestInteractionAdd(t *testing.T) {
	s := newTestServer(t, 0)

	rec, env := do(t, s, http.MethodPost, "/api/v1/interactions", InteractionRequest{
		UserID:          "u1",
		Input:           "hello there",
		Response:        "hi",
		Quality:         0.8,
		Satisfaction:    0.9,
		ResponseTimeMs:  420,
		CulturalContext: map[string]string{"locale": "en-GB"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)

	var created store.InteractionRecord
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 420.0, created.ResponseTimeMs)

	count, err := s.interactions.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInteractionAdd_InvalidRecord(t *testing.T) {
	s := newTestServer(t, 0)

	rec, env := do(t, s, http.MethodPost, "/api/v1/interactions", InteractionRequest{
		UserID: "u1",
		Input:  "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestTrainingStart_Defaults(t *testing.T) {
	s := newTestServer(t, 0)

	rec, env := do(t, s, http.MethodPost, "/api/v1/training/start", map[string]string{})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, env.Success)

	var session training.Session
	require.NoError(t, json.Unmarshal(env.Data, &session))
	assert.Equal(t, training.KindIncremental, session.Kind)
	assert.Equal(t, training.PriorityNormal, session.Priority)
	assert.Equal(t, training.StatusPending, session.Status)
}

func TestTrainingStart_InvalidKind(t *testing.T) {
	s := newTestServer(t, 0)

	rec, env := do(t, s, http.MethodPost, "/api/v1/training/start", map[string]string{"kind": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
}

func TestTrainingStatusAndSession(t *testing.T) {
	s := newTestServer(t, 0)

	_, env := do(t, s, http.MethodPost, "/api/v1/training/start", map[string]string{"kind": "full"})
	var session training.Session
	require.NoError(t, json.Unmarshal(env.Data, &session))

	rec, env := do(t, s, http.MethodGet, "/api/v1/training/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status TrainingStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, session.ID, status.Sessions[0].ID)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/training/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/training/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrainingStop(t *testing.T) {
	s := newTestServer(t, 0)

	// Nothing running and nothing named is a conflict.
	rec, _ := do(t, s, http.MethodPost, "/api/v1/training/stop", map[string]string{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/training/stop", map[string]string{"session_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A queued session cancels by ID.
	_, env := do(t, s, http.MethodPost, "/api/v1/training/start", map[string]string{})
	var session training.Session
	require.NoError(t, json.Unmarshal(env.Data, &session))

	rec, _ = do(t, s, http.MethodPost, "/api/v1/training/stop", map[string]string{"session_id": session.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err := s.orch.Session(session.ID)
	require.NoError(t, err)
	assert.Equal(t, training.StatusFailed, snap.Status)
}

func TestPatternsEndpoints(t *testing.T) {
	s := newTestServer(t, 3)

	rec, env := do(t, s, http.MethodGet, "/api/v1/patterns", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, env = do(t, s, http.MethodGet, "/api/v1/patterns/analyze", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var res patterns.AnalysisResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 3, res.Examined)
}

func TestOptimizationEndpoints(t *testing.T) {
	s := newTestServer(t, 5)

	rec, env := do(t, s, http.MethodGet, "/api/v1/optimization/targets", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, env = do(t, s, http.MethodPost, "/api/v1/optimization/run", map[string]string{"target": "user_satisfaction"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result optimizer.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "user_satisfaction", result.Target)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/optimization/run", map[string]string{"target": "bogus"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A blank target name is rejected outright.
	rec, _ = do(t, s, http.MethodPost, "/api/v1/optimization/run", map[string]string{"target": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeEndpoints(t *testing.T) {
	s := newTestServer(t, 3)

	rec, env := do(t, s, http.MethodPost, "/api/v1/knowledge/synthesize", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)
	var res knowledge.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, knowledge.SourceAll, res.Source)
	assert.Equal(t, knowledge.DepthMedium, res.Depth)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/knowledge/synthesize", map[string]string{"depth": "bottomless"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/api/v1/knowledge/items", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestExperimentEndpoints(t *testing.T) {
	s := newTestServer(t, 3)

	// Low-risk experiments run synchronously.
	rec, env := do(t, s, http.MethodPost, "/api/v1/experiments/run", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var exp experiment.Experiment
	require.NoError(t, json.Unmarshal(env.Data, &exp))
	assert.Equal(t, experiment.StatusCompleted, exp.Status)

	// Medium-risk experiments queue for release.
	rec, env = do(t, s, http.MethodPost, "/api/v1/experiments/run", map[string]any{"kind": "feature_test"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &exp))
	assert.Equal(t, experiment.StatusPlanned, exp.Status)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/release", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/release", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/experiments/"+exp.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/experiments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/experiments/run", map[string]any{"kind": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackEndpoints(t *testing.T) {
	s := newTestServer(t, 0)

	// High-impact feedback drains immediately and leaves a pending action.
	rec, env := do(t, s, http.MethodPost, "/api/v1/feedback", FeedbackRequest{
		Kind:       "explicit",
		Source:     "api",
		Payload:    map[string]any{"text": "the answer was wrong"},
		Confidence: 0.5,
		Impact:     0.9,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, env.Success)

	rec, env = do(t, s, http.MethodGet, "/api/v1/feedback/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var actions []feedback.Action
	require.NoError(t, json.Unmarshal(env.Data, &actions))
	require.Len(t, actions, 1)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/feedback/actions/"+actions[0].ID+"/apply", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/feedback/actions/"+actions[0].ID+"/apply", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/feedback/actions/missing/apply", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/feedback", FeedbackRequest{Kind: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLearningProgress(t *testing.T) {
	s := newTestServer(t, 4)

	rec, env := do(t, s, http.MethodGet, "/api/v1/learning/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var progress LearningProgressResponse
	require.NoError(t, json.Unmarshal(env.Data, &progress))
	assert.Equal(t, 4, progress.Interactions)
	assert.NotNil(t, progress.Metrics)
	assert.Equal(t, 0.7, progress.Metrics["user_satisfaction"])
}

func TestEvents_WithoutBroker(t *testing.T) {
	s := newTestServer(t, 0)

	rec, _ := do(t, s, http.MethodGet, "/api/v1/events/some-session", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
