package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haldanelabs/learnd/internal/experiment"
	"github.com/haldanelabs/learnd/internal/feedback"
	"github.com/haldanelabs/learnd/internal/knowledge"
	"github.com/haldanelabs/learnd/internal/store"
	"github.com/haldanelabs/learnd/internal/training"
)

// TrainingStartRequest is the request body for POST /api/v1/training/start.
type TrainingStartRequest struct {
	Kind     string `json:"kind"`
	Priority string `json:"priority"`
}

// handleTrainingStart submits a training session.
func (s *Server) handleTrainingStart(c echo.Context) error {
	var req TrainingStartRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, training.ErrInvalidKind)
	}
	if req.Kind == "" {
		req.Kind = string(training.KindIncremental)
	}
	if req.Priority == "" {
		req.Priority = string(training.PriorityNormal)
	}

	session, err := s.orch.Submit(training.Kind(req.Kind), training.Priority(req.Priority))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusAccepted, session)
}

// TrainingStopRequest is the request body for POST /api/v1/training/stop.
// SessionID is optional; when empty the running session is stopped.
type TrainingStopRequest struct {
	SessionID string `json:"session_id"`
}

// handleTrainingStop cancels a running or pending session.
func (s *Server) handleTrainingStop(c echo.Context) error {
	var req TrainingStopRequest
	_ = c.Bind(&req)

	id := req.SessionID
	if id == "" {
		current := s.orch.Current()
		if current == nil {
			return s.fail(c, training.ErrNotRunning)
		}
		id = current.ID
	}
	if err := s.orch.Cancel(id); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]string{"session_id": id})
}

// TrainingStatusResponse is the response body for GET /api/v1/training/status.
type TrainingStatusResponse struct {
	Current  *training.Session  `json:"current"`
	Sessions []training.Session `json:"sessions"`
}

// handleTrainingStatus returns the running session and recent history.
func (s *Server) handleTrainingStatus(c echo.Context) error {
	return ok(c, http.StatusOK, TrainingStatusResponse{
		Current:  s.orch.Current(),
		Sessions: s.orch.Sessions(),
	})
}

// handleTrainingSession returns one session by ID.
func (s *Server) handleTrainingSession(c echo.Context) error {
	session, err := s.orch.Session(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, session)
}

// handlePatterns returns the learned pattern store.
func (s *Server) handlePatterns(c echo.Context) error {
	return ok(c, http.StatusOK, map[string]any{
		"patterns": s.engine.Patterns(),
		"clusters": s.engine.Clusters(),
	})
}

// handlePatternsAnalyze runs a pattern analysis pass.
func (s *Server) handlePatternsAnalyze(c echo.Context) error {
	res, err := s.engine.Analyze(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

// OptimizationRunRequest is the request body for POST /api/v1/optimization/run.
type OptimizationRunRequest struct {
	Target string `json:"target"`
}

// handleOptimizationRun optimizes one target, or all high-priority
// targets when none is named.
func (s *Server) handleOptimizationRun(c echo.Context) error {
	var req OptimizationRunRequest
	_ = c.Bind(&req)

	if req.Target == "" {
		results, err := s.optim.RunHighPriority(c.Request().Context())
		if err != nil {
			return s.fail(c, err)
		}
		return ok(c, http.StatusOK, results)
	}

	result, err := s.optim.Run(c.Request().Context(), req.Target)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, result)
}

// handleOptimizationTargets lists the configured targets.
func (s *Server) handleOptimizationTargets(c echo.Context) error {
	return ok(c, http.StatusOK, s.optim.Targets())
}

// SynthesizeRequest is the request body for POST /api/v1/knowledge/synthesize.
type SynthesizeRequest struct {
	Source string `json:"source"`
	Depth  string `json:"depth"`
}

// handleKnowledgeSynthesize runs a synthesis pass.
func (s *Server) handleKnowledgeSynthesize(c echo.Context) error {
	var req SynthesizeRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, knowledge.ErrInvalidSource)
	}
	if req.Source == "" {
		req.Source = string(knowledge.SourceAll)
	}
	if req.Depth == "" {
		req.Depth = string(knowledge.DepthMedium)
	}

	res, err := s.synth.Synthesize(c.Request().Context(), knowledge.Source(req.Source), knowledge.Depth(req.Depth))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

// handleKnowledgeItems returns the accumulated knowledge base.
func (s *Server) handleKnowledgeItems(c echo.Context) error {
	return ok(c, http.StatusOK, map[string]any{
		"items":    s.synth.Items(),
		"clusters": s.synth.Clusters(),
	})
}

// ExperimentRunRequest is the request body for POST /api/v1/experiments/run.
type ExperimentRunRequest struct {
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters"`
}

// handleExperimentsRun designs and runs (or queues) an experiment.
func (s *Server) handleExperimentsRun(c echo.Context) error {
	var req ExperimentRunRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, experiment.ErrInvalidKind)
	}
	if req.Kind == "" {
		req.Kind = string(experiment.KindABTest)
	}

	exp, err := s.experiments.Run(c.Request().Context(), experiment.Kind(req.Kind), req.Parameters)
	if err != nil {
		return s.fail(c, err)
	}
	status := http.StatusOK
	if exp.Status == experiment.StatusPlanned {
		status = http.StatusAccepted
	}
	return ok(c, status, exp)
}

// handleExperimentRelease executes a queued experiment.
func (s *Server) handleExperimentRelease(c echo.Context) error {
	exp, err := s.experiments.Release(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, exp)
}

// handleExperimentGet returns one experiment by ID.
func (s *Server) handleExperimentGet(c echo.Context) error {
	exp, err := s.experiments.Get(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, exp)
}

// InteractionRequest is the request body for POST /api/v1/interactions.
type InteractionRequest struct {
	UserID          string            `json:"user_id"`
	Input           string            `json:"input"`
	Response        string            `json:"response"`
	Action          string            `json:"action"`
	Quality         float64           `json:"quality"`
	Satisfaction    float64           `json:"satisfaction"`
	Emotion         string            `json:"emotion"`
	CulturalContext map[string]string `json:"cultural_context"`
	ResponseTimeMs  float64           `json:"response_time_ms"`
	FollowedUp      bool              `json:"followed_up"`
}

// handleInteractionAdd records one interaction.
func (s *Server) handleInteractionAdd(c echo.Context) error {
	var req InteractionRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, store.ErrInvalidRecord)
	}

	rec, err := store.NewInteractionRecord(req.UserID, req.Input, req.Response, req.Quality)
	if err != nil {
		return s.fail(c, err)
	}
	rec.Action = req.Action
	rec.Satisfaction = req.Satisfaction
	rec.Emotion = req.Emotion
	rec.CulturalContext = req.CulturalContext
	rec.ResponseTimeMs = req.ResponseTimeMs
	rec.FollowedUp = req.FollowedUp

	if err := s.interactions.Add(c.Request().Context(), rec); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, rec)
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	Kind       string         `json:"kind"`
	Source     string         `json:"source"`
	Payload    map[string]any `json:"payload"`
	Confidence float64        `json:"confidence"`
	Impact     float64        `json:"impact"`
}

// handleFeedback ingests one feedback item.
func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, feedback.ErrInvalidFeedback)
	}

	item, err := feedback.NewItem(feedback.Kind(req.Kind), req.Source, req.Payload, req.Confidence, req.Impact)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.loop.Ingest(c.Request().Context(), item); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusAccepted, item)
}

// handleFeedbackActions lists pending improvement actions.
func (s *Server) handleFeedbackActions(c echo.Context) error {
	return ok(c, http.StatusOK, s.loop.Pending())
}

// handleFeedbackApply applies a pending action by ID.
func (s *Server) handleFeedbackApply(c echo.Context) error {
	action, err := s.loop.ApplyAction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, action)
}

// LearningProgressResponse aggregates the state of every learning
// subsystem.
type LearningProgressResponse struct {
	Interactions int                `json:"interactions"`
	Patterns     int                `json:"patterns"`
	Knowledge    int                `json:"knowledge_items"`
	Sessions     []training.Session `json:"sessions"`
	Metrics      map[string]float64 `json:"metrics"`
	Insights     []feedback.Insight `json:"insights"`
}

// handleLearningProgress returns the aggregate learning picture.
func (s *Server) handleLearningProgress(c echo.Context) error {
	count, err := s.interactions.Count(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, LearningProgressResponse{
		Interactions: count,
		Patterns:     s.engine.Count(),
		Knowledge:    len(s.synth.Items()),
		Sessions:     s.orch.Sessions(),
		Metrics:      s.loop.Metrics(),
		Insights:     s.loop.Insights(),
	})
}
