package host

import (
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"nasenv/internal/logging"
)

// CreateSessionRequest is the API request for session creation
type CreateSessionRequest struct {
	Task          string  `json:"task"`
	Cell          string  `json:"cell"`
	Nodes         int     `json:"nodes"`
	MaxEpisodeLen int     `json:"max_episode_len"`
	MutateAmount  float64 `json:"mutate_amount"`
	Estimator     string  `json:"estimator"`
	Samples       int     `json:"samples"`
	TestMode      bool    `json:"test_mode"`
	Seed          int64   `json:"seed"`
}

// CreateSessionResponse is the API response for session creation
type CreateSessionResponse struct {
	SessionID       string    `json:"session_id"`
	Task            string    `json:"task"`
	Observation     []float64 `json:"observation"`
	ObservationSize int       `json:"observation_size"`
	ActionSpaceSize int       `json:"action_space_size"`
}

// ResetResponse is the API response for an episode reset
type ResetResponse struct {
	Observation []float64 `json:"observation"`
}

// StepRequest is the API request for one environment step
type StepRequest struct {
	Action int `json:"action"`
}

// StepResponse is the API response for one environment step
type StepResponse struct {
	Observation []float64 `json:"observation"`
	Reward      float64   `json:"reward"`
	Done        bool      `json:"done"`
	Info        StepInfo  `json:"info"`
}

// StepInfo carries the step bookkeeping of a StepResponse
type StepInfo struct {
	StepCount   int      `json:"step_count"`
	ActionID    int      `json:"action_id"`
	Action      string   `json:"action"`
	Acc         *float64 `json:"acc"`
	RunningTime int      `json:"running_time"`
}

// StateResponse is the API response for a session state summary
type StateResponse struct {
	SessionID   string  `json:"session_id"`
	Task        string  `json:"task"`
	Cell        string  `json:"cell"`
	StepCount   int     `json:"step_count"`
	Baseline    float64 `json:"baseline"`
	MaxAccuracy float64 `json:"max_accuracy"`
	Genotype    string  `json:"genotype,omitempty"`
	CreatedAt   string  `json:"created_at"`
	LastStepAt  string  `json:"last_step_at,omitempty"`
}

// RenderResponse is the API response for the text render of a session
type RenderResponse struct {
	Render string `json:"render"`
}

// HealthResponse is the API response for health checks
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Uptime         string `json:"uptime"`
}

// MetricsResponse is the API response for host metrics
type MetricsResponse struct {
	ActiveSessions  int              `json:"active_sessions"`
	SessionsCreated int64            `json:"sessions_created"`
	StepsServed     int64            `json:"steps_served"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	Sessions        []SessionSummary `json:"sessions"`
}

// SessionSummary is the per-session slice of a MetricsResponse
type SessionSummary struct {
	SessionID   string  `json:"session_id"`
	Task        string  `json:"task"`
	StepCount   int     `json:"step_count"`
	MaxAccuracy float64 `json:"max_accuracy"`
}

// Server exposes a session manager over REST.
type Server struct {
	manager *Manager
	log     *logging.Logger
}

// NewServer creates an API server around a session manager.
func NewServer(manager *Manager, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	return &Server{manager: manager, log: log}
}

// Router builds the gin engine with all API routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.POST("/sessions", s.handleCreateSession)
		api.POST("/sessions/:id/reset", s.handleReset)
		api.POST("/sessions/:id/step", s.handleStep)
		api.GET("/sessions/:id/state", s.handleState)
		api.GET("/sessions/:id/render", s.handleRender)
		api.DELETE("/sessions/:id", s.handleCloseSession)

		api.GET("/health", s.handleHealth)
		api.GET("/metrics", s.handleMetrics)
		api.POST("/shutdown", s.handleShutdown)
	}

	return router
}

// handleCreateSession handles session creation requests
func (s *Server) handleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, obs, err := s.manager.Create(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, CreateSessionResponse{
		SessionID:       session.ID,
		Task:            session.Task,
		Observation:     obs,
		ObservationSize: session.env.ObservationSize(),
		ActionSpaceSize: session.env.ActionSpaceSize(),
	})
}

// handleReset handles episode reset requests
func (s *Server) handleReset(c *gin.Context) {
	obs, err := s.manager.Reset(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, ResetResponse{Observation: obs})
}

// handleStep handles environment step requests
func (s *Server) handleStep(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.manager.Step(c.Param("id"), req.Action)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, StepResponse{
		Observation: res.Observation,
		Reward:      res.Reward,
		Done:        res.Done,
		Info: StepInfo{
			StepCount:   res.Info.StepCount,
			ActionID:    res.Info.ActionID,
			Action:      res.Info.Action,
			Acc:         res.Info.Acc,
			RunningTime: res.Info.RunningTime,
		},
	})
}

// handleState handles session state requests
func (s *Server) handleState(c *gin.Context) {
	state, err := s.manager.State(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := StateResponse{
		SessionID:   state.SessionID,
		Task:        state.Task,
		Cell:        state.Cell,
		StepCount:   state.StepCount,
		Baseline:    state.Baseline,
		MaxAccuracy: state.MaxAccuracy,
		Genotype:    state.Genotype,
		CreatedAt:   state.CreatedAt.Format(time.RFC3339),
	}
	if !state.LastStepAt.IsZero() {
		resp.LastStepAt = state.LastStepAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// handleRender handles session render requests
func (s *Server) handleRender(c *gin.Context) {
	text, err := s.manager.Render(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, RenderResponse{Render: text})
}

// handleCloseSession handles session close requests
func (s *Server) handleCloseSession(c *gin.Context) {
	if err := s.manager.Close(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	health := s.manager.Health()

	c.JSON(http.StatusOK, HealthResponse{
		Status:         health.Status,
		ActiveSessions: health.ActiveSessions,
		Uptime:         health.Uptime.String(),
	})
}

// handleMetrics handles metrics requests
func (s *Server) handleMetrics(c *gin.Context) {
	metrics := s.manager.Metrics()

	resp := MetricsResponse{
		ActiveSessions:  metrics.ActiveSessions,
		SessionsCreated: metrics.SessionsCreated,
		StepsServed:     metrics.StepsServed,
		UptimeSeconds:   metrics.Uptime.Seconds(),
		Sessions:        make([]SessionSummary, 0, len(metrics.Sessions)),
	}
	for _, sm := range metrics.Sessions {
		resp.Sessions = append(resp.Sessions, SessionSummary{
			SessionID:   sm.SessionID,
			Task:        sm.Task,
			StepCount:   sm.StepCount,
			MaxAccuracy: sm.MaxAccuracy,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// handleShutdown handles a request to gracefully shut down the server.
func (s *Server) handleShutdown(c *gin.Context) {
	s.log.Info("Received shutdown request via API")
	c.JSON(http.StatusOK, gin.H{"message": "shutdown sequence initiated"})

	// Signal after the response has been sent
	go func() {
		time.Sleep(100 * time.Millisecond)
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			s.log.Error("Finding own process for shutdown: %v", err)
			return
		}
		if err := p.Signal(syscall.SIGTERM); err != nil {
			s.log.Error("Signalling shutdown: %v", err)
		}
	}()
}

// fail maps manager errors onto HTTP status codes
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrBadAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
