// Package host serves environments over a REST API. Every session owns
// one environment plus the mutex that serializes access to it; the
// manager owns the session table.
package host

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nasenv/internal/client"
	"nasenv/internal/logging"
	"nasenv/internal/model"
	"nasenv/internal/tasks"
	"nasenv/pkg/env"
	"nasenv/pkg/genotype"
	"nasenv/pkg/reward"
)

var (
	// ErrSessionNotFound is returned for operations on unknown or
	// already closed sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBadAction is returned for step actions outside the session's
	// action space.
	ErrBadAction = errors.New("action is outside the action space")
)

const defaultMaxSessions = 16

// Options configures the session manager.
type Options struct {
	// Manifest supplies the tasks sessions can train against. Nil falls
	// back to the built-in manifest.
	Manifest *tasks.Manifest

	// Model is the base model configuration. Input size and class count
	// are resized to the session's task.
	Model *model.Config

	// Estimator picks the default accuracy estimator for new sessions.
	Estimator reward.Kind

	// PredictorURL is the surrogate service address used when a session
	// asks for predictor estimation.
	PredictorURL string

	// Samples overrides the architecture sample count estimators use.
	// Zero derives the count from the session's task.
	Samples int

	// MaxSessions caps concurrently open sessions.
	MaxSessions int

	Logger *logging.Logger
}

// Session binds one environment to an id.
type Session struct {
	ID   string
	Task string

	env *env.Env
	mu  sync.Mutex

	createdAt time.Time
	lastStep  time.Time
}

// Manager owns the session table and builds environments on demand.
type Manager struct {
	opts Options
	log  *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	startTime       time.Time
	sessionsCreated int64
	stepsServed     int64
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.Manifest == nil {
		opts.Manifest = tasks.DefaultManifest()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Manager{
		opts:      opts,
		log:       log,
		sessions:  make(map[string]*Session),
		startTime: time.Now(),
	}
}

// Create builds an environment for the requested task and registers it
// under a fresh session id. The returned observation is the start of
// the first episode.
func (m *Manager) Create(req CreateSessionRequest) (*Session, env.Observation, error) {
	e, err := m.buildEnv(req)
	if err != nil {
		return nil, nil, err
	}

	s := &Session{
		ID:        uuid.New().String(),
		Task:      req.Task,
		env:       e,
		createdAt: time.Now(),
	}

	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		e.Close()
		return nil, nil, fmt.Errorf("session limit of %d reached", m.opts.MaxSessions)
	}
	m.sessions[s.ID] = s
	m.sessionsCreated++
	m.mu.Unlock()

	m.log.Info("Created session %s (task %q)", s.ID, req.Task)
	return s, e.Observation(), nil
}

// buildEnv assembles the model, estimator and environment one session
// needs. Trial semantics come from the snapshot handed to SetTask: a
// later Reset restores the model to the weights it was created with.
func (m *Manager) buildEnv(req CreateSessionRequest) (*env.Env, error) {
	cell := env.CellNormal
	if req.Cell != "" {
		var err error
		cell, err = env.ParseCellKind(req.Cell)
		if err != nil {
			return nil, err
		}
	}

	mcfg := model.DefaultConfig()
	if m.opts.Model != nil {
		base := *m.opts.Model
		mcfg = &base
	}
	if req.Nodes > 0 {
		mcfg.Nodes = req.Nodes
	}
	mcfg.Seed = req.Seed

	var (
		task    env.Task
		samples int
	)
	if !req.TestMode {
		spec, err := m.opts.Manifest.Spec(req.Task)
		if err != nil {
			return nil, err
		}
		mcfg.InputSize = spec.Rows * spec.Cols
		mcfg.Classes = spec.Ways
		samples = spec.Ways * spec.Shots
		task, err = tasks.Generate(spec)
		if err != nil {
			return nil, err
		}
	}

	net, err := model.New(mcfg)
	if err != nil {
		return nil, fmt.Errorf("building search model: %w", err)
	}

	var estimator env.Estimator
	if !req.TestMode {
		estimator, err = m.buildEstimator(req, samples)
		if err != nil {
			return nil, err
		}
	}

	e, err := env.New(env.Config{
		Nodes:         mcfg.Nodes,
		Cell:          cell,
		MaxEpisodeLen: req.MaxEpisodeLen,
		MutateAmount:  req.MutateAmount,
		TestMode:      req.TestMode,
		Seed:          req.Seed,
		Logger:        m.log,
	}, net, estimator)
	if err != nil {
		return nil, err
	}

	if req.TestMode {
		if _, err := e.Reset(); err != nil {
			return nil, err
		}
		return e, nil
	}

	state, err := net.Serialize()
	if err != nil {
		return nil, fmt.Errorf("snapshotting fresh model: %w", err)
	}
	if err := e.SetTask(task, state); err != nil {
		return nil, err
	}
	return e, nil
}

func (m *Manager) buildEstimator(req CreateSessionRequest, samples int) (env.Estimator, error) {
	kind := m.opts.Estimator
	if req.Estimator != "" {
		kind = reward.Kind(req.Estimator)
	}
	if m.opts.Samples > 0 {
		samples = m.opts.Samples
	}
	if req.Samples > 0 {
		samples = req.Samples
	}

	cfg := reward.Config{Kind: kind, Samples: samples, Logger: m.log}
	if kind == reward.KindPredictor {
		if m.opts.PredictorURL == "" {
			return nil, errors.New("predictor estimation needs a predictor service URL")
		}
		cfg.Predictor = client.NewPredictorClient(m.opts.PredictorURL)
	}
	return reward.New(cfg)
}

// Session looks a session up by id.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Reset restarts the episode of a session.
func (m *Manager) Reset(id string) (env.Observation, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Reset()
}

// Step performs one environment step in a session.
func (m *Manager) Step(id string, action int) (*env.StepResult, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if action < 0 || action >= s.env.ActionSpaceSize() {
		return nil, fmt.Errorf("action %d with a space of %d: %w", action, s.env.ActionSpaceSize(), ErrBadAction)
	}
	res, err := s.env.Step(action)
	if err != nil {
		return nil, err
	}
	s.lastStep = time.Now()

	m.mu.Lock()
	m.stepsServed++
	m.mu.Unlock()
	return res, nil
}

// SessionState is a point-in-time summary of one session.
type SessionState struct {
	SessionID   string
	Task        string
	Cell        string
	StepCount   int
	Baseline    float64
	MaxAccuracy float64
	Genotype    string
	CreatedAt   time.Time
	LastStepAt  time.Time
}

// State summarizes a session.
func (m *Manager) State(id string) (*SessionState, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &SessionState{
		SessionID:   s.ID,
		Task:        s.Task,
		Cell:        s.env.Kind().String(),
		StepCount:   s.env.StepCount(),
		Baseline:    s.env.Baseline(),
		MaxAccuracy: s.env.MaxAccuracy(),
		Genotype:    bestGenotype(s.env),
		CreatedAt:   s.createdAt,
		LastStepAt:  s.lastStep,
	}, nil
}

// Render returns the text view of a session's environment.
func (m *Manager) Render(id string) (string, error) {
	s, err := m.Session(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	if err := s.env.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Close shuts a session's environment down and drops it from the table.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.log.Info("Closed session %s", id)
	return s.env.Close()
}

// CloseAll closes every open session, keeping the first error.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var first error
	for _, s := range open {
		s.mu.Lock()
		if err := s.env.Close(); err != nil && first == nil {
			first = err
		}
		s.mu.Unlock()
	}
	return first
}

// HealthInfo summarizes host liveness.
type HealthInfo struct {
	Status         string
	ActiveSessions int
	Uptime         time.Duration
}

// Health reports host liveness.
func (m *Manager) Health() HealthInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return HealthInfo{
		Status:         "healthy",
		ActiveSessions: len(m.sessions),
		Uptime:         time.Since(m.startTime),
	}
}

// SessionMetrics is the per-session slice of the metrics report.
type SessionMetrics struct {
	SessionID   string
	Task        string
	StepCount   int
	MaxAccuracy float64
}

// MetricsInfo aggregates host counters with per-session summaries.
type MetricsInfo struct {
	ActiveSessions  int
	SessionsCreated int64
	StepsServed     int64
	Uptime          time.Duration
	Sessions        []SessionMetrics
}

// Metrics reports host counters and a summary per open session, oldest
// session first.
func (m *Manager) Metrics() MetricsInfo {
	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	info := MetricsInfo{
		ActiveSessions:  len(open),
		SessionsCreated: m.sessionsCreated,
		StepsServed:     m.stepsServed,
		Uptime:          time.Since(m.startTime),
	}
	m.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool { return open[i].createdAt.Before(open[j].createdAt) })
	for _, s := range open {
		s.mu.Lock()
		info.Sessions = append(info.Sessions, SessionMetrics{
			SessionID:   s.ID,
			Task:        s.Task,
			StepCount:   s.env.StepCount(),
			MaxAccuracy: s.env.MaxAccuracy(),
		})
		s.mu.Unlock()
	}
	return info
}

// bestGenotype renders the canonical string of the best alphas seen
// this trial. Cells that do not flatten to a valid NAS-Bench-201 graph
// render as empty.
func bestGenotype(e *env.Env) string {
	norm := env.NewStore(e.MaxAlphas(), 0).Normalized()
	g, err := genotype.GraphFromNormalized(norm, e.Primitives())
	if err != nil {
		return ""
	}
	arch, err := genotype.NASBench201String(g)
	if err != nil {
		return ""
	}
	return arch
}
