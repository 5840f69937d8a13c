// Package env implements a gym-style reinforcement-learning environment
// around a differentiable architecture-search model. The agent walks the
// edges of a search cell, shifts probability mass between the candidate
// operations of the edge it stands on, and is rewarded with the change
// in task accuracy relative to a running baseline.
package env

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"nasenv/internal/logging"
	"nasenv/pkg/genotype"
)

var (
	// ErrNoTask is returned when an episode starts before the meta-loop
	// has provided a task.
	ErrNoTask = errors.New("a task needs to be set before evaluation")

	// ErrReduceMutation is returned for mutation actions on the reduce
	// cell, whose alphas are observable but fixed.
	ErrReduceMutation = errors.New("only the normal cell supports mutation")

	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("environment is closed")
)

const (
	defaultMaxEpisodeLen = 100
	defaultMutateAmount  = 0.3
)

// Config carries the environment parameters.
type Config struct {
	// Nodes is the number of intermediate nodes in the search cell.
	Nodes int

	// Primitives names the candidate operations, in alpha column order.
	// Defaults to the NAS-Bench-201 operation set.
	Primitives []string

	// Cell selects which alpha set the agent observes and mutates.
	Cell CellKind

	// MaxEpisodeLen caps the number of steps per episode.
	MaxEpisodeLen int

	// MutateAmount is the probability mass moved per mutation action.
	MutateAmount float64

	// TestMode replaces accuracy estimation with uniform random rewards
	// so the environment can run without a task.
	TestMode bool

	// Seed fixes the test mode reward stream. Zero seeds from the clock.
	Seed int64

	Logger *logging.Logger
}

// Info describes the outcome of one step.
type Info struct {
	StepCount   int      `json:"step_count"`
	ActionID    int      `json:"action_id"`
	Action      string   `json:"action"`
	Acc         *float64 `json:"acc"`
	RunningTime int      `json:"running_time"`
}

// StepResult bundles the observation, reward and bookkeeping of one
// step.
type StepResult struct {
	Observation Observation `json:"observation"`
	Reward      float64     `json:"reward"`
	Done        bool        `json:"done"`
	Info        Info        `json:"info"`
}

// Env is the environment. It is not safe for concurrent use; callers
// running episodes from multiple goroutines wrap it in their own lock.
type Env struct {
	cfg       Config
	log       *logging.Logger
	model     TrainableModel
	estimator Estimator

	cell  *Cell
	store *Store
	space *stateSpace

	curIndex int
	curState Observation

	task      Task
	metaState ModelState

	stepCount int
	terminate bool
	closed    bool

	baseline  float64
	maxAcc    float64
	maxAlphas Alphas

	rng *rand.Rand
}

// New builds an environment around the given model. An estimator is
// required unless the configuration enables test mode.
func New(cfg Config, model TrainableModel, estimator Estimator) (*Env, error) {
	if model == nil {
		return nil, errors.New("model must not be nil")
	}
	cell, err := NewCell(cfg.Nodes)
	if err != nil {
		return nil, err
	}
	if cfg.Cell != CellNormal && cfg.Cell != CellReduce {
		return nil, fmt.Errorf("cell kind %v is not supported", cfg.Cell)
	}
	if !cfg.TestMode && estimator == nil {
		return nil, errors.New("an estimator is required outside test mode")
	}
	if len(cfg.Primitives) == 0 {
		cfg.Primitives = genotype.PrimitivesNASBench201
	}
	if cfg.MaxEpisodeLen <= 0 {
		cfg.MaxEpisodeLen = defaultMaxEpisodeLen
	}
	if cfg.MutateAmount <= 0 {
		cfg.MutateAmount = defaultMutateAmount
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Env{
		cfg:       cfg,
		log:       cfg.Logger,
		model:     model,
		estimator: estimator,
		cell:      cell,
		rng:       rand.New(rand.NewSource(seed)),
	}

	if err := e.validateAlphas(); err != nil {
		return nil, err
	}
	if err := e.rebuild(); err != nil {
		return nil, err
	}
	e.setStart()
	return e, nil
}

func (e *Env) validateAlphas() error {
	rows, err := e.alphaRows()
	if err != nil {
		return err
	}
	if len(rows) != e.cfg.Nodes {
		return fmt.Errorf("model has %d alpha rows, cell has %d intermediate nodes", len(rows), e.cfg.Nodes)
	}
	for i, row := range rows {
		if len(row) != i+2 {
			return fmt.Errorf("alpha row %d has %d edges, want %d", i, len(row), i+2)
		}
		for j, ops := range row {
			if len(ops) != len(e.cfg.Primitives) {
				return fmt.Errorf("alpha row %d edge %d has %d operations, want %d",
					i, j, len(ops), len(e.cfg.Primitives))
			}
		}
	}
	return nil
}

func (e *Env) alphaRows() (Alphas, error) {
	switch e.cfg.Cell {
	case CellNormal:
		return e.model.AlphaNormal(), nil
	case CellReduce:
		return e.model.AlphaReduce(), nil
	default:
		return nil, fmt.Errorf("cell kind %v is not supported", e.cfg.Cell)
	}
}

// rebuild re-wraps the model's live alpha rows and re-encodes the edge
// states from their normalized values.
func (e *Env) rebuild() error {
	rows, err := e.alphaRows()
	if err != nil {
		return err
	}
	e.store = NewStore(rows, e.cfg.MutateAmount)
	e.space = buildStates(e.cell, e.store.Normalized())
	return nil
}

func (e *Env) setStart() {
	e.curIndex = 0
	e.curState = e.space.states[0]
}

// Reset restores the model snapshot, rebuilds the edge states, places
// the agent on the first edge and refreshes the reward baseline.
func (e *Env) Reset() (Observation, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.task == nil && !e.cfg.TestMode {
		return nil, ErrNoTask
	}

	e.stepCount = 0
	e.terminate = false

	if e.metaState != nil {
		if err := e.model.LoadState(e.metaState); err != nil {
			return nil, fmt.Errorf("restoring model state: %w", err)
		}
	}
	if err := e.rebuild(); err != nil {
		return nil, err
	}
	e.setStart()

	_, acc, err := e.computeReward()
	if err != nil {
		return nil, err
	}
	if acc != nil {
		e.baseline = *acc
	}
	return e.curState, nil
}

// SetTask installs the task and model snapshot for the coming trial and
// resets the episode. Best-accuracy tracking starts over.
func (e *Env) SetTask(task Task, metaState ModelState) error {
	if e.closed {
		return ErrClosed
	}
	e.log.Info("Set new task for environment")
	e.task = task
	e.metaState = metaState

	if _, err := e.Reset(); err != nil {
		return err
	}

	e.maxAcc = 0.0
	e.maxAlphas = e.store.Snapshot()
	return nil
}

// Step decodes and performs one action, returning the resulting
// observation, reward and episode bookkeeping.
func (e *Env) Step(actionID int) (*StepResult, error) {
	if e.closed {
		return nil, ErrClosed
	}
	start := time.Now()

	action, err := DecodeAction(actionID, e.cell.Size(), len(e.cfg.Primitives))
	if err != nil {
		return nil, err
	}

	actionInfo, reward, acc, err := e.performAction(action)
	if err != nil {
		return nil, err
	}

	if acc != nil && *acc > 0.0 {
		e.baseline = *acc
		if e.maxAcc < *acc {
			e.maxAcc = *acc
			e.maxAlphas = e.store.Snapshot()
		}
	}

	e.stepCount++
	done := e.stepCount == e.cfg.MaxEpisodeLen || e.terminate

	return &StepResult{
		Observation: e.curState,
		Reward:      reward,
		Done:        done,
		Info: Info{
			StepCount:   e.stepCount,
			ActionID:    actionID,
			Action:      actionInfo,
			Acc:         acc,
			RunningTime: int(time.Since(start).Seconds()),
		},
	}, nil
}

func (e *Env) performAction(a Action) (string, float64, *float64, error) {
	cur := int(e.curState[0])
	next := int(e.curState[1])

	switch a.Kind {
	case ActionTraverse:
		if e.cell.Legal(next, a.Target) {
			sIdx := e.space.edgeToIndex[[2]int{next, a.Target}]
			e.curIndex = sIdx
			e.curState = e.space.states[sIdx]
			return fmt.Sprintf("Legal move from %d to %d", next, a.Target), 0, nil, nil
		}
		return fmt.Sprintf("Illegal move from %d to %d", cur, a.Target), RewardIllegal, nil, nil

	case ActionIncrease, ActionDecrease:
		key := [2]int{cur, next}
		pos := e.space.edgeToAlpha[key]
		sIdx := e.space.edgeToIndex[key]

		mutated, err := e.mutate(a.Kind == ActionIncrease, pos[0], pos[1], a.Op)
		if err != nil {
			return "", 0, nil, err
		}
		if mutated {
			if err := e.rebuild(); err != nil {
				return "", 0, nil, err
			}
		}

		// Back on the same edge regardless of whether the mutation took.
		e.curIndex = sIdx
		e.curState = e.space.states[sIdx]

		reward, acc, err := e.computeReward()
		if err != nil {
			return "", 0, nil, err
		}

		verb := "Increase"
		if a.Kind == ActionDecrease {
			verb = "Decrease"
		}
		return fmt.Sprintf("%s alpha (%d, %d, %d)", verb, pos[0], pos[1], a.Op), reward, acc, nil

	case ActionTerminate:
		e.terminate = true
		return fmt.Sprintf("Terminate the episode at step %d", e.stepCount), 0, nil, nil

	default:
		return "", 0, nil, fmt.Errorf("unhandled action kind %v", a.Kind)
	}
}

func (e *Env) mutate(increase bool, row, edge, op int) (bool, error) {
	switch e.cfg.Cell {
	case CellNormal:
		if increase {
			return e.store.Increase(row, edge, op), nil
		}
		return e.store.Decrease(row, edge, op), nil
	case CellReduce:
		return false, ErrReduceMutation
	default:
		return false, fmt.Errorf("cell kind %v is not supported", e.cfg.Cell)
	}
}

func (e *Env) computeReward() (float64, *float64, error) {
	if e.cfg.TestMode {
		return e.rng.Float64()*2 - 1, nil, nil
	}
	if e.task == nil {
		return 0, nil, ErrNoTask
	}

	acc, err := e.estimator.Estimate(e.task, e.model, e.store.Normalized())
	if err != nil {
		return 0, nil, fmt.Errorf("estimating accuracy: %w", err)
	}
	acc = clampAccuracy(acc)

	e.log.Debug("scaling reward: baseline=%.4f accuracy=%.4f", e.baseline, acc)
	return scaleReward(e.baseline, acc), &acc, nil
}

// Render writes every edge state to w, one observation per line.
func (e *Env) Render(w io.Writer) error {
	if e.closed {
		return ErrClosed
	}
	for _, s := range e.space.states {
		if _, err := fmt.Fprintln(w, []float64(s)); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the environment unusable. It never fails but keeps the
// io.Closer shape for callers that manage environments generically.
func (e *Env) Close() error {
	e.closed = true
	return nil
}

// Observation returns the state the agent currently stands on.
func (e *Env) Observation() Observation { return e.curState }

// ObservationSize returns the length of every observation vector.
func (e *Env) ObservationSize() int {
	return ObservationSize(e.cfg.Nodes, len(e.cfg.Primitives))
}

// ActionSpaceSize returns the size of the discrete action space.
func (e *Env) ActionSpaceSize() int {
	return SpaceSize(e.cell.Size(), len(e.cfg.Primitives))
}

// RewardRange returns the inclusive reward bounds.
func (e *Env) RewardRange() (float64, float64) { return RewardMin, RewardMax }

// StepCount returns the number of steps taken this episode.
func (e *Env) StepCount() int { return e.stepCount }

// Baseline returns the accuracy the next reward will be scaled against.
func (e *Env) Baseline() float64 { return e.baseline }

// MaxAccuracy returns the best accuracy seen since the task was set.
func (e *Env) MaxAccuracy() float64 { return e.maxAcc }

// MaxAlphas returns the alpha snapshot taken at the best accuracy.
func (e *Env) MaxAlphas() Alphas { return e.maxAlphas }

// Primitives returns the candidate operation names.
func (e *Env) Primitives() []string { return e.cfg.Primitives }

// Kind returns the cell kind the environment operates on.
func (e *Env) Kind() CellKind { return e.cfg.Cell }

// Cell returns the cell graph.
func (e *Env) Cell() *Cell { return e.cell }

// Normalized returns the current normalized alpha rows.
func (e *Env) Normalized() [][][]float64 { return e.store.Normalized() }
