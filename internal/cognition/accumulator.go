package cognition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccumulatorConfig tunes the reflection trigger.
type AccumulatorConfig struct {
	ReflectionThreshold float64 // importance mass required to fire
	MinEvents           int     // minimum events since last reset
}

// DefaultAccumulatorConfig returns the standard thresholds.
func DefaultAccumulatorConfig() AccumulatorConfig {
	return AccumulatorConfig{
		ReflectionThreshold: 150,
		MinEvents:           5,
	}
}

// Accumulator keeps a per-agent running tally of importance mass and
// enqueues a reflection job when enough has piled up.
type Accumulator struct {
	states StateStore
	queue  Enqueuer
	cfg    AccumulatorConfig
	logger *zap.Logger
}

// NewAccumulator creates an accumulator over the given state store.
func NewAccumulator(states StateStore, queue Enqueuer, cfg AccumulatorConfig, logger *zap.Logger) *Accumulator {
	if cfg.ReflectionThreshold <= 0 {
		cfg.ReflectionThreshold = DefaultAccumulatorConfig().ReflectionThreshold
	}
	if cfg.MinEvents <= 0 {
		cfg.MinEvents = DefaultAccumulatorConfig().MinEvents
	}
	return &Accumulator{states: states, queue: queue, cfg: cfg, logger: logger}
}

// RecordEvent adds one memory event's importance to the agent's tally.
// When cumulative importance reaches the threshold with enough events
// since the last reset, the counters reset and a reflection job is
// enqueued. The trigger commits at fire time regardless of what happens
// to the job downstream. Returns whether a reflection fired.
func (a *Accumulator) RecordEvent(ctx context.Context, agentID string, importance float64, now time.Time) (bool, error) {
	if agentID == "" {
		return false, ErrAgentRequired
	}
	if importance < 1 || importance > 10 {
		return false, ErrImportanceRange
	}

	fired := false
	_, err := a.states.UpdateState(ctx, agentID, func(st *AccumulatorState) error {
		st.CumulativeImportance += importance
		st.EventsSinceReset++
		st.TotalEvents++

		if st.CumulativeImportance >= a.cfg.ReflectionThreshold &&
			st.EventsSinceReset >= a.cfg.MinEvents &&
			st.TotalEvents >= a.cfg.MinEvents {
			st.CumulativeImportance = 0
			st.EventsSinceReset = 0
			st.LastReflectionAt = now
			fired = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if fired {
		job := &Job{
			ID:         uuid.New().String(),
			AgentID:    agentID,
			Kind:       KindReflection,
			Reason:     ReasonImportanceMass,
			EnqueuedAt: now,
		}
		a.queue.Enqueue(job)
		a.logger.Info("reflection triggered",
			zap.String("agent", agentID),
			zap.Float64("threshold", a.cfg.ReflectionThreshold))
	}
	return fired, nil
}

// State returns the agent's current accumulator state.
func (a *Accumulator) State(ctx context.Context, agentID string) (*AccumulatorState, error) {
	return a.states.GetState(ctx, agentID)
}
