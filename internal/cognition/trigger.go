package cognition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TriggerConfig tunes the metacognition trigger evaluator.
type TriggerConfig struct {
	MaxPerDay        int           // daily metacognition quota per agent
	ElapsedHours     float64       // hours since last evaluation that force one
	FailureWindow    time.Duration // how far back to count failed plans
	FailureThreshold int           // failed plans that force an evaluation
}

// DefaultTriggerConfig returns the standard trigger settings.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		MaxPerDay:        1,
		ElapsedHours:     24,
		FailureWindow:    48 * time.Hour,
		FailureThreshold: 2,
	}
}

// Evaluator decides when an agent is due for a strategic
// self-evaluation, subject to a per-day quota.
type Evaluator struct {
	states   StateStore
	queue    Enqueuer
	outcomes OutcomeStore
	cfg      TriggerConfig
	logger   *zap.Logger
}

// NewEvaluator creates a trigger evaluator.
func NewEvaluator(states StateStore, queue Enqueuer, outcomes OutcomeStore, cfg TriggerConfig, logger *zap.Logger) *Evaluator {
	def := DefaultTriggerConfig()
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = def.MaxPerDay
	}
	if cfg.ElapsedHours <= 0 {
		cfg.ElapsedHours = def.ElapsedHours
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	return &Evaluator{states: states, queue: queue, outcomes: outcomes, cfg: cfg, logger: logger}
}

// CheckTrigger evaluates whether the agent is due. Called by the sweep
// scheduler with an explicit now so the decision stays deterministic.
// Quota exhaustion is a normal skip, not an error.
func (e *Evaluator) CheckTrigger(ctx context.Context, agentID string, now time.Time) (*TriggerDecision, error) {
	if agentID == "" {
		return nil, ErrAgentRequired
	}

	failedPlans := 0
	if e.outcomes != nil {
		n, err := e.outcomes.RecentFailedPlanCount(ctx, agentID, e.cfg.FailureWindow)
		if err != nil {
			e.logger.Warn("failed plan count unavailable",
				zap.String("agent", agentID), zap.Error(err))
		} else {
			failedPlans = n
		}
	}

	return e.fire(ctx, agentID, now, func(st *AccumulatorState) (TriggerReason, bool) {
		hoursSince := now.Sub(st.LastMetacognitionAt).Hours()
		if st.LastMetacognitionAt.IsZero() || hoursSince > e.cfg.ElapsedHours {
			return ReasonElapsed, true
		}
		if failedPlans >= e.cfg.FailureThreshold {
			return ReasonFailedPlans, true
		}
		return "", false
	})
}

// Signal requests an immediate evaluation for an external reason, such
// as a high-importance memory or a conversation opportunity. The same
// quota gate applies.
func (e *Evaluator) Signal(ctx context.Context, agentID string, reason TriggerReason, now time.Time) (*TriggerDecision, error) {
	if agentID == "" {
		return nil, ErrAgentRequired
	}
	return e.fire(ctx, agentID, now, func(st *AccumulatorState) (TriggerReason, bool) {
		return reason, true
	})
}

// fire runs the quota gate and decide func inside the agent's
// serialized state update, then enqueues on a positive decision.
func (e *Evaluator) fire(ctx context.Context, agentID string, now time.Time, decide func(*AccumulatorState) (TriggerReason, bool)) (*TriggerDecision, error) {
	decision := &TriggerDecision{}
	_, err := e.states.UpdateState(ctx, agentID, func(st *AccumulatorState) error {
		if stamp := dayStamp(now); st.DayStamp != stamp {
			st.DayStamp = stamp
			st.DailyMetacogCount = 0
		}
		if st.DailyMetacogCount >= e.cfg.MaxPerDay {
			decision.Skipped = "daily quota reached"
			return nil
		}
		reason, ok := decide(st)
		if !ok {
			decision.Skipped = "no trigger condition met"
			return nil
		}
		st.DailyMetacogCount++
		st.LastMetacognitionAt = now
		decision.Fired = true
		decision.Reason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	if decision.Fired {
		job := &Job{
			ID:         uuid.New().String(),
			AgentID:    agentID,
			Kind:       KindMetacognition,
			Reason:     decision.Reason,
			EnqueuedAt: now,
		}
		e.queue.Enqueue(job)
		e.logger.Info("metacognition triggered",
			zap.String("agent", agentID),
			zap.String("reason", string(decision.Reason)))
	} else {
		e.logger.Debug("metacognition skipped",
			zap.String("agent", agentID),
			zap.String("why", decision.Skipped))
	}
	return decision, nil
}
