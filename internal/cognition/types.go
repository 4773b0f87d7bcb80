package cognition

import (
	"context"
	"errors"
	"time"

	"github.com/nidhogg/vault-mind/internal/plan"
)

// JobKind identifies what kind of introspective artifact a job produces.
type JobKind string

const (
	KindReflection    JobKind = "reflection"
	KindMetacognition JobKind = "metacognition"
)

// TriggerReason tags a job with why it was enqueued.
type TriggerReason string

const (
	ReasonImportanceMass TriggerReason = "importance_mass"
	ReasonElapsed        TriggerReason = "time_elapsed"
	ReasonFailedPlans    TriggerReason = "failed_plans"
	ReasonHighImportance TriggerReason = "high_importance_memory"
	ReasonConversation   TriggerReason = "conversation_opportunity"
	ReasonManual         TriggerReason = "manual"
)

// Job is one unit of escalation work. Immutable after creation except
// AttemptCount, which the worker bumps per generation attempt.
type Job struct {
	ID           string        `json:"id"`
	AgentID      string        `json:"agent_id"`
	Kind         JobKind       `json:"kind"`
	Reason       TriggerReason `json:"reason"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
	AttemptCount int           `json:"attempt_count"`
}

// InsightStatus distinguishes generated insights from failure markers.
type InsightStatus string

const (
	InsightOK     InsightStatus = "ok"
	InsightFailed InsightStatus = "failed"
)

// Evaluation is the structured payload of a metacognition insight.
type Evaluation struct {
	EvaluationText        string              `json:"evaluation_text"`
	StrategyAdjustments   []string            `json:"strategy_adjustments"`
	GoalModifications     []string            `json:"goal_modifications"`
	ScheduleModifications []plan.Modification `json:"schedule_modifications"`
}

// Insight is the persisted output of a reflection or metacognition job.
// Failure markers share the record shape with status "failed", an error
// detail, and no payload. Once persisted, a record is never edited.
type Insight struct {
	ID              string        `json:"id"`
	AgentID         string        `json:"agent_id"`
	Kind            JobKind       `json:"kind"`
	Reason          TriggerReason `json:"reason"`
	Status          InsightStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	ImportanceScore float64       `json:"importance_score,omitempty"`
	Text            string        `json:"text,omitempty"`
	Evaluation      *Evaluation   `json:"evaluation,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// AccumulatorState is the per-agent escalation bookkeeping row. Owned
// by the accumulator and trigger evaluator; mutated only through
// StateStore.UpdateState.
type AccumulatorState struct {
	AgentID              string    `json:"agent_id"`
	CumulativeImportance float64   `json:"cumulative_importance"`
	EventsSinceReset     int       `json:"events_since_reset"`
	TotalEvents          int       `json:"total_events"`
	LastReflectionAt     time.Time `json:"last_reflection_at"`
	LastMetacognitionAt  time.Time `json:"last_metacognition_at"`
	DailyMetacogCount    int       `json:"daily_metacognition_count"`
	DayStamp             string    `json:"day_stamp"`
}

// TriggerDecision reports the outcome of a trigger check or signal.
type TriggerDecision struct {
	Fired   bool          `json:"fired"`
	Reason  TriggerReason `json:"reason,omitempty"`
	Skipped string        `json:"skipped,omitempty"`
}

// QueueStatus is a point-in-time view of the escalation queue.
type QueueStatus struct {
	Length   int  `json:"length"`
	InFlight bool `json:"in_flight"`
}

var (
	// ErrImportanceRange rejects events outside the 1..10 scale.
	ErrImportanceRange = errors.New("importance must be between 1 and 10")
	// ErrAgentRequired rejects operations without an agent id.
	ErrAgentRequired = errors.New("agent id is required")
)

// StateStore provides serialized per-agent read-modify-write access to
// accumulator state. UpdateState must not run fn concurrently for the
// same agent.
type StateStore interface {
	UpdateState(ctx context.Context, agentID string, fn func(*AccumulatorState) error) (*AccumulatorState, error)
	GetState(ctx context.Context, agentID string) (*AccumulatorState, error)
	ListAgents(ctx context.Context) ([]string, error)
}

// InsightStore is the append-only insight history.
type InsightStore interface {
	AppendInsight(ctx context.Context, ins *Insight) error
	InsightHistory(ctx context.Context, agentID string) ([]*Insight, error)
}

// OutcomeStore records plan outcomes and answers the failure-count
// question the trigger evaluator asks.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, agentID, status, detail string, at time.Time) error
	RecentFailedPlanCount(ctx context.Context, agentID string, window time.Duration) (int, error)
}

// Enqueuer accepts jobs; Enqueue reports false for duplicates.
type Enqueuer interface {
	Enqueue(job *Job) bool
}

// dayStamp formats a calendar-day key for quota accounting.
func dayStamp(t time.Time) string {
	return t.Format("2006-01-02")
}
