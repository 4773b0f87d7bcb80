package cognition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/vault-mind/internal/events"
	"github.com/nidhogg/vault-mind/internal/plan"
	"go.uber.org/zap"
)

// PipelineConfig bundles the tunables for the whole escalation path.
type PipelineConfig struct {
	Accumulator    AccumulatorConfig
	Trigger        TriggerConfig
	Worker         WorkerConfig
	HighImportance float64 // memory importance that signals immediate evaluation
}

// DefaultPipelineConfig returns the standard settings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Accumulator:    DefaultAccumulatorConfig(),
		Trigger:        DefaultTriggerConfig(),
		Worker:         DefaultWorkerConfig(),
		HighImportance: 8,
	}
}

// Pipeline is the cognitive escalation pipeline: it owns the
// accumulator, trigger evaluator, queue, and worker for all agents.
type Pipeline struct {
	accumulator *Accumulator
	evaluator   *Evaluator
	queue       *Queue
	worker      *Worker
	insights    InsightStore
	outcomes    OutcomeStore
	states      StateStore
	plans       *plan.Engine
	sink        EventSink
	cfg         PipelineConfig
	logger      *zap.Logger
}

// NewPipeline wires the escalation pipeline. states, insights, and
// outcomes fall back to in-memory implementations when nil.
func NewPipeline(states StateStore, insights InsightStore, outcomes OutcomeStore, plans *plan.Engine, gen Generator, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if states == nil {
		states = NewMemoryStateStore()
	}
	if insights == nil {
		insights = NewMemoryInsightStore()
	}
	if outcomes == nil {
		outcomes = NewMemoryOutcomeStore()
	}
	if plans == nil {
		plans = plan.NewEngine(logger)
	}
	if cfg.HighImportance <= 0 {
		cfg.HighImportance = DefaultPipelineConfig().HighImportance
	}

	queue := NewQueue(logger)
	p := &Pipeline{
		queue:    queue,
		insights: insights,
		outcomes: outcomes,
		states:   states,
		plans:    plans,
		cfg:      cfg,
		logger:   logger,
	}
	p.accumulator = NewAccumulator(states, p, cfg.Accumulator, logger)
	p.evaluator = NewEvaluator(states, p, outcomes, cfg.Trigger, logger)
	p.worker = NewWorker(queue, gen, insights, plans, cfg.Worker, logger)
	return p
}

// SetEventSink attaches a lifecycle event publisher to the pipeline.
func (p *Pipeline) SetEventSink(s EventSink) {
	p.worker.SetEventSink(s)
	p.sink = s
}

// SetContextSource attaches a recent-memory tap for generation prompts.
func (p *Pipeline) SetContextSource(cs ContextSource) {
	p.worker.SetContextSource(cs)
}

// Start launches the worker pool.
func (p *Pipeline) Start() { p.worker.Start() }

// Stop drains the worker pool.
func (p *Pipeline) Stop() { p.worker.Stop() }

// Enqueue implements Enqueuer for the producer components, publishing
// a lifecycle event on acceptance. Duplicates drop silently.
func (p *Pipeline) Enqueue(job *Job) bool {
	if !p.queue.Enqueue(job) {
		return false
	}
	if p.sink != nil {
		ev := &events.Event{
			ID:        uuid.New().String(),
			AgentID:   job.AgentID,
			Type:      events.TypeJobEnqueued,
			Kind:      string(job.Kind),
			Detail:    string(job.Reason),
			Timestamp: job.EnqueuedAt,
		}
		if err := p.sink.Publish(context.Background(), ev); err != nil {
			p.logger.Debug("event publish failed", zap.Error(err))
		}
	}
	return true
}

// RecordEvent feeds one memory event into the accumulator. Events with
// importance at or above the high-importance threshold also signal the
// trigger evaluator for an immediate evaluation, subject to its quota.
func (p *Pipeline) RecordEvent(ctx context.Context, agentID string, importance float64, now time.Time) (bool, error) {
	fired, err := p.accumulator.RecordEvent(ctx, agentID, importance, now)
	if err != nil {
		return false, err
	}
	if importance >= p.cfg.HighImportance {
		if _, sigErr := p.evaluator.Signal(ctx, agentID, ReasonHighImportance, now); sigErr != nil {
			p.logger.Warn("high-importance signal failed",
				zap.String("agent", agentID), zap.Error(sigErr))
		}
	}
	return fired, nil
}

// RequestMetacognition requests an externally triggered evaluation,
// e.g. a conversation opportunity. Quota-gated like every trigger.
func (p *Pipeline) RequestMetacognition(ctx context.Context, agentID string, reason TriggerReason, now time.Time) (*TriggerDecision, error) {
	if reason == "" {
		reason = ReasonConversation
	}
	return p.evaluator.Signal(ctx, agentID, reason, now)
}

// CheckTrigger runs the time/failure trigger evaluation for one agent.
func (p *Pipeline) CheckTrigger(ctx context.Context, agentID string, now time.Time) (*TriggerDecision, error) {
	return p.evaluator.CheckTrigger(ctx, agentID, now)
}

// QueueStatus reports queue length and in-flight state.
func (p *Pipeline) QueueStatus() QueueStatus {
	return p.queue.Status()
}

// InsightHistory returns the agent's insight records in append order.
func (p *Pipeline) InsightHistory(ctx context.Context, agentID string) ([]*Insight, error) {
	return p.insights.InsightHistory(ctx, agentID)
}

// AccumulatorState returns the agent's current escalation bookkeeping.
func (p *Pipeline) AccumulatorState(ctx context.Context, agentID string) (*AccumulatorState, error) {
	return p.states.GetState(ctx, agentID)
}

// RecordOutcome stores a plan outcome; failed outcomes feed the
// failure-based metacognition trigger.
func (p *Pipeline) RecordOutcome(ctx context.Context, agentID, status, detail string, at time.Time) error {
	if agentID == "" {
		return ErrAgentRequired
	}
	return p.outcomes.RecordOutcome(ctx, agentID, status, detail, at)
}

// Agents lists every agent with recorded accumulator state.
func (p *Pipeline) Agents(ctx context.Context) ([]string, error) {
	return p.states.ListAgents(ctx)
}

// Plans exposes the schedule patch engine.
func (p *Pipeline) Plans() *plan.Engine {
	return p.plans
}

var _ Enqueuer = (*Pipeline)(nil)
