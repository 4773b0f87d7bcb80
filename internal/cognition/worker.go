package cognition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/vault-mind/internal/events"
	"github.com/nidhogg/vault-mind/internal/plan"
	"go.uber.org/zap"
)

// EventSink receives pipeline lifecycle events. Optional.
type EventSink interface {
	Publish(ctx context.Context, ev *events.Event) error
}

// WorkerConfig bounds the escalation worker.
type WorkerConfig struct {
	Pool         int           // concurrent consumers
	MaxAttempts  int           // generation attempts per job
	Timeout      time.Duration // per generation attempt
	Backoff      time.Duration // base delay between attempts, scales linearly
	ContextLimit int           // memories pulled into each prompt
}

// DefaultWorkerConfig returns the standard worker settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Pool:         1,
		MaxAttempts:  3,
		Timeout:      60 * time.Second,
		Backoff:      2 * time.Second,
		ContextLimit: 20,
	}
}

// Worker drains the escalation queue with a small fixed pool, invokes
// the generation service with a bounded timeout, persists insights, and
// forwards schedule modifications to the patch engine. A job that
// exhausts its retry budget is dropped with a failure marker; one
// agent's failures never affect another agent's jobs.
type Worker struct {
	queue    *Queue
	gen      Generator
	insights InsightStore
	plans    *plan.Engine
	contexts ContextSource
	sink     EventSink
	cfg      WorkerConfig
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker over the queue. contexts and sink may be
// nil.
func NewWorker(queue *Queue, gen Generator, insights InsightStore, plans *plan.Engine, cfg WorkerConfig, logger *zap.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Pool <= 0 {
		cfg.Pool = def.Pool
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = def.ContextLimit
	}
	return &Worker{
		queue:    queue,
		gen:      gen,
		insights: insights,
		plans:    plans,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetContextSource attaches a recent-memory tap for prompt grounding.
func (w *Worker) SetContextSource(cs ContextSource) { w.contexts = cs }

// SetEventSink attaches a lifecycle event publisher.
func (w *Worker) SetEventSink(s EventSink) { w.sink = s }

// Start launches the consumer pool.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	for i := 0; i < w.cfg.Pool; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
	w.logger.Info("escalation worker started", zap.Int("pool", w.cfg.Pool))
}

// Stop halts the pool and waits for in-flight jobs to settle.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("escalation worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		job := w.queue.dequeue(ctx)
		if job == nil {
			return
		}
		w.process(ctx, job)
		w.queue.done(job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()
	w.logger.Info("processing job",
		zap.String("job", job.ID),
		zap.String("agent", job.AgentID),
		zap.String("kind", string(job.Kind)))

	var genErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		job.AttemptCount = attempt

		actx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		ins, err := w.generate(actx, job)
		cancel()

		if err == nil {
			w.complete(ctx, job, ins)
			w.logger.Info("job completed",
				zap.String("job", job.ID),
				zap.String("agent", job.AgentID),
				zap.Int("attempts", attempt),
				zap.Duration("duration", time.Since(start)))
			return
		}
		genErr = err
		w.logger.Warn("generation attempt failed",
			zap.String("job", job.ID),
			zap.String("agent", job.AgentID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < w.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.Backoff * time.Duration(attempt)):
			}
		}
	}

	w.fail(ctx, job, genErr)
}

// generate runs one attempt. Timeouts and service faults are both
// transient for retry accounting.
func (w *Worker) generate(ctx context.Context, job *Job) (*Insight, error) {
	var memories []string
	if w.contexts != nil {
		got, err := w.contexts.RecentContext(ctx, job.AgentID, w.cfg.ContextLimit)
		if err != nil {
			w.logger.Warn("context source unavailable, prompting without memories",
				zap.String("agent", job.AgentID), zap.Error(err))
		} else {
			memories = got
		}
	}

	now := time.Now()
	switch job.Kind {
	case KindReflection:
		text, err := w.gen.Reflect(ctx, job.AgentID, memories)
		if err != nil {
			return nil, err
		}
		return &Insight{
			ID:        uuid.New().String(),
			AgentID:   job.AgentID,
			Kind:      job.Kind,
			Reason:    job.Reason,
			Status:    InsightOK,
			CreatedAt: now,
			Text:      text,
		}, nil
	case KindMetacognition:
		eval, score, err := w.gen.Evaluate(ctx, job.AgentID, memories)
		if err != nil {
			return nil, err
		}
		return &Insight{
			ID:              uuid.New().String(),
			AgentID:         job.AgentID,
			Kind:            job.Kind,
			Reason:          job.Reason,
			Status:          InsightOK,
			CreatedAt:       now,
			ImportanceScore: score,
			Evaluation:      eval,
		}, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// complete persists the insight and, for metacognition, forwards any
// schedule modifications. Persistence is retried once; a second failure
// is logged and the job ends with no insight and no schedule effect.
func (w *Worker) complete(ctx context.Context, job *Job, ins *Insight) {
	if err := w.append(ctx, ins); err != nil {
		w.logger.Error("insight persist failed, dropping job result",
			zap.String("job", job.ID),
			zap.String("agent", job.AgentID),
			zap.Error(err))
		w.publish(ctx, &events.Event{
			ID:        uuid.New().String(),
			AgentID:   job.AgentID,
			Type:      events.TypeJobFailed,
			Kind:      string(job.Kind),
			Detail:    "insight persist failed",
			Timestamp: time.Now(),
		})
		return
	}

	if job.Kind == KindMetacognition && ins.Evaluation != nil && len(ins.Evaluation.ScheduleModifications) > 0 {
		// EnqueuedAt carries the world time the trigger fired at, so
		// the patch lands on the day the plan views run on even when
		// the world clock is accelerated.
		now := job.EnqueuedAt
		date := dayStamp(now)
		records, err := w.plans.Apply(ctx, job.AgentID, date, ins.ID, ins.Evaluation.ScheduleModifications, now)
		if err != nil {
			w.logger.Error("schedule patch persistence degraded",
				zap.String("agent", job.AgentID), zap.Error(err))
		}
		applied := 0
		for _, rec := range records {
			if rec.Outcome == plan.AuditApplied {
				applied++
			}
		}
		w.publish(ctx, &events.Event{
			ID:        uuid.New().String(),
			AgentID:   job.AgentID,
			Type:      events.TypePlanPatched,
			Kind:      string(job.Kind),
			Detail:    fmt.Sprintf("%d/%d modifications applied", applied, len(records)),
			Timestamp: now,
		})
	}

	w.publish(ctx, &events.Event{
		ID:        uuid.New().String(),
		AgentID:   job.AgentID,
		Type:      events.TypeInsightCreated,
		Kind:      string(job.Kind),
		Detail:    string(job.Reason),
		Timestamp: time.Now(),
	})
}

// fail records a failure marker: no insight content, no schedule
// effect, and no rollback of accumulator or quota state.
func (w *Worker) fail(ctx context.Context, job *Job, genErr error) {
	marker := &Insight{
		ID:        uuid.New().String(),
		AgentID:   job.AgentID,
		Kind:      job.Kind,
		Reason:    job.Reason,
		Status:    InsightFailed,
		CreatedAt: time.Now(),
		Error:     genErr.Error(),
	}
	if err := w.append(ctx, marker); err != nil {
		w.logger.Error("failure marker persist failed",
			zap.String("job", job.ID),
			zap.String("agent", job.AgentID),
			zap.Error(err))
	}
	w.logger.Warn("job dropped after retry budget",
		zap.String("job", job.ID),
		zap.String("agent", job.AgentID),
		zap.Int("attempts", job.AttemptCount),
		zap.Error(genErr))

	w.publish(ctx, &events.Event{
		ID:        uuid.New().String(),
		AgentID:   job.AgentID,
		Type:      events.TypeJobFailed,
		Kind:      string(job.Kind),
		Detail:    genErr.Error(),
		Timestamp: time.Now(),
	})
}

func (w *Worker) append(ctx context.Context, ins *Insight) error {
	err := w.insights.AppendInsight(ctx, ins)
	if err == nil {
		return nil
	}
	return w.insights.AppendInsight(ctx, ins)
}

func (w *Worker) publish(ctx context.Context, ev *events.Event) {
	if w.sink == nil {
		return
	}
	if err := w.sink.Publish(ctx, ev); err != nil {
		w.logger.Debug("event publish failed", zap.Error(err))
	}
}
