package cognition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/vault-mind/internal/events"
	"github.com/nidhogg/vault-mind/internal/plan"
	"go.uber.org/zap"
)

// scriptedGenerator fails a fixed number of times, then succeeds.
type scriptedGenerator struct {
	mu       sync.Mutex
	failures int
	calls    int
	text     string
	eval     *Evaluation
	score    float64
}

func (g *scriptedGenerator) attempt() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failures > 0 {
		g.failures--
		return errors.New("generation service down")
	}
	return nil
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGenerator) Reflect(ctx context.Context, agentID string, memories []string) (string, error) {
	if err := g.attempt(); err != nil {
		return "", err
	}
	return g.text, nil
}

func (g *scriptedGenerator) Evaluate(ctx context.Context, agentID string, memories []string) (*Evaluation, float64, error) {
	if err := g.attempt(); err != nil {
		return nil, 0, err
	}
	return g.eval, g.score, nil
}

// captureSink records published events.
type captureSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *captureSink) Publish(ctx context.Context, ev *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) byType(typ events.Type) []*events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestWorker(gen Generator, cfg WorkerConfig) (*Worker, *Queue, *MemoryInsightStore, *plan.Engine) {
	logger := zap.NewNop()
	q := NewQueue(logger)
	insights := NewMemoryInsightStore()
	plans := plan.NewEngine(logger)
	return NewWorker(q, gen, insights, plans, cfg, logger), q, insights, plans
}

func waitForInsights(t *testing.T, insights *MemoryInsightStore, agentID string, n int) []*Insight {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := insights.InsightHistory(context.Background(), agentID)
		if len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d insight(s)", n)
	return nil
}

func TestWorkerReflectionJob(t *testing.T) {
	gen := &scriptedGenerator{text: "nora keeps avoiding the market after dark"}
	w, q, insights, _ := newTestWorker(gen, WorkerConfig{Backoff: time.Millisecond})
	w.Start()
	defer w.Stop()

	q.Enqueue(&Job{ID: "j1", AgentID: "nora", Kind: KindReflection, Reason: ReasonImportanceMass, EnqueuedAt: time.Now()})

	got := waitForInsights(t, insights, "nora", 1)
	ins := got[0]
	if ins.Status != InsightOK || ins.Kind != KindReflection {
		t.Fatalf("unexpected insight %+v", ins)
	}
	if ins.Text != gen.text {
		t.Fatalf("insight text lost: %q", ins.Text)
	}
	if ins.Reason != ReasonImportanceMass {
		t.Fatalf("trigger reason not carried: %+v", ins)
	}
}

func TestWorkerMetacognitionAppliesSchedule(t *testing.T) {
	gen := &scriptedGenerator{
		eval: &Evaluation{
			EvaluationText: "trading is not working, pivot to scavenging",
			ScheduleModifications: []plan.Modification{
				{Slot: "09:00", Activity: "scavenge", Reason: "market closed", Priority: 6},
			},
		},
		score: 7.5,
	}
	w, q, insights, plans := newTestWorker(gen, WorkerConfig{Backoff: time.Millisecond})
	sink := &captureSink{}
	w.SetEventSink(sink)
	w.Start()
	defer w.Stop()

	enqueued := time.Now()
	q.Enqueue(&Job{ID: "j1", AgentID: "nora", Kind: KindMetacognition, Reason: ReasonElapsed, EnqueuedAt: enqueued})

	got := waitForInsights(t, insights, "nora", 1)
	ins := got[0]
	if ins.Evaluation == nil || ins.ImportanceScore != 7.5 {
		t.Fatalf("evaluation payload lost: %+v", ins)
	}

	date := enqueued.Format("2006-01-02")
	entry, ok := plans.Entry(context.Background(), "nora", date, "09:00")
	if !ok || entry.Activity != "scavenge" || entry.InsightID != ins.ID {
		t.Fatalf("schedule modification not applied: %+v", entry)
	}

	if evs := sink.byType(events.TypePlanPatched); len(evs) != 1 {
		t.Fatalf("expected one plan_patched event, got %d", len(evs))
	}
	if evs := sink.byType(events.TypeInsightCreated); len(evs) != 1 {
		t.Fatalf("expected one insight_created event, got %d", len(evs))
	}
}

func TestWorkerPatchesWorldDate(t *testing.T) {
	gen := &scriptedGenerator{
		eval: &Evaluation{
			ScheduleModifications: []plan.Modification{
				{Slot: "09:00", Activity: "scavenge", Priority: 6},
			},
		},
		score: 5,
	}
	w, q, insights, plans := newTestWorker(gen, WorkerConfig{Backoff: time.Millisecond})
	w.Start()
	defer w.Stop()

	// an accelerated world clock puts the trigger's world time on a
	// different calendar day than the host wall clock
	worldNow := time.Now().AddDate(0, 0, 90)
	q.Enqueue(&Job{ID: "j1", AgentID: "nora", Kind: KindMetacognition, Reason: ReasonElapsed, EnqueuedAt: worldNow})

	waitForInsights(t, insights, "nora", 1)

	worldDate := worldNow.Format("2006-01-02")
	entry, ok := plans.Entry(context.Background(), "nora", worldDate, "09:00")
	if !ok || entry.Activity != "scavenge" {
		t.Fatalf("patch missing from world date %s: %+v", worldDate, entry)
	}
	if !entry.UpdatedAt.Equal(worldNow) {
		t.Fatalf("entry should carry the world timestamp, got %v", entry.UpdatedAt)
	}

	hostDate := time.Now().Format("2006-01-02")
	if p := plans.Plan(context.Background(), "nora", hostDate); len(p.Entries) != 0 {
		t.Fatalf("patch leaked onto the host date %s: %+v", hostDate, p.Entries)
	}
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	gen := &scriptedGenerator{failures: 2, text: "recovered"}
	w, q, insights, _ := newTestWorker(gen, WorkerConfig{MaxAttempts: 3, Backoff: time.Millisecond})
	w.Start()
	defer w.Stop()

	q.Enqueue(&Job{ID: "j1", AgentID: "nora", Kind: KindReflection, Reason: ReasonManual, EnqueuedAt: time.Now()})

	got := waitForInsights(t, insights, "nora", 1)
	if got[0].Status != InsightOK {
		t.Fatalf("job should succeed on the third attempt: %+v", got[0])
	}
	if gen.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", gen.callCount())
	}
}

func TestWorkerFailureMarkerAfterBudget(t *testing.T) {
	gen := &scriptedGenerator{failures: 10}
	w, q, insights, _ := newTestWorker(gen, WorkerConfig{MaxAttempts: 2, Backoff: time.Millisecond})
	sink := &captureSink{}
	w.SetEventSink(sink)
	w.Start()
	defer w.Stop()

	q.Enqueue(&Job{ID: "j1", AgentID: "nora", Kind: KindReflection, Reason: ReasonManual, EnqueuedAt: time.Now()})

	got := waitForInsights(t, insights, "nora", 1)
	marker := got[0]
	if marker.Status != InsightFailed {
		t.Fatalf("expected failure marker, got %+v", marker)
	}
	if marker.Error == "" || marker.Text != "" {
		t.Fatalf("marker should carry the error and no payload: %+v", marker)
	}
	if gen.callCount() != 2 {
		t.Fatalf("retry budget not respected: %d attempts", gen.callCount())
	}
	if evs := sink.byType(events.TypeJobFailed); len(evs) != 1 {
		t.Fatalf("expected one job_failed event, got %d", len(evs))
	}
}

func TestWorkerQueueKeyFreedAfterJob(t *testing.T) {
	gen := &scriptedGenerator{text: "insight"}
	w, q, insights, _ := newTestWorker(gen, WorkerConfig{Backoff: time.Millisecond})
	w.Start()
	defer w.Stop()

	q.Enqueue(&Job{ID: "j1", AgentID: "nora", Kind: KindReflection, Reason: ReasonManual, EnqueuedAt: time.Now()})
	waitForInsights(t, insights, "nora", 1)

	// the key must be released so a later job for the same pair runs
	if !q.Enqueue(&Job{ID: "j2", AgentID: "nora", Kind: KindReflection, Reason: ReasonManual, EnqueuedAt: time.Now()}) {
		t.Fatal("dedup key not released after completion")
	}
	waitForInsights(t, insights, "nora", 2)
}

func TestWorkerIsolatesAgents(t *testing.T) {
	// cole's generator failures must not affect nora's job
	gen := &agentSplitGenerator{failAgent: "cole"}
	w, q, insights, _ := newTestWorker(gen, WorkerConfig{MaxAttempts: 1, Backoff: time.Millisecond, Pool: 1})
	w.Start()
	defer w.Stop()

	q.Enqueue(&Job{ID: "j1", AgentID: "cole", Kind: KindReflection, Reason: ReasonManual, EnqueuedAt: time.Now()})
	q.Enqueue(&Job{ID: "j2", AgentID: "nora", Kind: KindReflection, Reason: ReasonManual, EnqueuedAt: time.Now()})

	coleGot := waitForInsights(t, insights, "cole", 1)
	noraGot := waitForInsights(t, insights, "nora", 1)
	if coleGot[0].Status != InsightFailed {
		t.Fatalf("cole should fail: %+v", coleGot[0])
	}
	if noraGot[0].Status != InsightOK {
		t.Fatalf("nora should succeed: %+v", noraGot[0])
	}
}

type agentSplitGenerator struct {
	failAgent string
}

func (g *agentSplitGenerator) Reflect(ctx context.Context, agentID string, memories []string) (string, error) {
	if agentID == g.failAgent {
		return "", errors.New("service refused")
	}
	return "fine", nil
}

func (g *agentSplitGenerator) Evaluate(ctx context.Context, agentID string, memories []string) (*Evaluation, float64, error) {
	if agentID == g.failAgent {
		return nil, 0, errors.New("service refused")
	}
	return &Evaluation{EvaluationText: "fine"}, 5, nil
}
