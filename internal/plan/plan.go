package plan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Origin marks where a plan entry came from.
type Origin string

const (
	OriginRoutine Origin = "routine"
	OriginDynamic Origin = "dynamic"
)

// AuditOutcome records what happened to a proposed modification.
type AuditOutcome string

const (
	AuditApplied    AuditOutcome = "applied"
	AuditSuperseded AuditOutcome = "superseded"
	AuditRefreshed  AuditOutcome = "refreshed"
)

// Entry is one time slot in an agent's daily plan.
type Entry struct {
	Slot        string    `json:"time_slot"`
	Activity    string    `json:"activity"`
	Description string    `json:"description"`
	Reason      string    `json:"reason,omitempty"`
	Origin      Origin    `json:"origin"`
	Priority    int       `json:"priority"`
	InsightID   string    `json:"insight_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Modification is a proposed override of one time slot.
type Modification struct {
	Slot        string `json:"time_slot"`
	Activity    string `json:"activity"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
	Priority    int    `json:"priority"`
}

// AuditRecord links a proposed modification to its outcome. Every
// modification produces one, whether or not it won its slot.
type AuditRecord struct {
	ID           string       `json:"id"`
	AgentID      string       `json:"agent_id"`
	Date         string       `json:"date"`
	InsightID    string       `json:"insight_id,omitempty"`
	Modification Modification `json:"modification"`
	Outcome      AuditOutcome `json:"outcome"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

// Plan is the effective daily plan for one agent, including the full
// audit trail of modifications proposed against it.
type Plan struct {
	AgentID string        `json:"agent_id"`
	Date    string        `json:"date"`
	Entries []Entry       `json:"entries"`
	Audit   []AuditRecord `json:"audit"`
}

// Persister writes plan state through to durable storage.
type Persister interface {
	SavePlanEntry(ctx context.Context, agentID, date string, e Entry) error
	SavePlanAudit(ctx context.Context, rec AuditRecord) error
}

// Loader reads persisted plan entries back, so an engine sees durable
// state from before its own lifetime.
type Loader interface {
	PlanEntries(ctx context.Context, agentID, date string) ([]Entry, error)
}

// dayPlan holds the mutable state for one (agent, date) pair.
type dayPlan struct {
	entries map[string]Entry // slot -> entry
	audit   []AuditRecord
}

// agentPlans serializes all plan writes for a single agent.
type agentPlans struct {
	mu   sync.Mutex
	days map[string]*dayPlan // date -> plan
}

// Engine merges proposed schedule modifications into agents' daily
// plans with priority-based conflict resolution. Different agents'
// plans are independent and patch concurrently.
type Engine struct {
	mu        sync.RWMutex
	agents    map[string]*agentPlans
	persister Persister
	loader    Loader
	logger    *zap.Logger
}

// NewEngine creates a patch engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		agents: make(map[string]*agentPlans),
		logger: logger,
	}
}

// SetPersister attaches write-through persistence.
func (e *Engine) SetPersister(p Persister) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persister = p
}

// SetLoader attaches durable storage to hydrate day plans from. A day
// an engine has never touched is read back before its first use, so
// entries written by a previous process keep winning conflicts.
func (e *Engine) SetLoader(l Loader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loader = l
}

func (e *Engine) forAgent(agentID string) *agentPlans {
	e.mu.Lock()
	defer e.mu.Unlock()
	ap, ok := e.agents[agentID]
	if !ok {
		ap = &agentPlans{days: make(map[string]*dayPlan)}
		e.agents[agentID] = ap
	}
	return ap
}

// day returns the state for one (agent, date) pair, hydrating it from
// durable storage the first time it is touched. Caller holds ap.mu.
func (e *Engine) day(ctx context.Context, ap *agentPlans, agentID, date string) *dayPlan {
	if dp, ok := ap.days[date]; ok {
		return dp
	}
	dp := &dayPlan{entries: make(map[string]Entry)}
	if e.loader != nil {
		persisted, err := e.loader.PlanEntries(ctx, agentID, date)
		if err != nil {
			e.logger.Warn("plan hydration failed, starting from empty day",
				zap.String("agent", agentID),
				zap.String("date", date),
				zap.Error(err))
		}
		for _, entry := range persisted {
			dp.entries[entry.Slot] = entry
		}
	}
	ap.days[date] = dp
	return dp
}

// SetRoutine seeds routine-origin entries for an agent's day. Existing
// dynamic entries are left untouched; routine slots are overwritten.
func (e *Engine) SetRoutine(ctx context.Context, agentID, date string, entries []Entry) error {
	ap := e.forAgent(agentID)
	ap.mu.Lock()
	defer ap.mu.Unlock()

	dp := e.day(ctx, ap, agentID, date)
	var errs []error
	for _, entry := range entries {
		if existing, ok := dp.entries[entry.Slot]; ok && existing.Origin == OriginDynamic {
			continue
		}
		entry.Origin = OriginRoutine
		entry.UpdatedAt = time.Now()
		dp.entries[entry.Slot] = entry
		if err := e.persist(ctx, agentID, date, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply merges modifications in order into the agent's plan for the
// given date. A dynamic modification always overrides a routine entry;
// against an existing dynamic entry it must carry strictly greater
// priority, otherwise it is recorded as superseded and the slot is left
// untouched. Re-applying an identical modification only refreshes the
// entry timestamp.
func (e *Engine) Apply(ctx context.Context, agentID, date, insightID string, mods []Modification, now time.Time) ([]AuditRecord, error) {
	ap := e.forAgent(agentID)
	ap.mu.Lock()
	defer ap.mu.Unlock()

	dp := e.day(ctx, ap, agentID, date)
	records := make([]AuditRecord, 0, len(mods))
	var errs []error

	for _, mod := range mods {
		outcome := e.resolve(dp, mod)

		switch outcome {
		case AuditApplied:
			entry := Entry{
				Slot:        mod.Slot,
				Activity:    mod.Activity,
				Description: mod.Description,
				Reason:      mod.Reason,
				Origin:      OriginDynamic,
				Priority:    mod.Priority,
				InsightID:   insightID,
				UpdatedAt:   now,
			}
			dp.entries[mod.Slot] = entry
			if err := e.persist(ctx, agentID, date, entry); err != nil {
				errs = append(errs, err)
			}
		case AuditRefreshed:
			entry := dp.entries[mod.Slot]
			entry.UpdatedAt = now
			dp.entries[mod.Slot] = entry
			if err := e.persist(ctx, agentID, date, entry); err != nil {
				errs = append(errs, err)
			}
		case AuditSuperseded:
			// slot keeps its current entry
		}

		rec := AuditRecord{
			ID:           uuid.New().String(),
			AgentID:      agentID,
			Date:         date,
			InsightID:    insightID,
			Modification: mod,
			Outcome:      outcome,
			RecordedAt:   now,
		}
		dp.audit = append(dp.audit, rec)
		records = append(records, rec)

		if err := e.persistAudit(ctx, rec); err != nil {
			errs = append(errs, err)
		}

		e.logger.Info("schedule modification resolved",
			zap.String("agent", agentID),
			zap.String("slot", mod.Slot),
			zap.String("outcome", string(outcome)),
			zap.Int("priority", mod.Priority))
	}

	return records, errors.Join(errs...)
}

// resolve decides the outcome for a single modification against the
// current slot state.
func (e *Engine) resolve(dp *dayPlan, mod Modification) AuditOutcome {
	existing, occupied := dp.entries[mod.Slot]
	if !occupied || existing.Origin == OriginRoutine {
		return AuditApplied
	}
	if existing.Activity == mod.Activity &&
		existing.Reason == mod.Reason &&
		existing.Priority == mod.Priority {
		return AuditRefreshed
	}
	// ties lose: a dynamic entry only yields to strictly higher priority
	if mod.Priority > existing.Priority {
		return AuditApplied
	}
	return AuditSuperseded
}

// persist writes an entry through to storage, retrying once.
func (e *Engine) persist(ctx context.Context, agentID, date string, entry Entry) error {
	if e.persister == nil {
		return nil
	}
	err := e.persister.SavePlanEntry(ctx, agentID, date, entry)
	if err == nil {
		return nil
	}
	if err = e.persister.SavePlanEntry(ctx, agentID, date, entry); err != nil {
		return fmt.Errorf("persist plan entry %s/%s: %w", agentID, entry.Slot, err)
	}
	return nil
}

func (e *Engine) persistAudit(ctx context.Context, rec AuditRecord) error {
	if e.persister == nil {
		return nil
	}
	err := e.persister.SavePlanAudit(ctx, rec)
	if err == nil {
		return nil
	}
	if err = e.persister.SavePlanAudit(ctx, rec); err != nil {
		return fmt.Errorf("persist plan audit %s: %w", rec.ID, err)
	}
	return nil
}

// Plan returns a read-only copy of an agent's plan for a date, entries
// ordered by time slot.
func (e *Engine) Plan(ctx context.Context, agentID, date string) *Plan {
	ap := e.forAgent(agentID)
	ap.mu.Lock()
	defer ap.mu.Unlock()

	dp := e.day(ctx, ap, agentID, date)
	p := &Plan{AgentID: agentID, Date: date, Entries: []Entry{}, Audit: []AuditRecord{}}
	for _, entry := range dp.entries {
		p.Entries = append(p.Entries, entry)
	}
	sort.Slice(p.Entries, func(i, j int) bool { return p.Entries[i].Slot < p.Entries[j].Slot })
	p.Audit = append(p.Audit, dp.audit...)
	return p
}

// Entry returns the current entry at one slot, if any.
func (e *Engine) Entry(ctx context.Context, agentID, date, slot string) (Entry, bool) {
	ap := e.forAgent(agentID)
	ap.mu.Lock()
	defer ap.mu.Unlock()
	dp := e.day(ctx, ap, agentID, date)
	entry, ok := dp.entries[slot]
	return entry, ok
}
