package cognition

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStateStore keeps accumulator state in process memory with
// per-agent serialization. Used when Postgres is not configured and in
// tests; the durable equivalent lives in internal/store.
type MemoryStateStore struct {
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	states map[string]*AccumulatorState
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		locks:  make(map[string]*sync.Mutex),
		states: make(map[string]*AccumulatorState),
	}
}

func (m *MemoryStateStore) agentLock(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

// UpdateState applies fn under the agent's lock and stores the result.
func (m *MemoryStateStore) UpdateState(ctx context.Context, agentID string, fn func(*AccumulatorState) error) (*AccumulatorState, error) {
	l := m.agentLock(agentID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	st, ok := m.states[agentID]
	m.mu.Unlock()

	var work AccumulatorState
	if ok {
		work = *st
	} else {
		work = AccumulatorState{AgentID: agentID}
	}
	if err := fn(&work); err != nil {
		return nil, err
	}

	stored := work
	m.mu.Lock()
	m.states[agentID] = &stored
	m.mu.Unlock()

	out := work
	return &out, nil
}

// GetState returns a copy of the agent's state, zero-valued if unseen.
func (m *MemoryStateStore) GetState(ctx context.Context, agentID string) (*AccumulatorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[agentID]; ok {
		out := *st
		return &out, nil
	}
	return &AccumulatorState{AgentID: agentID}, nil
}

// ListAgents returns every agent with recorded state, sorted.
func (m *MemoryStateStore) ListAgents(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryInsightStore is an append-only in-process insight history.
type MemoryInsightStore struct {
	mu       sync.Mutex
	insights map[string][]*Insight
}

// NewMemoryInsightStore creates an empty insight store.
func NewMemoryInsightStore() *MemoryInsightStore {
	return &MemoryInsightStore{insights: make(map[string][]*Insight)}
}

// AppendInsight records an insight or failure marker.
func (m *MemoryInsightStore) AppendInsight(ctx context.Context, ins *Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ins
	m.insights[ins.AgentID] = append(m.insights[ins.AgentID], &cp)
	return nil
}

// InsightHistory returns the agent's records in append order.
func (m *MemoryInsightStore) InsightHistory(ctx context.Context, agentID string) ([]*Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.insights[agentID]
	out := make([]*Insight, 0, len(src))
	for _, ins := range src {
		cp := *ins
		out = append(out, &cp)
	}
	return out, nil
}

type outcomeRecord struct {
	status string
	at     time.Time
}

// MemoryOutcomeStore keeps plan outcome records in process memory.
type MemoryOutcomeStore struct {
	mu       sync.Mutex
	outcomes map[string][]outcomeRecord
}

// NewMemoryOutcomeStore creates an empty outcome store.
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{outcomes: make(map[string][]outcomeRecord)}
}

// RecordOutcome appends a plan outcome for an agent.
func (m *MemoryOutcomeStore) RecordOutcome(ctx context.Context, agentID, status, detail string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[agentID] = append(m.outcomes[agentID], outcomeRecord{status: status, at: at})
	return nil
}

// RecentFailedPlanCount counts failed outcomes inside the window ending now.
func (m *MemoryOutcomeStore) RecentFailedPlanCount(ctx context.Context, agentID string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-window)
	n := 0
	for _, rec := range m.outcomes[agentID] {
		if rec.status == "failed" && rec.at.After(cutoff) {
			n++
		}
	}
	return n, nil
}
