package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/vault-mind/internal/cognition"
)

// UpdateState performs a serialized per-agent read-modify-write of the
// accumulator row. Row-level locking (SELECT ... FOR UPDATE) keeps
// concurrent workers and instances consistent.
func (s *Store) UpdateState(ctx context.Context, agentID string, fn func(*cognition.AccumulatorState) error) (*cognition.AccumulatorState, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin state update: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accumulator_state (agent_id, day_stamp)
		VALUES ($1, '')
		ON CONFLICT (agent_id) DO NOTHING`, agentID)
	if err != nil {
		return nil, fmt.Errorf("ensure state row %s: %w", agentID, err)
	}

	row := tx.QueryRow(ctx, `
		SELECT cumulative_importance, events_since_reset, total_events,
		       last_reflection_at, last_metacognition_at,
		       daily_metacognition_count, day_stamp
		FROM accumulator_state WHERE agent_id = $1 FOR UPDATE`, agentID)

	st := cognition.AccumulatorState{AgentID: agentID}
	var lastReflection, lastMetacog *time.Time
	if err := row.Scan(
		&st.CumulativeImportance, &st.EventsSinceReset, &st.TotalEvents,
		&lastReflection, &lastMetacog,
		&st.DailyMetacogCount, &st.DayStamp,
	); err != nil {
		return nil, fmt.Errorf("load state %s: %w", agentID, err)
	}
	if lastReflection != nil {
		st.LastReflectionAt = *lastReflection
	}
	if lastMetacog != nil {
		st.LastMetacognitionAt = *lastMetacog
	}

	if err := fn(&st); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE accumulator_state SET
			cumulative_importance = $2,
			events_since_reset = $3,
			total_events = $4,
			last_reflection_at = $5,
			last_metacognition_at = $6,
			daily_metacognition_count = $7,
			day_stamp = $8,
			updated_at = NOW()
		WHERE agent_id = $1`,
		agentID, st.CumulativeImportance, st.EventsSinceReset, st.TotalEvents,
		nullTime(st.LastReflectionAt), nullTime(st.LastMetacognitionAt),
		st.DailyMetacogCount, st.DayStamp,
	)
	if err != nil {
		return nil, fmt.Errorf("write state %s: %w", agentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit state %s: %w", agentID, err)
	}
	return &st, nil
}

// GetState reads an agent's accumulator row, zero-valued if absent.
func (s *Store) GetState(ctx context.Context, agentID string) (*cognition.AccumulatorState, error) {
	row := s.db.QueryRow(ctx, `
		SELECT cumulative_importance, events_since_reset, total_events,
		       last_reflection_at, last_metacognition_at,
		       daily_metacognition_count, day_stamp
		FROM accumulator_state WHERE agent_id = $1`, agentID)

	st := cognition.AccumulatorState{AgentID: agentID}
	var lastReflection, lastMetacog *time.Time
	err := row.Scan(
		&st.CumulativeImportance, &st.EventsSinceReset, &st.TotalEvents,
		&lastReflection, &lastMetacog,
		&st.DailyMetacogCount, &st.DayStamp,
	)
	if err != nil {
		if isNoRows(err) {
			return &st, nil
		}
		return nil, fmt.Errorf("get state %s: %w", agentID, err)
	}
	if lastReflection != nil {
		st.LastReflectionAt = *lastReflection
	}
	if lastMetacog != nil {
		st.LastMetacognitionAt = *lastMetacog
	}
	return &st, nil
}

// ListAgents returns every agent with an accumulator row.
func (s *Store) ListAgents(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT agent_id FROM accumulator_state ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
