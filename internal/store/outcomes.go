package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordOutcome appends one plan outcome row.
func (s *Store) RecordOutcome(ctx context.Context, agentID, status, detail string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO plan_outcomes (id, agent_id, status, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), agentID, status, detail, at,
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", agentID, err)
	}
	return nil
}

// RecentFailedPlanCount counts failed outcomes within the trailing
// window.
func (s *Store) RecentFailedPlanCount(ctx context.Context, agentID string, window time.Duration) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM plan_outcomes
		WHERE agent_id = $1 AND status = 'failed' AND recorded_at > $2`,
		agentID, time.Now().Add(-window),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed plan count %s: %w", agentID, err)
	}
	return count, nil
}
