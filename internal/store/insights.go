package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/vault-mind/internal/cognition"
)

// AppendInsight persists an insight or failure marker. Rows are never
// updated or deleted.
func (s *Store) AppendInsight(ctx context.Context, ins *cognition.Insight) error {
	var evaluation []byte
	if ins.Evaluation != nil {
		data, err := json.Marshal(ins.Evaluation)
		if err != nil {
			return fmt.Errorf("marshal evaluation %s: %w", ins.ID, err)
		}
		evaluation = data
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO insights
			(id, agent_id, kind, reason, status, created_at,
			 importance_score, payload_text, evaluation, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ins.ID, ins.AgentID, string(ins.Kind), string(ins.Reason),
		string(ins.Status), ins.CreatedAt, ins.ImportanceScore,
		ins.Text, evaluation, ins.Error,
	)
	if err != nil {
		return fmt.Errorf("append insight %s: %w", ins.ID, err)
	}
	return nil
}

// InsightHistory returns an agent's records oldest first, failure
// markers included.
func (s *Store) InsightHistory(ctx context.Context, agentID string) ([]*cognition.Insight, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, kind, reason, status, created_at,
		       importance_score, payload_text, evaluation, error_detail
		FROM insights WHERE agent_id = $1
		ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("insight history %s: %w", agentID, err)
	}
	defer rows.Close()

	var insights []*cognition.Insight
	for rows.Next() {
		ins := cognition.Insight{AgentID: agentID}
		var kind, reason, status string
		var createdAt time.Time
		var evaluation []byte
		if err := rows.Scan(
			&ins.ID, &kind, &reason, &status, &createdAt,
			&ins.ImportanceScore, &ins.Text, &evaluation, &ins.Error,
		); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		ins.Kind = cognition.JobKind(kind)
		ins.Reason = cognition.TriggerReason(reason)
		ins.Status = cognition.InsightStatus(status)
		ins.CreatedAt = createdAt
		if len(evaluation) > 0 {
			var eval cognition.Evaluation
			if err := json.Unmarshal(evaluation, &eval); err != nil {
				return nil, fmt.Errorf("unmarshal evaluation %s: %w", ins.ID, err)
			}
			ins.Evaluation = &eval
		}
		insights = append(insights, &ins)
	}
	return insights, nil
}
