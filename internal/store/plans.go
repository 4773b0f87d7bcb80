package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/vault-mind/internal/plan"
)

// SavePlanEntry upserts the current entry for one (agent, date, slot).
func (s *Store) SavePlanEntry(ctx context.Context, agentID, date string, e plan.Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO plan_entries
			(agent_id, plan_date, time_slot, activity, description,
			 reason, origin, priority, insight_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (agent_id, plan_date, time_slot) DO UPDATE SET
			activity = EXCLUDED.activity,
			description = EXCLUDED.description,
			reason = EXCLUDED.reason,
			origin = EXCLUDED.origin,
			priority = EXCLUDED.priority,
			insight_id = EXCLUDED.insight_id,
			updated_at = EXCLUDED.updated_at`,
		agentID, date, e.Slot, e.Activity, e.Description,
		e.Reason, string(e.Origin), e.Priority, e.InsightID, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save plan entry %s/%s/%s: %w", agentID, date, e.Slot, err)
	}
	return nil
}

// SavePlanAudit appends one audit record. The trail is append-only.
func (s *Store) SavePlanAudit(ctx context.Context, rec plan.AuditRecord) error {
	mod, err := json.Marshal(rec.Modification)
	if err != nil {
		return fmt.Errorf("marshal modification %s: %w", rec.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO plan_audit
			(id, agent_id, plan_date, insight_id, modification, outcome, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.AgentID, rec.Date, rec.InsightID, mod,
		string(rec.Outcome), rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("save plan audit %s: %w", rec.ID, err)
	}
	return nil
}

// PlanEntries loads the stored plan for one agent and date ordered by
// time slot, used to rebuild engine state after a restart.
func (s *Store) PlanEntries(ctx context.Context, agentID, date string) ([]plan.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time_slot, activity, description, reason, origin,
		       priority, insight_id, updated_at
		FROM plan_entries
		WHERE agent_id = $1 AND plan_date = $2
		ORDER BY time_slot`, agentID, date)
	if err != nil {
		return nil, fmt.Errorf("plan entries %s/%s: %w", agentID, date, err)
	}
	defer rows.Close()

	var entries []plan.Entry
	for rows.Next() {
		var e plan.Entry
		var origin string
		if err := rows.Scan(&e.Slot, &e.Activity, &e.Description, &e.Reason,
			&origin, &e.Priority, &e.InsightID, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan plan entry: %w", err)
		}
		e.Origin = plan.Origin(origin)
		entries = append(entries, e)
	}
	return entries, nil
}
