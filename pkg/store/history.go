package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// appendHistoryTx inserts a GoalHistory row within an already-open
// transaction — used by CreateGoal/CreateTask/CreateAgentRun so the history
// entry commits atomically with the state change it records.
func appendHistoryTx(ctx context.Context, tx *sql.Tx, goalID string, eventType GoalHistoryType, description string, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshaling history metadata: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO goal_space_history (goal_space_id, event_type, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		goalID, string(eventType), description, nullableJSON(metaJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending goal history: %w", err)
	}
	return nil
}

// AppendHistory inserts a GoalHistory row outside of any particular
// transaction — used by callers like MarkGoalCompletedIfAllTasksDone whose
// own write already committed by the time the history entry is known.
func (s *Store) AppendHistory(ctx context.Context, goalID string, eventType GoalHistoryType, description string, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshaling history metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goal_space_history (goal_space_id, event_type, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		goalID, string(eventType), description, nullableJSON(metaJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending goal history: %w", err)
	}
	return nil
}

// ListHistory returns a Goal's history entries oldest-first, the order a
// timeline view renders them in.
func (s *Store) ListHistory(ctx context.Context, goalID string) ([]*GoalHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_space_id, event_type, description, metadata, created_at
		FROM goal_space_history WHERE goal_space_id = $1 ORDER BY id ASC`, goalID)
	if err != nil {
		return nil, fmt.Errorf("listing goal history: %w", err)
	}
	defer rows.Close()

	var entries []*GoalHistoryEntry
	for rows.Next() {
		var e GoalHistoryEntry
		var eventType string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.GoalID, &eventType, &e.Description, &metaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning goal history row: %w", err)
		}
		e.EventType = GoalHistoryType(eventType)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling history metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
