package store

import (
	"context"
	"fmt"
	"time"
)

// AppendAgentEventParams are the fields recorded for one event emitted by
// an AgentRun's subprocess, after the Event Parser normalizes it.
type AppendAgentEventParams struct {
	AgentRunID string
	EventType  AgentEventType
	ToolName   string
	Summary    string
	RawPayload string
	CostDelta  *float64
}

// AppendAgentEvent inserts an AgentEvent and returns it with its
// store-allocated, strictly increasing id. Agent events are ordered and
// never rewritten.
func (s *Store) AppendAgentEvent(ctx context.Context, p AppendAgentEventParams) (*AgentEvent, error) {
	e := &AgentEvent{
		AgentRunID: p.AgentRunID,
		EventType:  p.EventType,
		ToolName:   p.ToolName,
		Summary:    p.Summary,
		RawPayload: p.RawPayload,
		CostDelta:  p.CostDelta,
		CreatedAt:  time.Now().UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO agent_events (agent_run_id, event_type, tool_name, summary, raw_payload, cost_delta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.AgentRunID, string(e.EventType), e.ToolName, e.Summary, e.RawPayload, e.CostDelta, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("appending agent event: %w", err)
	}
	return e, nil
}

// ListAgentEvents returns an AgentRun's events in the order they were
// recorded.
func (s *Store) ListAgentEvents(ctx context.Context, agentRunID string) ([]*AgentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_run_id, event_type, tool_name, summary, raw_payload, cost_delta, created_at
		FROM agent_events WHERE agent_run_id = $1 ORDER BY id ASC`, agentRunID)
	if err != nil {
		return nil, fmt.Errorf("listing agent events: %w", err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		var e AgentEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.AgentRunID, &eventType, &e.ToolName, &e.Summary, &e.RawPayload, &e.CostDelta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent event row: %w", err)
		}
		e.EventType = AgentEventType(eventType)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ListAgentEventsSince returns an AgentRun's events with id greater than
// afterID — used by the agent events endpoint's ?after= query.
func (s *Store) ListAgentEventsSince(ctx context.Context, agentRunID string, afterID int64) ([]*AgentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_run_id, event_type, tool_name, summary, raw_payload, cost_delta, created_at
		FROM agent_events WHERE agent_run_id = $1 AND id > $2 ORDER BY id ASC`, agentRunID, afterID)
	if err != nil {
		return nil, fmt.Errorf("listing agent events since %d: %w", afterID, err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		var e AgentEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.AgentRunID, &eventType, &e.ToolName, &e.Summary, &e.RawPayload, &e.CostDelta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent event row: %w", err)
		}
		e.EventType = AgentEventType(eventType)
		events = append(events, &e)
	}
	return events, rows.Err()
}
