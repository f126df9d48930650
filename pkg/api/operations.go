package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/harrowgate/conductor/pkg/bus"
)

// Operation type/status strings carried on OperationUpdate envelopes.
const (
	opTypeDecompose = "decompose"
	opTypeDispatch  = "dispatch"

	opStatusRunning   = "running"
	opStatusCompleted = "completed"
	opStatusFailed    = "failed"
)

// runOperation starts work in the background, publishing OperationUpdate
// envelopes as it progresses so a subscriber watching /api/events can
// follow a decompose/dispatch call's progress. It returns the freshly
// allocated operation id immediately; callers respond 202 with it.
func (s *Server) runOperation(goalID, opType string, work func(ctx context.Context) (any, error)) string {
	opID := uuid.NewString()
	s.bus.Publish(bus.OperationUpdateEnvelope(opID, goalID, opType, opStatusRunning, "", nil))

	go func() {
		result, err := work(context.Background())
		if err != nil {
			slog.Error("operation failed", "operation_id", opID, "type", opType, "goal_id", goalID, "err", err)
			s.bus.Publish(bus.OperationUpdateEnvelope(opID, goalID, opType, opStatusFailed, err.Error(), nil))
			return
		}
		s.bus.Publish(bus.OperationUpdateEnvelope(opID, goalID, opType, opStatusCompleted, "", result))
	}()

	return opID
}
