package status

import (
	"context"

	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/types"
)

// ProjectTracker adapts the generic operation Tracker to the engine's
// per-project operation lifecycle contract, so the Status HTTP Server can
// expose Download/Upload/Save/Rollback/Export history per project without
// the engine depending on the tracker's generic Operation shape directly.
type ProjectTracker struct {
	tracker *Tracker
}

// NewProjectTracker builds a ProjectTracker over tracker.
func NewProjectTracker(tracker *Tracker) *ProjectTracker {
	return &ProjectTracker{tracker: tracker}
}

// Start records a running operation for project and returns its ID.
func (p *ProjectTracker) Start(project string, op types.OperationKind) string {
	operation, _ := p.tracker.StartOperation(context.Background(), string(op), map[string]interface{}{
		"project": project,
	})
	return operation.ID
}

// Finish records the terminal outcome for the operation named by id.
func (p *ProjectTracker) Finish(id string, outcome types.OperationOutcome, detail string) {
	switch outcome {
	case types.OutcomeSuccess:
		_ = p.tracker.SetMessage(id, detail)
		_ = p.tracker.CompleteOperation(id)
	default:
		_ = p.tracker.SetMessage(id, detail)
		_ = p.tracker.FailOperation(id, errors.NewError(errors.ErrCodeOperationFailed, detail))
	}
}

// Get returns the currently running operations for project.
func (p *ProjectTracker) Get(project string) []types.OperationRecord {
	var out []types.OperationRecord
	for _, op := range p.tracker.GetAllOperations() {
		if projectOf(op) != project {
			continue
		}
		out = append(out, toRecord(op))
	}
	return out
}

// History returns the most recent limit finished (completed or failed)
// operations for project, newest first. Running operations are not
// included; Get returns those.
func (p *ProjectTracker) History(project string, limit int) []types.OperationRecord {
	var out []types.OperationRecord
	for _, op := range p.tracker.GetHistory(0) {
		if projectOf(op) != project {
			continue
		}
		out = append(out, toRecord(op))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func projectOf(op *Operation) string {
	if op.Metadata == nil {
		return ""
	}
	if v, ok := op.Metadata["project"].(string); ok {
		return v
	}
	return ""
}

func toRecord(op *Operation) types.OperationRecord {
	rec := types.OperationRecord{
		Operation: types.OperationKind(op.Type),
		Project:   projectOf(op),
		StartedAt: op.StartTime,
		Outcome:   types.OutcomeRunning,
	}
	rec.FinishedAt = op.EndTime
	rec.Detail = op.Message

	switch op.Status {
	case StatusCompleted:
		rec.Outcome = types.OutcomeSuccess
	case StatusFailed:
		rec.Outcome = types.OutcomeFailed
	}
	return rec
}
