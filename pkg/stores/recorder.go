package stores

import (
	"context"

	"github.com/modulab/modulab/pkg/engine"
)

// RunRecorder adapts a Store to the engine's recorder seam.
type RunRecorder struct {
	store Store
}

// NewRunRecorder creates a recorder persisting reports to store.
func NewRunRecorder(store Store) *RunRecorder {
	return &RunRecorder{store: store}
}

// RecordRun implements engine.Recorder.
func (r *RunRecorder) RecordRun(ctx context.Context, report *engine.Report) error {
	run := &Run{
		ID:          report.RunID,
		Module:      report.Module,
		Action:      string(report.Action),
		Status:      RunStatusSucceeded,
		Changed:     report.Changed(),
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
	if err := report.Err(); err != nil {
		run.Status = RunStatusFailed
		msg := err.Error()
		run.Error = &msg
	}

	tasks := make([]TaskRecord, 0, len(report.Results))
	for i, res := range report.Results {
		task := TaskRecord{
			RunID:    report.RunID,
			Position: i,
			Label:    res.Label,
			Op:       res.Op,
			Changed:  res.Changed,
			Message:  res.Message,
		}
		if res.Err != nil {
			msg := res.Err.Error()
			task.Error = &msg
		}
		tasks = append(tasks, task)
	}

	return r.store.CreateRun(ctx, run, tasks)
}
