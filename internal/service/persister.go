package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expenseops/expense-validator/internal/events"
	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/store"
	"github.com/expenseops/expense-validator/internal/store/model"
	"github.com/expenseops/expense-validator/pkg/metrics"
)

// RunPersister stores the snapshot between pipeline steps and emits the run
// lifecycle events and metrics derived from the status transitions.
type RunPersister struct {
	store  store.Store
	writer *events.EventProducer
}

var _ pipeline.Persister = (*RunPersister)(nil)

func NewRunPersister(store store.Store, writer *events.EventProducer) *RunPersister {
	return &RunPersister{store: store, writer: writer}
}

func (p *RunPersister) Persist(ctx context.Context, runID uuid.UUID, status pipeline.Status, snap *pipeline.Snapshot) error {
	if _, err := p.store.Run().Update(ctx, model.Run{
		ID:           runID,
		Status:       string(status),
		ValidCount:   snap.ValidCount,
		InvalidCount: snap.InvalidCount,
		Snapshot:     model.MakeJSONField(*snap),
	}); err != nil {
		return err
	}

	switch status {
	case pipeline.StatusWaitingForUser:
		metrics.UpdateRunsWaitingMetric(1)
		p.emit(ctx, runID, status, snap)
	case pipeline.StatusCompleted:
		metrics.IncreaseRunsTotalMetric(string(status))
		metrics.IncreaseRowVerdictsMetric(string(expense.VerdictValid), snap.ValidCount)
		metrics.IncreaseRowVerdictsMetric(string(expense.VerdictInvalid), snap.InvalidCount)
		p.emit(ctx, runID, status, snap)
	}

	return nil
}

func (p *RunPersister) Fail(ctx context.Context, runID uuid.UUID, cause error) {
	msg := cause.Error()
	if _, err := p.store.Run().Update(ctx, model.Run{
		ID:     runID,
		Status: string(pipeline.StatusFailed),
		Error:  &msg,
	}); err != nil {
		zap.S().Named("run_persister").Errorw("failed to persist run failure", "run_id", runID, "error", err)
	}

	metrics.IncreaseRunsTotalMetric(string(pipeline.StatusFailed))
	p.emit(ctx, runID, pipeline.StatusFailed, nil)
}

func (p *RunPersister) emit(ctx context.Context, runID uuid.UUID, status pipeline.Status, snap *pipeline.Snapshot) {
	if p.writer == nil {
		return
	}

	event := events.RunEvent{RunID: runID.String(), Status: string(status)}
	if snap != nil {
		event.Rows = len(snap.Rows)
	}

	if err := p.writer.Write(ctx, events.RunMessageKind, event); err != nil {
		zap.S().Named("run_persister").Errorw("failed to write run event", "run_id", runID, "error", err)
	}
}
