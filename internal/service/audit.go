package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expenseops/expense-validator/internal/events"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/prompts"
	"github.com/expenseops/expense-validator/pkg/metrics"
)

// EventAudit forwards pipeline audit callbacks to the event producer.
type EventAudit struct {
	writer *events.EventProducer
}

var _ pipeline.Audit = (*EventAudit)(nil)

func NewEventAudit(writer *events.EventProducer) *EventAudit {
	return &EventAudit{writer: writer}
}

func (a *EventAudit) PromptsGenerated(ctx context.Context, runID uuid.UUID, ps []prompts.Prompt) {
	for _, p := range ps {
		metrics.IncreasePromptsGeneratedMetric(string(p.ID.Kind), 1)

		if err := a.writer.Write(ctx, events.PromptMessageKind, events.PromptEvent{
			RunID:    runID.String(),
			PromptID: p.ID.String(),
			Kind:     string(p.ID.Kind),
			Message:  p.Message,
		}); err != nil {
			zap.S().Named("event_audit").Errorw("failed to write prompt event", "run_id", runID, "error", err)
		}
	}
}

func (a *EventAudit) ArtifactProduced(ctx context.Context, runID uuid.UUID, kind, key string, rowCount int) {
	if err := a.writer.Write(ctx, events.ArtifactMessageKind, events.ArtifactEvent{
		RunID:    runID.String(),
		Kind:     kind,
		Key:      key,
		RowCount: rowCount,
	}); err != nil {
		zap.S().Named("event_audit").Errorw("failed to write artifact event", "run_id", runID, "error", err)
	}
}
