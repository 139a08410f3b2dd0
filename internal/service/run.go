package service

import (
	"context"
	"errors"
	"path"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expenseops/expense-validator/internal/events"
	"github.com/expenseops/expense-validator/internal/ingest"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/prompts"
	"github.com/expenseops/expense-validator/internal/service/mappers"
	"github.com/expenseops/expense-validator/internal/store"
	"github.com/expenseops/expense-validator/internal/store/model"
	"github.com/expenseops/expense-validator/pkg/metrics"
)

// ArtifactFetcher reads a stored artifact back by its storage key.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// RunService owns the run lifecycle: upload, execution, answer intake and
// artifact retrieval. All state mutations for one run are serialized through
// a per-run mutex, so concurrent answer batches never interleave.
type RunService struct {
	store    store.Store
	runner   *pipeline.Runner
	fetcher  ArtifactFetcher
	writer   *events.EventProducer
	runLocks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewRunService(store store.Store, runner *pipeline.Runner, fetcher ArtifactFetcher, writer *events.EventProducer) *RunService {
	return &RunService{store: store, runner: runner, fetcher: fetcher, writer: writer}
}

func (s *RunService) lock(id uuid.UUID) func() {
	mu, _ := s.runLocks.LoadOrStore(id, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// CreateRun parses the uploaded file, persists the queued run and dispatches
// the pipeline on a background goroutine. The returned record reflects the
// queued state; callers poll GetRun for progress.
func (s *RunService) CreateRun(ctx context.Context, form mappers.RunCreateForm) (model.Run, error) {
	rows, err := ingest.Parse(form.Content)
	if err != nil {
		return model.Run{}, NewErrExpenseFileCorrupted(err.Error())
	}

	snap := pipeline.Snapshot{
		Step:   pipeline.StepValidate,
		Rows:   rows,
		Params: form.ToParams(),
	}

	run, err := s.store.Run().Create(ctx, form.ToRun(snap))
	if err != nil {
		return model.Run{}, err
	}

	go s.dispatch(run.ID, snap)

	return *run, nil
}

// dispatch moves the run from QUEUED to RUNNING and executes the pipeline to
// its first stop. Detached from the request context: an upload response must
// not cancel the run.
func (s *RunService) dispatch(runID uuid.UUID, snap pipeline.Snapshot) {
	unlock := s.lock(runID)
	defer unlock()

	ctx := context.Background()

	status, err := pipeline.Next(pipeline.StatusQueued, pipeline.EventDispatch)
	if err != nil {
		zap.S().Named("run_service").Errorw("failed to dispatch run", "run_id", runID, "error", err)
		return
	}

	if _, err := s.updateRun(ctx, runID, status, &snap); err != nil {
		zap.S().Named("run_service").Errorw("failed to mark run running", "run_id", runID, "error", err)
		return
	}

	// Execute persists after every step and on failure, nothing left to do
	// with the returned status here.
	_, _ = s.runner.Execute(ctx, runID, &snap)
}

// RecoverRuns re-dispatches runs a previous process left behind. The snapshot
// records the next step to execute, so a QUEUED run restarts from the top and
// a RUNNING one resumes from its last persisted step. WAITING_FOR_USER runs
// need no recovery; they resume when answers arrive.
func (s *RunService) RecoverRuns(ctx context.Context) error {
	for _, status := range []pipeline.Status{pipeline.StatusQueued, pipeline.StatusRunning} {
		runs, err := s.store.Run().List(ctx, store.NewRunQueryFilter().WithStatus(string(status)))
		if err != nil {
			return err
		}

		for _, run := range runs {
			if run.Snapshot == nil {
				continue
			}
			zap.S().Named("run_service").Infow("recovering interrupted run",
				"run_id", run.ID, "status", run.Status, "step", run.Snapshot.Data.Step)

			if status == pipeline.StatusQueued {
				go s.dispatch(run.ID, run.Snapshot.Data)
			} else {
				go s.execute(run.ID, run.Snapshot.Data)
			}
		}
	}
	return nil
}

// execute resumes an already-RUNNING run from its persisted step.
func (s *RunService) execute(runID uuid.UUID, snap pipeline.Snapshot) {
	unlock := s.lock(runID)
	defer unlock()

	_, _ = s.runner.Execute(context.Background(), runID, &snap)
}

func (s *RunService) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	run, err := s.store.Run().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrRunNotFound(id)
		}
		return nil, err
	}
	return run, nil
}

type RunFilter struct {
	Status string
	Limit  int
}

func (s *RunService) ListRuns(ctx context.Context, filter *RunFilter) (model.RunList, error) {
	storeFilter := store.NewRunQueryFilter()
	if filter != nil {
		if filter.Status != "" {
			storeFilter = storeFilter.WithStatus(filter.Status)
		}
		if filter.Limit > 0 {
			storeFilter = storeFilter.WithLimit(filter.Limit)
		}
	}
	return s.store.Run().List(ctx, storeFilter)
}

func (s *RunService) DeleteRun(ctx context.Context, id uuid.UUID) error {
	unlock := s.lock(id)
	defer unlock()

	if err := s.store.Run().Delete(ctx, id); err != nil {
		return err
	}
	s.runLocks.Delete(id)
	return nil
}

// SubmitAnswers applies a batch of answers to a parked run and resumes the
// pipeline synchronously. Partial batches are fine: the run parks again with
// the remaining prompts. Unknown prompt identifiers are reported back as
// ignored, never fatal.
func (s *RunService) SubmitAnswers(ctx context.Context, id uuid.UUID, answers []prompts.Answer) (prompts.Report, pipeline.Status, error) {
	unlock := s.lock(id)
	defer unlock()

	run, snap, err := s.waitingRun(ctx, id)
	if err != nil {
		return prompts.Report{}, "", err
	}

	report := prompts.Apply(snap.Rows, &snap.Params, snap.Outstanding(), answers)
	metrics.IncreaseAnswersMetric("applied", len(report.Applied))
	metrics.IncreaseAnswersMetric("ignored", len(report.Ignored))
	s.emitAnswers(ctx, id, answers, report)

	if len(report.Applied) == 0 {
		return report, pipeline.Status(run.Status), nil
	}

	status, err := s.resume(ctx, id, snap)
	return report, status, err
}

// SkipAllPrompts resolves every outstanding prompt as skipped and drives the
// run to completion, routing the affected rows to the error artifact.
func (s *RunService) SkipAllPrompts(ctx context.Context, id uuid.UUID) (prompts.Report, pipeline.Status, error) {
	unlock := s.lock(id)
	defer unlock()

	_, snap, err := s.waitingRun(ctx, id)
	if err != nil {
		return prompts.Report{}, "", err
	}

	report := prompts.SkipAll(snap.Rows, &snap.Params, snap.Outstanding())
	metrics.IncreaseAnswersMetric("skipped", len(report.Applied))
	skips := make([]prompts.Answer, 0, len(report.Applied))
	for _, promptID := range report.Applied {
		skips = append(skips, prompts.Answer{ID: promptID, Skip: true})
	}
	s.emitAnswers(ctx, id, skips, report)

	status, err := s.resume(ctx, id, snap)
	return report, status, err
}

// GetArtifact returns the content and download filename of one artifact of a
// completed run.
func (s *RunService) GetArtifact(ctx context.Context, id uuid.UUID, kind string) ([]byte, string, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if run.Status != string(pipeline.StatusCompleted) || run.Snapshot == nil {
		return nil, "", NewErrArtifactNotReady(id, run.Status)
	}

	key, ok := run.Snapshot.Data.Artifacts[kind]
	if !ok {
		return nil, "", NewErrArtifactNotFound(id, kind)
	}

	content, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return content, path.Base(key), nil
}

// waitingRun loads the run and asserts it is parked on prompts.
func (s *RunService) waitingRun(ctx context.Context, id uuid.UUID) (*model.Run, *pipeline.Snapshot, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if run.Status != string(pipeline.StatusWaitingForUser) || run.Snapshot == nil {
		return nil, nil, NewErrRunNotWaiting(id, run.Status)
	}

	snap := run.Snapshot.Data
	return run, &snap, nil
}

// resume re-enters the pipeline from the validate step. Validation is cheap
// to repeat and the reconciler keeps carried and skipped rows out of the
// engine, so re-entry costs only the changed rows.
func (s *RunService) resume(ctx context.Context, id uuid.UUID, snap *pipeline.Snapshot) (pipeline.Status, error) {
	status, err := pipeline.Next(pipeline.StatusWaitingForUser, pipeline.EventAnswersReceived)
	if err != nil {
		return "", err
	}
	metrics.UpdateRunsWaitingMetric(-1)

	snap.Step = pipeline.StepValidate
	if _, err := s.updateRun(ctx, id, status, snap); err != nil {
		return "", err
	}

	return s.runner.Execute(ctx, id, snap)
}

func (s *RunService) emitAnswers(ctx context.Context, runID uuid.UUID, answers []prompts.Answer, report prompts.Report) {
	if s.writer == nil {
		return
	}

	applied := map[string]bool{}
	for _, id := range report.Applied {
		applied[id] = true
	}

	for _, ans := range answers {
		if err := s.writer.Write(ctx, events.AnswerMessageKind, events.AnswerEvent{
			RunID:    runID.String(),
			PromptID: ans.ID,
			Skip:     ans.Skip,
			Applied:  applied[ans.ID],
		}); err != nil {
			zap.S().Named("run_service").Errorw("failed to write answer event", "run_id", runID, "error", err)
		}
	}
}

func (s *RunService) updateRun(ctx context.Context, id uuid.UUID, status pipeline.Status, snap *pipeline.Snapshot) (*model.Run, error) {
	return s.store.Run().Update(ctx, model.Run{
		ID:           id,
		Status:       string(status),
		ValidCount:   snap.ValidCount,
		InvalidCount: snap.InvalidCount,
		Snapshot:     model.MakeJSONField(*snap),
	})
}
