package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/expenseops/expense-validator/internal/prompts"
	"github.com/expenseops/expense-validator/internal/reconcile"
	"github.com/expenseops/expense-validator/internal/rules"
	"github.com/expenseops/expense-validator/internal/transform"
)

// Persister writes the run record between steps. Implementations must
// replace the whole snapshot atomically.
type Persister interface {
	Persist(ctx context.Context, runID uuid.UUID, status Status, snap *Snapshot) error
	Fail(ctx context.Context, runID uuid.UUID, cause error)
}

// Packager materializes the output artifacts from the final row set and
// returns the storage key per artifact kind.
type Packager interface {
	Package(ctx context.Context, runID uuid.UUID, snap *Snapshot) (map[string]string, error)
}

// Audit receives the discrete events needed to reconstruct a run's prompt
// and answer history.
type Audit interface {
	PromptsGenerated(ctx context.Context, runID uuid.UUID, ps []prompts.Prompt)
	ArtifactProduced(ctx context.Context, runID uuid.UUID, kind, key string, rowCount int)
}

// Runner executes the step sequence of a single run. Steps within a run are
// strictly sequential; concurrency exists only across runs.
type Runner struct {
	persister Persister
	packager  Packager
	audit     Audit
}

func NewRunner(persister Persister, packager Packager, audit Audit) *Runner {
	return &Runner{persister: persister, packager: packager, audit: audit}
}

// Execute drives the run from the snapshot's current step until it either
// completes, parks on outstanding prompts, or fails. The caller must have
// transitioned the run to RUNNING already. Every step transition persists
// the full snapshot before yielding control.
func (r *Runner) Execute(ctx context.Context, runID uuid.UUID, snap *Snapshot) (Status, error) {
	logger := zap.S().Named("pipeline")

	status := StatusRunning
	for status == StatusRunning {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, runID, err)
		}

		logger.Infow("executing step", "run_id", runID, "step", snap.Step)

		var err error
		switch snap.Step {
		case StepValidate:
			err = r.validate(snap)
		case StepGlobalHITL:
			status, err = r.awaitPrompts(ctx, runID, snap, prompts.Generate(nil, snap.Missing), StepRowHITL)
		case StepRowHITL:
			status, err = r.awaitPrompts(ctx, runID, snap, prompts.Generate(snap.Rows, nil), StepTransform)
		case StepTransform:
			err = r.transform(snap)
		case StepPackage:
			status, err = r.pack(ctx, runID, snap)
		case StepDone:
			status = StatusCompleted
		default:
			err = errors.Errorf("unknown pipeline step: %s", snap.Step)
		}
		if err != nil {
			return r.fail(ctx, runID, err)
		}

		if err := r.persister.Persist(ctx, runID, status, snap); err != nil {
			return r.fail(ctx, runID, errors.Wrap(err, "persisting run snapshot"))
		}
	}

	return status, nil
}

// validate reconciles carried rows, evaluates the rule engine over the batch
// and records the unresolved parameter keys.
func (r *Runner) validate(snap *Snapshot) error {
	rows, carried := reconcile.Carry(snap.Rows)
	if carried > 0 {
		zap.S().Named("pipeline").Infow("carried unchanged rows forward", "count", carried)
	}

	res := rules.Evaluate(rows, snap.Params)
	for i := range rows {
		rows[i].Verdict = res.Verdicts[i]
	}

	snap.Rows = rows
	snap.Missing = res.MissingParams
	snap.refreshCounts()
	snap.Step = StepGlobalHITL
	return nil
}

// awaitPrompts parks the run when the step leaves prompts unresolved, or
// advances to the next step when nothing is outstanding. The persisted
// prompt list always reflects the full outstanding set so status queries see
// row prompts even while a global one blocks.
func (r *Runner) awaitPrompts(ctx context.Context, runID uuid.UUID, snap *Snapshot, stepPrompts []prompts.Prompt, next Step) (Status, error) {
	snap.Prompts = snap.Outstanding()

	if len(stepPrompts) == 0 {
		snap.Step = next
		return StatusRunning, nil
	}

	if r.audit != nil {
		r.audit.PromptsGenerated(ctx, runID, stepPrompts)
	}
	return Next(StatusRunning, EventPromptsPending)
}

func (r *Runner) transform(snap *Snapshot) error {
	snap.Rows = transform.Apply(snap.Rows, snap.Params)
	snap.Prompts = nil
	snap.refreshCounts()
	snap.Step = StepPackage
	return nil
}

func (r *Runner) pack(ctx context.Context, runID uuid.UUID, snap *Snapshot) (Status, error) {
	artifacts, err := r.packager.Package(ctx, runID, snap)
	if err != nil {
		return StatusFailed, errors.Wrap(err, "packaging artifacts")
	}
	snap.Artifacts = artifacts

	if r.audit != nil {
		for kind, key := range artifacts {
			count := snap.InvalidCount
			if kind == ArtifactValid {
				count = snap.ValidCount
			}
			r.audit.ArtifactProduced(ctx, runID, kind, key, count)
		}
	}

	snap.Step = StepDone
	return Next(StatusRunning, EventCompleted)
}

func (r *Runner) fail(ctx context.Context, runID uuid.UUID, cause error) (Status, error) {
	zap.S().Named("pipeline").Errorw("run failed", "run_id", runID, "error", cause)
	r.persister.Fail(ctx, runID, cause)
	return StatusFailed, cause
}
