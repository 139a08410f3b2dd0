package pipeline

import (
	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/prompts"
)

// Step names the pipeline stages in execution order. The snapshot records
// the next step to run, which is all a restarted process needs to resume.
type Step string

const (
	StepValidate   Step = "validate"
	StepGlobalHITL Step = "global_hitl"
	StepRowHITL    Step = "row_hitl"
	StepTransform  Step = "transform"
	StepPackage    Step = "package"
	StepDone       Step = "done"
)

// Artifact kinds produced by the package step.
const (
	ArtifactValid  = "valid"
	ArtifactErrors = "errors"
)

// Snapshot is the complete mutable state of a run. It is owned by the
// pipeline for the duration of a step and replaced wholesale in the store
// after every step, so readers only ever observe a pre- or post-step state.
type Snapshot struct {
	Step   Step           `json:"step"`
	Rows   []expense.Row  `json:"rows"`
	Params expense.Params `json:"params"`

	// Missing holds the unresolved global parameter keys from the last
	// engine pass. Prompts is the prompt set derived from it and from the
	// row verdicts; it is persisted for status queries only and re-derived
	// on every pass, never treated as independent truth.
	Missing []string         `json:"missing,omitempty"`
	Prompts []prompts.Prompt `json:"prompts,omitempty"`

	// Artifacts maps artifact kind (valid, errors) to its storage key once
	// the package step has run.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	ValidCount   int `json:"valid_count"`
	InvalidCount int `json:"invalid_count"`
}

// Outstanding re-derives the current prompt set from the snapshot state.
func (s *Snapshot) Outstanding() []prompts.Prompt {
	return prompts.Generate(s.Rows, s.Missing)
}

func (s *Snapshot) refreshCounts() {
	valid, invalid := 0, 0
	for _, row := range s.Rows {
		switch row.Verdict.Kind {
		case expense.VerdictValid:
			valid++
		case expense.VerdictInvalid:
			invalid++
		}
	}
	s.ValidCount, s.InvalidCount = valid, invalid
}
