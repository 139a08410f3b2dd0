package mappers

import (
	"time"

	"github.com/google/uuid"

	api "github.com/expenseops/expense-validator/api/v1alpha1"
	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/prompts"
	"github.com/expenseops/expense-validator/internal/store/model"
)

// RunCreateForm carries the validated upload input into the service layer.
type RunCreateForm struct {
	ID            uuid.UUID
	Filename      string
	Content       []byte
	ReferenceDate string
	RoundingMode  string
	CostCenters   map[string]string
}

// ToParams builds the initial parameter state. Absent values stay unset and
// surface later as global prompts.
func (f RunCreateForm) ToParams() expense.Params {
	return expense.Params{
		ReferenceDate: f.ReferenceDate,
		Rounding:      expense.RoundingMode(f.RoundingMode),
		CostCenters:   f.CostCenters,
	}
}

func (f RunCreateForm) ToRun(snap pipeline.Snapshot) model.Run {
	return model.Run{
		ID:        f.ID,
		CreatedAt: time.Now(),
		Filename:  f.Filename,
		Status:    string(pipeline.StatusQueued),
		Snapshot:  model.MakeJSONField(snap),
	}
}

func AnswersFromApi(in []api.Answer) []prompts.Answer {
	answers := make([]prompts.Answer, 0, len(in))
	for _, a := range in {
		answers = append(answers, prompts.Answer{
			ID:    a.Id,
			Value: a.Value,
			Skip:  a.Skip,
		})
	}
	return answers
}
