package mappers

import (
	api "github.com/expenseops/expense-validator/api/v1alpha1"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/prompts"
	"github.com/expenseops/expense-validator/internal/store/model"
)

func RunToApi(r model.Run) api.Run {
	run := api.Run{
		Id:           r.ID,
		Filename:     r.Filename,
		Status:       api.StringToRunStatus(r.Status),
		Error:        r.Error,
		ValidCount:   r.ValidCount,
		InvalidCount: r.InvalidCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}

	// Prompts are only meaningful while the run is parked; a terminal or
	// running snapshot may still carry a stale cached list.
	if r.Status == string(pipeline.StatusWaitingForUser) && r.Snapshot != nil {
		run.Prompts = PromptsToApi(r.Snapshot.Data.Prompts)
	}

	return run
}

func RunListToApi(runs model.RunList) api.RunList {
	runList := []api.Run{}
	for _, r := range runs {
		runList = append(runList, RunToApi(r))
	}
	return runList
}

func PromptsToApi(ps []prompts.Prompt) []api.Prompt {
	out := make([]api.Prompt, 0, len(ps))
	for _, p := range ps {
		out = append(out, api.Prompt{
			Id:      p.ID.String(),
			Type:    api.PromptType(p.Type),
			Message: p.Message,
		})
	}
	return out
}

func ReportToApi(rep prompts.Report, status pipeline.Status) api.RunAnswersReply {
	reply := api.RunAnswersReply{
		Applied: rep.Applied,
		Ignored: rep.Ignored,
		Status:  api.StringToRunStatus(string(status)),
	}
	if reply.Applied == nil {
		reply.Applied = []string{}
	}
	if reply.Ignored == nil {
		reply.Ignored = []string{}
	}
	return reply
}
