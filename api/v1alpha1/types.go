package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusQueued         RunStatus = "QUEUED"
	RunStatusRunning        RunStatus = "RUNNING"
	RunStatusWaitingForUser RunStatus = "WAITING_FOR_USER"
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusFailed         RunStatus = "FAILED"
)

type PromptType string

const (
	PromptTypeString PromptType = "string"
	PromptTypeNumber PromptType = "number"
	PromptTypeDate   PromptType = "date"
	PromptTypeEnum   PromptType = "enum"
)

// Prompt is a single outstanding question that must be answered (or skipped)
// before a run can make progress.
type Prompt struct {
	Id      string     `json:"id"`
	Type    PromptType `json:"type"`
	Message string     `json:"message"`
}

// Run is the API representation of a validation run.
type Run struct {
	Id           uuid.UUID  `json:"id"`
	Filename     string     `json:"filename"`
	Status       RunStatus  `json:"status"`
	Error        *string    `json:"error,omitempty"`
	ValidCount   int        `json:"validCount"`
	InvalidCount int        `json:"invalidCount"`
	Prompts      []Prompt   `json:"prompts,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

type RunList []Run

// Answer is a reply to a single prompt. Value is ignored when Skip is set.
type Answer struct {
	Id    string `json:"id" validate:"required,prompt_id"`
	Value string `json:"value,omitempty"`
	Skip  bool   `json:"skip,omitempty"`
}

// RunAnswersRequest carries a batch of answers for a waiting run.
type RunAnswersRequest struct {
	Answers []Answer `json:"answers" validate:"required,min=1,dive"`
}

// RunAnswersReply reports which answers were applied and the run status after
// the pipeline was resumed.
type RunAnswersReply struct {
	Applied []string  `json:"applied"`
	Ignored []string  `json:"ignored"`
	Status  RunStatus `json:"status"`
}

// CreateRunReply is returned on upload acceptance, before validation starts.
type CreateRunReply struct {
	Id       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	Status   RunStatus `json:"status"`
}

type Error struct {
	Message string `json:"message"`
}
