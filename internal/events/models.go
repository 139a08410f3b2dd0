package events

// RunEvent marks a run lifecycle change (started, completed, failed).
type RunEvent struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Rows   int    `json:"rows"`
}

// PromptEvent records one generated prompt.
type PromptEvent struct {
	RunID    string `json:"run_id"`
	PromptID string `json:"prompt_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// AnswerEvent records one received answer and whether it was applied.
type AnswerEvent struct {
	RunID    string `json:"run_id"`
	PromptID string `json:"prompt_id"`
	Skip     bool   `json:"skip"`
	Applied  bool   `json:"applied"`
}

// ArtifactEvent records one produced output artifact.
type ArtifactEvent struct {
	RunID    string `json:"run_id"`
	Kind     string `json:"kind"`
	Key      string `json:"key"`
	RowCount int    `json:"row_count"`
}
