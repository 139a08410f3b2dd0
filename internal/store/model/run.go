package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/expenseops/expense-validator/internal/pipeline"
)

// Run is the durable record of one validation session. The snapshot column
// holds the complete row/parameter/prompt state and is replaced wholesale
// after every pipeline step.
type Run struct {
	ID           uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    *time.Time
	Filename     string  `gorm:"type:VARCHAR(255)"`
	Status       string  `gorm:"not null;type:VARCHAR(50);index:runs_status_idx"`
	Error        *string // terminal error for FAILED runs
	ValidCount   int
	InvalidCount int
	Snapshot     *JSONField[pipeline.Snapshot] `gorm:"type:jsonb"`
}

type RunList []Run

func (r Run) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}
