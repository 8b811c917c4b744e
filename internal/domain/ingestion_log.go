package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry captures page and row level issues that occur during a pipeline run.
type IngestionLogEntry struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	ScrapID      *uuid.UUID `json:"scrap_id,omitempty"`
	TableName    string     `json:"table_name"`
	Context      string     `json:"context"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
}
