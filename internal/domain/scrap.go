package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScrapStatus represents the lifecycle state of an extraction job.
type ScrapStatus string

const (
	ScrapStatusPending   ScrapStatus = "pending"
	ScrapStatusRunning   ScrapStatus = "running"
	ScrapStatusCompleted ScrapStatus = "completed"
	ScrapStatusCanceled  ScrapStatus = "canceled"
	ScrapStatusFailed    ScrapStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ScrapStatus) Terminal() bool {
	switch s {
	case ScrapStatusCompleted, ScrapStatusCanceled, ScrapStatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s ScrapStatus) Valid() bool {
	switch s {
	case ScrapStatusPending, ScrapStatusRunning, ScrapStatusCompleted, ScrapStatusCanceled, ScrapStatusFailed:
		return true
	default:
		return false
	}
}

// Scrap is a single extraction job over an inclusive date range for one route.
type Scrap struct {
	ID               uuid.UUID   `json:"id"`
	TenantID         int64       `json:"tenant_id"`
	RouteID          uuid.UUID   `json:"route_id"`
	StartDate        time.Time   `json:"start_date"`
	EndDate          time.Time   `json:"end_date"`
	Status           ScrapStatus `json:"status"`
	RecordsCollected int         `json:"records_collected"`
	PagesFetched     int         `json:"pages_fetched"`
	PageFailures     int         `json:"page_failures"`
	ErrorMessage     *string     `json:"error_message,omitempty"`
	EnqueuedAt       time.Time   `json:"enqueued_at"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Days returns the number of calendar days covered by the job, inclusive.
func (s Scrap) Days() int {
	start := time.Date(s.StartDate.Year(), s.StartDate.Month(), s.StartDate.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(s.EndDate.Year(), s.EndDate.Month(), s.EndDate.Day(), 0, 0, 0, 0, time.UTC)
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// ScrapResult carries the counters persisted when a job reaches a terminal state.
type ScrapResult struct {
	RecordsCollected int
	PagesFetched     int
	PageFailures     int
}
