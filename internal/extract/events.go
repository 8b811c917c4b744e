package extract

import (
	"time"

	"github.com/google/uuid"
)

// EventKind distinguishes progress reports from the terminal result.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventCanceled  EventKind = "canceled"
	EventFailed    EventKind = "failed"
)

// terminalSendTimeout bounds how long a terminal event waits for a slow reader.
const terminalSendTimeout = 5 * time.Second

// Event is published after every page and once when the job ends.
type Event struct {
	Kind             EventKind `json:"kind"`
	ScrapID          uuid.UUID `json:"scrapId"`
	Message          string    `json:"message"`
	Page             int       `json:"page"`
	PagesEstimated   int       `json:"pagesEstimated"`
	Records          int64     `json:"records"`
	ETASeconds       float64   `json:"etaSeconds"`
	RecordsPerSecond float64   `json:"recordsPerSecond"`
	Result           *Result   `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Terminal reports whether no further events follow for the job.
func (e Event) Terminal() bool {
	return e.Kind != EventProgress
}

// send delivers progress without blocking; terminal events wait up to terminalSendTimeout.
func send(ch chan<- Event, ev Event) bool {
	if ch == nil {
		return false
	}
	if !ev.Terminal() {
		select {
		case ch <- ev:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(terminalSendTimeout)
	defer timer.Stop()
	select {
	case ch <- ev:
		return true
	case <-timer.C:
		return false
	}
}
