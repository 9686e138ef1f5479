package stores

import (
	"errors"
	"time"

	"github.com/openfroyo/clientrb/pkg/converge"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is a persisted converge run.
type Run struct {
	ID         string             `json:"id"`
	Target     string             `json:"target"`
	Sources    []string           `json:"sources"`
	Status     converge.RunStatus `json:"status"`
	ConfigPath string             `json:"config_path"`
	Digest     string             `json:"digest"`
	Changed    bool               `json:"changed"`
	Reloaded   bool               `json:"reloaded"`
	Error      *string            `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`

	// Resources is filled by GetRun only.
	Resources []ResourceResult `json:"resources,omitempty"`
}

// Duration returns the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ResourceResult is the persisted outcome of one resource in a run.
type ResourceResult struct {
	Seq        int           `json:"seq"`
	ResourceID string        `json:"resource_id"`
	Type       string        `json:"type"`
	Action     string        `json:"action"`
	Changed    bool          `json:"changed"`
	Skipped    bool          `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Error      *string       `json:"error,omitempty"`
}

// EventRecord is a persisted telemetry event.
type EventRecord struct {
	ID         string                 `json:"id"`
	RunID      string                 `json:"run_id"`
	Type       string                 `json:"type"`
	Level      string                 `json:"level"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Status converge.RunStatus
	Target string
	Limit  int
	Offset int
}
