package domain

import (
	"fmt"
	"strings"
	"time"
)

type GasType string

const (
	GasTypeArterial GasType = "Arterial"
	GasTypeVenous   GasType = "Venous"
)

// ParseGasType accepts the sample type case-insensitively. An empty value
// selects an arterial sample.
func ParseGasType(value string) (GasType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "arterial":
		return GasTypeArterial, nil
	case "venous":
		return GasTypeVenous, nil
	default:
		return "", &ValidationError{
			Field:   "gasType",
			Message: fmt.Sprintf("must be Arterial or Venous, got %q", value),
		}
	}
}

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the document kept in the job store under its ID. It is written once
// as processing and once more with its terminal state.
type Job struct {
	ID        string    `json:"-"`
	Status    JobStatus `json:"status"`
	Scenario  string    `json:"scenario,omitempty"`
	GasType   GasType   `json:"gasType,omitempty"`
	Report    string    `json:"report,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueueMessage is the transport format sent to dispatch backends.
type QueueMessage struct {
	JobID       string    `json:"jobId"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requestedAt"`
}
