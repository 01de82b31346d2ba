package reporting

import (
	"time"

	"postop-platform/internal/calls"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// AttemptsSummaryRequest requests aggregated call attempt metrics.
// Clinic isolation: ClinicID is required.

type AttemptsSummaryRequest struct {
	ClinicID  string    `json:"clinic_id"`
	Range     TimeRange `json:"range"`
	PatientID string    `json:"patient_id,omitempty"`
}

type AttemptsSummary struct {
	ClinicID  string `json:"clinic_id"`
	PatientID string `json:"patient_id,omitempty"`

	TotalAttempts  int `json:"total_attempts"`
	CompletedCalls int `json:"completed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	FailedCalls    int `json:"failed_calls"`
	DeclinedCalls  int `json:"declined_calls"`
	VoicemailCalls int `json:"voicemail_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// FollowUpsScheduled counts calls the agent added during conversations.
	FollowUpsScheduled int `json:"follow_ups_scheduled"`
}

// QueueSnapshot reports the live state of the schedule queue.

type QueueSnapshot struct {
	Counts map[calls.CallStatus]int `json:"counts"`

	// DueBacklog is how many pending items are already past their
	// scheduled time.
	DueBacklog int `json:"due_backlog"`

	AsOf time.Time `json:"as_of"`
}

// ReachabilityRequest asks how reachable a clinic's patients are.

type ReachabilityRequest struct {
	ClinicID string    `json:"clinic_id"`
	Range    TimeRange `json:"range"`
}

type ReachabilityMetrics struct {
	ClinicID string `json:"clinic_id"`

	CallsAttempted int `json:"calls_attempted"`
	CallsConnected int `json:"calls_connected"`

	ConnectionRate float64 `json:"connection_rate"`

	// RetriedItems counts schedule items that needed more than one attempt.
	RetriedItems int `json:"retried_items"`
}
