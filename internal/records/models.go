package records

import "time"

// CallRecord is an immutable, append-only record of one call attempt.
//
// Invariants:
// - Records are never updated or deleted; each attempt gets its own row.
// - (schedule_item_id, attempt_number) is unique, so a retried webhook or a
//   double-reporting worker cannot produce duplicate rows.
// - clinic_id is required for tenancy isolation.
//
// Storage recommendation (Postgres):
// - Table call_records with an INSERT-only policy.
// - UNIQUE (schedule_item_id, attempt_number).

type CallRecord struct {
	ID             string `json:"id" db:"id"`
	ScheduleItemID string `json:"schedule_item_id" db:"schedule_item_id"`
	ClinicID       string `json:"clinic_id" db:"clinic_id"`
	PatientID      string `json:"patient_id" db:"patient_id"`

	// AttemptNumber is 1-based: the first dial of an item is attempt 1.
	AttemptNumber int `json:"attempt_number" db:"attempt_number"`

	Outcome Outcome `json:"outcome" db:"outcome"`

	StartedAt       time.Time `json:"started_at" db:"started_at"`
	EndedAt         time.Time `json:"ended_at" db:"ended_at"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`

	// RoomName and ParticipantIdentity tie the record back to the voice
	// session that handled the call.
	RoomName            string `json:"room_name,omitempty" db:"room_name"`
	ParticipantIdentity string `json:"participant_identity,omitempty" db:"participant_identity"`

	// ErrorMessage holds the human-readable failure reason for unanswered or
	// failed attempts.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	ConversationSummary string `json:"conversation_summary,omitempty" db:"conversation_summary"`

	// AdditionalCallsScheduled counts follow-ups the agent requested during
	// this call that were scheduled as new items.
	AdditionalCallsScheduled int `json:"additional_calls_scheduled" db:"additional_calls_scheduled"`

	OutcomeNotes string `json:"outcome_notes,omitempty" db:"outcome_notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeNoAnswer   Outcome = "no_answer"
	OutcomeBusy       Outcome = "busy"
	OutcomeFailed     Outcome = "failed"
	OutcomeVoicemail  Outcome = "voicemail"
	OutcomeDeclined   Outcome = "declined"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeNoAnswer, OutcomeBusy, OutcomeFailed, OutcomeVoicemail, OutcomeDeclined:
		return true
	}
	return false
}
