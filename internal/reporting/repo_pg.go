package reporting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"postop-platform/internal/records"
)

// PGRepo reads call attempt rows from Postgres for aggregation. It queries
// the same call_records table the records package writes; reporting never
// writes.

type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) ListAttempts(ctx context.Context, clinicID string, from, to time.Time, patientID string) ([]records.CallRecord, error) {
	if clinicID == "" {
		return nil, errors.New("clinic_id required")
	}

	const q = `
SELECT id, schedule_item_id, clinic_id, patient_id, attempt_number, outcome,
       started_at, ended_at, duration_seconds, room_name, participant_identity,
       error_message, conversation_summary, additional_calls_scheduled, outcome_notes, created_at
FROM call_records
WHERE clinic_id = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4 = '' OR patient_id = $4)
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, clinicID, from, to, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.CallRecord
	for rows.Next() {
		var rec records.CallRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ScheduleItemID,
			&rec.ClinicID,
			&rec.PatientID,
			&rec.AttemptNumber,
			&rec.Outcome,
			&rec.StartedAt,
			&rec.EndedAt,
			&rec.DurationSeconds,
			&rec.RoomName,
			&rec.ParticipantIdentity,
			&rec.ErrorMessage,
			&rec.ConversationSummary,
			&rec.AdditionalCallsScheduled,
			&rec.OutcomeNotes,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
