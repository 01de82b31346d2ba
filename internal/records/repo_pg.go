package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGRepo stores call records in Postgres.
//
// Assumed schema:
// - Table call_records, INSERT-only.
// - UNIQUE (schedule_item_id, attempt_number) backing the idempotent append.

type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Append(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_records (
  id, schedule_item_id, clinic_id, patient_id, attempt_number, outcome,
  started_at, ended_at, duration_seconds, room_name, participant_identity,
  error_message, conversation_summary, additional_calls_scheduled, outcome_notes, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.ScheduleItemID,
		rec.ClinicID,
		rec.PatientID,
		rec.AttemptNumber,
		rec.Outcome,
		rec.StartedAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.RoomName,
		rec.ParticipantIdentity,
		rec.ErrorMessage,
		rec.ConversationSummary,
		rec.AdditionalCallsScheduled,
		rec.OutcomeNotes,
		rec.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: item %s attempt %d", ErrDuplicateAttempt, rec.ScheduleItemID, rec.AttemptNumber)
	}
	return err
}

func (r *PGRepo) FindByAttempt(ctx context.Context, scheduleItemID string, attemptNumber int) (CallRecord, bool, error) {
	const q = `
SELECT id, schedule_item_id, clinic_id, patient_id, attempt_number, outcome,
       started_at, ended_at, duration_seconds, room_name, participant_identity,
       error_message, conversation_summary, additional_calls_scheduled, outcome_notes, created_at
FROM call_records
WHERE schedule_item_id = $1 AND attempt_number = $2
LIMIT 1
`
	var rec CallRecord
	err := r.db.QueryRowContext(ctx, q, scheduleItemID, attemptNumber).Scan(
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
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, err
	}
	return rec, true, nil
}

func (r *PGRepo) ListByScheduleItem(ctx context.Context, scheduleItemID string) ([]CallRecord, error) {
	const q = `
SELECT id, schedule_item_id, clinic_id, patient_id, attempt_number, outcome,
       started_at, ended_at, duration_seconds, room_name, participant_identity,
       error_message, conversation_summary, additional_calls_scheduled, outcome_notes, created_at
FROM call_records
WHERE schedule_item_id = $1
ORDER BY attempt_number ASC
`
	rows, err := r.db.QueryContext(ctx, q, scheduleItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *PGRepo) ListByPatient(ctx context.Context, clinicID, patientID string) ([]CallRecord, error) {
	const q = `
SELECT id, schedule_item_id, clinic_id, patient_id, attempt_number, outcome,
       started_at, ended_at, duration_seconds, room_name, participant_identity,
       error_message, conversation_summary, additional_calls_scheduled, outcome_notes, created_at
FROM call_records
WHERE clinic_id = $1 AND patient_id = $2
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, clinicID, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]CallRecord, error) {
	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
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
