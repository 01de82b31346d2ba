package records

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call records.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, r CallRecord) error
	FindByAttempt(ctx context.Context, scheduleItemID string, attemptNumber int) (CallRecord, bool, error)
	ListByScheduleItem(ctx context.Context, scheduleItemID string) ([]CallRecord, error)
	ListByPatient(ctx context.Context, clinicID, patientID string) ([]CallRecord, error)
}

var (
	ErrInvalidRecord = errors.New("records: invalid record")
	ErrNotFound      = errors.New("records: not found")

	// ErrDuplicateAttempt is returned by Append when a record for the same
	// (schedule_item_id, attempt_number) already exists. Service.Record
	// treats it as "someone beat us to it" and returns the stored record.
	ErrDuplicateAttempt = errors.New("records: duplicate attempt")
)

// Service appends and queries call attempt records.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Record appends one attempt record. Reporting the same attempt twice is a
// no-op that returns the stored record, so callers can safely retry.
func (s *Service) Record(ctx context.Context, r CallRecord) (CallRecord, error) {
	if s.repo == nil {
		return CallRecord{}, errors.New("records: repository not configured")
	}
	if r.ScheduleItemID == "" || r.ClinicID == "" || r.PatientID == "" {
		return CallRecord{}, ErrInvalidRecord
	}
	if r.AttemptNumber < 1 {
		return CallRecord{}, ErrInvalidRecord
	}
	if !r.Outcome.Valid() {
		return CallRecord{}, ErrInvalidRecord
	}

	if existing, ok, err := s.repo.FindByAttempt(ctx, r.ScheduleItemID, r.AttemptNumber); err != nil {
		return CallRecord{}, err
	} else if ok {
		return existing, nil
	}

	now := s.clock().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.DurationSeconds == 0 && !r.StartedAt.IsZero() && !r.EndedAt.IsZero() {
		r.DurationSeconds = int(r.EndedAt.Sub(r.StartedAt).Seconds())
	}
	if err := s.repo.Append(ctx, r); err != nil {
		if errors.Is(err, ErrDuplicateAttempt) {
			// Lost the race against a concurrent report for the same attempt.
			// The unique index decided the winner; return that row.
			existing, ok, findErr := s.repo.FindByAttempt(ctx, r.ScheduleItemID, r.AttemptNumber)
			if findErr != nil {
				return CallRecord{}, findErr
			}
			if ok {
				return existing, nil
			}
		}
		return CallRecord{}, err
	}
	return r, nil
}

// History returns every attempt for one schedule item, oldest first.
func (s *Service) History(ctx context.Context, scheduleItemID string) ([]CallRecord, error) {
	if scheduleItemID == "" {
		return nil, ErrInvalidRecord
	}
	return s.repo.ListByScheduleItem(ctx, scheduleItemID)
}

// PatientHistory returns every attempt for one patient within a clinic.
func (s *Service) PatientHistory(ctx context.Context, clinicID, patientID string) ([]CallRecord, error) {
	if clinicID == "" || patientID == "" {
		return nil, ErrInvalidRecord
	}
	return s.repo.ListByPatient(ctx, clinicID, patientID)
}
