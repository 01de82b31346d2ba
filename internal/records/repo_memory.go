package records

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu      sync.Mutex
	records []CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.records {
		if got.ScheduleItemID == rec.ScheduleItemID && got.AttemptNumber == rec.AttemptNumber {
			return ErrDuplicateAttempt
		}
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) FindByAttempt(ctx context.Context, scheduleItemID string, attemptNumber int) (CallRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ScheduleItemID == scheduleItemID && rec.AttemptNumber == attemptNumber {
			return rec, true, nil
		}
	}
	return CallRecord{}, false, nil
}

func (r *MemoryRepo) ListByScheduleItem(ctx context.Context, scheduleItemID string) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRecord
	for _, rec := range r.records {
		if rec.ScheduleItemID == scheduleItemID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (r *MemoryRepo) ListByPatient(ctx context.Context, clinicID, patientID string) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRecord
	for _, rec := range r.records {
		if rec.ClinicID == clinicID && rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
