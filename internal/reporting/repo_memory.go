package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"postop-platform/internal/records"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces clinic isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Attempts []records.CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListAttempts(ctx context.Context, clinicID string, from, to time.Time, patientID string) ([]records.CallRecord, error) {
	if clinicID == "" {
		return nil, errors.New("clinic_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]records.CallRecord, 0)
	for _, rec := range r.Attempts {
		if rec.ClinicID != clinicID {
			continue
		}
		if !rec.CreatedAt.IsZero() {
			if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
				continue
			}
		}
		if patientID != "" && rec.PatientID != patientID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
