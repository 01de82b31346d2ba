package calls

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store useful for tests.
// It preserves the same compare-and-set semantics as the Redis store, so
// concurrency tests against it exercise real claim contention.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]CallScheduleItem
	claimed map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   map[string]CallScheduleItem{},
		claimed: map[string]time.Time{},
	}
}

func (s *MemoryStore) Insert(_ context.Context, item CallScheduleItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	s.items[item.ID] = item
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (CallScheduleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return CallScheduleItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

func (s *MemoryStore) ListDue(_ context.Context, asOf time.Time, limit int) ([]CallScheduleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []CallScheduleItem
	for _, item := range s.items {
		if item.Status == StatusPending && !item.ScheduledTime.After(asOf) {
			due = append(due, item)
		}
	}
	sortDue(due)
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) ListByPatient(_ context.Context, patientID string) ([]CallScheduleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallScheduleItem
	for _, item := range s.items {
		if item.PatientID == patientID {
			out = append(out, item)
		}
	}
	sortDue(out)
	return out, nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id string, from, to CallStatus, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status != from {
		return false, nil
	}
	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	if note != "" {
		item.Notes = note
	}
	s.items[id] = item
	if to == StatusInProgress {
		s.claimed[id] = time.Now().UTC()
	} else {
		delete(s.claimed, id)
	}
	return true, nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, asOf time.Time, limit int) ([]CallScheduleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []CallScheduleItem
	for _, item := range s.items {
		if item.Status == StatusPending && !item.ScheduledTime.After(asOf) {
			due = append(due, item)
		}
	}
	sortDue(due)
	if len(due) > limit {
		due = due[:limit]
	}

	now := time.Now().UTC()
	claimed := make([]CallScheduleItem, 0, len(due))
	for _, item := range due {
		item.Status = StatusInProgress
		item.UpdatedAt = now
		s.items[item.ID] = item
		s.claimed[item.ID] = now
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (s *MemoryStore) RequeueForRetry(_ context.Context, id string, at time.Time, attemptCount int, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status != StatusInProgress {
		return fmt.Errorf("%w: item %s is not in_progress", ErrInvalidTransition, id)
	}
	item.Status = StatusPending
	item.ScheduledTime = at
	item.AttemptCount = attemptCount
	item.UpdatedAt = time.Now().UTC()
	if note != "" {
		item.Notes = note
	}
	s.items[id] = item
	delete(s.claimed, id)
	return nil
}

func (s *MemoryStore) Expedite(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status != StatusPending {
		return false, nil
	}
	item.ScheduledTime = at
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	return true, nil
}

func (s *MemoryStore) SweepStale(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []string
	for id, at := range s.claimed {
		if at.After(cutoff) {
			continue
		}
		item, ok := s.items[id]
		if !ok || item.Status != StatusInProgress {
			delete(s.claimed, id)
			continue
		}
		item.Status = StatusPending
		item.Notes = "claim lease expired; returned to pending"
		item.UpdatedAt = time.Now().UTC()
		s.items[id] = item
		delete(s.claimed, id)
		swept = append(swept, id)
	}
	return swept, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[CallStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[CallStatus]int{}
	for _, item := range s.items {
		out[item.Status]++
	}
	return out, nil
}

// SetClaimedAt backdates a claim timestamp. Test helper for lease sweeps.
func (s *MemoryStore) SetClaimedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed[id] = at
}
