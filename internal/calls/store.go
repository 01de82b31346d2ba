package calls

import (
	"context"
	"time"
)

// Store is the persistence boundary for schedule items. It is the single
// source of truth; all cross-worker coordination goes through the one atomic
// claim primitive (ClaimDue / CompareAndSetStatus).
type Store interface {
	// Insert persists a new item. Returns ErrDuplicateID if the id exists;
	// nothing is written in that case.
	Insert(ctx context.Context, item CallScheduleItem) error

	Get(ctx context.Context, id string) (CallScheduleItem, error)

	// ListDue returns pending items with scheduled_time <= asOf, ordered by
	// (scheduled_time, priority) ascending, capped at limit. Read-only.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]CallScheduleItem, error)

	ListByPatient(ctx context.Context, patientID string) ([]CallScheduleItem, error)

	// CompareAndSetStatus transitions id from -> to only if the stored status
	// still equals from. Returns false (no error) when the status changed
	// underneath the caller. The legality of the edge is the caller's job.
	CompareAndSetStatus(ctx context.Context, id string, from, to CallStatus, note string) (bool, error)

	// ClaimDue atomically claims up to limit due pending items, transitioning
	// each to in_progress. Exactly one caller wins any given item.
	ClaimDue(ctx context.Context, asOf time.Time, limit int) ([]CallScheduleItem, error)

	// RequeueForRetry moves an in_progress item back to pending with a new
	// scheduled time and attempt count.
	RequeueForRetry(ctx context.Context, id string, at time.Time, attemptCount int, note string) error

	// Expedite moves a pending item's due time to at. Returns false (no
	// error) when the item is not pending.
	Expedite(ctx context.Context, id string, at time.Time) (bool, error)

	// SweepStale returns in_progress items claimed before cutoff to pending
	// and reports their ids. Crash recovery for dead workers.
	SweepStale(ctx context.Context, cutoff time.Time) ([]string, error)

	CountByStatus(ctx context.Context) (map[CallStatus]int, error)
}
