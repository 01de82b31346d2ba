package reporting

import (
	"context"
	"errors"
	"time"

	"postop-platform/internal/calls"
	"postop-platform/internal/records"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce clinic filtering.
// - Implementations should query immutable sources when possible (call records, audit).

type Repository interface {
	ListAttempts(ctx context.Context, clinicID string, from, to time.Time, patientID string) ([]records.CallRecord, error)
}

// QueueSource exposes live queue state. The schedule store implements it.
type QueueSource interface {
	CountByStatus(ctx context.Context) (map[calls.CallStatus]int, error)
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]calls.CallScheduleItem, error)
}

type Service struct {
	repo  Repository
	queue QueueSource
	clock func() time.Time
}

func NewService(repo Repository, queue QueueSource) *Service {
	return &Service{repo: repo, queue: queue, clock: time.Now}
}

func (s *Service) AttemptsSummary(ctx context.Context, req AttemptsSummaryRequest) (AttemptsSummary, error) {
	if req.ClinicID == "" {
		return AttemptsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return AttemptsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return AttemptsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAttempts(ctx, req.ClinicID, req.Range.From, req.Range.To, req.PatientID)
	if err != nil {
		return AttemptsSummary{}, err
	}

	out := AttemptsSummary{ClinicID: req.ClinicID, PatientID: req.PatientID}
	for _, r := range rows {
		out.TotalAttempts++
		out.TotalDurationSeconds += r.DurationSeconds
		out.FollowUpsScheduled += r.AdditionalCallsScheduled
		switch r.Outcome {
		case records.OutcomeCompleted:
			out.CompletedCalls++
		case records.OutcomeNoAnswer:
			out.NoAnswerCalls++
		case records.OutcomeBusy:
			out.BusyCalls++
		case records.OutcomeFailed:
			out.FailedCalls++
		case records.OutcomeDeclined:
			out.DeclinedCalls++
		case records.OutcomeVoicemail:
			out.VoicemailCalls++
		}
	}
	if out.TotalAttempts > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalAttempts
	}
	return out, nil
}

// Queue reports live status counts plus how much of the pending set is
// already overdue.
func (s *Service) Queue(ctx context.Context) (QueueSnapshot, error) {
	if s.queue == nil {
		return QueueSnapshot{}, errors.New("reporting: queue source not configured")
	}
	now := s.clock().UTC()

	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return QueueSnapshot{}, err
	}
	due, err := s.queue.ListDue(ctx, now, counts[calls.StatusPending]+1)
	if err != nil {
		return QueueSnapshot{}, err
	}
	return QueueSnapshot{Counts: counts, DueBacklog: len(due), AsOf: now}, nil
}

func (s *Service) Reachability(ctx context.Context, req ReachabilityRequest) (ReachabilityMetrics, error) {
	if req.ClinicID == "" {
		return ReachabilityMetrics{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ReachabilityMetrics{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ReachabilityMetrics{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAttempts(ctx, req.ClinicID, req.Range.From, req.Range.To, "")
	if err != nil {
		return ReachabilityMetrics{}, err
	}

	out := ReachabilityMetrics{ClinicID: req.ClinicID}
	retried := map[string]bool{}
	for _, r := range rows {
		out.CallsAttempted++
		if r.Outcome == records.OutcomeCompleted {
			out.CallsConnected++
		}
		if r.AttemptNumber > 1 {
			retried[r.ScheduleItemID] = true
		}
	}
	out.RetriedItems = len(retried)
	if out.CallsAttempted > 0 {
		out.ConnectionRate = float64(out.CallsConnected) / float64(out.CallsAttempted)
	}
	return out, nil
}
