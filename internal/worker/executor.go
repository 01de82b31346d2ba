package worker

import (
	"context"
	"log/slog"
	"time"

	"postop-platform/internal/calls"
	"postop-platform/internal/records"
	"postop-platform/internal/telephony"
)

// Dialer is the slice of the voice provider the executor needs.
type Dialer interface {
	Dial(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error)
}

// Auditor records executed attempts for internal ops. Best-effort; failures
// never block call handling.
type Auditor interface {
	LogCallExecuted(ctx context.Context, clinicID, callID, outcome, message string) error
}

// Executor runs one claimed schedule item end to end: dial cap, agent
// dispatch, SIP bridge, and the failure/retry bookkeeping when the patient
// cannot be reached. Successful calls stay in_progress; the agent's result
// webhook finalizes them.
type Executor struct {
	sched   *calls.Scheduler
	recs    *records.Service
	dialer  Dialer
	limiter Limiter
	policy  RetryPolicy
	audit   Auditor
	log     *slog.Logger

	clock func() time.Time
}

// capDeferral is how long an item waits when its clinic is at the dial cap.
// Short on purpose: the cap clears as soon as any in-flight call ends.
const capDeferral = time.Minute

func NewExecutor(sched *calls.Scheduler, recs *records.Service, dialer Dialer, limiter Limiter, policy RetryPolicy, log *slog.Logger) *Executor {
	if limiter == nil {
		limiter = NopLimiter{}
	}
	return &Executor{
		sched:   sched,
		recs:    recs,
		dialer:  dialer,
		limiter: limiter,
		policy:  policy,
		log:     log,
		clock:   time.Now,
	}
}

// WithAuditor attaches an audit sink.
func (e *Executor) WithAuditor(a Auditor) *Executor {
	e.audit = a
	return e
}

// Execute handles one item that was already claimed (in_progress).
func (e *Executor) Execute(ctx context.Context, item calls.CallScheduleItem) error {
	ok, err := e.limiter.Acquire(ctx, item.ClinicID)
	if err != nil {
		return err
	}
	if !ok {
		// Cap reached. Put the item back without burning an attempt.
		e.log.InfoContext(ctx, "clinic dial cap reached, deferring call",
			"call_id", item.ID, "clinic_id", item.ClinicID)
		return e.sched.RetryLater(ctx, item.ID, e.clock().UTC().Add(capDeferral),
			item.AttemptCount, "deferred: clinic dial cap reached")
	}
	defer func() {
		if err := e.limiter.Release(context.WithoutCancel(ctx), item.ClinicID); err != nil {
			e.log.WarnContext(ctx, "dial cap release failed", "clinic_id", item.ClinicID, "err", err)
		}
	}()

	attempt := item.AttemptCount + 1
	meta, err := telephony.BuildAgentMetadata(item, attempt)
	if err != nil {
		return err
	}

	res, err := e.dialer.Dial(ctx, telephony.DialRequest{
		ClinicID:      item.ClinicID,
		CallID:        item.ID,
		PatientPhone:  item.PatientPhone,
		AgentMetadata: meta,
	})
	if err != nil {
		if f, ok := telephony.AsDialFailure(err); ok {
			return e.handleDialFailure(ctx, item, attempt, f)
		}
		return err
	}

	e.log.InfoContext(ctx, "call connected",
		"call_id", item.ID,
		"room", res.RoomName,
		"attempt", attempt,
	)
	e.logAudit(ctx, item, "connected", "")
	return nil
}

func (e *Executor) handleDialFailure(ctx context.Context, item calls.CallScheduleItem, attempt int, f *telephony.DialFailure) error {
	now := e.clock().UTC()

	rec := records.CallRecord{
		ScheduleItemID: item.ID,
		ClinicID:       item.ClinicID,
		PatientID:      item.PatientID,
		AttemptNumber:  attempt,
		Outcome:        failureOutcome(f),
		StartedAt:      now,
		EndedAt:        now,
		ErrorMessage:   f.Message,
	}
	if _, err := e.recs.Record(ctx, rec); err != nil {
		e.log.ErrorContext(ctx, "attempt record failed", "call_id", item.ID, "err", err)
	}

	if f.Kind == telephony.FailurePermanent {
		e.log.WarnContext(ctx, "call permanently failed",
			"call_id", item.ID, "sip_status", f.SIPStatus, "reason", f.Message)
		e.logAudit(ctx, item, string(failureOutcome(f)), f.Message)
		return e.sched.UpdateCallStatus(ctx, item.ID, calls.StatusFailed, f.Message)
	}

	if e.policy.Exhausted(attempt) {
		e.log.WarnContext(ctx, "call failed after max attempts",
			"call_id", item.ID, "attempts", attempt)
		e.logAudit(ctx, item, string(failureOutcome(f)), "max attempts exceeded")
		return e.sched.UpdateCallStatus(ctx, item.ID, calls.StatusFailed, "max attempts exceeded")
	}

	retryAt := now.Add(e.policy.NextDelay(attempt))
	e.log.InfoContext(ctx, "call attempt failed, retrying",
		"call_id", item.ID, "attempt", attempt, "retry_at", retryAt, "reason", f.Message)
	return e.sched.RetryLater(ctx, item.ID, retryAt, attempt, f.Message)
}

func (e *Executor) logAudit(ctx context.Context, item calls.CallScheduleItem, outcome, message string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogCallExecuted(ctx, item.ClinicID, item.ID, outcome, message); err != nil {
		e.log.WarnContext(ctx, "audit append failed", "call_id", item.ID, "err", err)
	}
}

func failureOutcome(f *telephony.DialFailure) records.Outcome {
	switch f.SIPStatus {
	case 486:
		return records.OutcomeBusy
	case 408, 487:
		return records.OutcomeNoAnswer
	case 603:
		return records.OutcomeDeclined
	default:
		return records.OutcomeFailed
	}
}
