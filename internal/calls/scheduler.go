package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postop-platform/internal/timing"
)

// Scheduler generates, persists, and transitions schedule items. It owns no
// state of its own; the Store is the single source of truth.
type Scheduler struct {
	store   Store
	catalog *Catalog
	log     *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewScheduler(store Store, catalog *Catalog, log *slog.Logger) *Scheduler {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: store, catalog: catalog, log: log, clock: time.Now}
}

// GenerateRequest carries everything needed to build a patient's call plan
// from their discharge orders.
type GenerateRequest struct {
	ClinicID         string    `json:"clinic_id"`
	PatientID        string    `json:"patient_id"`
	PatientPhone     string    `json:"patient_phone"`
	PatientName      string    `json:"patient_name"`
	DischargeTime    time.Time `json:"discharge_time"`
	SelectedOrderIDs []string  `json:"selected_order_ids"`
}

// GenerateResult reports the materialized items plus any per-order failures.
// Orders are independent: a malformed template in one order never blocks the
// others, but its failure is reported rather than swallowed.
type GenerateResult struct {
	Items       []CallScheduleItem `json:"items"`
	OrderErrors map[string]string  `json:"order_errors,omitempty"`
}

// wellnessCheckOffset places the automatic wellness check after discharge.
const wellnessCheckOffset = 18 * time.Hour

// GenerateCallsForPatient expands each selected order's call template into
// schedule items and appends the automatic wellness check. Items are returned
// unpersisted; use ScheduleAll to store them.
func (s *Scheduler) GenerateCallsForPatient(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	phone, err := NormalizePhone(req.PatientPhone)
	if err != nil {
		return GenerateResult{}, err
	}
	if req.PatientID == "" {
		return GenerateResult{}, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if req.PatientName == "" {
		return GenerateResult{}, fmt.Errorf("%w: patient_name is required", ErrValidation)
	}
	if req.DischargeTime.IsZero() {
		return GenerateResult{}, fmt.Errorf("%w: discharge_time is required", ErrValidation)
	}

	result := GenerateResult{OrderErrors: map[string]string{}}
	for _, orderID := range req.SelectedOrderIDs {
		items, err := s.generateFromOrder(orderID, req, phone)
		if err != nil {
			result.OrderErrors[orderID] = err.Error()
			continue
		}
		result.Items = append(result.Items, items...)
	}

	result.Items = append(result.Items, s.wellnessCheck(req, phone))

	if s.log != nil {
		s.log.InfoContext(ctx, "generated call plan",
			"patient_id", req.PatientID,
			"items", len(result.Items),
			"order_errors", len(result.OrderErrors),
		)
	}
	if len(result.OrderErrors) == 0 {
		result.OrderErrors = nil
	}
	return result, nil
}

func (s *Scheduler) generateFromOrder(orderID string, req GenerateRequest, phone string) ([]CallScheduleItem, error) {
	order, err := s.catalog.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !order.GeneratesCalls || order.Template == nil {
		return nil, nil
	}
	tmpl := *order.Template
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	resolved, err := timing.Resolve(tmpl.TimingSpec, req.DischargeTime)
	if err != nil {
		return nil, err
	}

	priority := tmpl.Priority
	if resolved.BestEffort {
		// Best-effort windows carry no hard deadline.
		priority = PriorityRoutine
	}

	prompt := tmpl.RenderPrompt(req.PatientName, order.DischargeOrder)
	items := make([]CallScheduleItem, 0, len(resolved.Times))
	for _, at := range resolved.Times {
		item := NewCallScheduleItem(req.ClinicID, req.PatientID, phone, at, tmpl.CallType, priority, prompt)
		item.RelatedOrderID = order.ID
		item.Metadata["order_label"] = order.Label
		item.Metadata["original_timing"] = tmpl.TimingSpec
		items = append(items, item)
	}
	return items, nil
}

func (s *Scheduler) wellnessCheck(req GenerateRequest, phone string) CallScheduleItem {
	prompt := fmt.Sprintf(
		"You are calling %s for a courtesy wellness check after their procedure. "+
			"This is a general follow-up call to see how they're feeling. "+
			"Ask about their overall comfort, pain levels, and if they have any questions about their recovery. "+
			"Be warm and caring in your approach.",
		req.PatientName,
	)
	item := NewCallScheduleItem(req.ClinicID, req.PatientID, phone,
		req.DischargeTime.Add(wellnessCheckOffset), TypeWellnessCheck, PriorityRoutine, prompt)
	item.Metadata["call_source"] = "automatic_wellness_check"
	return item
}

// ScheduleCall persists one item. Returns false when an item with the same id
// already exists; the existing item is left untouched.
func (s *Scheduler) ScheduleCall(ctx context.Context, item CallScheduleItem) (bool, error) {
	phone, err := NormalizePhone(item.PatientPhone)
	if err != nil {
		return false, err
	}
	item.PatientPhone = phone
	if err := item.Validate(); err != nil {
		return false, err
	}

	err = s.store.Insert(ctx, item)
	switch {
	case err == nil:
		if s.log != nil {
			s.log.InfoContext(ctx, "scheduled call",
				"call_id", item.ID,
				"patient_id", item.PatientID,
				"scheduled_time", item.ScheduledTime,
			)
		}
		return true, nil
	case isDuplicate(err):
		return false, nil
	default:
		return false, err
	}
}

// ScheduleAll persists a batch, reporting how many were newly inserted.
func (s *Scheduler) ScheduleAll(ctx context.Context, items []CallScheduleItem) (int, error) {
	scheduled := 0
	for _, item := range items {
		ok, err := s.ScheduleCall(ctx, item)
		if err != nil {
			return scheduled, err
		}
		if ok {
			scheduled++
		}
	}
	return scheduled, nil
}

// GetCall returns one item by id.
func (s *Scheduler) GetCall(ctx context.Context, id string) (CallScheduleItem, error) {
	return s.store.Get(ctx, id)
}

// GetPendingCalls lists pending items due as of now, ordered by
// (scheduled_time, priority).
func (s *Scheduler) GetPendingCalls(ctx context.Context, limit int) ([]CallScheduleItem, error) {
	return s.GetPendingCallsAsOf(ctx, s.clock().UTC(), limit)
}

func (s *Scheduler) GetPendingCallsAsOf(ctx context.Context, asOf time.Time, limit int) ([]CallScheduleItem, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListDue(ctx, asOf, limit)
}

// GetPatientCalls lists every item for a patient, soonest first.
func (s *Scheduler) GetPatientCalls(ctx context.Context, patientID string) ([]CallScheduleItem, error) {
	return s.store.ListByPatient(ctx, patientID)
}

// ExecuteNow pulls a pending call's due time forward to the present so the
// next worker poll picks it up immediately.
func (s *Scheduler) ExecuteNow(ctx context.Context, id string) error {
	ok, err := s.store.Expedite(ctx, id, s.clock().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: only pending calls can be executed now", ErrInvalidTransition)
	}
	s.log.InfoContext(ctx, "call expedited", "call_id", id)
	return nil
}

// UpdateCallStatus transitions an item along the status graph. Illegal edges
// are rejected with ErrInvalidTransition. A legal edge can still lose a race
// against a concurrent transition; that also surfaces as ErrInvalidTransition
// since the caller's view of the graph is stale.
func (s *Scheduler) UpdateCallStatus(ctx context.Context, id string, next CallStatus, note string) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(item.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, next)
	}
	ok, err := s.store.CompareAndSetStatus(ctx, id, item.Status, next, note)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}
	if s.log != nil {
		s.log.InfoContext(ctx, "call status updated", "call_id", id, "from", item.Status, "to", next)
	}
	return nil
}

// ClaimDueCalls atomically claims due pending items for execution.
func (s *Scheduler) ClaimDueCalls(ctx context.Context, limit int) ([]CallScheduleItem, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ClaimDue(ctx, s.clock().UTC(), limit)
}

// Claim performs the single-item PENDING -> IN_PROGRESS claim. Exactly one
// concurrent caller wins; the rest get false.
func (s *Scheduler) Claim(ctx context.Context, id string) (bool, error) {
	return s.store.CompareAndSetStatus(ctx, id, StatusPending, StatusInProgress, "")
}

// RetryLater returns a claimed item to pending with a new due time and the
// given attempt count.
func (s *Scheduler) RetryLater(ctx context.Context, id string, at time.Time, attemptCount int, note string) error {
	return s.store.RequeueForRetry(ctx, id, at, attemptCount, note)
}

// Cancel cancels a pending item. Items already claimed finish their current
// attempt first; cancellation is not preemptive.
func (s *Scheduler) Cancel(ctx context.Context, id, note string) error {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, StatusCancelled)
	}
	ok, err := s.store.CompareAndSetStatus(ctx, id, StatusPending, StatusCancelled, note)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// SweepStale reclaims items whose claim outlived the lease.
func (s *Scheduler) SweepStale(ctx context.Context, lease time.Duration) ([]string, error) {
	return s.store.SweepStale(ctx, s.clock().UTC().Add(-lease))
}

// Stats reports current status counts.
func (s *Scheduler) Stats(ctx context.Context) (map[CallStatus]int, error) {
	return s.store.CountByStatus(ctx)
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}
