package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to clinic users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ClinicID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCallScheduled records new schedule items entering the system.
func (s *Service) LogCallScheduled(ctx context.Context, clinicID, patientID, callID, message string) error {
	return s.Append(ctx, Event{
		ClinicID:  clinicID,
		Type:      EventTypeCallScheduled,
		PatientID: patientID,
		CallID:    callID,
		Message:   message,
	})
}

// LogStatusChange records a schedule item transition.
func (s *Service) LogStatusChange(ctx context.Context, clinicID, callID, from, to, note string) error {
	return s.Append(ctx, Event{
		ClinicID: clinicID,
		Type:     EventTypeStatusChange,
		CallID:   callID,
		Message:  from + " -> " + to,
		Metadata: note,
	})
}

// LogCallExecuted records the outcome of a dial attempt.
func (s *Service) LogCallExecuted(ctx context.Context, clinicID, callID, outcome, message string) error {
	return s.Append(ctx, Event{
		ClinicID: clinicID,
		Type:     EventTypeCallExecuted,
		CallID:   callID,
		Message:  outcome,
		Metadata: message,
	})
}

// LogOperatorAction records a manual operator intervention (including hidden roles).
func (s *Service) LogOperatorAction(ctx context.Context, clinicID, actorUserID, actorRole, ip, message, callID string, metadata string) error {
	return s.Append(ctx, Event{
		ClinicID:    clinicID,
		Type:        EventTypeOperatorAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CallID:      callID,
		Message:     message,
		Metadata:    metadata,
	})
}
