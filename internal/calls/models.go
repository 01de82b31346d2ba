package calls

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared across the scheduling layer.
var (
	ErrNotFound          = errors.New("call not found")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateID       = errors.New("call id already scheduled")
	ErrStoreUnavailable  = errors.New("call store unavailable")
)

type CallStatus string

const (
	StatusPending    CallStatus = "pending"
	StatusInProgress CallStatus = "in_progress"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
	StatusCancelled  CallStatus = "cancelled"
)

// transitions is the only legal status graph. Terminal states have no edges.
var transitions = map[CallStatus][]CallStatus{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusPending},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to CallStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing edges.
func (s CallStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s CallStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

type CallType string

const (
	TypeDischargeReminder  CallType = "discharge_reminder"
	TypeWellnessCheck      CallType = "wellness_check"
	TypeMedicationReminder CallType = "medication_reminder"
	TypeFollowUp           CallType = "follow_up"
	TypeUrgent             CallType = "urgent"
	TypeGeneralFollowup    CallType = "general_followup"
)

// ParseCallType maps free-form type strings onto the enum. Unknown values
// fall back to general_followup; call plans generated mid-conversation do not
// always use the canonical names.
func ParseCallType(v string) CallType {
	if v == "" {
		return TypeGeneralFollowup
	}
	t := CallType(strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(v, " ", "_"), "-", "_")))
	switch t {
	case TypeDischargeReminder, TypeWellnessCheck, TypeMedicationReminder, TypeFollowUp, TypeUrgent, TypeGeneralFollowup:
		return t
	}
	switch t {
	case "compression_reminder", "discharge_followup":
		return TypeDischargeReminder
	case "medication_check":
		return TypeMedicationReminder
	case "wellness_call":
		return TypeWellnessCheck
	case "followup", "general_follow_up":
		return TypeGeneralFollowup
	case "follow_up_call":
		return TypeFollowUp
	}
	return TypeGeneralFollowup
}

// Call priorities. Lower is more urgent; used as the tie-break when multiple
// items share a due time.
const (
	PriorityUrgent    = 1
	PriorityImportant = 2
	PriorityRoutine   = 3
)

// CallScheduleItem is one planned outbound follow-up call. Each item carries
// its own conversation prompt; the voice agent receives it verbatim.
type CallScheduleItem struct {
	ID           string `json:"id" db:"id"`
	ClinicID     string `json:"clinic_id" db:"clinic_id"`
	PatientID    string `json:"patient_id" db:"patient_id"`
	PatientPhone string `json:"patient_phone" db:"patient_phone"`

	ScheduledTime time.Time  `json:"scheduled_time" db:"scheduled_time"`
	CallType      CallType   `json:"call_type" db:"call_type"`
	Priority      int        `json:"priority" db:"priority"`
	LLMPrompt     string     `json:"llm_prompt" db:"llm_prompt"`
	Status        CallStatus `json:"status" db:"status"`

	MaxAttempts  int `json:"max_attempts" db:"max_attempts"`
	AttemptCount int `json:"attempt_count" db:"attempt_count"`

	RelatedOrderID string            `json:"related_order_id,omitempty" db:"related_order_id"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
	Notes          string            `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewCallScheduleItem builds a pending item with defaults applied.
// Validate must still be called before persisting.
func NewCallScheduleItem(clinicID, patientID, phone string, at time.Time, callType CallType, priority int, prompt string) CallScheduleItem {
	now := time.Now().UTC()
	return CallScheduleItem{
		ID:            uuid.NewString(),
		ClinicID:      clinicID,
		PatientID:     patientID,
		PatientPhone:  phone,
		ScheduledTime: at,
		CallType:      callType,
		Priority:      priority,
		LLMPrompt:     prompt,
		Status:        StatusPending,
		MaxAttempts:   3,
		AttemptCount:  0,
		Metadata:      map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks creation invariants. Called before any insert.
func (i CallScheduleItem) Validate() error {
	var errs []error
	if i.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if i.PatientID == "" {
		errs = append(errs, errors.New("patient_id is required"))
	}
	if _, err := NormalizePhone(i.PatientPhone); err != nil {
		errs = append(errs, err)
	}
	if i.ScheduledTime.IsZero() {
		errs = append(errs, errors.New("scheduled_time is required"))
	}
	if strings.TrimSpace(i.LLMPrompt) == "" {
		errs = append(errs, errors.New("llm_prompt must be non-empty"))
	}
	if i.Priority < PriorityUrgent || i.Priority > PriorityRoutine {
		errs = append(errs, fmt.Errorf("priority must be %d..%d, got %d", PriorityUrgent, PriorityRoutine, i.Priority))
	}
	if !i.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", i.Status))
	}
	if i.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max_attempts must be positive"))
	}
	if i.AttemptCount < 0 || i.AttemptCount > i.MaxAttempts {
		errs = append(errs, fmt.Errorf("attempt_count %d out of range 0..%d", i.AttemptCount, i.MaxAttempts))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}

// CanRetry reports whether another attempt is allowed.
func (i CallScheduleItem) CanRetry() bool {
	return i.AttemptCount < i.MaxAttempts
}

// NormalizePhone canonicalizes a phone number to +<digits>. Ten-digit numbers
// get the +1 country code; 11-digit numbers starting with 1 get a plus.
// Anything else that is not already E.164-shaped is rejected.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: patient_phone is required", ErrValidation)
	}

	hadPlus := strings.HasPrefix(s, "+")
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		switch r {
		case '+', ' ', '-', '(', ')', '.':
		default:
			return "", fmt.Errorf("%w: patient_phone contains invalid character %q", ErrValidation, r)
		}
	}
	d := digits.String()

	switch {
	case hadPlus && len(d) >= 7 && len(d) <= 15:
		return "+" + d, nil
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	default:
		return "", fmt.Errorf("%w: patient_phone %q is not a valid number", ErrValidation, raw)
	}
}
