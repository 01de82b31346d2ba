package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotStarted      = errors.New("session: not started")
	ErrAlreadyComplete = errors.New("session: already complete")
	ErrNotComplete     = errors.New("session: not complete")
)

// Machine drives one listening session through its workflow modes. It is not
// safe for concurrent use; a session lives on a single call.
type Machine struct {
	agentName string
	data      Data

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewMachine(agentName, patientName, patientLanguage string) *Machine {
	if patientLanguage == "" {
		patientLanguage = "english"
	}
	return &Machine{
		agentName: agentName,
		data: Data{
			PatientName:     patientName,
			PatientLanguage: patientLanguage,
			Mode:            ModeSetup,
		},
		clock: time.Now,
	}
}

// Data returns a snapshot of the session state.
func (m *Machine) Data() Data {
	out := m.data
	out.CollectedInstructions = append([]Instruction(nil), m.data.CollectedInstructions...)
	out.RoomPeople = append([]string(nil), m.data.RoomPeople...)
	return out
}

func (m *Machine) Mode() WorkflowMode { return m.data.Mode }

// Begin moves the session from setup into passive listening.
func (m *Machine) Begin() error {
	if err := m.transition(ModePassiveListening); err != nil {
		return err
	}
	m.data.IsPassiveMode = true
	return nil
}

// Result describes what one utterance did to the session.
type Result struct {
	Mode    WorkflowMode
	Trigger TriggerKind

	// Collected is set when the utterance was captured as an instruction.
	Collected *Instruction

	// Exited is true when the utterance ended passive listening and the
	// agent should speak (verification readback or translation).
	Exited bool
}

// ProcessUtterance feeds one transcript line into the session. In passive
// modes it checks the exit triggers first; only a non-triggering utterance is
// considered for instruction capture.
func (m *Machine) ProcessUtterance(text string) (Result, error) {
	switch m.data.Mode {
	case ModeSetup:
		return Result{}, ErrNotStarted
	case ModeComplete:
		return Result{}, ErrAlreadyComplete
	case ModeVerification:
		// During readback the nurse may correct an item; the agent layer
		// handles that dialog. Nothing to detect here.
		return Result{Mode: m.data.Mode}, nil
	}

	trigger := DetectExitTrigger(text, m.agentName, len(m.data.CollectedInstructions) > 0)
	switch trigger {
	case TriggerNone:
		res := Result{Mode: m.data.Mode, Trigger: TriggerNone}
		if cat, ok := DetectInstruction(text); ok {
			inst := Instruction{
				Text:      strings.TrimSpace(text),
				Category:  cat,
				Timestamp: m.clock().UTC(),
			}
			m.data.CollectedInstructions = append(m.data.CollectedInstructions, inst)
			res.Collected = &inst
		}
		return res, nil

	case TriggerTranslationRequest:
		if m.data.Mode == ModeActiveTranslation {
			// Already translating; treat as part of the conversation.
			return Result{Mode: m.data.Mode, Trigger: trigger}, nil
		}
		if err := m.transition(ModeActiveTranslation); err != nil {
			return Result{}, err
		}
		m.data.IsPassiveMode = false
		return Result{Mode: m.data.Mode, Trigger: trigger, Exited: true}, nil

	default:
		if err := m.transition(ModeVerification); err != nil {
			return Result{}, err
		}
		m.data.IsPassiveMode = false
		return Result{Mode: m.data.Mode, Trigger: trigger, Exited: true}, nil
	}
}

// ResumeListening returns to passive listening, from translation or from a
// verification readback that surfaced more instructions.
func (m *Machine) ResumeListening() error {
	if err := m.transition(ModePassiveListening); err != nil {
		return err
	}
	m.data.IsPassiveMode = true
	return nil
}

// Amend replaces a captured instruction after the nurse corrects it during
// verification.
func (m *Machine) Amend(index int, text string) error {
	if m.data.Mode != ModeVerification {
		return fmt.Errorf("%w: %s -> amend", ErrBadModeTransition, m.data.Mode)
	}
	if index < 0 || index >= len(m.data.CollectedInstructions) {
		return fmt.Errorf("session: no instruction at index %d", index)
	}
	cat, ok := DetectInstruction(text)
	if !ok {
		cat = m.data.CollectedInstructions[index].Category
	}
	m.data.CollectedInstructions[index] = Instruction{
		Text:      strings.TrimSpace(text),
		Category:  cat,
		Timestamp: m.clock().UTC(),
	}
	return nil
}

// Confirm completes the session once verification is done.
func (m *Machine) Confirm() error {
	return m.transition(ModeComplete)
}

// FinalSummary is what a finished session hands downstream: the verified
// instruction list plus the patient context the call planner needs.
type FinalSummary struct {
	PatientName     string        `json:"patient_name"`
	PatientLanguage string        `json:"patient_language"`
	Instructions    []Instruction `json:"instructions"`
	RoomPeople      []string      `json:"room_people,omitempty"`
}

// Finalize returns the session's verified output for follow-up planning.
// Only valid once the nurse has confirmed the readback and the session is
// complete.
func (m *Machine) Finalize() (FinalSummary, error) {
	if m.data.Mode != ModeComplete {
		return FinalSummary{}, fmt.Errorf("%w: mode %s", ErrNotComplete, m.data.Mode)
	}
	return FinalSummary{
		PatientName:     m.data.PatientName,
		PatientLanguage: m.data.PatientLanguage,
		Instructions:    append([]Instruction(nil), m.data.CollectedInstructions...),
		RoomPeople:      append([]string(nil), m.data.RoomPeople...),
	}, nil
}

// RecordPerson notes a speaker heard in the room.
func (m *Machine) RecordPerson(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	for _, p := range m.data.RoomPeople {
		if strings.EqualFold(p, name) {
			return
		}
	}
	m.data.RoomPeople = append(m.data.RoomPeople, name)
}

// Readback renders the verification summary the agent speaks to the nurse.
func (m *Machine) Readback() string {
	if len(m.data.CollectedInstructions) == 0 {
		return "I didn't capture any discharge instructions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I captured %d instruction", len(m.data.CollectedInstructions))
	if len(m.data.CollectedInstructions) > 1 {
		b.WriteString("s")
	}
	b.WriteString(": ")
	for i, inst := range m.data.CollectedInstructions {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, inst.Text)
	}
	return b.String()
}

func (m *Machine) transition(to WorkflowMode) error {
	if !canTransition(m.data.Mode, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadModeTransition, m.data.Mode, to)
	}
	m.data.Mode = to
	return nil
}
