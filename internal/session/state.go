package session

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowMode is the phase of an in-call listening session.
//
// The agent joins in setup, moves to passive listening while the discharge
// nurse talks, may be pulled into active translation, and ends in
// verification where it reads back what it captured.
type WorkflowMode string

const (
	ModeSetup             WorkflowMode = "setup"
	ModePassiveListening  WorkflowMode = "passive_listening"
	ModeActiveTranslation WorkflowMode = "active_translation"
	ModeVerification      WorkflowMode = "verification"
	ModeComplete          WorkflowMode = "complete"
)

var ErrBadModeTransition = errors.New("session: invalid mode transition")

var modeTransitions = map[WorkflowMode][]WorkflowMode{
	ModeSetup:             {ModePassiveListening, ModeActiveTranslation},
	ModePassiveListening:  {ModeActiveTranslation, ModeVerification},
	ModeActiveTranslation: {ModePassiveListening, ModeVerification},
	ModeVerification:      {ModeComplete, ModePassiveListening},
	ModeComplete:          {},
}

func canTransition(from, to WorkflowMode) bool {
	for _, next := range modeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InstructionCategory tags what a captured instruction is about.
type InstructionCategory string

const (
	CategoryMedication InstructionCategory = "medication"
	CategoryWoundCare  InstructionCategory = "wound_care"
	CategoryActivity   InstructionCategory = "activity"
	CategoryFollowUp   InstructionCategory = "follow_up"
	CategoryDiet       InstructionCategory = "diet"
	CategoryGeneral    InstructionCategory = "general"
)

// Instruction is one discharge instruction captured during passive listening.
type Instruction struct {
	Text      string              `json:"text"`
	Category  InstructionCategory `json:"category"`
	Timestamp time.Time           `json:"timestamp"`
}

// Data is the live state of one listening session.
type Data struct {
	PatientName     string       `json:"patient_name"`
	PatientLanguage string       `json:"patient_language"`
	Mode            WorkflowMode `json:"workflow_mode"`

	// IsPassiveMode is true while the agent stays silent unless addressed.
	IsPassiveMode bool `json:"is_passive_mode"`

	CollectedInstructions []Instruction `json:"collected_instructions"`

	// RoomPeople tracks who the agent has heard in the room (nurse, parent).
	RoomPeople []string `json:"room_people,omitempty"`
}

func (d *Data) String() string {
	return fmt.Sprintf("session(%s, mode=%s, instructions=%d)",
		d.PatientName, d.Mode, len(d.CollectedInstructions))
}
