package session

import (
	"errors"
	"strings"
	"testing"
)

func startedMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine("maya", "Joseph", "english")
	if err := m.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return m
}

func TestPassiveListeningCollectsOnlyInstructions(t *testing.T) {
	m := startedMachine(t)

	utterances := []string{
		"We have Joseph.",
		"Take two Tylenol every four hours.",
		"That's all the instructions.",
	}

	var exitedAt int
	for i, u := range utterances {
		res, err := m.ProcessUtterance(u)
		if err != nil {
			t.Fatalf("utterance %d: %v", i, err)
		}
		if res.Exited {
			exitedAt = i
		}
	}

	if exitedAt != 2 {
		t.Fatalf("exited at utterance %d, want 2", exitedAt)
	}
	if m.Mode() != ModeVerification {
		t.Fatalf("mode = %s, want verification", m.Mode())
	}

	got := m.Data().CollectedInstructions
	if len(got) != 1 {
		t.Fatalf("collected %d instructions, want exactly 1", len(got))
	}
	if got[0].Text != "Take two Tylenol every four hours." {
		t.Fatalf("instruction = %q", got[0].Text)
	}
	if got[0].Category != CategoryMedication {
		t.Fatalf("category = %s", got[0].Category)
	}
}

func TestProcessBeforeBeginFails(t *testing.T) {
	m := NewMachine("maya", "Joseph", "english")
	if _, err := m.ProcessUtterance("hello"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestDirectAddressExitsToVerification(t *testing.T) {
	m := startedMachine(t)

	if _, err := m.ProcessUtterance("Keep the bandage dry."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	res, err := m.ProcessUtterance("Maya, did you get that?")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if !res.Exited || res.Trigger != TriggerDirectAddress {
		t.Fatalf("res = %+v", res)
	}
	if m.Mode() != ModeVerification {
		t.Fatalf("mode = %s", m.Mode())
	}
	if m.Data().IsPassiveMode {
		t.Fatal("expected passive mode off in verification")
	}
}

func TestMentioningAgentNameDoesNotExit(t *testing.T) {
	m := startedMachine(t)

	res, err := m.ProcessUtterance("Maya is our discharge coordinator")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if res.Exited {
		t.Fatal("mere mention of the name must not exit passive mode")
	}
	if m.Mode() != ModePassiveListening {
		t.Fatalf("mode = %s", m.Mode())
	}
}

func TestTranslationRequestSwitchesMode(t *testing.T) {
	m := NewMachine("maya", "Joseph", "spanish")
	if err := m.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	res, err := m.ProcessUtterance("Can you translate that for his mom?")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if res.Trigger != TriggerTranslationRequest || !res.Exited {
		t.Fatalf("res = %+v", res)
	}
	if m.Mode() != ModeActiveTranslation {
		t.Fatalf("mode = %s", m.Mode())
	}

	// Instructions keep flowing while translating.
	if _, err := m.ProcessUtterance("Give him ibuprofen with food."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if n := len(m.Data().CollectedInstructions); n != 1 {
		t.Fatalf("collected = %d", n)
	}

	// And the session can drop back to passive listening.
	if err := m.ResumeListening(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if m.Mode() != ModePassiveListening {
		t.Fatalf("mode = %s", m.Mode())
	}
	if !m.Data().IsPassiveMode {
		t.Fatal("expected passive mode on after resume")
	}
}

func TestVerificationAmendAndConfirm(t *testing.T) {
	m := startedMachine(t)

	if _, err := m.ProcessUtterance("Take two Tylenol every four hours."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if _, err := m.ProcessUtterance("Did you get all that?"); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if m.Mode() != ModeVerification {
		t.Fatalf("mode = %s", m.Mode())
	}

	if err := m.Amend(0, "Take one Tylenol every six hours."); err != nil {
		t.Fatalf("amend: %v", err)
	}
	got := m.Data().CollectedInstructions
	if got[0].Text != "Take one Tylenol every six hours." {
		t.Fatalf("amended text = %q", got[0].Text)
	}

	if err := m.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if m.Mode() != ModeComplete {
		t.Fatalf("mode = %s", m.Mode())
	}
	if _, err := m.ProcessUtterance("one more thing"); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("expected ErrAlreadyComplete, got %v", err)
	}
}

func TestVerificationCanReturnToListening(t *testing.T) {
	m := startedMachine(t)
	if _, err := m.ProcessUtterance("Keep the incision dry."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if _, err := m.ProcessUtterance("That's everything."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if m.Mode() != ModeVerification {
		t.Fatalf("mode = %s", m.Mode())
	}

	// Nurse remembers one more thing mid-readback.
	if err := m.ResumeListening(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := m.ProcessUtterance("Also, no swimming for five days."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if n := len(m.Data().CollectedInstructions); n != 2 {
		t.Fatalf("collected = %d", n)
	}
}

func TestSocialClosingNeedsInstructions(t *testing.T) {
	m := startedMachine(t)

	res, err := m.ProcessUtterance("Take care now!")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if res.Exited {
		t.Fatal("closing without instructions must not exit")
	}
	if res.Collected != nil {
		t.Fatal("a goodbye is not an instruction")
	}

	if _, err := m.ProcessUtterance("Change the dressing every morning."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	res, err = m.ProcessUtterance("Good luck with everything!")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if !res.Exited || res.Trigger != TriggerSocialClosing {
		t.Fatalf("res = %+v", res)
	}
}

func TestReadback(t *testing.T) {
	m := startedMachine(t)
	if got := m.Readback(); !strings.Contains(got, "didn't capture") {
		t.Fatalf("empty readback = %q", got)
	}
	if _, err := m.ProcessUtterance("Take two Tylenol every four hours."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	got := m.Readback()
	if !strings.Contains(got, "1 instruction") || !strings.Contains(got, "Tylenol") {
		t.Fatalf("readback = %q", got)
	}
}

func TestFinalizeOnlyWhenComplete(t *testing.T) {
	m := startedMachine(t)

	if _, err := m.Finalize(); !errors.Is(err, ErrNotComplete) {
		t.Fatalf("finalize while listening: expected ErrNotComplete, got %v", err)
	}

	if _, err := m.ProcessUtterance("Take two Tylenol every four hours."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if _, err := m.ProcessUtterance("Okay, we're all set."); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if _, err := m.Finalize(); !errors.Is(err, ErrNotComplete) {
		t.Fatalf("finalize during verification: expected ErrNotComplete, got %v", err)
	}
	if err := m.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	m.RecordPerson("Nurse Kelly")

	summary, err := m.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if summary.PatientName != "Joseph" || summary.PatientLanguage != "english" {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Instructions) != 1 || summary.Instructions[0].Category != CategoryMedication {
		t.Fatalf("instructions = %+v", summary.Instructions)
	}
	if len(summary.RoomPeople) != 1 {
		t.Fatalf("room people = %v", summary.RoomPeople)
	}

	// The summary is a snapshot, not a view into the session.
	summary.Instructions[0].Text = "mutated"
	if m.Data().CollectedInstructions[0].Text == "mutated" {
		t.Fatal("finalize must copy the instruction list")
	}
}

func TestRecordPersonDedupes(t *testing.T) {
	m := startedMachine(t)
	m.RecordPerson("Nurse Kelly")
	m.RecordPerson("nurse kelly")
	m.RecordPerson("Joseph's mom")
	if got := m.Data().RoomPeople; len(got) != 2 {
		t.Fatalf("room people = %v", got)
	}
}
