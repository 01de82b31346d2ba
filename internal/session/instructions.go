package session

import "strings"

// categoryKeywords lists instruction categories and the phrases that
// indicate them, checked in order so a mixed utterance categorizes the same
// way every time. An utterance has to look like an actual instruction to be
// captured; small talk ("We have Joseph.") never lands in the collected list.
var categoryKeywords = []struct {
	category InstructionCategory
	keywords []string
}{
	{CategoryMedication, []string{
		"medication", "medicine", "tylenol", "ibuprofen", "advil", "motrin",
		"antibiotic", "dose", "doses", "tablet", "pill", "prescription",
		"every four hours", "every 4 hours", "every six hours", "every 6 hours",
		"every eight hours", "every 8 hours", "twice a day", "as needed",
	}},
	{CategoryWoundCare, []string{
		"bandage", "dressing", "incision", "wound", "gauze", "compression",
		"keep it dry", "keep the area", "steri-strips", "puncture site",
	}},
	{CategoryActivity, []string{
		"no lifting", "don't lift", "do not lift", "weight-bearing",
		"bed rest", "avoid strenuous", "no swimming", "no bathing",
		"elevate", "stay off", "light activity", "resume normal activities",
		"return to school", "no sports", "no gym",
	}},
	{CategoryFollowUp, []string{
		"follow-up", "follow up", "appointment", "come back in",
		"call the office", "call us", "schedule a visit", "check-up",
	}},
	{CategoryDiet, []string{
		"diet", "clear liquids", "soft foods", "plenty of fluids",
		"drink water", "avoid alcohol", "nothing to eat",
	}},
}

// instructionVerbs mark imperative instruction language for utterances that
// match no category keywords, e.g. "Watch for any fever tonight."
var instructionVerbs = []string{
	"take ", "give ", "apply ", "avoid ", "keep ", "watch for",
	"make sure", "don't ", "do not ", "call 911", "remove ", "change ",
}

// DetectInstruction reports whether the utterance is instruction-shaped and,
// if so, returns its category.
func DetectInstruction(text string) (InstructionCategory, bool) {
	t := normalize(text)
	if t == "" {
		return "", false
	}
	// "Take care" is a goodbye, not a care instruction.
	if containsAny(t, socialClosings) {
		return "", false
	}
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(t, kw) {
				return entry.category, true
			}
		}
	}
	for _, v := range instructionVerbs {
		if strings.Contains(t, v) {
			return CategoryGeneral, true
		}
	}
	return "", false
}
