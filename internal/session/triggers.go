package session

import "strings"

// TriggerKind identifies which exit rule fired for an utterance.
type TriggerKind string

const (
	TriggerNone                TriggerKind = ""
	TriggerDirectAddress       TriggerKind = "direct_address"
	TriggerTranslationRequest  TriggerKind = "translation_request"
	TriggerCompletionPhrase    TriggerKind = "completion_phrase"
	TriggerVerificationRequest TriggerKind = "verification_request"
	TriggerSocialClosing       TriggerKind = "social_closing"
)

var completionPhrases = []string{
	"that's all",
	"that is all",
	"we're done",
	"we are done",
	"we're all set",
	"we are all set",
	"that covers it",
	"that's everything",
	"that is everything",
	"i think that's everything",
	"that's about it",
	"any questions",
	"no more instructions",
	"nothing else",
}

// partialCompletionMarkers keep phrases like "done with this particular
// medication" from ending the whole session.
var partialCompletionMarkers = []string{
	"this particular",
	"this part",
	"this section",
	"this one",
	"that part",
	"for now with",
}

var verificationPhrases = []string{
	"did you get that",
	"did you get all that",
	"did you get all of that",
	"did you capture",
	"are you getting this",
	"did you catch that",
	"do you have all",
}

var translationPhrases = []string{
	"translate",
	"in spanish",
	"can you say that in",
	"tell them in",
	"tell her in",
	"tell him in",
}

var socialClosings = []string{
	"take care",
	"good luck",
	"feel better",
	"get well soon",
	"have a good day",
	"have a great day",
	"safe travels",
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsDirectAddress reports whether the utterance addresses the agent by name.
// The name must sit in address position: a vocative at the start or end of
// the sentence. Merely mentioning the name ("maya is our discharge
// coordinator") does not count.
func IsDirectAddress(text, agentName string) bool {
	t := normalize(text)
	name := strings.ToLower(strings.TrimSpace(agentName))
	if name == "" || !strings.Contains(t, name) {
		return false
	}

	// The name on its own.
	bare := strings.TrimRight(t, "?!. ")
	if bare == name {
		return true
	}

	// Leading vocative: "maya, ..." / "maya? ..." / "hey maya ..."
	for _, p := range []string{name + ",", name + "?", name + "!"} {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	for _, greet := range []string{"hey ", "hi ", "ok ", "okay ", "alright ", "so "} {
		rest, ok := strings.CutPrefix(t, greet)
		if !ok {
			continue
		}
		if rest == name || strings.HasPrefix(rest, name+",") || strings.HasPrefix(rest, name+"?") || strings.HasPrefix(rest, name+" ") {
			return true
		}
	}

	// Trailing vocative: "..., maya?"
	if strings.HasSuffix(bare, ", "+name) || strings.HasSuffix(bare, ","+name) {
		return true
	}
	return false
}

func isCompletionPhrase(t string) bool {
	matched := false
	for _, p := range completionPhrases {
		if strings.Contains(t, p) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, m := range partialCompletionMarkers {
		if strings.Contains(t, m) {
			return false
		}
	}
	return true
}

func containsAny(t string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// DetectExitTrigger checks an utterance against the exit rules, first match
// wins. Social closings only end the session once instructions have actually
// been captured; a "take care" in passing before any instruction is noise.
func DetectExitTrigger(text, agentName string, hasInstructions bool) TriggerKind {
	t := normalize(text)
	if t == "" {
		return TriggerNone
	}
	if IsDirectAddress(t, agentName) {
		return TriggerDirectAddress
	}
	if containsAny(t, translationPhrases) {
		return TriggerTranslationRequest
	}
	if isCompletionPhrase(t) {
		return TriggerCompletionPhrase
	}
	if containsAny(t, verificationPhrases) {
		return TriggerVerificationRequest
	}
	if hasInstructions && containsAny(t, socialClosings) {
		return TriggerSocialClosing
	}
	return TriggerNone
}
