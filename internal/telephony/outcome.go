package telephony

import (
	"errors"
	"fmt"
)

// FailureKind splits dial failures into the two buckets the retry policy
// cares about. Transient failures are worth another attempt; permanent ones
// mean the number itself is bad and retrying cannot help.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailurePermanent
)

// DialFailure is the classified result of a failed dial attempt. Message is
// the human-readable reason stored on the call record.
type DialFailure struct {
	SIPStatus int
	Kind      FailureKind
	Message   string
}

func (f *DialFailure) Error() string {
	return fmt.Sprintf("telephony: dial failed (SIP %d): %s", f.SIPStatus, f.Message)
}

// AsDialFailure unwraps err into a DialFailure if one is in the chain.
func AsDialFailure(err error) (*DialFailure, bool) {
	var f *DialFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

var transientStatuses = map[int]string{
	486: "Patient phone was busy",
	487: "Call was cancelled or timed out",
	408: "No answer - call timed out",
	503: "Service temporarily unavailable",
}

var permanentStatuses = map[int]string{
	404: "Phone number not found",
	410: "Phone number no longer in service",
	603: "Call declined",
}

// ClassifySIPStatus maps a SIP response code to a DialFailure. Codes outside
// the known tables are treated as transient so an unexpected provider hiccup
// still gets retried up to the attempt limit.
func ClassifySIPStatus(status int) *DialFailure {
	if msg, ok := transientStatuses[status]; ok {
		return &DialFailure{SIPStatus: status, Kind: FailureTransient, Message: msg}
	}
	if msg, ok := permanentStatuses[status]; ok {
		return &DialFailure{SIPStatus: status, Kind: FailurePermanent, Message: msg}
	}
	return &DialFailure{
		SIPStatus: status,
		Kind:      FailureTransient,
		Message:   fmt.Sprintf("Call failed with status %d", status),
	}
}
