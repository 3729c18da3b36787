package screening

import "fmt"

// Status is the lead lifecycle state. The zero value is not a valid state;
// leads always start as StatusNew.
//
// Flow: new -> in_screening -> awaiting_response -> scheduled | not_eligible,
// with the idle branch no_response -> recovering -> inactive driven by the
// follow-up sweep.
type Status int

const (
	StatusNew Status = iota + 1
	StatusInScreening
	StatusAwaitingResponse
	StatusScheduled
	StatusNotEligible
	StatusNoResponse
	StatusRecovering
	StatusInactive
)

var statusTokens = map[Status]string{
	StatusNew:              "new",
	StatusInScreening:      "in_screening",
	StatusAwaitingResponse: "awaiting_response",
	StatusScheduled:        "scheduled",
	StatusNotEligible:      "not_eligible",
	StatusNoResponse:       "no_response",
	StatusRecovering:       "recovering",
	StatusInactive:         "inactive",
}

var tokenStatuses = func() map[string]Status {
	m := make(map[string]Status, len(statusTokens))
	for s, tok := range statusTokens {
		m[tok] = s
	}
	return m
}()

// String returns the stable storage token for the status.
func (s Status) String() string {
	if tok, ok := statusTokens[s]; ok {
		return tok
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the defined states.
func (s Status) Valid() bool {
	_, ok := statusTokens[s]
	return ok
}

// Terminal reports whether message processing drives no further transitions
// from this state. Booking and recovery flows own these states.
func (s Status) Terminal() bool {
	switch s {
	case StatusScheduled, StatusNotEligible, StatusInactive:
		return true
	}
	return false
}

// ParseStatus maps a storage token back to the typed status. Used only at
// the persistence boundary.
func ParseStatus(token string) (Status, error) {
	if s, ok := tokenStatuses[token]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown lead status %q", token)
}
