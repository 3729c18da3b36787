package screening

import "testing"

func TestStatusTokenRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusNew,
		StatusInScreening,
		StatusAwaitingResponse,
		StatusScheduled,
		StatusNotEligible,
		StatusNoResponse,
		StatusRecovering,
		StatusInactive,
	}

	for _, s := range statuses {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", s.String(), err)
		}
		if parsed != s {
			t.Fatalf("round trip %q: got %v, want %v", s.String(), parsed, s)
		}
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	for _, token := range []string{"", "NEW", "novo", "done"} {
		if _, err := ParseStatus(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusScheduled:   true,
		StatusNotEligible: true,
		StatusInactive:    true,
	}
	all := []Status{
		StatusNew, StatusInScreening, StatusAwaitingResponse, StatusScheduled,
		StatusNotEligible, StatusNoResponse, StatusRecovering, StatusInactive,
	}
	for _, s := range all {
		if s.Terminal() != terminal[s] {
			t.Errorf("Terminal(%s) = %v, want %v", s, s.Terminal(), terminal[s])
		}
	}
}
