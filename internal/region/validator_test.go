package region

import "testing"

func newTestValidator() *Validator {
	return New(
		[]string{"RS", "SC", "PR", "SP", "RJ", "MG", "ES", "GO", "MT", "MS", "DF"},
		[]string{"BA", "PE", "CE", "RN", "PB", "AL", "SE", "PI", "MA", "AP", "AM", "RR", "AC", "TO"},
	)
}

func TestClassify(t *testing.T) {
	v := newTestValidator()

	cases := []struct {
		code string
		want Classification
	}{
		{"RS", Eligible},
		{"SP", Eligible},
		{"BA", Interest},
		{"TO", Interest},
		{"XX", Unknown},
		{"", Unknown},
		{"  ", Unknown},
	}
	for _, tc := range cases {
		if got := v.Classify(tc.code); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	v := newTestValidator()
	if v.Classify("rs") != Eligible {
		t.Fatal("expected lowercase rs to be eligible")
	}
	if v.Classify(" ba ") != Interest {
		t.Fatal("expected padded ba to be interest")
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	v := newTestValidator()
	first := v.Classify("MG")
	for i := 0; i < 10; i++ {
		if got := v.Classify("MG"); got != first {
			t.Fatalf("classification changed between calls: %v then %v", first, got)
		}
	}
}

func TestDescribe(t *testing.T) {
	v := newTestValidator()

	if cls, desc := v.Describe("RS"); cls != Eligible || desc == "" {
		t.Fatalf("Describe(RS) = %v %q", cls, desc)
	}
	if cls, desc := v.Describe("ba"); cls != Interest || desc == "" {
		t.Fatalf("Describe(ba) = %v %q", cls, desc)
	}
	if cls, _ := v.Describe(""); cls != Unknown {
		t.Fatalf("Describe(empty) = %v, want Unknown", cls)
	}
}
