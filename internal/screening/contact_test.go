package screening

import (
	"strings"
	"testing"
)

func TestNormalizeContact(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5511999998888@s.whatsapp.net", "5511999998888"},
		{"5511999998888", "5511999998888"},
		{"+55 (11) 99999-8888", "5511999998888"},
		{"1234567890", "1234567890"},
		{"123456789012345", "123456789012345"},
		{"123456789", ""},
		{"1234567890123456", ""},
		{"0000000000", ""},
		{"abc", ""},
		{"", ""},
		{"@s.whatsapp.net", ""},
	}

	for _, tc := range cases {
		if got := NormalizeContact(tc.in); got != tc.want {
			t.Errorf("NormalizeContact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeTextStripsControlCharacters(t *testing.T) {
	in := "linha um\nlinha\tdois\x00\x07\x1bfim"
	want := "linha um\nlinha\tdoisfim"
	if got := SanitizeText(in); got != want {
		t.Fatalf("SanitizeText = %q, want %q", got, want)
	}
}

func TestSanitizeTextTruncates(t *testing.T) {
	in := strings.Repeat("á", MaxMessageLength+100)
	got := SanitizeText(in)
	if n := len([]rune(got)); n != MaxMessageLength {
		t.Fatalf("expected %d runes, got %d", MaxMessageLength, n)
	}
}

func TestSanitizeTextKeepsShortMessages(t *testing.T) {
	in := "Olá, tenho interesse na franquia!"
	if got := SanitizeText(in); got != in {
		t.Fatalf("expected message unchanged, got %q", got)
	}
}
