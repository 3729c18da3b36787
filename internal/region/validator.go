package region

import (
	"fmt"
	"strings"
)

// Classification is the outcome of matching a region code against the
// configured sets.
type Classification int

const (
	Unknown Classification = iota
	Eligible
	Interest
)

func (c Classification) String() string {
	switch c {
	case Eligible:
		return "eligible"
	case Interest:
		return "interest"
	default:
		return "unknown"
	}
}

// macroRegions maps Brazilian state codes to their macro-region name,
// used only for human-readable descriptions.
var macroRegions = map[string]string{
	"RS": "Sul", "SC": "Sul", "PR": "Sul",
	"SP": "Sudeste", "RJ": "Sudeste", "MG": "Sudeste", "ES": "Sudeste",
	"GO": "Centro-Oeste", "MT": "Centro-Oeste", "MS": "Centro-Oeste", "DF": "Centro-Oeste",
	"BA": "Nordeste", "PE": "Nordeste", "CE": "Nordeste", "RN": "Nordeste",
	"PB": "Nordeste", "AL": "Nordeste", "SE": "Nordeste", "PI": "Nordeste", "MA": "Nordeste",
	"AP": "Norte", "AM": "Norte", "RR": "Norte", "AC": "Norte", "TO": "Norte",
}

// Validator classifies region codes against two immutable configured sets.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	eligible map[string]struct{}
	interest map[string]struct{}
}

// New builds a Validator from the configured eligible and interest region
// code lists. Codes are matched case-insensitively.
func New(eligible, interest []string) *Validator {
	return &Validator{
		eligible: toSet(eligible),
		interest: toSet(interest),
	}
}

// Classify returns the classification for a region code. Empty codes are
// always Unknown.
func (v *Validator) Classify(code string) Classification {
	code = normalize(code)
	if code == "" {
		return Unknown
	}
	if _, ok := v.eligible[code]; ok {
		return Eligible
	}
	if _, ok := v.interest[code]; ok {
		return Interest
	}
	return Unknown
}

// IsEligible reports whether the code belongs to the eligible set.
func (v *Validator) IsEligible(code string) bool {
	return v.Classify(code) == Eligible
}

// Describe returns the classification together with a human-readable
// description of the outcome.
func (v *Validator) Describe(code string) (Classification, string) {
	cls := v.Classify(code)
	upper := normalize(code)
	name := macroRegions[upper]

	switch cls {
	case Eligible:
		if name == "" {
			name = "desconhecida"
		}
		return cls, fmt.Sprintf("Elegível - Região %s", name)
	case Interest:
		if name == "" {
			name = "desconhecida"
		}
		return cls, fmt.Sprintf("Região em avaliação - %s", name)
	default:
		if upper == "" {
			return cls, "Região não informada"
		}
		return cls, fmt.Sprintf("Região %s desconhecida", upper)
	}
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func toSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = normalize(c)
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}
