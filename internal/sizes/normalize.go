package sizes

import "strings"

// Rule converts a pure-digit size of Digits length by inserting a decimal
// point after Split digits. Split <= 0 or Split >= Digits keeps the value.
type Rule struct {
	Digits int `yaml:"digits"`
	Split  int `yaml:"split"`
}

// ConversionTable is an explicit, ordered list of rules; the first rule whose
// Digits equals the input length applies.
type ConversionTable []Rule

// DefaultConversions: "225" -> "22.5", "2552" -> "255.2".
var DefaultConversions = ConversionTable{
	{Digits: 3, Split: 2},
	{Digits: 4, Split: 3},
}

// Normalize trims raw and converts it into canonical decimal form using the
// default table.
func Normalize(raw string) string {
	return DefaultConversions.Normalize(raw)
}

func (ct ConversionTable) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Contains(s, ".") || !allDigits(s) {
		return s
	}
	for _, r := range ct {
		if len(s) != r.Digits {
			continue
		}
		if r.Split <= 0 || r.Split >= r.Digits {
			return s
		}
		return s[:r.Split] + "." + s[r.Split:]
	}
	return s
}

func (ct ConversionTable) equal(other ConversionTable) bool {
	if len(ct) != len(other) {
		return false
	}
	for i := range ct {
		if ct[i] != other[i] {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
