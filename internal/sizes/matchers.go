package sizes

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tier records which matcher resolved a label; lower tiers are stronger.
type Tier int

const (
	TierExact Tier = iota + 1
	TierPrefixed
	TierToken
	TierAffix
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierPrefixed:
		return "prefixed"
	case TierToken:
		return "token"
	case TierAffix:
		return "affix"
	}
	return "unknown"
}

// matchFunc reports whether a cleaned label matches value. tabs holds the
// names the label's tab is known by (scraped key and configured name).
type matchFunc func(label string, tabs []string, value string) bool

type typedMatcher struct {
	tier  Tier
	match matchFunc
}

// matchers in precedence order.
var matchers = []typedMatcher{
	{TierExact, func(label string, _ []string, value string) bool { return matchExact(label, value) }},
	{TierPrefixed, matchPrefixed},
	{TierToken, func(label string, _ []string, value string) bool { return matchToken(label, value) }},
	{TierAffix, func(label string, _ []string, value string) bool { return matchAffix(label, value) }},
}

func matchExact(label, value string) bool {
	return sameValue(label, value)
}

// matchPrefixed finds "<TAB><sep><value>" anywhere in the label, ignoring
// spacing and punctuation between and around the parts.
func matchPrefixed(label string, tabs []string, value string) bool {
	l := compact(label)
	v := compact(value)
	if v == "" {
		return false
	}
	for _, tab := range tabs {
		t := compact(tab)
		if t == "" {
			continue
		}
		needle := t + v
		for from := 0; from < len(l); {
			i := strings.Index(l[from:], needle)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(needle)
			prev, _ := utf8.DecodeLastRuneInString(l[:start])
			next, _ := utf8.DecodeRuneInString(l[end:])
			if (start == 0 || !unicode.IsLetter(prev)) && (end == len(l) || !isNumeric(next)) {
				return true
			}
			from = start + 1
		}
	}
	return false
}

func matchToken(label, value string) bool {
	for _, tok := range strings.Fields(label) {
		if sameValue(tok, value) {
			return true
		}
	}
	return false
}

// matchAffix accepts the value as the label's leading or trailing token when
// the neighbouring rune is not part of a number ("24.5cm", "JP24.5").
func matchAffix(label, value string) bool {
	l := strings.ToUpper(label)
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "" || len(v) >= len(l) {
		return false
	}
	if strings.HasPrefix(l, v) {
		next, _ := utf8.DecodeRuneInString(l[len(v):])
		if !isNumeric(next) {
			return true
		}
	}
	if strings.HasSuffix(l, v) {
		prev, _ := utf8.DecodeLastRuneInString(l[:len(l)-len(v)])
		if !isNumeric(prev) {
			return true
		}
	}
	return false
}

// sameValue compares case-insensitively, and numerically when both sides are
// numbers ("24" == "24.0").
func sameValue(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if strings.EqualFold(a, b) {
		return true
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && fa == fb
}

// compact upper-cases s and drops everything except letters, digits and '.'.
func compact(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func isNumeric(r rune) bool {
	return unicode.IsDigit(r) || r == '.'
}
