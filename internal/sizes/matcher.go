// Package sizes resolves an internal size value to a row of a per-locale
// size table scraped from the marketplace.
package sizes

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/logging"
)

// Table maps a locale tab name to its raw row labels, in page order.
type Table map[string][]string

// Tabs returns the tab names in sorted order.
func (t Table) Tabs() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Result struct {
	Label      string // raw label as scraped
	Tab        string
	Index      int // row position within Tab
	Tier       Tier
	Target     string // value as received
	Normalized string
	Converted  bool // Normalized differs from Target
	// Conflict is set when only the unconverted target matched, which
	// contradicts the brand's conversion table.
	Conflict bool
}

type Matcher struct {
	profiles *Profiles
	log      *logrus.Entry

	warned sync.Map // brand -> struct{}
}

func NewMatcher(profiles *Profiles, log logrus.FieldLogger) *Matcher {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Matcher{profiles: profiles, log: logging.Component(log, "sizes")}
}

// Match resolves target against table with the default profile and an
// explicit tab priority.
func Match(target string, table Table, priority []string) (Result, error) {
	p := DefaultProfiles().def
	if priority != nil {
		p.TabPriority = priority
	}
	return matchProfile(p, target, table)
}

// Match resolves target for brand. SizeNotFoundError and SoldOutError are
// terminal outcomes.
func (m *Matcher) Match(brand, target string, table Table) (Result, error) {
	prof := m.profiles.For(brand)
	if len(prof.Conflicts) > 0 {
		if _, seen := m.warned.LoadOrStore(strings.ToUpper(brand), struct{}{}); !seen {
			m.log.WithFields(logrus.Fields{
				"brand":     brand,
				"conflicts": prof.Conflicts,
			}).Warn("brand matches several conversion rules; using the first")
		}
	}

	res, err := matchProfile(prof, target, table)
	if res.Conflict {
		m.log.WithFields(logrus.Fields{
			"brand":      brand,
			"target":     target,
			"normalized": res.Normalized,
			"label":      res.Label,
			"tab":        res.Tab,
		}).Warn("size matched only without conversion; conversion table may be wrong for this brand")
	}
	return res, err
}

func matchProfile(prof Profile, target string, table Table) (Result, error) {
	raw := strings.TrimSpace(target)
	norm := prof.Conversions.Normalize(raw)

	res, err := search(prof, norm, table)
	res.Target, res.Normalized, res.Converted = target, norm, norm != raw
	var notFound *internaltypes.SizeNotFoundError
	if !errors.As(err, &notFound) || norm == raw {
		return res, err
	}

	// The raw value may still be right for a brand the table does not cover.
	fallback, ferr := search(prof, raw, table)
	var soldOut *internaltypes.SoldOutError
	if ferr == nil || errors.As(ferr, &soldOut) {
		fallback.Target, fallback.Normalized, fallback.Converted = target, norm, true
		fallback.Conflict = true
		if ferr == nil && prof.RejectConflicts {
			return fallback, &internaltypes.ConversionConflictError{
				Target: target, Normalized: norm, Tab: fallback.Tab, Label: fallback.Label,
			}
		}
		return fallback, ferr
	}
	return res, err
}

// search walks tabs in priority order; the first tab holding any match wins,
// and within it the strongest tier, then the earliest row.
func search(prof Profile, value string, table Table) (Result, error) {
	order := tabOrder(table, prof.TabPriority)
	for _, tab := range order {
		labels := table[tab.key]
		cleaned := make([]string, len(labels))
		soldOut := make([]bool, len(labels))
		for i, l := range labels {
			cleaned[i], soldOut[i] = stripMarkers(l, prof.SoldOutMarkers)
		}
		for _, mt := range matchers {
			for i, label := range cleaned {
				if label == "" || !mt.match(label, tab.names, value) {
					continue
				}
				if soldOut[i] {
					return Result{Label: labels[i], Tab: tab.key, Index: i, Tier: mt.tier},
						&internaltypes.SoldOutError{Tab: tab.key, Label: labels[i]}
				}
				return Result{Label: labels[i], Tab: tab.key, Index: i, Tier: mt.tier}, nil
			}
		}
	}

	tried := make([]string, 0, len(order))
	for _, tab := range order {
		tried = append(tried, tab.key)
	}
	if len(tried) == 0 {
		tried = append(tried, prof.TabPriority...)
	}
	return Result{}, &internaltypes.SizeNotFoundError{Target: value, Tabs: tried}
}

type tabRef struct {
	key   string   // key in the table
	names []string // key plus the configured name it matched
}

// tabOrder lists the table's tabs: configured priority first, then the rest
// sorted. Names compare ignoring case, spacing and punctuation.
func tabOrder(table Table, priority []string) []tabRef {
	byCompact := make(map[string]string, len(table))
	for _, k := range table.Tabs() {
		c := compact(k)
		if _, dup := byCompact[c]; !dup {
			byCompact[c] = k
		}
	}

	used := make(map[string]bool, len(table))
	out := make([]tabRef, 0, len(table))
	for _, name := range priority {
		key, ok := byCompact[compact(name)]
		if !ok || used[key] {
			continue
		}
		used[key] = true
		names := []string{key}
		if name != key {
			names = append(names, name)
		}
		out = append(out, tabRef{key: key, names: names})
	}
	for _, key := range table.Tabs() {
		if !used[key] {
			used[key] = true
			out = append(out, tabRef{key: key, names: []string{key}})
		}
	}
	return out
}

// stripMarkers removes sold-out markers and leftover bracket debris.
func stripMarkers(label string, markers []string) (string, bool) {
	out := label
	soldOut := false
	for _, m := range markers {
		if m != "" && strings.Contains(out, m) {
			out = strings.ReplaceAll(out, m, "")
			soldOut = true
		}
	}
	out = strings.Join(strings.Fields(out), " ")
	if soldOut {
		for _, debris := range []string{"( )", "()", "[ ]", "[]"} {
			out = strings.ReplaceAll(out, debris, "")
		}
		out = strings.Join(strings.Fields(out), " ")
	}
	return strings.Trim(out, " -/·|"), soldOut
}
