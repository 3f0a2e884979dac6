package sizes

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

var (
	DefaultTabPriority    = []string{"JP", "US Men", "US Kids", "CHN", "Global"}
	DefaultSoldOutMarkers = []string{"품절", "SOLD OUT", "Sold Out"}
)

// Profile is the effective matching configuration for one brand.
type Profile struct {
	TabPriority    []string
	Conversions    ConversionTable
	SoldOutMarkers []string
	// RejectConflicts makes a match found only for the unconverted size a
	// ConversionConflictError instead of a usable result.
	RejectConflicts bool
	// Conflicts lists patterns whose conversion rules disagreed with the
	// pattern that won for this brand.
	Conflicts []string
}

type brandRule struct {
	pattern     string
	g           glob.Glob
	tabPriority []string
	conversions ConversionTable
	// nil inherits the default
	rejectConflicts *bool
}

type Profiles struct {
	def   Profile
	rules []brandRule
}

type profilesFile struct {
	Default struct {
		TabPriority     []string `yaml:"tab_priority"`
		Conversions     []Rule   `yaml:"conversions"`
		SoldOutMarkers  []string `yaml:"sold_out_markers"`
		RejectConflicts bool     `yaml:"reject_conversion_conflicts"`
	} `yaml:"default"`
	Brands []struct {
		Pattern         string   `yaml:"pattern"`
		TabPriority     []string `yaml:"tab_priority"`
		Conversions     []Rule   `yaml:"conversions"`
		RejectConflicts *bool    `yaml:"reject_conversion_conflicts"`
	} `yaml:"brands"`
}

func DefaultProfiles() *Profiles {
	return &Profiles{def: Profile{
		TabPriority:    DefaultTabPriority,
		Conversions:    DefaultConversions,
		SoldOutMarkers: DefaultSoldOutMarkers,
	}}
}

func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read size profiles: %w", err)
	}
	return ParseProfiles(data)
}

func ParseProfiles(data []byte) (*Profiles, error) {
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse size profiles: %w", err)
	}
	p := DefaultProfiles()
	if len(f.Default.TabPriority) > 0 {
		p.def.TabPriority = f.Default.TabPriority
	}
	if len(f.Default.Conversions) > 0 {
		p.def.Conversions = f.Default.Conversions
	}
	if len(f.Default.SoldOutMarkers) > 0 {
		p.def.SoldOutMarkers = f.Default.SoldOutMarkers
	}
	p.def.RejectConflicts = f.Default.RejectConflicts
	for i, b := range f.Brands {
		if strings.TrimSpace(b.Pattern) == "" {
			return nil, fmt.Errorf("size profiles: brands[%d]: pattern is required", i)
		}
		if err := p.Add(b.Pattern, b.TabPriority, b.Conversions); err != nil {
			return nil, fmt.Errorf("size profiles: brands[%d]: %w", i, err)
		}
		p.rules[len(p.rules)-1].rejectConflicts = b.RejectConflicts
	}
	return p, nil
}

// Add registers a brand override. Patterns are matched case-insensitively
// in registration order; nil fields inherit from the default profile.
func (p *Profiles) Add(pattern string, tabPriority []string, conversions ConversionTable) error {
	g, err := glob.Compile(strings.ToUpper(pattern))
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	p.rules = append(p.rules, brandRule{
		pattern:     pattern,
		g:           g,
		tabPriority: tabPriority,
		conversions: conversions,
	})
	return nil
}

// For resolves the profile for brand. The first matching pattern that sets a
// field wins it; later matches with different conversions are reported in
// Conflicts rather than merged.
func (p *Profiles) For(brand string) Profile {
	out := p.def
	out.Conflicts = nil
	key := strings.ToUpper(strings.TrimSpace(brand))
	var tabsSet, convSet, rejectSet bool
	for _, r := range p.rules {
		if !r.g.Match(key) {
			continue
		}
		if r.rejectConflicts != nil && !rejectSet {
			out.RejectConflicts = *r.rejectConflicts
			rejectSet = true
		}
		if len(r.tabPriority) > 0 && !tabsSet {
			out.TabPriority = r.tabPriority
			tabsSet = true
		}
		if len(r.conversions) == 0 {
			continue
		}
		if !convSet {
			out.Conversions = r.conversions
			convSet = true
			continue
		}
		if !out.Conversions.equal(r.conversions) {
			out.Conflicts = append(out.Conflicts, r.pattern)
		}
	}
	return out
}
