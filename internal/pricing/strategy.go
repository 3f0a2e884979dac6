package pricing

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AdjustmentType string

const (
	Coupon   AdjustmentType = "coupon"
	Point    AdjustmentType = "point"
	Card     AdjustmentType = "card"
	Cashback AdjustmentType = "cashback"
)

// AdjustmentTypes is the canonical application order.
var AdjustmentTypes = []AdjustmentType{Coupon, Point, Card, Cashback}

// Adjustment is one capped percentage reduction.
type Adjustment struct {
	Type      AdjustmentType
	Enabled   bool
	Rate      decimal.Decimal
	MaxAmount decimal.Decimal
}

// Strategy is immutable once loaded.
type Strategy struct {
	ID                   string
	Name                 string
	Description          string
	Enabled              bool
	Adjustments          []Adjustment
	TotalMaxDiscountRate decimal.Decimal
}

// StrategySet is the parsed strategy document keyed by strategy id.
type StrategySet struct {
	byID map[string]*Strategy
	ids  []string
}

type strategyFile struct {
	Strategies map[string]strategyDoc `yaml:"strategies" validate:"required,min=1,dive"`
}

type strategyDoc struct {
	Name                 string                   `yaml:"name" validate:"required"`
	Description          string                   `yaml:"description"`
	Enabled              *bool                    `yaml:"enabled" validate:"required"`
	Adjustments          map[string]adjustmentDoc `yaml:"adjustments" validate:"dive,keys,oneof=coupon point card cashback,endkeys"`
	TotalMaxDiscountRate *float64                 `yaml:"total_max_discount_rate" validate:"required,gte=0,lte=1"`
}

type adjustmentDoc struct {
	Enabled   *bool    `yaml:"enabled" validate:"required"`
	Rate      *float64 `yaml:"rate" validate:"required,gte=0,lte=1"`
	MaxAmount *float64 `yaml:"max_amount" validate:"required,gte=0"`
}

// LoadStrategies reads a strategy document (YAML or JSON) from disk.
func LoadStrategies(path string) (*StrategySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	set, err := ParseStrategies(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// ParseStrategies parses and validates a strategy document.
func ParseStrategies(data []byte) (*StrategySet, error) {
	var doc strategyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse strategies: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid strategies: %w", describeValidation(err))
	}

	set := &StrategySet{byID: make(map[string]*Strategy, len(doc.Strategies))}
	for id, sd := range doc.Strategies {
		s := &Strategy{
			ID:                   id,
			Name:                 sd.Name,
			Description:          sd.Description,
			Enabled:              *sd.Enabled,
			TotalMaxDiscountRate: decimal.NewFromFloat(*sd.TotalMaxDiscountRate),
		}
		for _, t := range AdjustmentTypes {
			ad, ok := sd.Adjustments[string(t)]
			if !ok {
				continue
			}
			s.Adjustments = append(s.Adjustments, Adjustment{
				Type:      t,
				Enabled:   *ad.Enabled,
				Rate:      decimal.NewFromFloat(*ad.Rate),
				MaxAmount: decimal.NewFromFloat(*ad.MaxAmount),
			})
		}
		set.byID[id] = s
		set.ids = append(set.ids, id)
	}
	sort.Strings(set.ids)
	return set, nil
}

// IDs returns strategy ids in sorted order.
func (s *StrategySet) IDs() []string {
	return append([]string(nil), s.ids...)
}

func (s *StrategySet) Get(id string) (*Strategy, bool) {
	st, ok := s.byID[id]
	return st, ok
}

// Select returns the strategy named by id. With an empty id the single enabled
// strategy is chosen; zero or several enabled strategies is an error.
func (s *StrategySet) Select(id string) (*Strategy, error) {
	if id != "" {
		st, ok := s.byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown strategy %q (have %s)", id, strings.Join(s.ids, ", "))
		}
		if !st.Enabled {
			return nil, fmt.Errorf("strategy %q is disabled", id)
		}
		return st, nil
	}
	var enabled []*Strategy
	for _, sid := range s.ids {
		if st := s.byID[sid]; st.Enabled {
			enabled = append(enabled, st)
		}
	}
	switch len(enabled) {
	case 0:
		return nil, errors.New("no enabled strategy")
	case 1:
		return enabled[0], nil
	default:
		names := make([]string, 0, len(enabled))
		for _, st := range enabled {
			names = append(names, st.ID)
		}
		return nil, fmt.Errorf("several enabled strategies (%s); choose one with STRATEGY_ID", strings.Join(names, ", "))
	}
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: unknown adjustment type %q", fe.Namespace(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
