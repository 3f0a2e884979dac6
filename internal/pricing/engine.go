// Package pricing computes the next competitive price under a stack of capped
// discount adjustments. ComputePrice is pure: it reads nothing but its
// arguments and the engine's unit.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/example/resale-repricer/internal/internaltypes"
)

var ratioTolerance = decimal.New(1, -9)

// Engine rounds candidate prices down to a multiple of Unit (1 when unset).
type Engine struct {
	Unit int64
}

type AppliedDiscount struct {
	Type   AdjustmentType
	Rate   decimal.Decimal
	Amount decimal.Decimal
	Capped bool
}

type Quote struct {
	StrategyID    string
	Floor         int64
	Step          int64
	Price         int64
	Discounts     []AppliedDiscount
	TotalDiscount decimal.Decimal
	Ratio         decimal.Decimal
	Payout        decimal.Decimal
}

// ComputePrice undercuts floor by step and checks the enabled adjustments of
// strategy against its total cap at that price. A nil or disabled strategy
// applies no adjustments.
func (e Engine) ComputePrice(floor, step int64, strategy *Strategy) (Quote, error) {
	if floor < 0 || step < 0 {
		return Quote{}, &internaltypes.PriceConstraintError{Floor: floor, Detail: "negative floor or step"}
	}
	unit := e.Unit
	if unit <= 0 {
		unit = 1
	}

	candidate := floor - step
	if candidate < 0 {
		candidate = 0
	}
	candidate -= candidate % unit
	if candidate == 0 {
		return Quote{}, &internaltypes.PriceConstraintError{Floor: floor, Candidate: 0, Detail: "candidate price is zero"}
	}

	q := Quote{Floor: floor, Step: step, Price: candidate}
	price := decimal.NewFromInt(candidate)
	if strategy != nil {
		q.StrategyID = strategy.ID
	}

	if strategy != nil && strategy.Enabled {
		for _, adj := range strategy.Adjustments {
			if !adj.Enabled {
				continue
			}
			raw := adj.Rate.Mul(price)
			amount := decimal.Min(raw, adj.MaxAmount)
			q.Discounts = append(q.Discounts, AppliedDiscount{
				Type:   adj.Type,
				Rate:   adj.Rate,
				Amount: amount,
				Capped: amount.LessThan(raw),
			})
			q.TotalDiscount = q.TotalDiscount.Add(amount)
		}
		q.Ratio = q.TotalDiscount.Div(price)
		if q.Ratio.GreaterThan(strategy.TotalMaxDiscountRate.Add(ratioTolerance)) {
			return Quote{}, &internaltypes.PriceConstraintError{
				Floor:     floor,
				Candidate: candidate,
				Ratio:     q.Ratio.StringFixed(4),
				Cap:       strategy.TotalMaxDiscountRate.String(),
			}
		}
	}

	q.Payout = price.Sub(q.TotalDiscount)
	return q, nil
}
