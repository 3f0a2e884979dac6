package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/resale-repricer/internal/pricing"
)

func newQuoteCmd() *cobra.Command {
	var (
		floor    int64
		step     int64
		unit     int64
		file     string
		strategy string
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Show the price a run would submit for a floor price",
		RunE: func(cmd *cobra.Command, args []string) error {
			var strat *pricing.Strategy
			if file != "" {
				s, err := loadStrategy(file, strategy)
				if err != nil {
					return err
				}
				strat = s
			}
			q, err := pricing.Engine{Unit: unit}.ComputePrice(floor, step, strat)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "floor\t%d\n", q.Floor)
			fmt.Fprintf(w, "price\t%d\n", q.Price)
			if q.StrategyID != "" {
				fmt.Fprintf(w, "strategy\t%s\n", q.StrategyID)
			}
			for _, d := range q.Discounts {
				capped := ""
				if d.Capped {
					capped = " (capped)"
				}
				fmt.Fprintf(w, "  %s\t%s @ %s%s\n", d.Type, d.Amount.StringFixed(0), d.Rate.String(), capped)
			}
			if len(q.Discounts) > 0 {
				fmt.Fprintf(w, "discount\t%s\n", q.TotalDiscount.StringFixed(0))
				fmt.Fprintf(w, "ratio\t%s\n", q.Ratio.StringFixed(4))
			}
			fmt.Fprintf(w, "payout\t%s\n", q.Payout.StringFixed(0))
			return w.Flush()
		},
	}

	cmd.Flags().Int64Var(&floor, "floor", 0, "current lowest ask")
	cmd.Flags().Int64Var(&step, "step", 1000, "undercut amount")
	cmd.Flags().Int64Var(&unit, "unit", 100, "price rounding unit")
	cmd.Flags().StringVar(&file, "strategies", "", "strategy file; without it no adjustments apply")
	cmd.Flags().StringVar(&strategy, "strategy", "", "strategy id")
	_ = cmd.MarkFlagRequired("floor")
	return cmd
}
