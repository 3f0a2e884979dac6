package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/resale-repricer/internal/pricing"
)

func newStrategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Inspect pricing strategies",
	}

	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a strategy file and list what it defines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := envOr("STRATEGY_FILE", "strategies.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			set, err := pricing.LoadStrategies(path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENABLED\tADJUSTMENTS\tMAX RATE\tNAME")
			for _, id := range set.IDs() {
				st, _ := set.Get(id)
				active := 0
				for _, a := range st.Adjustments {
					if a.Enabled {
						active++
					}
				}
				fmt.Fprintf(w, "%s\t%t\t%d/%d\t%s\t%s\n", st.ID, st.Enabled, active, len(st.Adjustments), st.TotalMaxDiscountRate.String(), st.Name)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if sel, err := set.Select(envOr("STRATEGY_ID", "")); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "selected: %s\n", sel.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "selected: none (%v)\n", err)
			}
			return nil
		},
	}

	cmd.AddCommand(validate)
	return cmd
}
