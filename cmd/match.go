package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/resale-repricer/internal/config"
	"github.com/example/resale-repricer/internal/sizes"
)

func newMatchCmd(g *globalFlags) *cobra.Command {
	var (
		brand    string
		size     string
		htmlFile string
		tabs     []string
		profiles string
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match a size against a saved size sheet or a table given on the command line",
		Example: `  repricer match --brand ASICS --size 245 --html sheet.html
  repricer match --brand Nike --size 270 --tab "US Men=8,8.5,9" --tab "JP=26.5,27,27.5"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := g.logger()
			if err != nil {
				return err
			}
			table, err := matchTable(htmlFile, tabs)
			if err != nil {
				return err
			}
			m, err := loadMatcher(config.Config{ProfilesFile: profiles}, log)
			if err != nil {
				return err
			}
			res, err := m.Match(brand, size, table)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s (row %d, %s)\n", res.Tab, res.Label, res.Index, res.Tier)
			if res.Converted {
				fmt.Fprintf(out, "converted %s -> %s\n", res.Target, res.Normalized)
			}
			if res.Conflict {
				fmt.Fprintln(out, "warning: matched only the unconverted size")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&brand, "brand", "", "brand whose profile applies")
	cmd.Flags().StringVar(&size, "size", "", "size to find")
	cmd.Flags().StringVar(&htmlFile, "html", "", "saved size sheet markup")
	cmd.Flags().StringArrayVar(&tabs, "tab", nil, `tab and its labels as "Tab=a,b,c" (repeatable)`)
	cmd.Flags().StringVar(&profiles, "profiles", "", "brand profile file (defaults to the built-in profiles)")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func matchTable(htmlFile string, tabs []string) (sizes.Table, error) {
	switch {
	case htmlFile != "" && len(tabs) > 0:
		return nil, errors.New("--html and --tab are exclusive")
	case htmlFile != "":
		f, err := os.Open(htmlFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return sizes.ParseHTML(f)
	case len(tabs) > 0:
		table := sizes.Table{}
		for _, t := range tabs {
			name, labels, ok := strings.Cut(t, "=")
			if !ok || strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("invalid --tab %q", t)
			}
			for _, l := range strings.Split(labels, ",") {
				if l = strings.TrimSpace(l); l != "" {
					table[strings.TrimSpace(name)] = append(table[strings.TrimSpace(name)], l)
				}
			}
		}
		return table, nil
	}
	return nil, errors.New("one of --html or --tab is required")
}
