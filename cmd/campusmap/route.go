package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/routing"
)

var routeCmd = &cobra.Command{
	Use:   "route FROM TO",
	Short: "Print the walking route between two places",
	Long: `
FROM and TO are campus location names, "lat,lon" pairs or "gps", which
stands for the campus entrance outside a browser session.
`,
	Args: cobra.ExactArgs(2),
	RunE: runRoute,
}

func runRoute(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	cfg, err := config.GetRoutingConfig()
	if err != nil {
		return err
	}

	resolver := routing.NewResolver(catalog)
	from, err := resolver.Resolve(args[0], geo.Position{}, false)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	to, err := resolver.Resolve(args[1], geo.Position{}, false)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	r, err := routing.New(cfg).Route(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, r.Summary())
	for i, s := range r.Steps {
		fmt.Fprintf(out, "%2d. %s (%.0f m)\n", i+1, s.Instruction, s.Distance)
	}
	if cfg.ShareURL != "" {
		link, err := routing.ShareURL(cfg.ShareURL, from, to, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, link)
	}
	return nil
}
