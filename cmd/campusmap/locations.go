package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List the named campus locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLAT\tLNG")
		for _, l := range catalog.List() {
			fmt.Fprintf(w, "%s\t%.6f\t%.6f\n", l.DisplayName(), l.Latitude, l.Longitude)
		}
		return w.Flush()
	},
}
