package main

import (
	"regexp"

	"github.com/spf13/cobra"

	"github.com/mossyoak/genfetch/internal/condense"
)

var deathPattern = regexp.MustCompile(`[Dd]eath`)

func deathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deaths",
		Short: "Fetch death records",
		Long: `Fetch the death records attached to (or matched against) every person
identifier in the input CSV.

Condensed output keeps only rows that carry a death date.

Examples:
  genfetch deaths --input people.csv --output deaths.csv
  genfetch deaths -i people.csv -o deaths.csv --columns death_columns.json`,
		RunE: runDeaths,
	}

	addFetchFlags(cmd, false)
	return cmd
}

func runDeaths(cmd *cobra.Command, _ []string) error {
	return runFetch(cmd, deathPattern, condense.FilterDeaths)
}
