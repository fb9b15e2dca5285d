package main

import (
	"regexp"

	"github.com/spf13/cobra"

	"github.com/mossyoak/genfetch/internal/condense"
)

var censusPattern = regexp.MustCompile(`[Cc]ensus`)

func censusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "census",
		Short: "Fetch census records",
		Long: `Fetch the census records attached to (or matched against) every person
identifier in the input CSV.

Condensed output keeps only rows whose census year is a decade year;
competing rows for the same person and year are resolved by score.

Examples:
  genfetch census --input people.csv --output census.csv
  genfetch census -i people.csv -o census.csv --columns census_columns.json
  genfetch census -i people.csv -o census.csv --workers 4 --run my-batch`,
		RunE: runCensus,
	}

	addFetchFlags(cmd, true)
	return cmd
}

func runCensus(cmd *cobra.Command, _ []string) error {
	return runFetch(cmd, censusPattern, condense.FilterCensus)
}
