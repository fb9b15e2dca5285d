package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mossyoak/genfetch/internal/batch"
	"github.com/mossyoak/genfetch/internal/common"
	"github.com/mossyoak/genfetch/internal/match"
	"github.com/mossyoak/genfetch/internal/model"
)

func findCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Resolve person identifiers from identifying columns",
		Long: `Resolve candidate person identifiers for every row of the input CSV by
matching its identifying columns (names, dates, places) against the tree.

The column map JSON file translates input column names to search
parameters. Up to three candidates per row are written, best first, as
pid1/score1 through pid3/score3 columns appended to the input columns.

Example:
  genfetch find --input people.csv --columns match_columns.json --output matched.csv`,
		RunE: runFind,
	}

	cmd.Flags().StringP("input", "i", "", "CSV file with identifying columns (required)")
	cmd.Flags().String("columns", "", "JSON map of input columns to search parameters (required)")
	cmd.Flags().StringP("output", "o", "", "output CSV path (required)")
	cmd.Flags().Bool("append", false, "append to an existing output file")

	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("columns")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runFind(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	input, _ := cmd.Flags().GetString("input")
	columnsFile, _ := cmd.Flags().GetString("columns")
	output, _ := cmd.Flags().GetString("output")
	appendMode, _ := cmd.Flags().GetBool("append")

	cmap, err := match.LoadColumnMap(columnsFile)
	if err != nil {
		return err
	}

	header, rows, err := batch.ReadRows(input)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return common.ErrNoIdentifiers
	}

	warn := newWarnLog()
	clients, err := newClients(ctx, 1, warn)
	if err != nil {
		return err
	}
	finder := match.NewFinder(clients[0], cmap)

	outHeader := append(append([]string{}, header...),
		"pid1", "score1", "pid2", "score2", "pid3", "score3")

	records := make([][]string, 0, len(rows))
	for i, row := range rows {
		candidates, err := finder.Best(ctx, row)
		switch {
		case err == nil:
		case errors.Is(err, common.ErrProviderFailed):
			return err
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			warn.Warn(fmt.Sprintf("Match query failed: %v", err), "find", fmt.Sprintf("row %d", i+1))
		}

		rec := make([]string, 0, len(outHeader))
		for _, h := range header {
			rec = append(rec, row[h])
		}
		for j := 0; j < match.MaxCandidates; j++ {
			if j < len(candidates) {
				rec = append(rec, candidates[j].PID, model.FormatScore(candidates[j].Score))
			} else {
				rec = append(rec, "", "")
			}
		}
		records = append(records, rec)
	}

	if err := batch.WriteRecords(output, outHeader, records, appendMode); err != nil {
		return err
	}

	common.LogInfo("Match complete", common.Fields{"rows": len(records), "output": output})
	return nil
}
