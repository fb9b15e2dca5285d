package main

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/mossyoak/genfetch/internal/batch"
	"github.com/mossyoak/genfetch/internal/common"
	"github.com/mossyoak/genfetch/internal/condense"
	"github.com/mossyoak/genfetch/internal/fetch"
)

// addFetchFlags registers the flags shared by the record-fetching commands.
func addFetchFlags(cmd *cobra.Command, dedupDefault bool) {
	cmd.Flags().StringP("input", "i", "", "CSV file with person identifiers (required)")
	cmd.Flags().String("pid-column", "PID", "input column holding the person identifiers")
	cmd.Flags().StringP("output", "o", "", "output CSV path (required)")
	cmd.Flags().String("columns", "", "JSON column map; when set, output is condensed onto its columns")
	cmd.Flags().Bool("save-uncondensed", false, "also write the raw table beside a condensed output")
	cmd.Flags().Bool("append", false, "append to existing output files instead of replacing them")
	cmd.Flags().Bool("dedup", dedupDefault, "resolve competing rows per person and year by score")
	cmd.Flags().IntP("workers", "w", 1, "concurrent fetchers, each with its own API token")
	cmd.Flags().String("run", "", "named resumable run; progress is checkpointed per person")
	cmd.Flags().String("db", "", "batch database path (default: $HOME/.local/share/genfetch/genfetch.db)")
	cmd.Flags().Bool("progress", true, "show a progress bar")

	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
}

// runFetch is the body of the census and deaths commands: read identifiers,
// build the fetching stack, and drive the batch.
func runFetch(cmd *cobra.Command, pattern *regexp.Regexp, filter func(*condense.Result) *condense.Result) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	input, _ := flags.GetString("input")
	pidColumn, _ := flags.GetString("pid-column")
	output, _ := flags.GetString("output")
	columnsFile, _ := flags.GetString("columns")
	saveUncondensed, _ := flags.GetBool("save-uncondensed")
	appendMode, _ := flags.GetBool("append")
	dedup, _ := flags.GetBool("dedup")
	workers, _ := flags.GetInt("workers")
	runName, _ := flags.GetString("run")
	dbPath, _ := flags.GetString("db")
	progress, _ := flags.GetBool("progress")

	pids, err := batch.ReadColumn(input, pidColumn)
	if err != nil {
		return fmt.Errorf("failed to read identifiers from %s: %w", input, err)
	}
	slog.Info("Loaded person identifiers", "count", len(pids), "input", input)

	var mapping *condense.Mapping
	if columnsFile != "" {
		mapping, err = condense.LoadMapping(columnsFile)
		if err != nil {
			return err
		}
	}

	warn := newWarnLog()
	fetchers, err := newFetchers(ctx, workers, warn)
	if err != nil {
		return err
	}

	driver := &batch.Driver{Warn: warn}
	if len(fetchers) == 1 {
		driver.Fetcher = fetchers[0]
	} else {
		driver.Pool, err = fetch.NewPool(fetchers, warn)
		if err != nil {
			return err
		}
	}

	if runName != "" {
		store, err := openBatchStore(dbPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				slog.Error("Failed to close batch database", "error", closeErr)
			}
		}()
		driver.Store = store
	}

	opts := batch.Options{
		Pattern:         pattern,
		RunName:         runName,
		Mapping:         mapping,
		Dedup:           dedup,
		OutputPath:      output,
		SaveUncondensed: saveUncondensed,
		Append:          appendMode,
		ShowProgress:    progress,
	}
	if mapping != nil {
		opts.Filter = filter
	}

	table, err := driver.Run(ctx, pids, opts)
	if err != nil {
		return err
	}

	common.LogInfo("Batch complete", common.Fields{
		"persons": len(pids),
		"rows":    table.Len(),
		"output":  output,
	})
	return nil
}
