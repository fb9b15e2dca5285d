// Package batch drives whole-input runs: fetching records for every person
// identifier in order, tracking progress, and persisting the resulting
// tables.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/mossyoak/genfetch/internal/common"
	"github.com/mossyoak/genfetch/internal/condense"
	"github.com/mossyoak/genfetch/internal/fetch"
	"github.com/mossyoak/genfetch/internal/model"
	"github.com/mossyoak/genfetch/internal/storage"
)

// Options configures one batch run.
type Options struct {
	// Pattern selects record types by their source titles.
	Pattern *regexp.Regexp
	// RunName keys resumable progress in the batch store. Empty disables
	// resume even when a store is present.
	RunName string
	// Mapping, when set, condenses output onto its canonical columns.
	Mapping *condense.Mapping
	// Filter is an optional post-condensation validity filter.
	Filter func(*condense.Result) *condense.Result
	// Dedup resolves competing subject rows per (person, year) before
	// condensing.
	Dedup bool
	// OutputPath, when set, is where the final table is written.
	OutputPath string
	// SaveUncondensed also writes the raw table beside a condensed output.
	SaveUncondensed bool
	// Append appends to existing output files instead of replacing them.
	Append bool
	// ShowProgress renders a progress bar on stderr.
	ShowProgress bool
}

// Driver orchestrates a batch. Exactly one of Fetcher or Pool must be set;
// Store and Warn are optional.
type Driver struct {
	Fetcher *fetch.Fetcher
	Pool    *fetch.Pool
	Store   *storage.BatchStore
	Warn    *common.WarnLog
}

// Run fetches records for every identifier, preserving input order in the
// output, and persists results per Options. The returned table is the raw
// (uncondensed) data.
func (d *Driver) Run(ctx context.Context, pids []string, opts Options) (model.Table, error) {
	if len(pids) == 0 {
		return model.Table{}, common.ErrNoIdentifiers
	}
	if opts.Pattern == nil {
		return model.Table{}, fmt.Errorf("%w: record pattern is required", common.ErrInvalidConfig)
	}

	done, runID, err := d.loadCompleted(ctx, opts)
	if err != nil {
		return model.Table{}, err
	}
	if len(done) > 0 {
		slog.Info("Resuming batch", "run", opts.RunName, "already_fetched", len(done))
	}

	var pending []string
	for _, pid := range pids {
		if _, ok := done[pid]; !ok {
			pending = append(pending, pid)
		}
	}

	bar := d.newProgressBar(len(pending), opts.ShowProgress)

	var mu sync.Mutex
	record := func(pid string, rows []model.Row) {
		mu.Lock()
		done[pid] = rows
		mu.Unlock()

		if d.Store != nil && runID != 0 {
			if err := d.Store.SaveResult(ctx, runID, pid, rows); err != nil {
				common.LogError(err, "Failed to checkpoint result", common.Fields{"pid": pid})
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if d.Pool != nil {
		_, err = d.Pool.Records(ctx, pending, opts.Pattern, record)
		if err != nil {
			return model.Table{}, err
		}
	} else {
		for _, pid := range pending {
			slog.Info("Working on person", "pid", pid)
			table, err := d.Fetcher.RecordsForPerson(ctx, pid, opts.Pattern)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return model.Table{}, err
			case errors.Is(err, common.ErrProviderFailed):
				return model.Table{}, err
			default:
				d.Warn.Warn(fmt.Sprintf("Fetching records failed: %v", err), "records for person", pid)
				table = model.Table{}
			}
			record(pid, table.Rows)
		}
	}

	var table model.Table
	for _, pid := range pids {
		table.Append(done[pid]...)
	}

	if err := d.persist(table, opts); err != nil {
		return table, err
	}
	return table, nil
}

func (d *Driver) loadCompleted(ctx context.Context, opts Options) (map[string][]model.Row, int64, error) {
	done := make(map[string][]model.Row)
	if d.Store == nil || opts.RunName == "" {
		return done, 0, nil
	}

	runID, err := d.Store.StartRun(ctx, opts.RunName, opts.Pattern.String())
	if err != nil {
		return nil, 0, err
	}
	done, err = d.Store.CompletedResults(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	return done, runID, nil
}

func (d *Driver) newProgressBar(total int, show bool) *progressbar.ProgressBar {
	if !show || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Fetching records..."),
	)
}

// persist writes the run's output files. When condensing, the raw table
// can be kept in a side file; dedup applies to the raw table before
// condensation.
func (d *Driver) persist(table model.Table, opts Options) error {
	if opts.OutputPath == "" {
		return nil
	}

	if opts.Mapping == nil {
		if opts.Dedup {
			table = condense.Dedup(table)
		}
		return WriteTable(opts.OutputPath, table, opts.Append)
	}

	if opts.SaveUncondensed {
		side := UncondensedPath(opts.OutputPath)
		if err := WriteTable(side, table, opts.Append); err != nil {
			return err
		}
		slog.Info("Saved uncondensed data", "path", side)
	}

	if opts.Dedup {
		table = condense.Dedup(table)
	}
	res := condense.Condense(table, opts.Mapping)
	if opts.Filter != nil {
		res = opts.Filter(res)
	}
	return WriteResult(opts.OutputPath, res, opts.Append)
}
