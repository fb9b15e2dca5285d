package fetch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/mossyoak/genfetch/internal/common"
	"github.com/mossyoak/genfetch/internal/model"
)

// Pool runs per-person fetches across a bounded set of workers, each with
// its own fetcher and therefore its own token. Workers consume a shared
// queue rather than fixed chunks, so a slow person does not strand a
// worker's whole share. Results land in indexed slots: output order always
// equals input order.
type Pool struct {
	fetchers []*Fetcher
	warn     *common.WarnLog
}

// NewPool creates a worker pool with one worker per fetcher.
func NewPool(fetchers []*Fetcher, warn *common.WarnLog) (*Pool, error) {
	if len(fetchers) == 0 {
		return nil, fmt.Errorf("fetch: pool needs at least one fetcher")
	}
	return &Pool{fetchers: fetchers, warn: warn}, nil
}

// Records fetches matching records for every person identifier. A failure
// on one identifier is logged and contributes an empty result; only
// cancellation and token provider failures abort the pool. onDone, if
// non-nil, is called with each identifier's rows as it completes; calls
// may come from any worker but never concurrently for the same pid.
func (p *Pool) Records(ctx context.Context, pids []string, pattern *regexp.Regexp, onDone func(pid string, rows []model.Row)) (model.Table, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	results := make([]model.Table, len(pids))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for w := range p.fetchers {
		wg.Add(1)
		go func(f *Fetcher) {
			defer wg.Done()
			for idx := range jobs {
				pid := pids[idx]
				table, err := f.RecordsForPerson(ctx, pid, pattern)
				switch {
				case err == nil:
				case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
					return
				case errors.Is(err, common.ErrProviderFailed):
					fail(err)
					return
				default:
					p.warn.Warn(fmt.Sprintf("Fetching records failed: %v", err), "records for person", pid)
					table = model.Table{}
				}
				results[idx] = table
				if onDone != nil {
					onDone(pid, table.Rows)
				}
			}
		}(p.fetchers[w])
	}

feed:
	for idx := range pids {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return model.Table{}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return model.Table{}, err
	}

	var out model.Table
	for _, t := range results {
		out.Append(t.Rows...)
	}
	return out, nil
}
