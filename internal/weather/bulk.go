package weather

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// ForecastFetcher is the single-location fetch the orchestrator fans out over.
type ForecastFetcher interface {
	FetchForecast(ctx context.Context, req ForecastRequest) (WeatherSnapshot, error)
}

// BulkItem is the outcome for one input query: either Snapshot or Err is set.
type BulkItem struct {
	Query    LocationQuery
	Snapshot *WeatherSnapshot
	Err      error
}

// OK reports whether the item was fetched successfully.
func (i BulkItem) OK() bool {
	return i.Err == nil && i.Snapshot != nil
}

// BulkFetchResult has one item per input query, in input order.
type BulkFetchResult []BulkItem

// Succeeded counts the successful items.
func (r BulkFetchResult) Succeeded() int {
	n := 0
	for _, item := range r {
		if item.OK() {
			n++
		}
	}
	return n
}

// Orchestrator fetches many locations concurrently with per-item failure isolation.
type Orchestrator struct {
	fetcher ForecastFetcher
	limit   int           // max concurrent fetches, 0 = unbounded
	timeout time.Duration // per-item bound, 0 = none
	days    int
}

// NewOrchestrator creates an Orchestrator. Queued items start in input order once a
// slot frees up.
func NewOrchestrator(fetcher ForecastFetcher, limit int, timeout time.Duration, days int) *Orchestrator {
	if days <= 0 {
		days = DefaultBulkDays
	}
	return &Orchestrator{
		fetcher: fetcher,
		limit:   limit,
		timeout: timeout,
		days:    days,
	}
}

// FetchBulk fetches every query independently. Duplicated queries yield duplicated
// items. The call never fails as a whole; failures are reported per item.
func (o *Orchestrator) FetchBulk(ctx context.Context, queries []LocationQuery, units Units) BulkFetchResult {
	results := make(BulkFetchResult, len(queries))
	if len(queries) == 0 {
		return results
	}

	start := time.Now()
	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}

	for i, q := range queries {
		results[i].Query = q
		g.Go(func() error {
			snap, err := o.fetchOne(ctx, q, units)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Snapshot = &snap
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("weather: bulk fetch of %d locations finished in %s (%d ok)",
		len(queries), time.Since(start).Round(time.Millisecond), results.Succeeded())
	return results
}

func (o *Orchestrator) fetchOne(ctx context.Context, q LocationQuery, units Units) (WeatherSnapshot, error) {
	itemCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	type outcome struct {
		snap WeatherSnapshot
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		snap, err := o.fetcher.FetchForecast(itemCtx, ForecastRequest{Query: q, Days: o.days, Units: units})
		done <- outcome{snap: snap, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return WeatherSnapshot{}, classify(out.err)
		}
		return out.snap, nil
	case <-itemCtx.Done():
		return WeatherSnapshot{}, fmt.Errorf("%w: %q did not complete: %v", ErrUpstreamUnavailable, q, itemCtx.Err())
	}
}
