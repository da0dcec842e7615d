package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/calcops/internal/batch"
	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/source"
	"github.com/seantiz/calcops/internal/store"
)

const (
	// DefaultConcurrency is the number of concurrent lookups when a run does
	// not ask for a specific value.
	DefaultConcurrency = 4

	// DefaultItemTimeout bounds a single listing lookup.
	DefaultItemTimeout = 10 * time.Second
)

// Options configures a Refresher. Zero values fall back to the defaults.
type Options struct {
	Concurrency int
	ItemTimeout time.Duration
}

// Refresher re-fetches watch items from their sources and records the
// outcome of every batch as a refresh run.
type Refresher struct {
	store   store.Store
	sources *source.Registry
	logger  *slog.Logger
	opts    Options
	wg      sync.WaitGroup
	broker  *ProgressBroker
}

// NewRefresher creates a Refresher.
func NewRefresher(s store.Store, reg *source.Registry, logger *slog.Logger, opts Options) *Refresher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = DefaultItemTimeout
	}
	return &Refresher{
		store:   s,
		sources: reg,
		logger:  logger,
		opts:    opts,
		broker:  NewProgressBroker(),
	}
}

// Broker returns the progress broker for SSE subscription.
func (r *Refresher) Broker() *ProgressBroker {
	return r.broker
}

// NewRun builds a pending run. An empty userID covers every user. A
// non-positive concurrency selects the configured default, and the result is
// capped by the strictest registered source limit. A run fans out over one
// batch that may mix sources, so the cap applies to the whole batch even when
// the run's items all belong to a more permissive source.
func (r *Refresher) NewRun(userID, trigger, mode string, concurrency int) *model.RefreshRun {
	if mode == "" {
		mode = model.ModeCollect
	}
	if concurrency <= 0 {
		concurrency = r.opts.Concurrency
	}
	if limit := r.sources.MaxConcurrency(); limit > 0 && concurrency > limit {
		concurrency = limit
	}
	return &model.RefreshRun{
		ID:          model.NewID(),
		UserID:      userID,
		Trigger:     trigger,
		Mode:        mode,
		Status:      model.RunPending,
		Concurrency: concurrency,
		CreatedAt:   time.Now().UTC(),
	}
}

// Refresh stores the run and executes it synchronously, returning the
// finished run as persisted. Cancelling ctx stops lookups that have not
// started yet. Outcomes already known are still persisted and the run fails
// as interrupted.
func (r *Refresher) Refresh(ctx context.Context, run *model.RefreshRun) (*model.RefreshRun, error) {
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	r.broker.Open(run.ID)

	r.execute(ctx, run)

	finished, err := r.store.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return finished, nil
}

// Submit stores the run with status "pending" and executes it in a
// goroutine. The goroutine operates on a copy of the run and is detached
// from ctx cancellation.
func (r *Refresher) Submit(ctx context.Context, run *model.RefreshRun) error {
	if err := r.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	// The feed exists before Submit returns so a client may subscribe as
	// soon as it learns the run ID.
	r.broker.Open(run.ID)

	runCopy := *run
	bg := context.WithoutCancel(ctx)
	r.wg.Go(func() {
		r.execute(bg, &runCopy)
	})

	return nil
}

// Wait blocks until all submitted runs complete.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

// Summary renders the human-readable outcome of a finished run.
func Summary(run *model.RefreshRun) string {
	if run.Status == model.RunFailed && run.Succeeded == 0 && run.Error != "" {
		return fmt.Sprintf("refresh failed: %s", run.Error)
	}
	return fmt.Sprintf("%d of %d refreshed", run.Succeeded, run.Total)
}

// execute runs the lifecycle pending→running→completed/failed.
func (r *Refresher) execute(ctx context.Context, run *model.RefreshRun) {
	defer r.broker.Close(run.ID)

	// Persistence must outlive a cancelled caller.
	pctx := context.WithoutCancel(ctx)
	logger := r.logger.With("run_id", run.ID, "trigger", run.Trigger, "mode", run.Mode)

	if err := r.store.UpdateRunStatus(pctx, run.ID, model.RunRunning); err != nil {
		logger.Error("failed to transition to running", "error", err)
		r.finish(pctx, run, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}
	start := time.Now().UTC()

	items, err := r.store.RefreshableItems(pctx, run.UserID)
	if err != nil {
		r.finish(pctx, run, &start, fmt.Sprintf("load items: %v", err))
		return
	}
	run.Total = len(items)
	logger.Info("refresh started", "items", run.Total, "concurrency", run.Concurrency)

	worker := r.lookupWorker(run.ID)

	if run.Mode == model.ModeFailFast {
		listings, err := batch.RunFailFast(ctx, items, run.Concurrency, worker)
		if err != nil {
			run.Failed = 1
			var ie *batch.ItemError
			if errors.As(err, &ie) {
				err = fmt.Errorf("listing %s: %w", items[ie.Index].ListingID, ie.Err)
			}
			r.finish(pctx, run, &start, err.Error())
			return
		}
		now := time.Now().UTC()
		for i, l := range listings {
			r.persist(pctx, run, items[i], batch.Result[model.Listing]{Value: l}, now)
		}
	} else {
		results := batch.Run(ctx, items, run.Concurrency, worker)
		now := time.Now().UTC()
		var cut int
		for i, res := range results {
			if interrupted(ctx, res.Err) {
				// The item was never looked up or its lookup was aborted
				// by shutdown, so its last known state stays untouched.
				run.Failed++
				cut++
				continue
			}
			r.persist(pctx, run, items[i], res, now)
		}
		if cut > 0 {
			logger.Warn("refresh interrupted", "skipped", cut, "error", ctx.Err())
			r.finish(pctx, run, &start, fmt.Sprintf("interrupted: %v", ctx.Err()))
			return
		}
	}

	r.finish(pctx, run, &start, "")
}

// interrupted reports whether err is the cancellation of the run's own
// context rather than a failure of the lookup.
func interrupted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// persist writes one lookup outcome to the item and updates the run counters.
func (r *Refresher) persist(ctx context.Context, run *model.RefreshRun, item *model.WatchItem, res batch.Result[model.Listing], at time.Time) {
	if res.Err != nil {
		run.Failed++
		if err := r.store.RecordRefreshError(ctx, item.ID, res.Err.Error(), at); err != nil {
			r.logger.Error("failed to record refresh error", "run_id", run.ID, "item_id", item.ID, "error", err)
		}
		return
	}

	if err := r.store.ApplyListing(ctx, item.ID, res.Value, at); err != nil {
		run.Failed++
		r.logger.Error("failed to apply listing", "run_id", run.ID, "item_id", item.ID, "error", err)
		return
	}
	run.Succeeded++
}

// finish marks the run terminal. A non-empty errMsg fails the run.
// startedAt may be nil if execution never started.
func (r *Refresher) finish(ctx context.Context, run *model.RefreshRun, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(now.Sub(*startedAt).Milliseconds())
	}

	run.Status = model.RunCompleted
	run.Error = errMsg
	if errMsg != "" {
		run.Status = model.RunFailed
	}
	run.DurationMS = &durationMS
	run.StartedAt = startedAt
	run.FinishedAt = &now

	if err := r.store.FinishRun(ctx, run); err != nil {
		r.logger.Error("failed to finish run", "run_id", run.ID, "error", err)
	}

	runsTotal.WithLabelValues(run.Trigger, run.Status).Inc()
	runDuration.WithLabelValues(run.Mode).Observe(float64(durationMS) / 1000)

	r.logger.Info("refresh finished",
		"run_id", run.ID,
		"status", run.Status,
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"total", run.Total,
		"duration_ms", durationMS,
	)
}

// lookupWorker returns the batch worker that resolves an item's source,
// looks the listing up under the per-item timeout and publishes progress.
func (r *Refresher) lookupWorker(runID string) batch.Worker[*model.WatchItem, model.Listing] {
	return func(ctx context.Context, item *model.WatchItem, index int) (model.Listing, error) {
		inFlightLookups.Inc()
		defer inFlightLookups.Dec()

		l, err := r.lookup(ctx, item)

		o := model.ItemOutcome{
			Index:     index,
			ItemID:    item.ID,
			ListingID: item.ListingID,
			OK:        err == nil,
		}
		outcome := itemSucceeded
		if err != nil {
			o.Error = err.Error()
			outcome = itemFailed
		}
		itemsTotal.WithLabelValues(item.Source, outcome).Inc()
		r.broker.Publish(runID, o)

		return l, err
	}
}

func (r *Refresher) lookup(ctx context.Context, item *model.WatchItem) (model.Listing, error) {
	src, err := r.sources.Resolve(item.Source)
	if err != nil {
		return model.Listing{}, err
	}

	lctx, cancel := context.WithTimeout(ctx, r.opts.ItemTimeout)
	defer cancel()

	l, err := src.Lookup(lctx, item.ListingID)
	if err != nil {
		if ctx.Err() == nil && errors.Is(lctx.Err(), context.DeadlineExceeded) {
			return model.Listing{}, fmt.Errorf("lookup timed out after %s", r.opts.ItemTimeout)
		}
		return model.Listing{}, err
	}
	return l, nil
}
