package runtime

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nsls2/srx-export/types"
)

// DefaultParallel is the default number of concurrent runs.
const DefaultParallel = 4

// BatchSummary aggregates a batch of runs.
type BatchSummary struct {
	Results   []*Result
	Succeeded int
	Failed    int
}

// Batch runs the workflow for every stop document with at most parallel
// runs in flight. A failing run does not cancel its siblings; cancelling
// ctx does, and each cancelled run still sends its failure notification.
// Results are returned in input order.
func (w *Workflow) Batch(ctx context.Context, stops []*types.StopDoc, parallel int) *BatchSummary {
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	results := make([]*Result, len(stops))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, stop := range stops {
		g.Go(func() error {
			results[i] = w.Execute(ctx, stop)
			return nil
		})
	}
	_ = g.Wait()

	summary := &BatchSummary{Results: results}
	for _, r := range results {
		if r.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// Worker executes runs delivered one at a time (for example by a pub/sub
// subscription) with bounded concurrency.
type Worker struct {
	workflow *Workflow
	group    errgroup.Group

	mu      sync.Mutex
	results []*Result
	keep    bool
}

// NewWorker creates a Worker running at most parallel runs at once.
// When keepResults is set, results accumulate and are returned by Wait.
func NewWorker(w *Workflow, parallel int, keepResults bool) *Worker {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	wk := &Worker{workflow: w, keep: keepResults}
	wk.group.SetLimit(parallel)
	return wk
}

// Handle schedules stop and returns once a slot is free. The run itself
// continues in the background, detached from ctx cancellation so shutdown
// drains in-flight runs; its error is reported through the notifier.
func (wk *Worker) Handle(ctx context.Context, stop *types.StopDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	wk.group.Go(func() error {
		r := wk.workflow.Execute(runCtx, stop)
		if wk.keep {
			wk.mu.Lock()
			wk.results = append(wk.results, r)
			wk.mu.Unlock()
		}
		return nil
	})
	return nil
}

// Wait blocks until every scheduled run has finished.
func (wk *Worker) Wait() []*Result {
	_ = wk.group.Wait()
	wk.mu.Lock()
	defer wk.mu.Unlock()
	return wk.results
}
