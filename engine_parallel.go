package stitcher

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/jward/stitcher/internal/lang"
)

// parseParallel runs phase B on a bounded worker pool. Adapters are
// stateless across files, so each job parses independently; results land in
// a slot per job so phase C commits in discovery order.
//
// Parse failures are collected per slot and folded into stats afterwards,
// keeping the outcome identical to parseSerial.
func (e *Engine) parseParallel(ctx context.Context, jobs []parseJob, stats *IndexStats) []*lang.Result {
	results := make([]*lang.Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	errs := make([]error, len(jobs))

	workers := e.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := e.parseOne(gctx, job)
			results[i], errs[i] = res, err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		e.logger.Warn("index.parse_failed", "path", jobs[i].path, "err", err)
		stats.fail(jobs[i].path, err)
	}
	return results
}
