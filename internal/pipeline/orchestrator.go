// Package pipeline drives fetched items through download, OCR, narration and
// composition with a bounded number of items in flight.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/fsutil"
)

const jobDirPrefix = "job-"

// itemResult is the terminal outcome an item goroutine reports to the dispatcher.
type itemResult struct {
	index int
	entry core.Entry
}

// Orchestrator runs jobs. It is safe to run several jobs concurrently, each with
// its own budget.
type Orchestrator struct {
	stages Stages
	opts   Options
	log    *logger.Logger
}

// New creates an orchestrator.
func New(stages Stages, opts Options, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		stages: stages,
		opts:   opts.withDefaults(),
		log:    log,
	}
}

// JobDir returns the scratch directory used by jobID.
func (o *Orchestrator) JobDir(jobID string) string {
	return filepath.Join(o.opts.ScratchRoot, jobDirPrefix+fsutil.SanitizeName(jobID))
}

// Run fetches the items for query and drives each one to a terminal state. The
// returned manifest has exactly one entry per fetched item, in fetch order. The only
// error returned is a source failure, which leaves no manifest.
func (o *Orchestrator) Run(ctx context.Context, jobID string, query core.Query) (*core.Manifest, error) {
	o.log.Info("[JOB %s] Fetching r/%s (window=%s, limit=%d)", jobID, query.Category, query.Window, query.Limit)

	items, err := o.stages.Fetcher.Fetch(ctx, query)
	if err != nil {
		if core.KindOf(err) != core.KindSourceUnavailable {
			err = fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err)
		}

		o.log.Error("[JOB %s] Source unavailable: %v", jobID, err)

		return nil, err
	}

	manifest := core.NewManifest(jobID, items)
	if len(items) == 0 {
		o.log.Warn("[JOB %s] No items to process", jobID)

		return manifest, nil
	}

	jobDir := o.JobDir(jobID)

	err = fsutil.EnsureDir(jobDir)
	if err != nil {
		o.log.Error("[JOB %s] Cannot create scratch directory: %v", jobID, err)

		for index := range items {
			o.record(jobID, jobDir, manifest, index, failedEntry(core.StatePending,
				fmt.Errorf("%w: scratch: %w", core.ErrDownloadFailed, err)))
		}

		return manifest, nil
	}

	defer func() {
		removeErr := os.RemoveAll(jobDir)
		if removeErr != nil {
			o.log.Error("[JOB %s] Failed to remove scratch directory %s: %v", jobID, jobDir, removeErr)
		}
	}()

	o.dispatch(ctx, jobID, jobDir, items, manifest)

	o.log.Info("[JOB %s] Finished: %s", jobID, manifest.Summary())

	return manifest, nil
}

// dispatch owns the in-flight counter. A slot frees only when an item's terminal
// result arrives; after cancellation nothing new is started.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	jobID, jobDir string,
	items []core.SourceItem,
	manifest *core.Manifest,
) {
	results := make(chan itemResult, o.opts.Concurrency)
	next := 0
	inFlight := 0

	for next < len(items) || inFlight > 0 {
		for inFlight < o.opts.Concurrency && next < len(items) && ctx.Err() == nil {
			go o.runItem(ctx, jobID, jobDir, next, items[next], results)

			next++
			inFlight++
		}

		if inFlight == 0 {
			break
		}

		result := <-results
		inFlight--

		o.record(jobID, jobDir, manifest, result.index, result.entry)
	}

	for ; next < len(items); next++ {
		o.record(jobID, jobDir, manifest, next, failedEntry(core.StatePending,
			fmt.Errorf("%w: %w", core.ErrCancelled, context.Cause(ctx))))
	}
}

// record stores the terminal entry and removes the item's scratch directory.
func (o *Orchestrator) record(jobID, jobDir string, manifest *core.Manifest, index int, entry core.Entry) {
	itemID := manifest.Entries[index].ItemID

	err := manifest.Record(index, entry)
	if err != nil {
		o.log.Error("[JOB %s] [ITEM %s] %v", jobID, itemID, err)

		return
	}

	removeErr := os.RemoveAll(fsutil.ItemDir(jobDir, itemID))
	if removeErr != nil {
		o.log.Warn("[JOB %s] [ITEM %s] Failed to remove scratch files: %v", jobID, itemID, removeErr)
	}

	switch entry.Status {
	case core.StatusSucceeded:
		o.log.Info("[JOB %s] [ITEM %s] done: %s", jobID, itemID, entry.Video.Path)
	case core.StatusSkipped:
		o.log.Info("[JOB %s] [ITEM %s] skipped: %s", jobID, itemID, entry.Detail)
	case core.StatusFailed:
		o.log.Warn("[JOB %s] [ITEM %s] failed in %s (%s): %s", jobID, itemID, entry.Stage, entry.Kind, entry.Detail)
	}
}

// stageKinds classifies errors a stage returns without one of the core sentinels.
var stageKinds = map[core.State]core.Kind{
	core.StatePending:      core.KindCancelled,
	core.StateDownloading:  core.KindDownloadFailed,
	core.StateExtracting:   core.KindExtractionFailed,
	core.StateSynthesizing: core.KindSynthesisUnavailable,
	core.StateComposing:    core.KindCompositionFailed,
}

func failedEntry(stage core.State, err error) core.Entry {
	kind := core.KindOf(err)
	if kind == core.KindNone {
		kind = stageKinds[stage]
	}

	return core.Entry{
		Status: core.StatusFailed,
		Stage:  stage,
		Kind:   kind,
		Detail: err.Error(),
	}
}
