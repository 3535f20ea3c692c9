package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/reel-service/internal/core"
)

// itemRun walks one item through the state machine. Stage calls get a context
// detached from job cancellation so a stage never stops half-way; cancellation is
// observed between stages and during backoff waits.
type itemRun struct {
	o        *Orchestrator
	jobCtx   context.Context
	stageCtx context.Context
	jobID    string
	jobDir   string
	item     core.SourceItem
	state    core.State
}

func (o *Orchestrator) runItem(
	ctx context.Context,
	jobID, jobDir string,
	index int,
	item core.SourceItem,
	results chan<- itemResult,
) {
	run := &itemRun{
		o:        o,
		jobCtx:   ctx,
		stageCtx: context.WithoutCancel(ctx),
		jobID:    jobID,
		jobDir:   jobDir,
		item:     item,
		state:    core.StatePending,
	}

	results <- itemResult{index: index, entry: run.execute()}
}

func (r *itemRun) execute() core.Entry {
	r.advance(core.StateDownloading)

	asset, err := r.o.stages.Downloader.Download(r.stageCtx, r.jobDir, r.item)
	if err != nil {
		return r.fail(err)
	}

	asset.JobID = r.jobID

	if cancelled, entry := r.checkCancelled(); cancelled {
		return entry
	}

	r.advance(core.StateExtracting)

	text, err := r.extract(asset)
	if err != nil {
		return r.fail(err)
	}

	if cancelled, entry := r.checkCancelled(); cancelled {
		return entry
	}

	if strings.TrimSpace(text.Text) == "" {
		r.advance(core.StateSkipped)

		return core.Entry{Status: core.StatusSkipped, Detail: core.SkipReasonNoText}
	}

	r.advance(core.StateSynthesizing)

	clip, err := r.synthesize(text)
	if err != nil {
		return r.fail(err)
	}

	if cancelled, entry := r.checkCancelled(); cancelled {
		return entry
	}

	r.advance(core.StateComposing)

	video, err := r.compose(asset, clip)
	if err != nil {
		return r.fail(err)
	}

	r.advance(core.StateDone)

	return core.Entry{Status: core.StatusSucceeded, Video: &video}
}

// advance moves to the next state. The transition table rejects moves the state
// machine does not allow; that is a bug in this package, so it is only logged.
func (r *itemRun) advance(to core.State) {
	if !core.CanTransition(r.state, to) {
		r.o.log.Error("[JOB %s] [ITEM %s] invalid transition %s -> %s", r.jobID, r.item.ID, r.state, to)
	}

	r.state = to
}

func (r *itemRun) fail(err error) core.Entry {
	stage := r.state
	r.advance(core.StateFailed)

	return failedEntry(stage, err)
}

func (r *itemRun) checkCancelled() (bool, core.Entry) {
	if r.jobCtx.Err() == nil {
		return false, core.Entry{}
	}

	return true, r.fail(fmt.Errorf("%w: %w", core.ErrCancelled, context.Cause(r.jobCtx)))
}

func (r *itemRun) extract(asset core.LocalAsset) (core.ExtractedText, error) {
	var (
		text core.ExtractedText
		err  error
	)

	for attempt := 1; attempt <= r.o.opts.ExtractionAttempts; attempt++ {
		text, err = r.o.stages.Extractor.Extract(r.stageCtx, asset)
		if err == nil {
			return text, nil
		}

		if attempt < r.o.opts.ExtractionAttempts {
			if r.jobCtx.Err() != nil {
				return core.ExtractedText{}, fmt.Errorf("%w: %w", core.ErrCancelled, context.Cause(r.jobCtx))
			}

			r.o.log.Warn("[JOB %s] [ITEM %s] Extraction attempt %d failed, retrying: %v",
				r.jobID, r.item.ID, attempt, err)
		}
	}

	return core.ExtractedText{}, err
}

func (r *itemRun) synthesize(text core.ExtractedText) (core.NarrationClip, error) {
	delays := backoff{initial: r.o.opts.BackoffInitial, limit: r.o.opts.BackoffMax}

	var (
		clip core.NarrationClip
		err  error
	)

	for attempt := 1; attempt <= r.o.opts.SynthesisAttempts; attempt++ {
		clip, err = r.synthesizeOnce(text)
		if err == nil {
			return clip, nil
		}

		if !retryableSynthesis(err) || attempt == r.o.opts.SynthesisAttempts {
			break
		}

		wait := delays.delay(attempt)
		r.o.log.Warn("[JOB %s] [ITEM %s] Synthesis attempt %d/%d unavailable, retrying in %s: %v",
			r.jobID, r.item.ID, attempt, r.o.opts.SynthesisAttempts, wait, err)

		sleepErr := sleep(r.jobCtx, wait)
		if sleepErr != nil {
			return core.NarrationClip{}, fmt.Errorf("%w: %w", core.ErrCancelled, context.Cause(r.jobCtx))
		}
	}

	return core.NarrationClip{}, err
}

func (r *itemRun) synthesizeOnce(text core.ExtractedText) (core.NarrationClip, error) {
	callCtx, cancel := withOptionalTimeout(r.stageCtx, r.o.opts.SynthesisTimeout)
	defer cancel()

	clip, err := r.o.stages.Synthesizer.Synthesize(callCtx, text)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && core.KindOf(err) == core.KindNone {
		err = fmt.Errorf("%w: %w", core.ErrSynthesisUnavailable, err)
	}

	return clip, err
}

func (r *itemRun) compose(asset core.LocalAsset, clip core.NarrationClip) (core.ComposedVideo, error) {
	callCtx, cancel := withOptionalTimeout(r.stageCtx, r.o.opts.CompositionTimeout)
	defer cancel()

	return r.o.stages.Composer.Compose(callCtx, asset, clip)
}

// retryableSynthesis reports whether a later attempt may succeed.
func retryableSynthesis(err error) bool {
	return errors.Is(err, core.ErrSynthesisUnavailable) && !errors.Is(err, core.ErrSynthesisRejected)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, timeout)
}
