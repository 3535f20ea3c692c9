package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/fsutil"
	"github.com/book-expert/reel-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockFetch    = errors.New("mock fetch error")
	errMockDownload = errors.New("mock download error")
	errMockOCR      = errors.New("mock ocr error")
)

// fakeStages implements every stage contract with per-item behavior.
type fakeStages struct {
	mu sync.Mutex

	items    []core.SourceItem
	fetchErr error

	downloadErr     map[string]error
	texts           map[string]string
	extractFailures map[string]int
	synthErrs       map[string][]error
	synthHook       func(ctx context.Context, itemID string) error
	downloadDelay   time.Duration

	extractCalls map[string]int
	synthCalls   map[string]int
	prevDirLeft  bool
	lastItemDir  string

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeStages(ids ...string) *fakeStages {
	items := make([]core.SourceItem, len(ids))
	for i, id := range ids {
		items[i] = core.SourceItem{ID: id, URL: "https://i.example.com/" + id + ".png", MediaType: core.MediaPNG}
	}

	return &fakeStages{
		items:           items,
		downloadErr:     map[string]error{},
		texts:           map[string]string{},
		extractFailures: map[string]int{},
		synthErrs:       map[string][]error{},
		extractCalls:    map[string]int{},
		synthCalls:      map[string]int{},
	}
}

func (f *fakeStages) stages() pipeline.Stages {
	return pipeline.Stages{
		Fetcher:     f,
		Downloader:  f,
		Extractor:   f,
		Synthesizer: f,
		Composer:    f,
	}
}

func (f *fakeStages) Fetch(_ context.Context, _ core.Query) ([]core.SourceItem, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	return f.items, nil
}

func (f *fakeStages) Download(_ context.Context, scratchDir string, item core.SourceItem) (core.LocalAsset, error) {
	current := f.active.Add(1)
	for {
		seen := f.maxActive.Load()
		if current <= seen || f.maxActive.CompareAndSwap(seen, current) {
			break
		}
	}

	if f.downloadDelay > 0 {
		time.Sleep(f.downloadDelay)
	}

	f.mu.Lock()
	if f.lastItemDir != "" {
		if _, err := os.Stat(f.lastItemDir); err == nil {
			f.prevDirLeft = true
		}
	}

	itemDir := fsutil.ItemDir(scratchDir, item.ID)
	f.lastItemDir = itemDir
	err := f.downloadErr[item.ID]
	f.mu.Unlock()

	if err != nil {
		f.active.Add(-1)

		return core.LocalAsset{}, fmt.Errorf("%w: %w", core.ErrDownloadFailed, err)
	}

	mkdirErr := os.MkdirAll(itemDir, 0o750)
	if mkdirErr != nil {
		return core.LocalAsset{}, mkdirErr
	}

	path := filepath.Join(itemDir, "source.png")

	writeErr := os.WriteFile(path, []byte("png"), 0o600)
	if writeErr != nil {
		return core.LocalAsset{}, writeErr
	}

	return core.LocalAsset{ItemID: item.ID, Path: path, Size: 3}, nil
}

func (f *fakeStages) Extract(_ context.Context, asset core.LocalAsset) (core.ExtractedText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.extractCalls[asset.ItemID]++
	if f.extractFailures[asset.ItemID] >= f.extractCalls[asset.ItemID] {
		f.active.Add(-1)

		return core.ExtractedText{}, fmt.Errorf("%w: %w", core.ErrExtractionFailed, errMockOCR)
	}

	text, ok := f.texts[asset.ItemID]
	if !ok {
		text = "Hello world."
	}

	if text == "" {
		f.active.Add(-1)
	}

	return core.ExtractedText{ItemID: asset.ItemID, Text: text, Confidence: 0.9}, nil
}

func (f *fakeStages) Synthesize(ctx context.Context, text core.ExtractedText) (core.NarrationClip, error) {
	f.mu.Lock()
	f.synthCalls[text.ItemID]++
	call := f.synthCalls[text.ItemID]
	errs := f.synthErrs[text.ItemID]
	hook := f.synthHook
	f.mu.Unlock()

	if hook != nil {
		hookErr := hook(ctx, text.ItemID)
		if hookErr != nil {
			return core.NarrationClip{}, hookErr
		}
	}

	if call <= len(errs) && errs[call-1] != nil {
		return core.NarrationClip{}, errs[call-1]
	}

	return core.NarrationClip{ItemID: text.ItemID, Audio: []byte("wav"), Duration: time.Second}, nil
}

func (f *fakeStages) Compose(_ context.Context, asset core.LocalAsset, clip core.NarrationClip) (core.ComposedVideo, error) {
	defer f.active.Add(-1)

	path := "/out/" + asset.JobID + "/" + asset.ItemID + ".mp4"

	return core.ComposedVideo{ItemID: asset.ItemID, Path: path, Duration: clip.Duration}, nil
}

func (f *fakeStages) extractCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.extractCalls[id]
}

func (f *fakeStages) synthCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.synthCalls[id]
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newOrchestrator(t *testing.T, fake *fakeStages, opts pipeline.Options) *pipeline.Orchestrator {
	t.Helper()

	if opts.ScratchRoot == "" {
		opts.ScratchRoot = t.TempDir()
	}

	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = time.Millisecond
		opts.BackoffMax = 4 * time.Millisecond
	}

	return pipeline.New(fake.stages(), opts, newTestLogger(t))
}

var testQuery = core.Query{Category: "memes", Window: "day", Limit: 10}

func statuses(manifest *core.Manifest) []core.Status {
	out := make([]core.Status, len(manifest.Entries))
	for i, entry := range manifest.Entries {
		out[i] = entry.Status
	}

	return out
}

func TestRun_AllSucceed(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("a", "b", "c", "d", "e")
	orchestrator := newOrchestrator(t, fake, pipeline.Options{Concurrency: 2})

	manifest, err := orchestrator.Run(context.Background(), "job1", testQuery)
	require.NoError(t, err)
	require.True(t, manifest.Complete())
	require.Len(t, manifest.Entries, 5)

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		entry := manifest.Entries[i]
		assert.Equal(t, id, entry.ItemID)
		assert.Equal(t, core.StatusSucceeded, entry.Status)
		require.NotNil(t, entry.Video)
		assert.Equal(t, time.Second, entry.Video.Duration)
		assert.Equal(t, "/out/job1/"+id+".mp4", entry.Video.Path)
	}

	assert.Equal(t, "5 succeeded", manifest.Summary())
	assert.NoDirExists(t, orchestrator.JobDir("job1"))
}

func TestRun_InFlightNeverExceedsBudget(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("1", "2", "3", "4", "5", "6", "7", "8", "9", "10")
	fake.downloadDelay = 5 * time.Millisecond
	orchestrator := newOrchestrator(t, fake, pipeline.Options{Concurrency: 3})

	manifest, err := orchestrator.Run(context.Background(), "budget", testQuery)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 10)

	assert.LessOrEqual(t, fake.maxActive.Load(), int32(3))
	assert.Positive(t, fake.maxActive.Load())
}

func TestRun_EmptyTextIsSkipped(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("text", "blank")
	fake.texts["blank"] = ""
	orchestrator := newOrchestrator(t, fake, pipeline.Options{})

	manifest, err := orchestrator.Run(context.Background(), "skip", testQuery)
	require.NoError(t, err)

	assert.Equal(t, []core.Status{core.StatusSucceeded, core.StatusSkipped}, statuses(manifest))
	assert.Equal(t, core.SkipReasonNoText, manifest.Entries[1].Detail)
	assert.Zero(t, fake.synthCount("blank"))
	assert.Equal(t, "1 succeeded, 1 skipped (no text found)", manifest.Summary())
}

func TestRun_SourceUnavailableAbortsJob(t *testing.T) {
	t.Parallel()

	fake := newFakeStages()
	fake.fetchErr = fmt.Errorf("%w: %w", core.ErrSourceUnavailable, errMockFetch)
	orchestrator := newOrchestrator(t, fake, pipeline.Options{})

	manifest, err := orchestrator.Run(context.Background(), "nosource", testQuery)
	require.ErrorIs(t, err, core.ErrSourceUnavailable)
	assert.Nil(t, manifest)

	fake.fetchErr = errMockFetch

	_, err = orchestrator.Run(context.Background(), "nosource", testQuery)
	require.ErrorIs(t, err, core.ErrSourceUnavailable)
	require.ErrorIs(t, err, errMockFetch)
}

func TestRun_NoItems(t *testing.T) {
	t.Parallel()

	orchestrator := newOrchestrator(t, newFakeStages(), pipeline.Options{})

	manifest, err := orchestrator.Run(context.Background(), "empty", testQuery)
	require.NoError(t, err)
	assert.Empty(t, manifest.Entries)
	assert.Equal(t, "0 succeeded", manifest.Summary())
}

func TestRun_FailureIsIsolatedToItem(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("ok1", "broken", "ok2")
	fake.downloadErr["broken"] = errMockDownload
	orchestrator := newOrchestrator(t, fake, pipeline.Options{})

	manifest, err := orchestrator.Run(context.Background(), "isolated", testQuery)
	require.NoError(t, err)

	assert.Equal(t, []core.Status{core.StatusSucceeded, core.StatusFailed, core.StatusSucceeded}, statuses(manifest))
	assert.Equal(t, core.StateDownloading, manifest.Entries[1].Stage)
	assert.Equal(t, core.KindDownloadFailed, manifest.Entries[1].Kind)
	assert.Equal(t, 0, fake.extractCount("broken"))
}

func TestRun_ExtractionRetriedOnce(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("flaky", "dead")
	fake.extractFailures["flaky"] = 1
	fake.extractFailures["dead"] = 5
	orchestrator := newOrchestrator(t, fake, pipeline.Options{})

	manifest, err := orchestrator.Run(context.Background(), "ocr", testQuery)
	require.NoError(t, err)

	assert.Equal(t, core.StatusSucceeded, manifest.Entries[0].Status)
	assert.Equal(t, 2, fake.extractCount("flaky"))

	assert.Equal(t, core.StatusFailed, manifest.Entries[1].Status)
	assert.Equal(t, core.StateExtracting, manifest.Entries[1].Stage)
	assert.Equal(t, core.KindExtractionFailed, manifest.Entries[1].Kind)
	assert.Equal(t, 2, fake.extractCount("dead"))
}

func TestRun_AuthFailureThenSuccess(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("item")
	fake.synthErrs["item"] = []error{fmt.Errorf("%w: 401 unauthorized", core.ErrSynthesisUnavailable)}
	orchestrator := newOrchestrator(t, fake, pipeline.Options{})

	manifest, err := orchestrator.Run(context.Background(), "auth", testQuery)
	require.NoError(t, err)

	assert.Equal(t, core.StatusSucceeded, manifest.Entries[0].Status)
	assert.Equal(t, 2, fake.synthCount("item"))
}

func TestRun_SynthesisRejectedIsNotRetried(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("item")
	fake.synthErrs["item"] = []error{fmt.Errorf("%w: 400 bad input", core.ErrSynthesisRejected)}
	orchestrator := newOrchestrator(t, fake, pipeline.Options{})

	manifest, err := orchestrator.Run(context.Background(), "rejected", testQuery)
	require.NoError(t, err)

	entry := manifest.Entries[0]
	assert.Equal(t, core.StatusFailed, entry.Status)
	assert.Equal(t, core.StateSynthesizing, entry.Stage)
	assert.Equal(t, core.KindSynthesisRejected, entry.Kind)
	assert.Equal(t, 1, fake.synthCount("item"))
	assert.Equal(t, "0 succeeded, 1 failed (synthesis rejected)", manifest.Summary())
}

func TestRun_SynthesisAttemptsExhausted(t *testing.T) {
	t.Parallel()

	unavailable := fmt.Errorf("%w: 503", core.ErrSynthesisUnavailable)
	fake := newFakeStages("item")
	fake.synthErrs["item"] = []error{unavailable, unavailable, unavailable, unavailable}
	orchestrator := newOrchestrator(t, fake, pipeline.Options{SynthesisAttempts: 3})

	manifest, err := orchestrator.Run(context.Background(), "exhausted", testQuery)
	require.NoError(t, err)

	assert.Equal(t, core.KindSynthesisUnavailable, manifest.Entries[0].Kind)
	assert.Equal(t, 3, fake.synthCount("item"))
}

func TestRun_SynthesisTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("slow")
	fake.synthHook = func(ctx context.Context, _ string) error {
		<-ctx.Done()

		return ctx.Err()
	}
	orchestrator := newOrchestrator(t, fake, pipeline.Options{
		SynthesisAttempts: 2,
		SynthesisTimeout:  10 * time.Millisecond,
	})

	manifest, err := orchestrator.Run(context.Background(), "timeout", testQuery)
	require.NoError(t, err)

	assert.Equal(t, core.KindSynthesisUnavailable, manifest.Entries[0].Kind)
	assert.Equal(t, 2, fake.synthCount("slow"))
}

func TestRun_ItemScratchRemovedWhenTerminal(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("a", "b", "c")
	fake.texts["b"] = ""
	fake.downloadErr["c"] = errMockDownload
	orchestrator := newOrchestrator(t, fake, pipeline.Options{Concurrency: 1})

	_, err := orchestrator.Run(context.Background(), "scratch", testQuery)
	require.NoError(t, err)

	assert.False(t, fake.prevDirLeft)
	assert.NoDirExists(t, orchestrator.JobDir("scratch"))
}

func TestRun_CancelDuringSynthesis(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("a", "b", "c")
	entered := make(chan struct{})
	release := make(chan struct{})

	var stageCtxErr atomic.Value

	fake.synthHook = func(ctx context.Context, itemID string) error {
		if itemID != "b" {
			return nil
		}

		close(entered)
		<-release

		if ctx.Err() != nil {
			stageCtxErr.Store(ctx.Err())
		}

		return nil
	}

	orchestrator := newOrchestrator(t, fake, pipeline.Options{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())

	defer cancel()

	var (
		manifest *core.Manifest
		runErr   error
	)

	done := make(chan struct{})

	go func() {
		manifest, runErr = orchestrator.Run(ctx, "cancel", testQuery)

		close(done)
	}()

	<-entered
	cancel()
	close(release)
	<-done

	require.NoError(t, runErr)
	require.True(t, manifest.Complete())
	assert.Nil(t, stageCtxErr.Load())

	assert.Equal(t, core.StatusSucceeded, manifest.Entries[0].Status)

	assert.Equal(t, core.StatusFailed, manifest.Entries[1].Status)
	assert.Equal(t, core.StateSynthesizing, manifest.Entries[1].Stage)
	assert.Equal(t, core.KindCancelled, manifest.Entries[1].Kind)

	assert.Equal(t, core.StatusFailed, manifest.Entries[2].Status)
	assert.Equal(t, core.StatePending, manifest.Entries[2].Stage)
	assert.Equal(t, core.KindCancelled, manifest.Entries[2].Kind)
	assert.Zero(t, fake.extractCount("c"))

	assert.NoDirExists(t, orchestrator.JobDir("cancel"))
	assert.Equal(t, "1 succeeded, 2 failed (cancelled)", manifest.Summary())
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	fake := newFakeStages("item")
	fake.synthErrs["item"] = []error{fmt.Errorf("%w: 429", core.ErrSynthesisUnavailable)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake.synthHook = func(_ context.Context, _ string) error {
		cancel()

		return nil
	}

	orchestrator := newOrchestrator(t, fake, pipeline.Options{
		BackoffInitial: time.Hour,
		BackoffMax:     time.Hour,
	})

	start := time.Now()

	manifest, err := orchestrator.Run(ctx, "backoff", testQuery)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, core.StateSynthesizing, manifest.Entries[0].Stage)
	assert.Equal(t, core.KindCancelled, manifest.Entries[0].Kind)
	assert.Equal(t, 1, fake.synthCount("item"))
}
