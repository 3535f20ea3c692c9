package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockUpload  = errors.New("mock upload error")
	errMockCompile = errors.New("mock compile error")
	errMockHistory = errors.New("mock history error")
)

type mockRunner struct {
	err      error
	gotJobID string
	gotQuery core.Query
	statuses []core.Status
}

func (m *mockRunner) Run(_ context.Context, jobID string, query core.Query) (*core.Manifest, error) {
	m.gotJobID = jobID
	m.gotQuery = query

	if m.err != nil {
		return nil, m.err
	}

	items := make([]core.SourceItem, len(m.statuses))
	for i := range m.statuses {
		id := fmt.Sprintf("item%d", i)
		items[i] = core.SourceItem{ID: id, URL: "https://i.example.com/" + id + ".png"}
	}

	manifest := core.NewManifest(jobID, items)

	for i, status := range m.statuses {
		entry := core.Entry{Status: status}

		switch status {
		case core.StatusSucceeded:
			entry.Video = &core.ComposedVideo{ItemID: items[i].ID, Path: "/out/" + items[i].ID + ".mp4"}
		case core.StatusSkipped:
			entry.Detail = core.SkipReasonNoText
		case core.StatusFailed:
			entry.Stage = core.StateSynthesizing
			entry.Kind = core.KindSynthesisRejected
		}

		err := manifest.Record(i, entry)
		if err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

type mockCompiler struct {
	shouldFail bool
	clips      []core.ComposedVideo
	output     string
}

func (m *mockCompiler) Compile(_ context.Context, clips []core.ComposedVideo, output string) (core.ComposedVideo, error) {
	m.clips = clips
	m.output = output

	if m.shouldFail {
		return core.ComposedVideo{}, errMockCompile
	}

	return core.ComposedVideo{ItemID: "compilation", Path: output}, nil
}

type mockStore struct {
	mu         sync.Mutex
	shouldFail bool
	objects    map[string][]byte
	files      map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{objects: map[string][]byte{}, files: map[string]string{}}
}

func (m *mockStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.objects[key], nil
}

func (m *mockStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return errMockUpload
	}

	m.objects[key] = data

	return nil
}

func (m *mockStore) UploadFile(_ context.Context, key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return errMockUpload
	}

	m.files[key] = path

	return nil
}

type mockHistory struct {
	shouldFail bool
	calls      int
}

func (m *mockHistory) MarkProcessed(_ context.Context, manifest *core.Manifest) (int, error) {
	m.calls++

	if m.shouldFail {
		return 0, errMockHistory
	}

	succeeded, _, _ := manifest.Counts()

	return succeeded, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "service-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func defaultOptions(t *testing.T) service.Options {
	t.Helper()

	return service.Options{
		OutputDir:    t.TempDir(),
		Compile:      true,
		DefaultQuery: core.Query{Category: "memes", Window: "day", Limit: 5},
		MaxLimit:     50,
	}
}

func TestExecute_FullJob(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{statuses: []core.Status{core.StatusSucceeded, core.StatusSkipped, core.StatusSucceeded, core.StatusFailed}}
	compiler := &mockCompiler{}
	store := newMockStore()
	history := &mockHistory{}
	opts := defaultOptions(t)

	svc := service.New(service.Dependencies{
		Runner:   runner,
		Compiler: compiler,
		Store:    store,
		History:  history,
	}, opts, newTestLogger(t))

	result, err := svc.Execute(context.Background(), core.Query{Category: "r/wholesome"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, result.JobID, runner.gotJobID)
	assert.Equal(t, core.Query{Category: "wholesome", Window: "day", Limit: 5}, runner.gotQuery)
	assert.Equal(t, "2 succeeded, 1 skipped (no text found), 1 failed (synthesis rejected)", result.Summary)
	assert.Equal(t, 1, history.calls)

	require.Len(t, compiler.clips, 2)
	assert.Equal(t, filepath.Join(opts.OutputDir, "compilations", "compilation-"+result.JobID+".mp4"), result.CompilationPath)
	assert.Equal(t, service.VideoKey(result.JobID, result.CompilationPath), result.CompilationKey)

	manifestKey := service.ManifestKey(result.JobID)
	assert.Contains(t, result.ArchivedKeys, manifestKey)
	assert.Len(t, result.ArchivedKeys, 4)
	assert.Equal(t, "/out/item0.mp4", store.files["jobs/"+result.JobID+"/item0.mp4"])

	var archived core.Manifest
	require.NoError(t, json.Unmarshal(store.objects[manifestKey], &archived))
	assert.Equal(t, result.JobID, archived.JobID)
	assert.Len(t, archived.Entries, 4)
}

func TestExecute_InvalidQuery(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		query core.Query
	}{
		{name: "unknown window", query: core.Query{Window: "decade"}},
		{name: "negative limit", query: core.Query{Limit: -1}},
		{name: "limit over max", query: core.Query{Limit: 500}},
		{name: "category with path", query: core.Query{Category: "memes/top"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &mockRunner{}
			svc := service.New(service.Dependencies{Runner: runner}, defaultOptions(t), newTestLogger(t))

			_, err := svc.Execute(context.Background(), tc.query)
			require.ErrorIs(t, err, service.ErrInvalidQuery)
			assert.Empty(t, runner.gotJobID)
		})
	}
}

func TestExecute_MissingCategory(t *testing.T) {
	t.Parallel()

	opts := defaultOptions(t)
	opts.DefaultQuery.Category = ""

	svc := service.New(service.Dependencies{Runner: &mockRunner{}}, opts, newTestLogger(t))

	_, err := svc.Execute(context.Background(), core.Query{})
	require.ErrorIs(t, err, service.ErrInvalidQuery)
}

func TestExecute_SourceUnavailable(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{err: fmt.Errorf("%w: boom", core.ErrSourceUnavailable)}
	history := &mockHistory{}

	svc := service.New(service.Dependencies{Runner: runner, History: history}, defaultOptions(t), newTestLogger(t))

	result, err := svc.Execute(context.Background(), core.Query{})
	require.ErrorIs(t, err, core.ErrSourceUnavailable)
	assert.Nil(t, result)
	assert.Zero(t, history.calls)
}

func TestExecute_SideEffectFailuresKeepResult(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{statuses: []core.Status{core.StatusSucceeded}}
	store := newMockStore()
	store.shouldFail = true

	svc := service.New(service.Dependencies{
		Runner:   runner,
		Compiler: &mockCompiler{shouldFail: true},
		Store:    store,
		History:  &mockHistory{shouldFail: true},
	}, defaultOptions(t), newTestLogger(t))

	result, err := svc.Execute(context.Background(), core.Query{})
	require.NoError(t, err)

	assert.Equal(t, "1 succeeded", result.Summary)
	assert.Empty(t, result.CompilationPath)
	assert.Empty(t, result.ArchivedKeys)
}

func TestExecute_NoCompilationWithoutVideos(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{statuses: []core.Status{core.StatusSkipped}}
	compiler := &mockCompiler{}

	svc := service.New(service.Dependencies{Runner: runner, Compiler: compiler}, defaultOptions(t), newTestLogger(t))

	result, err := svc.Execute(context.Background(), core.Query{})
	require.NoError(t, err)

	assert.Empty(t, compiler.output)
	assert.Empty(t, result.CompilationPath)
}

func TestExecute_CancelledJobSkipsCompilation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &mockRunner{statuses: []core.Status{core.StatusSucceeded, core.StatusSucceeded}}
	compiler := &mockCompiler{}
	store := newMockStore()

	svc := service.New(service.Dependencies{Runner: runner, Compiler: compiler, Store: store}, defaultOptions(t), newTestLogger(t))

	result, err := svc.Execute(ctx, core.Query{})
	require.NoError(t, err)

	assert.Empty(t, compiler.output)
	assert.Contains(t, result.ArchivedKeys, service.ManifestKey(result.JobID))
}

func TestArchiveKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jobs/abc/manifest.json", service.ManifestKey("abc"))
	assert.Equal(t, "jobs/abc/x.mp4", service.VideoKey("abc", "/tmp/out/abc/x.mp4"))
}

func TestNewReply(t *testing.T) {
	t.Parallel()

	req := service.JobRequest{Category: "memes", Limit: 3}
	req.Header.WorkflowID = "wf-1"
	req.Header.EventID = "ev-1"

	assert.Equal(t, core.Query{Category: "memes", Limit: 3}, req.Query())

	manifest := core.NewManifest("job-1", nil)
	result := &service.Result{JobID: "job-1", Summary: "0 succeeded", Manifest: manifest, CompilationKey: "jobs/job-1/c.mp4"}

	reply := service.NewReply(req, result, nil)
	assert.Equal(t, "wf-1", reply.Header.WorkflowID)
	assert.NotEqual(t, "ev-1", reply.Header.EventID)
	assert.Equal(t, "job-1", reply.JobID)
	assert.Equal(t, "jobs/job-1/c.mp4", reply.CompilationKey)
	assert.Empty(t, reply.Error)

	failed := service.NewReply(service.JobRequest{}, nil, service.ErrInvalidQuery)
	assert.Equal(t, service.ErrInvalidQuery.Error(), failed.Error)
	assert.Nil(t, failed.Manifest)
	assert.Empty(t, failed.Header.WorkflowID)
}
