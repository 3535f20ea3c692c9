// Package service wraps one orchestrator run with the work around it: job IDs,
// history bookkeeping, the optional compilation and artifact archiving.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/google/uuid"
)

const (
	jobKeyPrefix      = "jobs/"
	manifestObject    = "manifest.json"
	compilationDir    = "compilations"
	compilationPrefix = "compilation-"
	videoExt          = ".mp4"
)

var (
	// ErrInvalidQuery is returned for a request the service refuses to run.
	ErrInvalidQuery = errors.New("invalid job query")
	allowedWindows  = map[string]struct{}{
		"hour": {}, "day": {}, "week": {}, "month": {}, "year": {}, "all": {},
	}
)

// Runner runs a single job.
type Runner interface {
	Run(ctx context.Context, jobID string, query core.Query) (*core.Manifest, error)
}

// Compiler joins finished clips into one video.
type Compiler interface {
	Compile(ctx context.Context, clips []core.ComposedVideo, output string) (core.ComposedVideo, error)
}

// HistoryRecorder remembers which source URLs became videos.
type HistoryRecorder interface {
	MarkProcessed(ctx context.Context, manifest *core.Manifest) (int, error)
}

// Options configures a Service.
type Options struct {
	OutputDir    string
	Compile      bool
	DefaultQuery core.Query
	MaxLimit     int
}

// Dependencies are the collaborators of a Service. Only Runner is required.
type Dependencies struct {
	Runner   Runner
	Compiler Compiler
	Store    core.ArtifactStore
	History  HistoryRecorder
}

// Result is what a finished job reports to its caller.
type Result struct {
	JobID           string         `json:"job_id" yaml:"job_id"`
	Summary         string         `json:"summary" yaml:"summary"`
	Manifest        *core.Manifest `json:"manifest" yaml:"manifest"`
	CompilationPath string         `json:"compilation_path,omitempty" yaml:"compilation_path,omitempty"`
	CompilationKey  string         `json:"compilation_key,omitempty" yaml:"compilation_key,omitempty"`
	ArchivedKeys    []string       `json:"archived_keys,omitempty" yaml:"archived_keys,omitempty"`
}

// Service executes jobs.
type Service struct {
	deps Dependencies
	opts Options
	log  *logger.Logger
}

// New creates a service.
func New(deps Dependencies, opts Options, log *logger.Logger) *Service {
	return &Service{deps: deps, opts: opts, log: log}
}

// ManifestKey is the object store key of a job's manifest.
func ManifestKey(jobID string) string {
	return jobKeyPrefix + jobID + "/" + manifestObject
}

// VideoKey is the object store key of a video file produced by a job.
func VideoKey(jobID, videoPath string) string {
	return jobKeyPrefix + jobID + "/" + filepath.Base(videoPath)
}

// Normalize fills unset query fields from the defaults and validates the result.
func (s *Service) Normalize(query core.Query) (core.Query, error) {
	if query.Category == "" {
		query.Category = s.opts.DefaultQuery.Category
	}

	if query.Window == "" {
		query.Window = s.opts.DefaultQuery.Window
	}

	if query.Limit == 0 {
		query.Limit = s.opts.DefaultQuery.Limit
	}

	query.Category = strings.TrimPrefix(strings.TrimSpace(query.Category), "r/")
	query.Window = strings.ToLower(strings.TrimSpace(query.Window))

	if query.Category == "" {
		return core.Query{}, fmt.Errorf("%w: category is required", ErrInvalidQuery)
	}

	if strings.ContainsAny(query.Category, "/?#") {
		return core.Query{}, fmt.Errorf("%w: category %q", ErrInvalidQuery, query.Category)
	}

	if _, ok := allowedWindows[query.Window]; !ok {
		return core.Query{}, fmt.Errorf("%w: window %q", ErrInvalidQuery, query.Window)
	}

	if query.Limit <= 0 {
		return core.Query{}, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}

	if s.opts.MaxLimit > 0 && query.Limit > s.opts.MaxLimit {
		return core.Query{}, fmt.Errorf("%w: limit %d exceeds %d", ErrInvalidQuery, query.Limit, s.opts.MaxLimit)
	}

	return query, nil
}

// Execute runs one job under a fresh job ID. Only an invalid query or an
// unavailable source is returned as an error; compilation, history and archive
// failures are logged and leave the result intact.
func (s *Service) Execute(ctx context.Context, query core.Query) (*Result, error) {
	query, err := s.Normalize(query)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()

	manifest, err := s.deps.Runner.Run(ctx, jobID, query)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}

	result := &Result{JobID: jobID, Summary: manifest.Summary(), Manifest: manifest}

	// The job's outputs exist even if the caller went away; finish the bookkeeping.
	bookkeeping := context.WithoutCancel(ctx)

	s.recordHistory(bookkeeping, manifest)

	if ctx.Err() == nil {
		s.compile(bookkeeping, result)
	}

	s.archive(bookkeeping, result)

	return result, nil
}

func (s *Service) recordHistory(ctx context.Context, manifest *core.Manifest) {
	if s.deps.History == nil {
		return
	}

	written, err := s.deps.History.MarkProcessed(ctx, manifest)
	if err != nil {
		s.log.Error("[JOB %s] Failed to update history: %v", manifest.JobID, err)

		return
	}

	s.log.Info("[JOB %s] Recorded %d processed items in history", manifest.JobID, written)
}

func (s *Service) compile(ctx context.Context, result *Result) {
	if !s.opts.Compile || s.deps.Compiler == nil {
		return
	}

	videos := result.Manifest.Videos()
	if len(videos) == 0 {
		return
	}

	output := filepath.Join(s.opts.OutputDir, compilationDir, compilationPrefix+result.JobID+videoExt)

	compiled, err := s.deps.Compiler.Compile(ctx, videos, output)
	if err != nil {
		s.log.Error("[JOB %s] Compilation failed: %v", result.JobID, err)

		return
	}

	result.CompilationPath = compiled.Path
}

func (s *Service) archive(ctx context.Context, result *Result) {
	if s.deps.Store == nil {
		return
	}

	manifestJSON, err := json.Marshal(result.Manifest)
	if err != nil {
		s.log.Error("[JOB %s] Failed to encode manifest: %v", result.JobID, err)

		return
	}

	manifestKey := ManifestKey(result.JobID)

	err = s.deps.Store.Upload(ctx, manifestKey, manifestJSON)
	if err != nil {
		s.log.Error("[JOB %s] Failed to archive manifest: %v", result.JobID, err)
	} else {
		result.ArchivedKeys = append(result.ArchivedKeys, manifestKey)
	}

	for _, video := range result.Manifest.Videos() {
		key := VideoKey(result.JobID, video.Path)

		uploadErr := s.deps.Store.UploadFile(ctx, key, video.Path)
		if uploadErr != nil {
			s.log.Error("[JOB %s] [ITEM %s] Failed to archive video: %v", result.JobID, video.ItemID, uploadErr)

			continue
		}

		result.ArchivedKeys = append(result.ArchivedKeys, key)
	}

	if result.CompilationPath != "" {
		key := VideoKey(result.JobID, result.CompilationPath)

		uploadErr := s.deps.Store.UploadFile(ctx, key, result.CompilationPath)
		if uploadErr != nil {
			s.log.Error("[JOB %s] Failed to archive compilation: %v", result.JobID, uploadErr)

			return
		}

		result.CompilationKey = key
		result.ArchivedKeys = append(result.ArchivedKeys, key)
	}
}
