package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/fsutil"
	"github.com/book-expert/reel-service/internal/narration"
	"github.com/book-expert/reel-service/pkg/executor"
)

const (
	narrationBaseName = "narration"
	videoExt          = ".mp4"
	partialVideoExt   = ".tmp.mp4"
)

var (
	// ErrNoDuration is returned for a clip without a positive duration.
	ErrNoDuration = errors.New("narration has no duration")
	// ErrNoAudio is returned for a clip without audio bytes.
	ErrNoAudio = errors.New("narration has no audio")
)

// Composer implements core.VideoComposer with ffmpeg.
type Composer struct {
	exec executor.Executor
	opts Options
	log  *logger.Logger
}

// NewComposer creates a composer writing into opts.OutputDir.
func NewComposer(exec executor.Executor, opts Options, log *logger.Logger) *Composer {
	return &Composer{exec: exec, opts: opts.WithDefaults(), log: log}
}

// jobDir is the folder holding the clips of one job. Assets without a job ID
// are written to OutputDir itself.
func (c *Composer) jobDir(jobID string) string {
	if jobID == "" {
		return c.opts.OutputDir
	}

	return filepath.Join(c.opts.OutputDir, fsutil.SanitizeName(jobID))
}

// OutputPath is where the finished clip for itemID of job jobID is stored.
func (c *Composer) OutputPath(jobID, itemID string) string {
	return filepath.Join(c.jobDir(jobID), fsutil.SanitizeName(itemID)+videoExt)
}

// Compose renders the still image under the narration. The clip is rendered to a
// temporary name and renamed, so a failure never leaves a partial video.
func (c *Composer) Compose(ctx context.Context, asset core.LocalAsset, clip core.NarrationClip) (core.ComposedVideo, error) {
	video, err := c.compose(ctx, asset, clip)
	if err != nil {
		return core.ComposedVideo{}, fmt.Errorf("%w: %s: %w", core.ErrCompositionFailed, asset.ItemID, err)
	}

	return video, nil
}

func (c *Composer) compose(ctx context.Context, asset core.LocalAsset, clip core.NarrationClip) (core.ComposedVideo, error) {
	if clip.Duration <= 0 {
		return core.ComposedVideo{}, ErrNoDuration
	}

	if len(clip.Audio) == 0 {
		return core.ComposedVideo{}, ErrNoAudio
	}

	audioPath := filepath.Join(filepath.Dir(asset.Path),
		narrationBaseName+narration.DetectFormat(clip.Audio).Extension())

	err := os.WriteFile(audioPath, clip.Audio, fsutil.FilePermissions)
	if err != nil {
		return core.ComposedVideo{}, fmt.Errorf("failed to write narration audio: %w", err)
	}

	final := c.OutputPath(asset.JobID, asset.ItemID)

	partial, err := reservePartial(filepath.Dir(final), fsutil.SanitizeName(asset.ItemID))
	if err != nil {
		return core.ComposedVideo{}, err
	}

	args := BuildCompose(c.opts, asset.Path, audioPath, clip.Duration, partial)

	_, err = c.exec.Execute(ctx, c.opts.FFmpegPath, args...)
	if err != nil {
		_ = os.Remove(partial)

		return core.ComposedVideo{}, fmt.Errorf("ffmpeg render failed: %w", err)
	}

	err = os.Rename(partial, final)
	if err != nil {
		_ = os.Remove(partial)

		return core.ComposedVideo{}, fmt.Errorf("failed to move video into place: %w", err)
	}

	c.log.Info("[JOB %s] [ITEM %s] Rendered %s clip to %s", asset.JobID, asset.ItemID, fsutil.FormatDuration(clip.Duration), final)

	return core.ComposedVideo{
		ItemID:   asset.ItemID,
		Path:     final,
		Duration: clip.Duration,
	}, nil
}

// reservePartial creates dir and an empty, uniquely named render target in it,
// so concurrent renders of the same name never share a file.
func reservePartial(dir, baseName string) (string, error) {
	err := fsutil.EnsureDir(dir)
	if err != nil {
		return "", err
	}

	file, err := os.CreateTemp(dir, baseName+"-*"+partialVideoExt)
	if err != nil {
		return "", fmt.Errorf("failed to create render target: %w", err)
	}

	path := file.Name()

	err = file.Close()
	if err != nil {
		_ = os.Remove(path)

		return "", fmt.Errorf("failed to close render target: %w", err)
	}

	return path, nil
}
