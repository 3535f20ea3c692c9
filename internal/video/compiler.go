package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/fsutil"
	"github.com/book-expert/reel-service/pkg/executor"
)

const (
	listSuffix        = ".concat.txt"
	cardBaseName      = "card"
	cardTextExt       = ".txt"
	numberPlaceholder = "{n}"
)

// ErrNothingToCompile is returned when no clips are given.
var ErrNothingToCompile = errors.New("no clips to compile")

// Compiler concatenates finished clips into one compilation video, optionally
// between a title card and an end card.
type Compiler struct {
	exec executor.Executor
	opts Options
	log  *logger.Logger
}

// NewCompiler creates a compiler.
func NewCompiler(exec executor.Executor, opts Options, log *logger.Logger) *Compiler {
	return &Compiler{exec: exec, opts: opts.WithDefaults(), log: log}
}

// Compile stream-copies clips, in order, into output. Clips and cards come from
// the same render profile, so no re-encode is needed.
func (c *Compiler) Compile(ctx context.Context, clips []core.ComposedVideo, output string) (core.ComposedVideo, error) {
	compiled, err := c.compile(ctx, clips, output)
	if err != nil && !errors.Is(err, ErrNothingToCompile) {
		return core.ComposedVideo{}, fmt.Errorf("%w: %w", core.ErrCompositionFailed, err)
	}

	return compiled, err
}

func (c *Compiler) compile(ctx context.Context, clips []core.ComposedVideo, output string) (core.ComposedVideo, error) {
	if len(clips) == 0 {
		return core.ComposedVideo{}, ErrNothingToCompile
	}

	dir := filepath.Dir(output)

	err := fsutil.EnsureDir(dir)
	if err != nil {
		return core.ComposedVideo{}, err
	}

	var (
		segments []string
		total    time.Duration
		cleanup  []string
	)

	defer func() {
		for _, path := range cleanup {
			_ = os.Remove(path)
		}
	}()

	if c.opts.TitleCard != "" {
		title := strings.ReplaceAll(c.opts.TitleCard, numberPlaceholder, strconv.Itoa(compilationNumber(dir)))

		card, cardErr := c.renderCard(ctx, dir, title)
		cleanup = append(cleanup, card...)

		if cardErr != nil {
			return core.ComposedVideo{}, cardErr
		}

		segments = append(segments, card[len(card)-1])
		total += c.opts.CardDuration
	}

	for _, clip := range clips {
		segments = append(segments, clip.Path)
		total += clip.Duration
	}

	if c.opts.EndCard != "" {
		card, cardErr := c.renderCard(ctx, dir, c.opts.EndCard)
		cleanup = append(cleanup, card...)

		if cardErr != nil {
			return core.ComposedVideo{}, cardErr
		}

		segments = append(segments, card[len(card)-1])
		total += c.opts.CardDuration
	}

	listPath := output + listSuffix
	cleanup = append(cleanup, listPath)

	err = writeConcatList(listPath, segments)
	if err != nil {
		return core.ComposedVideo{}, err
	}

	partial, err := reservePartial(dir, strings.TrimSuffix(filepath.Base(output), filepath.Ext(output)))
	if err != nil {
		return core.ComposedVideo{}, err
	}

	_, err = c.exec.Execute(ctx, c.opts.FFmpegPath, BuildConcat(listPath, partial)...)
	if err != nil {
		_ = os.Remove(partial)

		return core.ComposedVideo{}, fmt.Errorf("ffmpeg concat failed: %w", err)
	}

	err = os.Rename(partial, output)
	if err != nil {
		_ = os.Remove(partial)

		return core.ComposedVideo{}, fmt.Errorf("failed to move compilation into place: %w", err)
	}

	c.log.Info("Compiled %d clips (%s) into %s", len(clips), fsutil.FormatDuration(total), output)

	return core.ComposedVideo{ItemID: filepath.Base(output), Path: output, Duration: total}, nil
}

// renderCard renders one text card into dir. It returns every file it created,
// the rendered card last; the caller removes them.
func (c *Compiler) renderCard(ctx context.Context, dir, text string) ([]string, error) {
	textFile, err := os.CreateTemp(dir, cardBaseName+"-*"+cardTextExt)
	if err != nil {
		return nil, fmt.Errorf("failed to create card text: %w", err)
	}

	created := []string{textFile.Name()}

	_, writeErr := textFile.WriteString(text)
	closeErr := textFile.Close()

	if writeErr != nil || closeErr != nil {
		return created, fmt.Errorf("failed to write card text: %w", errors.Join(writeErr, closeErr))
	}

	card, err := reservePartial(dir, cardBaseName)
	if err != nil {
		return created, err
	}

	created = append(created, card)

	_, err = c.exec.Execute(ctx, c.opts.FFmpegPath, BuildCard(c.opts, textFile.Name(), card)...)
	if err != nil {
		return created, fmt.Errorf("ffmpeg card render failed: %w", err)
	}

	return created, nil
}

func writeConcatList(listPath string, segments []string) error {
	var list strings.Builder

	for _, segment := range segments {
		absPath, err := filepath.Abs(segment)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", segment, err)
		}

		list.WriteString(concatLine(absPath))
	}

	err := os.WriteFile(listPath, []byte(list.String()), fsutil.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	return nil
}

// compilationNumber counts the finished videos already in dir, plus one.
func compilationNumber(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}

	count := 0

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, videoExt) && !strings.HasSuffix(name, partialVideoExt) {
			count++
		}
	}

	return count + 1
}
