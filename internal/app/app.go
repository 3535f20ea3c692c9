// Package app assembles the job service from the configuration.
package app

import (
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/config"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/download"
	"github.com/book-expert/reel-service/internal/history"
	"github.com/book-expert/reel-service/internal/narration"
	"github.com/book-expert/reel-service/internal/ocr"
	"github.com/book-expert/reel-service/internal/pipeline"
	"github.com/book-expert/reel-service/internal/service"
	"github.com/book-expert/reel-service/internal/source"
	"github.com/book-expert/reel-service/internal/video"
	"github.com/book-expert/reel-service/pkg/executor"
)

// App is a fully wired job service.
type App struct {
	Service *service.Service
	// History is nil when the history database is disabled.
	History *history.Ledger
}

// Build wires every stage from cfg. store may be nil, which disables archiving.
func Build(cfg *config.Config, credentials core.CredentialProvider, store core.ArtifactStore, log *logger.Logger) (*App, error) {
	var (
		ledger *history.Ledger
		seen   core.SeenFilter
	)

	if cfg.History.DBPath != "" {
		var err error

		ledger, err = history.Open(cfg.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}

		seen = ledger
		log.Info("History database opened at %s", cfg.History.DBPath)
	}

	exec := executor.New()
	videoOpts := cfg.VideoOptions()

	stages := pipeline.Stages{
		Fetcher:    source.NewClient(cfg.SourceOptions(), seen, log),
		Downloader: download.NewHTTPDownloader(cfg.DownloadTimeout(), cfg.Source.UserAgent, cfg.Source.MaxDownloadBytes),
		Extractor: ocr.NewExtractor(
			ocr.NewTesseractRecognizer(exec, cfg.OCR.Binary, cfg.OCR.Language), log,
		),
		Synthesizer: narration.NewSynthesizer(
			narration.NewHTTPClient(cfg.Synthesis.BaseURL, cfg.SynthesisTimeout()), credentials, cfg.Synthesis.Voice, log,
		),
		Composer: video.NewComposer(exec, videoOpts, log),
	}

	deps := service.Dependencies{
		Runner:   pipeline.New(stages, cfg.PipelineOptions(), log),
		Compiler: video.NewCompiler(exec, videoOpts, log),
		Store:    store,
	}

	if ledger != nil {
		deps.History = ledger
	}

	return &App{
		Service: service.New(deps, cfg.ServiceOptions(), log),
		History: ledger,
	}, nil
}

// Close releases the history database.
func (a *App) Close() error {
	if a.History == nil {
		return nil
	}

	err := a.History.Close()
	if err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}

	return nil
}
