// Package config provides the configuration structure for the reel-service.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/pipeline"
	"github.com/book-expert/reel-service/internal/service"
	"github.com/book-expert/reel-service/internal/source"
	"github.com/book-expert/reel-service/internal/video"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables holding the synthesis credential pair.
const (
	EnvSynthesisKey    = "SYNTHESIS_API_KEY"
	EnvSynthesisSecret = "SYNTHESIS_API_SECRET"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultConcurrency       = pipeline.DefaultConcurrency
	DefaultExtractionRetries = 1
	MaxExtractionRetries     = 1
	DefaultWindow            = "day"
	DefaultLimit             = 10
	DefaultMaxLimit          = 100
	DefaultSourceURL         = "https://www.reddit.com"
	DefaultOCRBinary         = "tesseract"
	DefaultOCRLanguage       = "eng"
	DefaultVoice             = "default"
	DefaultSynthesisTimeout  = 60
	DefaultDownloadTimeout   = 120
	DefaultMaxDownloadBytes  = 50 << 20
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultRequestSubject    = "reel.jobs.request"
	DefaultManifestSubject   = "reel.jobs.manifest"
	DefaultArtifactBucket    = "REEL_ARTIFACTS"
)

var (
	// ErrSourceURLEmpty indicates that no content API URL is configured.
	ErrSourceURLEmpty = errors.New("source.base_url cannot be empty")
	// ErrSynthesisURLEmpty indicates that no speech API URL is configured.
	ErrSynthesisURLEmpty = errors.New("synthesis.base_url cannot be empty")
	// ErrConcurrencyRange indicates a concurrency budget below one.
	ErrConcurrencyRange = errors.New("job.concurrency must be at least 1")
	// ErrNegativeValue indicates a count or timeout below zero.
	ErrNegativeValue = errors.New("value must be non-negative")
	// ErrExtractionRetries indicates more than one extraction retry.
	ErrExtractionRetries = errors.New("job.extraction_retries must be 0 or 1")
	// ErrVideoCanvas indicates an unusable output canvas.
	ErrVideoCanvas = errors.New("video width, height and fps must be positive")
	// ErrDefaultLimit indicates a default limit above the maximum.
	ErrDefaultLimit = errors.New("job.default_limit exceeds job.max_limit")
	// ErrCredentialsMissing indicates the credential environment variables are unset.
	ErrCredentialsMissing = errors.New("synthesis credentials are not set")
)

// JobConfig holds the orchestration settings of a job.
type JobConfig struct {
	Concurrency               int    `toml:"concurrency"`
	ScratchRoot               string `toml:"scratch_root"`
	ExtractionRetries         *int   `toml:"extraction_retries"`
	SynthesisAttempts         int    `toml:"synthesis_attempts"`
	BackoffInitialMillis      int    `toml:"backoff_initial_ms"`
	BackoffMaxMillis          int    `toml:"backoff_max_ms"`
	SynthesisTimeoutSeconds   int    `toml:"synthesis_timeout_seconds"`
	CompositionTimeoutSeconds int    `toml:"composition_timeout_seconds"`
	DefaultCategory           string `toml:"default_category"`
	DefaultWindow             string `toml:"default_window"`
	DefaultLimit              int    `toml:"default_limit"`
	MaxLimit                  int    `toml:"max_limit"`
}

// SourceConfig holds the content API and download settings.
type SourceConfig struct {
	BaseURL                string   `toml:"base_url"`
	UserAgent              string   `toml:"user_agent"`
	TimeoutSeconds         int      `toml:"timeout_seconds"`
	MinScore               int      `toml:"min_score"`
	AllowNSFW              bool     `toml:"allow_nsfw"`
	BoostKeywords          []string `toml:"boost_keywords"`
	DownloadTimeoutSeconds int      `toml:"download_timeout_seconds"`
	MaxDownloadBytes       int64    `toml:"max_download_bytes"`
}

// OCRConfig holds the OCR engine settings.
type OCRConfig struct {
	Binary   string `toml:"binary"`
	Language string `toml:"language"`
}

// SynthesisConfig holds the speech API settings. Credentials come from the
// environment, never from this file.
type SynthesisConfig struct {
	BaseURL        string `toml:"base_url"`
	Voice          string `toml:"voice"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// VideoConfig holds the encoder settings.
type VideoConfig struct {
	FFmpegPath   string `toml:"ffmpeg_path"`
	Encoder      string `toml:"encoder"`
	Preset       string `toml:"preset"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	FPS          int    `toml:"fps"`
	AudioBitrate string `toml:"audio_bitrate"`
	OutputDir    string `toml:"output_dir"`
	Compile      bool   `toml:"compile"`
	TitleCard    string `toml:"title_card"`
	EndCard      string `toml:"end_card"`
	CardSeconds  int    `toml:"card_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `toml:"url"`
	JobRequestSubject string `toml:"job_request_subject"`
	ManifestSubject   string `toml:"manifest_subject"`
	ArtifactBucket    string `toml:"artifact_bucket"`
}

// HTTPConfig holds the job API settings. An empty address disables the API.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// HistoryConfig locates the processed-item database. An empty path disables it.
type HistoryConfig struct {
	DBPath string `toml:"db_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Job       JobConfig       `toml:"job"`
	Source    SourceConfig    `toml:"source"`
	OCR       OCRConfig       `toml:"ocr"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Video     VideoConfig     `toml:"video"`
	NATS      NATSConfig      `toml:"nats"`
	HTTP      HTTPConfig      `toml:"http"`
	History   HistoryConfig   `toml:"history"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the reel-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile reads the configuration from an explicit TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	c.applyJobDefaults()

	if c.Source.BaseURL == "" {
		c.Source.BaseURL = DefaultSourceURL
	}

	if c.Source.DownloadTimeoutSeconds == 0 {
		c.Source.DownloadTimeoutSeconds = DefaultDownloadTimeout
	}

	if c.Source.MaxDownloadBytes == 0 {
		c.Source.MaxDownloadBytes = DefaultMaxDownloadBytes
	}

	if c.OCR.Binary == "" {
		c.OCR.Binary = DefaultOCRBinary
	}

	if c.OCR.Language == "" {
		c.OCR.Language = DefaultOCRLanguage
	}

	if c.Synthesis.Voice == "" {
		c.Synthesis.Voice = DefaultVoice
	}

	if c.Synthesis.TimeoutSeconds == 0 {
		c.Synthesis.TimeoutSeconds = DefaultSynthesisTimeout
	}

	c.applyVideoDefaults()

	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}

	if c.NATS.JobRequestSubject == "" {
		c.NATS.JobRequestSubject = DefaultRequestSubject
	}

	if c.NATS.ManifestSubject == "" {
		c.NATS.ManifestSubject = DefaultManifestSubject
	}

	if c.NATS.ArtifactBucket == "" {
		c.NATS.ArtifactBucket = DefaultArtifactBucket
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = filepath.Join(os.TempDir(), "reel-service", "logs")
	}
}

func (c *Config) applyJobDefaults() {
	if c.Job.Concurrency == 0 {
		c.Job.Concurrency = DefaultConcurrency
	}

	if c.Job.ScratchRoot == "" {
		c.Job.ScratchRoot = filepath.Join(os.TempDir(), "reel-service", "scratch")
	}

	if c.Job.ExtractionRetries == nil {
		retries := DefaultExtractionRetries
		c.Job.ExtractionRetries = &retries
	}

	if c.Job.SynthesisAttempts == 0 {
		c.Job.SynthesisAttempts = pipeline.DefaultSynthesisAttempts
	}

	if c.Job.DefaultWindow == "" {
		c.Job.DefaultWindow = DefaultWindow
	}

	if c.Job.DefaultLimit == 0 {
		c.Job.DefaultLimit = DefaultLimit
	}

	if c.Job.MaxLimit == 0 {
		c.Job.MaxLimit = DefaultMaxLimit
	}
}

func (c *Config) applyVideoDefaults() {
	if c.Video.FFmpegPath == "" {
		c.Video.FFmpegPath = video.DefaultFFmpegPath
	}

	if c.Video.Encoder == "" {
		c.Video.Encoder = video.DefaultEncoder
	}

	if c.Video.Preset == "" {
		c.Video.Preset = video.DefaultPreset
	}

	if c.Video.Width == 0 {
		c.Video.Width = video.DefaultWidth
	}

	if c.Video.Height == 0 {
		c.Video.Height = video.DefaultHeight
	}

	if c.Video.FPS == 0 {
		c.Video.FPS = video.DefaultFPS
	}

	if c.Video.AudioBitrate == "" {
		c.Video.AudioBitrate = video.DefaultAudioBitrate
	}

	if c.Video.CardSeconds == 0 {
		c.Video.CardSeconds = int(video.DefaultCardDuration / time.Second)
	}

	if c.Video.OutputDir == "" {
		c.Video.OutputDir = filepath.Join(os.TempDir(), "reel-service", "videos")
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return ErrSourceURLEmpty
	}

	if strings.TrimSpace(c.Synthesis.BaseURL) == "" {
		return ErrSynthesisURLEmpty
	}

	if c.Job.Concurrency < 1 {
		return fmt.Errorf("%w: got %d", ErrConcurrencyRange, c.Job.Concurrency)
	}

	nonNegative := map[string]int{
		"job.extraction_retries":          derefInt(c.Job.ExtractionRetries),
		"job.synthesis_attempts":          c.Job.SynthesisAttempts,
		"job.backoff_initial_ms":          c.Job.BackoffInitialMillis,
		"job.backoff_max_ms":              c.Job.BackoffMaxMillis,
		"job.synthesis_timeout_seconds":   c.Job.SynthesisTimeoutSeconds,
		"job.composition_timeout_seconds": c.Job.CompositionTimeoutSeconds,
		"source.timeout_seconds":          c.Source.TimeoutSeconds,
		"synthesis.timeout_seconds":       c.Synthesis.TimeoutSeconds,
		"video.card_seconds":              c.Video.CardSeconds,
	}

	for name, value := range nonNegative {
		if value < 0 {
			return fmt.Errorf("%w: %s = %d", ErrNegativeValue, name, value)
		}
	}

	if derefInt(c.Job.ExtractionRetries) > MaxExtractionRetries {
		return fmt.Errorf("%w: got %d", ErrExtractionRetries, derefInt(c.Job.ExtractionRetries))
	}

	if c.Source.MaxDownloadBytes < 0 {
		return fmt.Errorf("%w: source.max_download_bytes = %d", ErrNegativeValue, c.Source.MaxDownloadBytes)
	}

	if c.Video.Width <= 0 || c.Video.Height <= 0 || c.Video.FPS <= 0 {
		return fmt.Errorf("%w: %dx%d@%d", ErrVideoCanvas, c.Video.Width, c.Video.Height, c.Video.FPS)
	}

	if c.Job.DefaultLimit > c.Job.MaxLimit {
		return fmt.Errorf("%w: %d > %d", ErrDefaultLimit, c.Job.DefaultLimit, c.Job.MaxLimit)
	}

	return nil
}

// PipelineOptions converts the job section into orchestrator options.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Concurrency:        c.Job.Concurrency,
		ScratchRoot:        c.Job.ScratchRoot,
		ExtractionAttempts: derefInt(c.Job.ExtractionRetries) + 1,
		SynthesisAttempts:  c.Job.SynthesisAttempts,
		BackoffInitial:     time.Duration(c.Job.BackoffInitialMillis) * time.Millisecond,
		BackoffMax:         time.Duration(c.Job.BackoffMaxMillis) * time.Millisecond,
		SynthesisTimeout:   seconds(c.Job.SynthesisTimeoutSeconds),
		CompositionTimeout: seconds(c.Job.CompositionTimeoutSeconds),
	}
}

// SourceOptions converts the source section into content API client options.
func (c *Config) SourceOptions() source.Options {
	return source.Options{
		BaseURL:       c.Source.BaseURL,
		UserAgent:     c.Source.UserAgent,
		Timeout:       seconds(c.Source.TimeoutSeconds),
		MinScore:      c.Source.MinScore,
		AllowNSFW:     c.Source.AllowNSFW,
		BoostKeywords: c.Source.BoostKeywords,
	}
}

// VideoOptions converts the video section into encoder options.
func (c *Config) VideoOptions() video.Options {
	return video.Options{
		FFmpegPath:   c.Video.FFmpegPath,
		Encoder:      c.Video.Encoder,
		Preset:       c.Video.Preset,
		Width:        c.Video.Width,
		Height:       c.Video.Height,
		FPS:          c.Video.FPS,
		AudioBitrate: c.Video.AudioBitrate,
		OutputDir:    c.Video.OutputDir,
		TitleCard:    c.Video.TitleCard,
		EndCard:      c.Video.EndCard,
		CardDuration: time.Duration(c.Video.CardSeconds) * time.Second,
	}
}

// ServiceOptions converts the job and video sections into job service options.
func (c *Config) ServiceOptions() service.Options {
	return service.Options{
		OutputDir: c.Video.OutputDir,
		Compile:   c.Video.Compile,
		DefaultQuery: core.Query{
			Category: c.Job.DefaultCategory,
			Window:   c.Job.DefaultWindow,
			Limit:    c.Job.DefaultLimit,
		},
		MaxLimit: c.Job.MaxLimit,
	}
}

// DownloadTimeout returns the per-image download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return seconds(c.Source.DownloadTimeoutSeconds)
}

// SynthesisTimeout returns the HTTP timeout of the speech client.
func (c *Config) SynthesisTimeout() time.Duration {
	return seconds(c.Synthesis.TimeoutSeconds)
}

// EnvCredentials reads the synthesis credential pair from the environment on
// every call, so a rotated pair is picked up without a restart.
type EnvCredentials struct{}

// Credentials returns the pair or ErrCredentialsMissing.
func (EnvCredentials) Credentials(_ context.Context) (core.Credentials, error) {
	creds := core.Credentials{
		Key:    os.Getenv(EnvSynthesisKey),
		Secret: os.Getenv(EnvSynthesisSecret),
	}

	if creds.Empty() {
		return core.Credentials{}, fmt.Errorf("%w: set %s and %s", ErrCredentialsMissing, EnvSynthesisKey, EnvSynthesisSecret)
	}

	return creds, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}

	return *p
}
