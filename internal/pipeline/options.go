package pipeline

import (
	"time"

	"github.com/book-expert/reel-service/internal/core"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultConcurrency        = 3
	DefaultExtractionAttempts = 2
	DefaultSynthesisAttempts  = 3
	DefaultBackoffInitial     = 500 * time.Millisecond
	DefaultBackoffMax         = 8 * time.Second
)

// Stages bundles the collaborators an Orchestrator drives.
type Stages struct {
	Fetcher     core.SourceFetcher
	Downloader  core.AssetDownloader
	Extractor   core.TextExtractor
	Synthesizer core.NarrationSynthesizer
	Composer    core.VideoComposer
}

// Options tunes concurrency, retries and timeouts of a job.
type Options struct {
	// Concurrency is the number of items in flight at once.
	Concurrency int
	// ScratchRoot holds one "job-<id>" directory per running job.
	ScratchRoot string
	// ExtractionAttempts is the total number of OCR calls per item.
	ExtractionAttempts int
	// SynthesisAttempts is the total number of speak calls for unavailable errors.
	SynthesisAttempts int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	// Zero disables the per-call timeout.
	SynthesisTimeout   time.Duration
	CompositionTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}

	if o.ExtractionAttempts <= 0 {
		o.ExtractionAttempts = DefaultExtractionAttempts
	}

	if o.SynthesisAttempts <= 0 {
		o.SynthesisAttempts = DefaultSynthesisAttempts
	}

	if o.BackoffInitial <= 0 {
		o.BackoffInitial = DefaultBackoffInitial
	}

	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = max(DefaultBackoffMax, o.BackoffInitial)
	}

	return o
}
