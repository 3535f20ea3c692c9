package core

import (
	"context"
	"errors"
)

// Error taxonomy. Stage implementations wrap their cause with one of these.
var (
	// ErrSourceUnavailable is job-fatal: there are no items to process.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrDownloadFailed indicates the source image could not be stored.
	ErrDownloadFailed = errors.New("download failed")
	// ErrExtractionFailed indicates an OCR engine error or an unreadable image.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrSynthesisUnavailable covers network and authentication failures.
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")
	// ErrSynthesisRejected means the speech API declined the input.
	ErrSynthesisRejected = errors.New("synthesis rejected")
	// ErrCompositionFailed indicates an encoder error.
	ErrCompositionFailed = errors.New("composition failed")
	// ErrCancelled marks items stopped by job cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrArtifactNotFound is returned by an ArtifactStore for an unknown key.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Kind names an error class in the manifest.
type Kind string

// Error kinds.
const (
	KindNone                 Kind = ""
	KindSourceUnavailable    Kind = "source_unavailable"
	KindDownloadFailed       Kind = "download_failed"
	KindExtractionFailed     Kind = "extraction_failed"
	KindSynthesisUnavailable Kind = "synthesis_unavailable"
	KindSynthesisRejected    Kind = "synthesis_rejected"
	KindCompositionFailed    Kind = "composition_failed"
	KindCancelled            Kind = "cancelled"
)

var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrCancelled, KindCancelled},
	{ErrSourceUnavailable, KindSourceUnavailable},
	{ErrDownloadFailed, KindDownloadFailed},
	{ErrExtractionFailed, KindExtractionFailed},
	{ErrSynthesisUnavailable, KindSynthesisUnavailable},
	{ErrSynthesisRejected, KindSynthesisRejected},
	{ErrCompositionFailed, KindCompositionFailed},
}

// KindOf classifies err. Context cancellation counts as KindCancelled.
// Unknown errors return KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	return KindNone
}

// Describe returns a short human label for a kind, used in summaries.
func (k Kind) Describe() string {
	switch k {
	case KindSourceUnavailable:
		return "source unavailable"
	case KindDownloadFailed:
		return "download failed"
	case KindExtractionFailed:
		return "extraction failed"
	case KindSynthesisUnavailable:
		return "synthesis unavailable"
	case KindSynthesisRejected:
		return "synthesis rejected"
	case KindCompositionFailed:
		return "composition failed"
	case KindCancelled:
		return "cancelled"
	case KindNone:
		return "unknown error"
	default:
		return string(k)
	}
}
