// Package ocr extracts narration text from still images.
package ocr

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
)

// Extractor implements core.TextExtractor on top of a Recognizer.
type Extractor struct {
	recognizer Recognizer
	normalizer *Normalizer
	log        *logger.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(recognizer Recognizer, log *logger.Logger) *Extractor {
	return &Extractor{
		recognizer: recognizer,
		normalizer: NewNormalizer(),
		log:        log,
	}
}

// Extract recognizes and normalizes the asset's text. Finding no text is not an
// error: the result then has empty Text.
func (e *Extractor) Extract(ctx context.Context, asset core.LocalAsset) (core.ExtractedText, error) {
	recognition, err := e.recognizer.Recognize(ctx, asset.Path)
	if err != nil {
		return core.ExtractedText{}, fmt.Errorf("%w: %s: %w", core.ErrExtractionFailed, asset.ItemID, err)
	}

	text := e.normalizer.Normalize(recognition.Text)
	confidence := recognition.Confidence

	if text == "" {
		confidence = 0
	}

	e.log.Info("[ITEM %s] OCR produced %d characters (confidence %.2f)", asset.ItemID, len(text), confidence)

	return core.ExtractedText{
		ItemID:     asset.ItemID,
		Text:       text,
		Confidence: confidence,
	}, nil
}
