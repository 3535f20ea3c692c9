package narration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
)

const (
	wordsPerSecond  = 2.5
	minimumDuration = time.Second
)

// Speaker is the transport a Synthesizer uses.
type Speaker interface {
	Speak(ctx context.Context, req SpeakRequest, creds core.Credentials) ([]byte, error)
}

// Synthesizer implements core.NarrationSynthesizer.
type Synthesizer struct {
	speaker     Speaker
	credentials core.CredentialProvider
	voice       string
	log         *logger.Logger
}

// NewSynthesizer creates a synthesizer speaking with voice.
func NewSynthesizer(speaker Speaker, credentials core.CredentialProvider, voice string, log *logger.Logger) *Synthesizer {
	return &Synthesizer{
		speaker:     speaker,
		credentials: credentials,
		voice:       voice,
		log:         log,
	}
}

// Synthesize performs one speak call. Retrying is left to the caller.
func (s *Synthesizer) Synthesize(ctx context.Context, text core.ExtractedText) (core.NarrationClip, error) {
	if strings.TrimSpace(text.Text) == "" {
		return core.NarrationClip{}, fmt.Errorf("%w: %s: %w", core.ErrSynthesisRejected, text.ItemID, ErrSpeechEmpty)
	}

	creds, err := s.credentials.Credentials(ctx)
	if err != nil {
		return core.NarrationClip{}, fmt.Errorf("%w: %s: credentials: %w", core.ErrSynthesisUnavailable, text.ItemID, err)
	}

	audio, err := s.speaker.Speak(ctx, SpeakRequest{Speech: text.Text, Voice: s.voice}, creds)
	if err != nil {
		return core.NarrationClip{}, fmt.Errorf("%s: %w", text.ItemID, err)
	}

	clip := core.NarrationClip{ItemID: text.ItemID, Audio: audio}

	info, parseErr := ParseWAV(audio)
	if parseErr == nil && info.Duration > 0 {
		clip.Duration = info.Duration
	} else {
		clip.Duration = EstimateDuration(text.Text)
		clip.Estimated = true

		s.log.Warn("[ITEM %s] Could not decode narration duration (%s), estimated %s: %v",
			text.ItemID, DetectFormat(audio), clip.Duration, parseErr)
	}

	return clip, nil
}

// EstimateDuration approximates speech length from the word count.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	estimate := time.Duration(float64(words) / wordsPerSecond * float64(time.Second))

	if estimate < minimumDuration {
		return minimumDuration
	}

	return estimate
}
