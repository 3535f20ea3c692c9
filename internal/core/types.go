package core

import (
	"context"
	"time"
)

// MediaType tags the kind of media a source item points to.
type MediaType string

// Supported media types.
const (
	MediaJPEG MediaType = "image/jpeg"
	MediaPNG  MediaType = "image/png"
)

// SourceItem is one candidate image from the content API. Immutable once fetched.
type SourceItem struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	MediaType MediaType `json:"media_type"`
	Title     string    `json:"title,omitempty"`
	Score     int       `json:"score,omitempty"`
	NSFW      bool      `json:"nsfw,omitempty"`
	Category  string    `json:"category,omitempty"`
}

// LocalAsset is a completely downloaded source image in scratch storage.
type LocalAsset struct {
	// JobID groups the item's composed output with the rest of its job.
	JobID    string
	ItemID   string
	Path     string
	Size     int64
	Checksum string
}

// ExtractedText is the OCR result for one asset. Empty Text is a valid result.
type ExtractedText struct {
	ItemID     string
	Text       string
	Confidence float64
}

// NarrationClip is synthesized speech for one item.
type NarrationClip struct {
	ItemID   string
	Audio    []byte
	Duration time.Duration
	// Estimated is set when Duration was derived from the word count instead of
	// the audio header.
	Estimated bool
}

// ComposedVideo is a finished per-item video clip.
type ComposedVideo struct {
	ItemID   string        `json:"item_id" yaml:"item_id"`
	Path     string        `json:"path" yaml:"path"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Credentials is the key/secret pair for the speech API.
type Credentials struct {
	Key    string
	Secret string
}

// String never prints the secret.
func (c Credentials) String() string {
	if c.Key == "" {
		return "Credentials{<empty>}"
	}

	return "Credentials{key=" + c.Key + ", secret=<redacted>}"
}

// Empty reports whether either half of the pair is missing.
func (c Credentials) Empty() bool {
	return c.Key == "" || c.Secret == ""
}

// StaticCredentials is a CredentialProvider holding a fixed pair.
type StaticCredentials Credentials

// Credentials returns the fixed pair.
func (s StaticCredentials) Credentials(_ context.Context) (Credentials, error) {
	return Credentials(s), nil
}
