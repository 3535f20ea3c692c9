// Package core defines the domain types, stage contracts and error taxonomy of the
// reel pipeline.
package core

import "context"

// ArtifactStore defines the interface for interacting with a key-value blob store.
type ArtifactStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	UploadFile(ctx context.Context, key, path string) error
}

// Query selects candidate items from the content API.
type Query struct {
	Category string `json:"category"`
	Window   string `json:"window"`
	Limit    int    `json:"limit"`
}

// SourceFetcher retrieves a ranked list of image items.
type SourceFetcher interface {
	Fetch(ctx context.Context, query Query) ([]SourceItem, error)
}

// AssetDownloader retrieves the bytes of an item into the job's scratch directory.
// The destination is derived from the item ID only.
type AssetDownloader interface {
	Download(ctx context.Context, scratchDir string, item SourceItem) (LocalAsset, error)
}

// TextExtractor runs OCR over a downloaded image.
type TextExtractor interface {
	Extract(ctx context.Context, asset LocalAsset) (ExtractedText, error)
}

// NarrationSynthesizer turns non-empty extracted text into narration audio.
type NarrationSynthesizer interface {
	Synthesize(ctx context.Context, text ExtractedText) (NarrationClip, error)
}

// VideoComposer combines a still image and a narration clip into a video clip.
type VideoComposer interface {
	Compose(ctx context.Context, asset LocalAsset, clip NarrationClip) (ComposedVideo, error)
}

// CredentialProvider supplies the pre-shared synthesis credential pair.
// Refreshing credentials is the provider's concern.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// SeenFilter reports whether a source URL was already turned into a video.
type SeenFilter interface {
	Seen(ctx context.Context, url string) (bool, error)
}
