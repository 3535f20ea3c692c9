// Package download stores source images in a job's scratch directory.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/fsutil"
)

const (
	sourceBaseName   = "source"
	partialSuffix    = ".part"
	defaultTimeout   = 2 * time.Minute
	defaultMaxBytes  = 50 << 20
	headerUserAgent  = "User-Agent"
	defaultUserAgent = "reel-service/1.0"
)

var (
	// ErrUnexpectedStatus is returned for non-200 responses.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrTooLarge is returned when the body exceeds the configured maximum.
	ErrTooLarge = errors.New("asset exceeds size limit")
	// ErrEmptyBody is returned when the server sends no bytes.
	ErrEmptyBody = errors.New("asset is empty")
)

var extensions = map[core.MediaType]string{
	core.MediaJPEG: ".jpg",
	core.MediaPNG:  ".png",
}

// HTTPDownloader implements core.AssetDownloader using plain HTTP GET.
type HTTPDownloader struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPDownloader creates a downloader. Zero values select defaults.
func NewHTTPDownloader(timeout time.Duration, userAgent string, maxBytes int64) *HTTPDownloader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &HTTPDownloader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}
}

// Destination returns the deterministic path an item is stored at inside scratchDir.
func Destination(scratchDir string, item core.SourceItem) string {
	ext, ok := extensions[item.MediaType]
	if !ok {
		ext = filepath.Ext(item.URL)
	}

	return filepath.Join(fsutil.ItemDir(scratchDir, item.ID), sourceBaseName+ext)
}

// Download streams the item into "<dest>.part" and renames it into place. A failed
// call leaves no file behind.
func (d *HTTPDownloader) Download(ctx context.Context, scratchDir string, item core.SourceItem) (core.LocalAsset, error) {
	dest := Destination(scratchDir, item)

	size, checksum, err := d.fetch(ctx, item.URL, dest)
	if err != nil {
		return core.LocalAsset{}, fmt.Errorf("%w: %s: %w", core.ErrDownloadFailed, item.ID, err)
	}

	return core.LocalAsset{
		ItemID:   item.ID,
		Path:     dest,
		Size:     size,
		Checksum: checksum,
	}, nil
}

func (d *HTTPDownloader) fetch(ctx context.Context, rawURL, dest string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerUserAgent, d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	err = fsutil.EnsureDir(filepath.Dir(dest))
	if err != nil {
		return 0, "", err
	}

	partial := dest + partialSuffix
	digest := sha256.New()

	size, err := d.writePartial(partial, resp.Body, digest)
	if err != nil {
		_ = os.Remove(partial)

		return 0, "", err
	}

	err = os.Rename(partial, dest)
	if err != nil {
		_ = os.Remove(partial)

		return 0, "", fmt.Errorf("failed to move asset into place: %w", err)
	}

	return size, hex.EncodeToString(digest.Sum(nil)), nil
}

// writePartial copies body to path, hashing as it goes, and syncs before closing.
func (d *HTTPDownloader) writePartial(path string, body io.Reader, digest hash.Hash) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fsutil.FilePermissions)
	if err != nil {
		return 0, fmt.Errorf("failed to create partial file: %w", err)
	}

	limited := io.LimitReader(body, d.maxBytes+1)

	size, copyErr := io.Copy(io.MultiWriter(file, digest), limited)
	if copyErr == nil && size > d.maxBytes {
		copyErr = fmt.Errorf("%w: more than %s", ErrTooLarge, fsutil.FormatFileSize(d.maxBytes))
	}

	if copyErr == nil && size == 0 {
		copyErr = ErrEmptyBody
	}

	if copyErr == nil {
		copyErr = file.Sync()
	}

	closeErr := file.Close()

	if copyErr != nil {
		return 0, fmt.Errorf("failed to write asset: %w", copyErr)
	}

	if closeErr != nil {
		return 0, fmt.Errorf("failed to close asset: %w", closeErr)
	}

	return size, nil
}
