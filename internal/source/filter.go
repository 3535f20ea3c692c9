package source

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/book-expert/reel-service/internal/core"
)

const derivedIDLength = 12

var mediaTypesByExt = map[string]core.MediaType{
	".jpg":  core.MediaJPEG,
	".jpeg": core.MediaJPEG,
	".png":  core.MediaPNG,
}

// MediaTypeOf returns the media type for a still-image URL. GIFs, gifv links and
// extensionless URLs are not supported.
func MediaTypeOf(rawURL string) (core.MediaType, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "", false
	}

	mediaType, ok := mediaTypesByExt[strings.ToLower(path.Ext(parsed.Path))]

	return mediaType, ok
}

// boost moves items whose title contains one of keywords to the front. Relative
// order inside both groups is unchanged.
func boost(items []core.SourceItem, keywords []string) []core.SourceItem {
	if len(keywords) == 0 {
		return items
	}

	boosted := make([]core.SourceItem, 0, len(items))
	rest := make([]core.SourceItem, 0, len(items))

	for _, item := range items {
		if titleMatches(item.Title, keywords) {
			boosted = append(boosted, item)
		} else {
			rest = append(rest, item)
		}
	}

	return append(boosted, rest...)
}

func titleMatches(title string, keywords []string) bool {
	lowered := strings.ToLower(title)

	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(lowered, keyword) {
			return true
		}
	}

	return false
}

func itemID(p post) string {
	if p.ID != "" {
		return p.ID
	}

	sum := sha256.Sum256([]byte(p.URL))

	return hex.EncodeToString(sum[:])[:derivedIDLength]
}
