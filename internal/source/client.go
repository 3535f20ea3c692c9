// Package source fetches ranked still-image posts from a Reddit-style listing API.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
)

const (
	listingPathFormat = "/r/%s/top.json"
	headerUserAgent   = "User-Agent"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	defaultWindow     = "day"
	defaultUserAgent  = "reel-service/1.0"
	defaultTimeout    = 30 * time.Second
	maxListingBytes   = 8 << 20
)

// ErrCategoryEmpty is wrapped in ErrSourceUnavailable when the query names no category.
var ErrCategoryEmpty = errors.New("category cannot be empty")

// Options configures the listing client and its quality filter.
type Options struct {
	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	MinScore      int
	AllowNSFW     bool
	BoostKeywords []string
}

// Client implements core.SourceFetcher over HTTP.
type Client struct {
	httpClient *http.Client
	opts       Options
	seen       core.SeenFilter
	log        *logger.Logger
}

// NewClient creates a listing client. seen may be nil when no history is kept.
func NewClient(opts Options, seen core.SeenFilter, log *logger.Logger) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		seen:       seen,
		log:        log,
	}
}

// Fetch returns at most query.Limit still-image items in upstream rank order, with
// keyword-boosted titles first. Any upstream failure is ErrSourceUnavailable.
func (c *Client) Fetch(ctx context.Context, query core.Query) ([]core.SourceItem, error) {
	if query.Category == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrSourceUnavailable, ErrCategoryEmpty)
	}

	if query.Limit <= 0 {
		return []core.SourceItem{}, nil
	}

	body, err := c.get(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err)
	}

	var doc listing

	err = parseJSON(body, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err)
	}

	items := make([]core.SourceItem, 0, len(doc.Data.Children))
	ids := make(map[string]struct{}, len(doc.Data.Children))

	for _, child := range doc.Data.Children {
		item, keep := c.accept(ctx, child.Data, query.Category)
		if !keep {
			continue
		}

		if _, dup := ids[item.ID]; dup {
			continue
		}

		ids[item.ID] = struct{}{}
		items = append(items, item)
	}

	items = boost(items, c.opts.BoostKeywords)
	if len(items) > query.Limit {
		items = items[:query.Limit]
	}

	c.log.Info("Fetched %d of %d listed posts from r/%s (%s)",
		len(items), len(doc.Data.Children), query.Category, query.Window)

	return items, nil
}

func (c *Client) get(ctx context.Context, query core.Query) ([]byte, error) {
	window := query.Window
	if window == "" {
		window = defaultWindow
	}

	params := url.Values{}
	params.Set("t", window)
	params.Set("limit", strconv.Itoa(query.Limit))

	endpoint := c.opts.BaseURL + fmt.Sprintf(listingPathFormat, url.PathEscape(query.Category)) +
		"?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing request: %w", err)
	}

	req.Header.Set(headerUserAgent, c.opts.UserAgent)
	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach content API at %s: %w", c.opts.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content API returned non-OK status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}

	return body, nil
}

// accept applies the media, NSFW, score and history filters to one post.
func (c *Client) accept(ctx context.Context, p post, category string) (core.SourceItem, bool) {
	mediaType, ok := MediaTypeOf(p.URL)
	if !ok {
		return core.SourceItem{}, false
	}

	if p.Over18 && !c.opts.AllowNSFW {
		return core.SourceItem{}, false
	}

	if p.Score < c.opts.MinScore {
		return core.SourceItem{}, false
	}

	if c.seen != nil {
		seen, err := c.seen.Seen(ctx, p.URL)
		if err != nil {
			c.log.Warn("History lookup failed for %s, keeping item: %v", p.URL, err)
		} else if seen {
			return core.SourceItem{}, false
		}
	}

	if p.Subreddit != "" {
		category = p.Subreddit
	}

	return core.SourceItem{
		ID:        itemID(p),
		URL:       p.URL,
		MediaType: mediaType,
		Title:     p.Title,
		Score:     p.Score,
		NSFW:      p.Over18,
		Category:  category,
	}, true
}
