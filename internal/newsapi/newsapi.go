// Package newsapi fetches pages of top stories from TheNewsAPI and writes
// everything it receives through to the feed cache.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	hlerrs "github.com/jdholdren/headlines/internal/errors"
	"github.com/jdholdren/headlines/internal/headlines"
	"github.com/jdholdren/headlines/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.thenewsapi.com/v1/news/top"
	DefaultLocale  = "us"

	maxBodyBytes = 10 << 20
	maxTextBytes = 2048
)

var _ headlines.Source = (*Client)(nil)

type (
	Config struct {
		BaseURL string
		APIKey  string
		Locale  string
		Timeout time.Duration
	}

	// ItemWriter is where fetched items get written through to.
	ItemWriter interface {
		UpsertAll(ctx context.Context, items []headlines.FeedItem) error
	}

	// Client is the remote feed source.
	Client struct {
		cfg        Config
		httpClient *http.Client
		cache      ItemWriter
		metrics    *metrics.Metrics
	}
)

func New(cfg Config, cache ItemWriter, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NewDefault()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:   cache,
		metrics: m,
	}
}

// FetchPage gets one 1-indexed page of items.
//
// An api that answers with an error envelope fails with [hlerrs.KindAPI] even
// when the status is 200.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) ([]headlines.FeedItem, error) {
	items, err := c.fetchPage(ctx, page, pageSize)
	if err != nil {
		c.metrics.RemotePagesTotal.WithLabelValues(string(hlerrs.KindOf(err))).Inc()
		return nil, err
	}
	c.metrics.RemotePagesTotal.WithLabelValues("ok").Inc()

	// Write-through. The items are still good if the cache isn't.
	if err := c.cache.UpsertAll(ctx, items); err != nil {
		c.metrics.CacheWriteErrors.Inc()
		slog.WarnContext(ctx, "error caching fetched items", "page", page, "count", len(items), "error", err)
	}

	return items, nil
}

func (c *Client) fetchPage(ctx context.Context, page, pageSize int) ([]headlines.FeedItem, error) {
	if c.cfg.APIKey == "" {
		return nil, hlerrs.E(hlerrs.KindConfig, "Invalid API Key")
	}

	u, err := c.pageURL(page, pageSize)
	if err != nil {
		return nil, hlerrs.E(hlerrs.KindConfig, fmt.Errorf("error building request url: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, hlerrs.E(hlerrs.KindConfig, fmt.Errorf("error building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, hlerrs.E(hlerrs.KindTransport, redact(err, c.cfg.APIKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, hlerrs.E(hlerrs.KindTransport, fmt.Errorf("error reading response: %w", err))
	}

	if apiErr, ok := decodeErrorEnvelope(body); ok {
		return nil, apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, hlerrs.E(hlerrs.KindTransport, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	items, err := decodePage(body)
	if err != nil {
		return nil, hlerrs.E(hlerrs.KindDecode, err)
	}

	slog.DebugContext(ctx, "fetched remote page", "page", page, "limit", pageSize, "returned", len(items))

	return items, nil
}

func (c *Client) pageURL(page, pageSize int) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("api_token", c.cfg.APIKey)
	q.Set("locale", c.cfg.Locale)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// The transport error includes the url, which includes the token.
func redact(err error, key string) error {
	return fmt.Errorf("error fetching page: %s", strings.ReplaceAll(err.Error(), key, "REDACTED"))
}

type errorEnvelope struct {
	Error *struct {
		Code    *string `json:"code"`
		Message *string `json:"message"`
	} `json:"error"`
}

func decodeErrorEnvelope(body []byte) (*hlerrs.Error, bool) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	if env.Error == nil || env.Error.Code == nil || env.Error.Message == nil {
		return nil, false
	}

	return hlerrs.E(hlerrs.KindAPI, hlerrs.Code(*env.Error.Code), *env.Error.Message), true
}

type (
	pagedResponse struct {
		Meta *pageMeta  `json:"meta"`
		Data []wireItem `json:"data"`
	}

	pageMeta struct {
		Found    int `json:"found"`
		Returned int `json:"returned"`
		Limit    int `json:"limit"`
		Page     int `json:"page"`
	}

	// Required fields are pointers so a missing one can be told apart from an empty one.
	wireItem struct {
		UUID           *string  `json:"uuid"`
		Title          *string  `json:"title"`
		Description    *string  `json:"description"`
		Keywords       *string  `json:"keywords"`
		Snippet        *string  `json:"snippet"`
		URL            *string  `json:"url"`
		ImageURL       *string  `json:"image_url"`
		Language       *string  `json:"language"`
		PublishedAt    *string  `json:"published_at"`
		Source         *string  `json:"source"`
		Categories     []string `json:"categories"`
		RelevanceScore *string  `json:"relevance_score"`
		Locale         *string  `json:"locale"`
	}
)

func decodePage(body []byte) ([]headlines.FeedItem, error) {
	var resp pagedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error decoding feed page: %w", err)
	}
	if resp.Meta == nil {
		return nil, fmt.Errorf("error decoding feed page: missing meta")
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("error decoding feed page: missing data")
	}

	items := make([]headlines.FeedItem, 0, len(resp.Data))
	for i, w := range resp.Data {
		item, err := w.feedItem()
		if err != nil {
			return nil, fmt.Errorf("error decoding item %d: %w", i, err)
		}
		items = append(items, item)
	}

	return items, nil
}

func (w wireItem) feedItem() (headlines.FeedItem, error) {
	switch {
	case w.UUID == nil || *w.UUID == "":
		return headlines.FeedItem{}, fmt.Errorf("missing uuid")
	case w.Title == nil:
		return headlines.FeedItem{}, fmt.Errorf("item %s: missing title", *w.UUID)
	case w.URL == nil:
		return headlines.FeedItem{}, fmt.Errorf("item %s: missing url", *w.UUID)
	case w.PublishedAt == nil:
		return headlines.FeedItem{}, fmt.Errorf("item %s: missing published_at", *w.UUID)
	}

	if u, err := url.Parse(*w.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return headlines.FeedItem{}, fmt.Errorf("item %s: invalid url %q", *w.UUID, *w.URL)
	}
	if _, err := time.Parse(time.RFC3339, *w.PublishedAt); err != nil {
		return headlines.FeedItem{}, fmt.Errorf("item %s: invalid published_at: %w", *w.UUID, err)
	}

	return headlines.FeedItem{
		ID:             *w.UUID,
		Title:          *w.Title,
		Body:           sanitize(w.Description),
		Keywords:       w.Keywords,
		Snippet:        sanitize(w.Snippet),
		Link:           *w.URL,
		ImageLink:      w.ImageURL,
		Language:       w.Language,
		PublishedAt:    *w.PublishedAt,
		Source:         w.Source,
		Categories:     w.Categories,
		RelevanceScore: w.RelevanceScore,
		Locale:         w.Locale,
	}, nil
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the text, usually a description.
//
// Also limits the length of the string so there's not a massive chunk of text being cached.
func sanitize(s *string) *string {
	if s == nil {
		return nil
	}

	// The policy escapes what it keeps, the cache holds plain text.
	clean := strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(strings.TrimSpace(*s))))
	clean = truncate(clean, maxTextBytes)

	return &clean
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
