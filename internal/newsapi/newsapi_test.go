package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hlerrs "github.com/jdholdren/headlines/internal/errors"
	"github.com/jdholdren/headlines/internal/headlines"
	"github.com/jdholdren/headlines/internal/metrics"
)

const testSuccessBody = `{
	"meta": {
		"found": 1151755,
		"returned": 1,
		"limit": 10,
		"page": 1
	},
	"data": [
		{
			"uuid": "1",
			"title": "Title 1",
			"description": "<p>Description 1</p>",
			"keywords": "keyword1",
			"snippet": "Snippet 1",
			"url": "https://example.com",
			"image_url": "https://example.com/image.jpg",
			"language": "en",
			"published_at": "2024-11-21T00:00:00.000000Z",
			"source": "Source 1",
			"categories": ["Category1"],
			"relevance_score": "0.9",
			"locale": "us"
		}
	]
}`

const testErrorBody = `{
	"error": {
		"code": "invalid_api_token",
		"message": "An invalid API token was supplied."
	}
}`

type fakeCache struct {
	items []headlines.FeedItem
	err   error
}

func (f *fakeCache) UpsertAll(_ context.Context, items []headlines.FeedItem) error {
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, items...)
	return nil
}

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, chan *http.Request) {
	t.Helper()

	var (
		calls = &atomic.Int32{}
		reqs  = make(chan *http.Request, 8)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		reqs <- r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, calls, reqs
}

func TestFetchPage_Success(t *testing.T) {
	var (
		srv, _, reqs = newTestServer(t, http.StatusOK, testSuccessBody)
		cache        = &fakeCache{}
		m            = metrics.NewDefault()
		c            = New(Config{BaseURL: srv.URL, APIKey: "secret"}, cache, m)
	)

	items, err := c.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "1", item.ID)
	assert.Equal(t, "Title 1", item.Title)
	assert.Equal(t, "Description 1", *item.Body, "html is stripped")
	assert.Equal(t, "https://example.com", item.Link)
	assert.Equal(t, "2024-11-21T00:00:00.000000Z", item.PublishedAt)
	assert.Equal(t, []string{"Category1"}, item.Categories)
	assert.Equal(t, "0.9", *item.RelevanceScore)

	// Written through to the cache.
	assert.Equal(t, items, cache.items)

	req := <-reqs
	assert.Equal(t, "secret", req.URL.Query().Get("api_token"))
	assert.Equal(t, "us", req.URL.Query().Get("locale"))
	assert.Equal(t, "1", req.URL.Query().Get("page"))
	assert.Equal(t, "10", req.URL.Query().Get("limit"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RemotePagesTotal.WithLabelValues("ok")))
}

func TestFetchPage_APIErrorWithOKStatus(t *testing.T) {
	var (
		srv, _, _ = newTestServer(t, http.StatusOK, testErrorBody)
		cache     = &fakeCache{}
		c         = New(Config{BaseURL: srv.URL, APIKey: "bad"}, cache, nil)
	)

	_, err := c.FetchPage(context.Background(), 1, 10)
	require.Error(t, err)

	var hlErr *hlerrs.Error
	require.ErrorAs(t, err, &hlErr)
	assert.Equal(t, hlerrs.KindAPI, hlErr.Kind)
	assert.Equal(t, hlerrs.Code("invalid_api_token"), hlErr.Code)
	assert.Equal(t, "An invalid API token was supplied.", hlerrs.Message(err))
	assert.Empty(t, cache.items)
}

func TestFetchPage_APIErrorWithErrorStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, http.StatusUnauthorized, testErrorBody)
	c := New(Config{BaseURL: srv.URL, APIKey: "bad"}, &fakeCache{}, nil)

	_, err := c.FetchPage(context.Background(), 1, 10)
	assert.True(t, hlerrs.Is(err, hlerrs.KindAPI))
}

func TestFetchPage_EmptyAPIKey(t *testing.T) {
	srv, calls, _ := newTestServer(t, http.StatusOK, testSuccessBody)
	c := New(Config{BaseURL: srv.URL, APIKey: ""}, &fakeCache{}, nil)

	_, err := c.FetchPage(context.Background(), 1, 10)
	require.Error(t, err)
	assert.True(t, hlerrs.Is(err, hlerrs.KindConfig))
	assert.Zero(t, calls.Load(), "no request is made without a key")
}

func TestFetchPage_BadStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, http.StatusInternalServerError, `oops`)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret"}, &fakeCache{}, nil)

	_, err := c.FetchPage(context.Background(), 1, 10)
	assert.True(t, hlerrs.Is(err, hlerrs.KindTransport))
}

func TestFetchPage_TransportError(t *testing.T) {
	srv, _, _ := newTestServer(t, http.StatusOK, testSuccessBody)
	srv.Close()
	c := New(Config{BaseURL: srv.URL, APIKey: "very-secret"}, &fakeCache{}, nil)

	_, err := c.FetchPage(context.Background(), 1, 10)
	require.Error(t, err)
	assert.True(t, hlerrs.Is(err, hlerrs.KindTransport))
	assert.NotContains(t, err.Error(), "very-secret")
}

func TestFetchPage_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>nope</html>`},
		{name: "missing meta", body: `{"data": []}`},
		{name: "missing data", body: `{"meta": {"found": 0, "returned": 0, "limit": 10, "page": 1}}`},
		{name: "wrong typed meta", body: `{"meta": {"found": "lots"}, "data": []}`},
		{name: "wrong typed title", body: `{"meta": {}, "data": [{"uuid": "1", "title": 7, "url": "https://e.com", "published_at": "2024-11-21T00:00:00Z"}]}`},
		{name: "wrong typed categories", body: `{"meta": {}, "data": [{"uuid": "1", "title": "t", "url": "https://e.com", "published_at": "2024-11-21T00:00:00Z", "categories": "general"}]}`},
		{name: "missing uuid", body: `{"meta": {}, "data": [{"title": "t", "url": "https://e.com", "published_at": "2024-11-21T00:00:00Z"}]}`},
		{name: "missing url", body: `{"meta": {}, "data": [{"uuid": "1", "title": "t", "published_at": "2024-11-21T00:00:00Z"}]}`},
		{name: "relative url", body: `{"meta": {}, "data": [{"uuid": "1", "title": "t", "url": "/story", "published_at": "2024-11-21T00:00:00Z"}]}`},
		{name: "bad date", body: `{"meta": {}, "data": [{"uuid": "1", "title": "t", "url": "https://e.com", "published_at": "yesterday"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				srv, _, _ = newTestServer(t, http.StatusOK, tt.body)
				cache     = &fakeCache{}
				c         = New(Config{BaseURL: srv.URL, APIKey: "secret"}, cache, nil)
			)

			_, err := c.FetchPage(context.Background(), 1, 10)
			require.Error(t, err)
			assert.True(t, hlerrs.Is(err, hlerrs.KindDecode), "got %v", err)
			assert.Empty(t, cache.items)
		})
	}
}

func TestFetchPage_CacheFailureDoesNotFail(t *testing.T) {
	var (
		srv, _, _ = newTestServer(t, http.StatusOK, testSuccessBody)
		m         = metrics.NewDefault()
		c         = New(Config{BaseURL: srv.URL, APIKey: "secret"}, &fakeCache{err: errors.New("disk full")}, m)
	)

	items, err := c.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheWriteErrors))
}

func TestFetchPage_EmptyPage(t *testing.T) {
	srv, _, _ := newTestServer(t, http.StatusOK, `{"meta": {"found": 0, "returned": 0, "limit": 10, "page": 9}, "data": []}`)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret"}, &fakeCache{}, nil)

	items, err := c.FetchPage(context.Background(), 9, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetchPage_SanitizedTextIsPlain(t *testing.T) {
	var (
		long = strings.Repeat("a", maxTextBytes-1) + "é tail"
		body = map[string]any{
			"meta": map[string]int{"found": 1, "returned": 1, "limit": 10, "page": 1},
			"data": []map[string]any{{
				"uuid":         "1",
				"title":        "Title 1",
				"description":  `<p>AT&T says "hi" to <b>Tom's</b> team</p>`,
				"snippet":      long,
				"url":          "https://example.com",
				"published_at": "2024-11-21T00:00:00Z",
			}},
		}
	)
	byts, err := json.Marshal(body)
	require.NoError(t, err)

	var (
		srv, _, _ = newTestServer(t, http.StatusOK, string(byts))
		cache     = &fakeCache{}
		c         = New(Config{BaseURL: srv.URL, APIKey: "secret"}, cache, nil)
	)

	items, err := c.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, `AT&T says "hi" to Tom's team`, *items[0].Body)

	snippet := *items[0].Snippet
	assert.True(t, utf8.ValidString(snippet))
	assert.Equal(t, strings.Repeat("a", maxTextBytes-1), snippet, "the split rune is dropped whole")

	// What gets cached is the same plain text.
	assert.Equal(t, items, cache.items)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abé", 3))
	assert.Equal(t, "abé", truncate("abé", 4))
	assert.Equal(t, "", truncate("é", 1))
}
