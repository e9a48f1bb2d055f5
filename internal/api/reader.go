package api

import (
	"fmt"
	"net/http"
	"net/url"

	readability "github.com/go-shiori/go-readability"
	"github.com/gorilla/mux"
	"github.com/sym01/htmlsanitizer"

	hlerrs "github.com/jdholdren/headlines/internal/errors"
)

type ReaderResp struct {
	ID            string  `json:"uuid"`
	URL           string  `json:"url"`
	Title         string  `json:"title"`
	Description   *string `json:"description"`
	Source        *string `json:"source"`
	PublishedAt   string  `json:"published_at"`
	ReaderContent string  `json:"reader_content"`
}

func (s *Server) getReader(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		itemID = mux.Vars(r)["itemID"]
	)

	// Cache results for less processing and prevent refetches
	if resp, ok := s.readerRespCache.Get(itemID); ok {
		return writeJSON(w, http.StatusOK, resp)
	}

	item, err := s.items.Item(ctx, itemID)
	if err != nil {
		return err
	}

	u, err := url.Parse(item.Link)
	if err != nil {
		return hlerrs.E(hlerrs.KindInvalid, fmt.Errorf("error with the item's url: %s", err))
	}

	// Fetch the actual site
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.Link, nil)
	if err != nil {
		return err
	}
	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return hlerrs.E(hlerrs.KindTransport, fmt.Errorf("error fetching article: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return hlerrs.E(hlerrs.KindTransport, fmt.Errorf("article answered with status %d", resp.StatusCode))
	}

	// Strip it for readability and sanitize
	parser := readability.NewParser()
	article, err := parser.Parse(resp.Body, u)
	if err != nil {
		return hlerrs.E(hlerrs.KindDecode, fmt.Errorf("error extracting article: %w", err))
	}

	sanitizer := htmlsanitizer.NewHTMLSanitizer()
	contents, err := sanitizer.SanitizeString(article.Content)
	if err != nil {
		return err
	}

	ret := ReaderResp{
		ID:            item.ID,
		URL:           item.Link,
		Title:         item.Title,
		Description:   item.Body,
		Source:        item.Source,
		PublishedAt:   item.PublishedAt,
		ReaderContent: contents,
	}
	// Add to the cache for next time
	s.readerRespCache.Add(item.ID, ret)

	return writeJSON(w, http.StatusOK, ret)
}
