// Package headlines holds the types shared by the feed loader and its
// collaborators: the remote source, the durable cache and the reset
// bookkeeping.
package headlines

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("resource not found")
)

type (
	// FeedItem is a single news article as the api and the ui see it.
	FeedItem struct {
		ID             string   `json:"uuid"`
		Title          string   `json:"title"`
		Body           *string  `json:"description"`
		Keywords       *string  `json:"keywords"`
		Snippet        *string  `json:"snippet"`
		Link           string   `json:"url"`
		ImageLink      *string  `json:"image_url"`
		Language       *string  `json:"language"`
		PublishedAt    string   `json:"published_at"`
		Source         *string  `json:"source"`
		Categories     []string `json:"categories"`
		RelevanceScore *string  `json:"relevance_score"`
		Locale         *string  `json:"locale"`
	}

	// PageWindow identifies one slice of an ordered collection. Pages are 1-indexed.
	PageWindow struct {
		Page int
		Size int
	}

	// LoadRequest is what the ui asks of the loader on a scroll or refresh.
	LoadRequest struct {
		Direction Direction
		UseCache  bool
		Reset     bool
	}
)

// Offset is the zero based index of the first item in the window.
//
// Windows with a page or size below one are empty and have no offset.
func (w PageWindow) Offset() (int, bool) {
	if w.Page < 1 || w.Size < 1 {
		return 0, false
	}
	return (w.Page - 1) * w.Size, true
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "unknown"
	}
}

// ParseDirection accepts the names produced by [Direction.String].
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward", "down":
		return Forward, nil
	case "backward", "up":
		return Backward, nil
	default:
		return 0, errors.New("direction must be forward or backward")
	}
}

type (
	// PageReader reads a page of already downloaded items.
	PageReader interface {
		FetchPage(ctx context.Context, page, pageSize int) ([]FeedItem, error)
	}

	// Source fetches a page of items from wherever they're authoritative.
	Source interface {
		FetchPage(ctx context.Context, page, pageSize int) ([]FeedItem, error)
	}

	// Purger empties the durable store.
	Purger interface {
		PurgeAll(ctx context.Context) error
	}

	// Store is the durable, deduplicated cache of feed items.
	Store interface {
		PageReader
		Purger
		// Inserts the items that aren't present yet. Existing ids are left alone.
		UpsertAll(ctx context.Context, items []FeedItem) error
	}

	// DayStore persists the calendar day of the last cache reset.
	DayStore interface {
		// Returns false when no reset has ever been recorded.
		LastResetDay(ctx context.Context) (string, bool, error)
		SetLastResetDay(ctx context.Context, day string) error
	}

	// AtomicResetter can purge the store and record the reset day in one step.
	AtomicResetter interface {
		PurgeAndMarkReset(ctx context.Context, day string) error
	}
)
