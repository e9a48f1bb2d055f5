package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/jdholdren/headlines/internal/headlines"
)

// FeedResp is a snapshot of what the loader holds.
type FeedResp struct {
	Items       []headlines.FeedItem `json:"items"`
	CurrentPage int                  `json:"current_page"`
	State       string               `json:"state"`
	LastError   string               `json:"last_error,omitempty"`
}

func (s *Server) snapshot() FeedResp {
	return FeedResp{
		Items:       s.loader.Items(),
		CurrentPage: s.loader.CurrentPage(),
		State:       s.loader.State().String(),
		LastError:   s.loader.LastError(),
	}
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.snapshot())
}

type PostFeedLoadReq struct {
	Direction string `json:"direction"`
	UseCache  bool   `json:"use_cache"`
	Reset     bool   `json:"reset"`

	direction headlines.Direction
}

func (req *PostFeedLoadReq) Validate() error {
	if req == nil {
		return errors.New("request body is required")
	}
	if req.Direction == "" {
		req.Direction = headlines.Forward.String()
	}

	d, err := headlines.ParseDirection(req.Direction)
	if err != nil {
		return err
	}
	req.direction = d

	return nil
}

type PostFeedLoadResp struct {
	Outcome string   `json:"outcome"`
	Feed    FeedResp `json:"feed"`
}

func (s *Server) postFeedLoad(w http.ResponseWriter, r *http.Request) error {
	body, err := decodeValid[*PostFeedLoadReq](r.Body)
	if err != nil {
		return err
	}

	// A load that started finishes even if the client goes away, otherwise
	// the cursor and items would be left for nobody.
	ctx := context.WithoutCancel(r.Context())
	outcome := s.loader.Load(ctx, headlines.LoadRequest{
		Direction: body.direction,
		UseCache:  body.UseCache,
		Reset:     body.Reset,
	})

	return writeJSON(w, http.StatusOK, PostFeedLoadResp{
		Outcome: outcome.String(),
		Feed:    s.snapshot(),
	})
}
