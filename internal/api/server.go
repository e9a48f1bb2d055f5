// Package api serves the feed to a ui shell: the loaded items, loading the
// next or previous pages, and a reader view of a single article.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/fx"

	"github.com/jdholdren/headlines/internal/feed"
	"github.com/jdholdren/headlines/internal/headlines"
	"github.com/jdholdren/headlines/internal/metrics"
)

type (
	// Loader is the part of the pagination coordinator the api drives.
	Loader interface {
		Load(ctx context.Context, req headlines.LoadRequest) feed.Outcome
		Items() []headlines.FeedItem
		CurrentPage() int
		State() feed.State
		LastError() string
	}

	// ItemFinder looks up a single cached item.
	ItemFinder interface {
		Item(ctx context.Context, id string) (headlines.FeedItem, error)
	}

	// Server is the HTTP api in front of the feed loader.
	Server struct {
		*http.Server

		fetchClient     *http.Client
		readerRespCache *lru.Cache[string, ReaderResp]

		loader  Loader
		items   ItemFinder
		metrics *metrics.Metrics
	}

	ServerConfig struct {
		Port       int
		CorsOrigin string
		// How long a feed load may run, the write timeout leaves room for it.
		LoadTimeout time.Duration
	}

	Params struct {
		fx.In

		Config  ServerConfig
		Loader  Loader
		Items   ItemFinder
		Metrics *metrics.Metrics
	}
)

func NewServer(lc fx.Lifecycle, p Params) *Server {
	srvr := newServer(p.Config, p.Loader, p.Items, p.Metrics)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("error serving api", "error", err)
				}
			}()

			slog.Info("started api server", "port", p.Config.Port)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srvr.Shutdown(ctx)
		},
	})

	return srvr
}

func newServer(config ServerConfig, loader Loader, items ItemFinder, m *metrics.Metrics) *Server {
	var (
		r        = errRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[string, ReaderResp](1024)
	)
	if m == nil {
		m = metrics.NewDefault()
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = feed.DefaultLoadTimeout
	}

	srvr := &Server{
		fetchClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		readerRespCache: cache,
		loader:          loader,
		items:           items,
		metrics:         m,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// Loads run up to their own timeout before answering.
			WriteTimeout: config.LoadTimeout + 5*time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(accessLogMiddleware) // Log everything

	// Feed
	r.HandleFuncE("/api/feed", srvr.getFeed).Methods(http.MethodGet)
	r.HandleFuncE("/api/feed:load", srvr.postFeedLoad).Methods(http.MethodPost)

	// Reader view
	r.HandleFuncE("/api/feed-items/{itemID}/reader", srvr.getReader).Methods(http.MethodGet)

	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	slog.Debug("configured api server", "port", config.Port)

	return srvr
}
