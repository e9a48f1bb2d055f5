// Headlines serves a cache-first, paginated feed of top news stories.
//
// Pages come from the local sqlite cache when it has them and from
// TheNewsAPI when it doesn't. The cache is wiped once a day, at startup.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/fx"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/headlines/internal/api"
	"github.com/jdholdren/headlines/internal/feed"
	"github.com/jdholdren/headlines/internal/headlines"
	"github.com/jdholdren/headlines/internal/logger"
	"github.com/jdholdren/headlines/internal/metrics"
	"github.com/jdholdren/headlines/internal/migrations"
	"github.com/jdholdren/headlines/internal/newsapi"
	"github.com/jdholdren/headlines/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, required"`
	Port     int    `env:"PORT, default=4444"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	NewsAPIKey     string `env:"NEWS_API_KEY"`
	NewsAPIBaseURL string `env:"NEWS_API_BASE_URL, default=https://api.thenewsapi.com/v1/news/top"`
	NewsAPILocale  string `env:"NEWS_API_LOCALE, default=us"`

	Subscribed     bool          `env:"SUBSCRIBED, default=false"`
	ViewportHeight float64       `env:"VIEWPORT_HEIGHT, default=800"`
	RowHeight      float64       `env:"ROW_HEIGHT, default=100"`
	LoadTimeout    time.Duration `env:"LOAD_TIMEOUT, default=30s"`

	// bulk or each
	PurgeStrategy string `env:"PURGE_STRATEGY, default=bulk"`
	CorsOrigin    string `env:"CORS_ORIGIN, default=http://localhost:5173"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(cfg.LoggerFormat, os.Stderr))

	purge, err := sqlite.ParsePurgeStrategy(cfg.PurgeStrategy)
	if err != nil {
		log.Fatalf("error parsing config: %s", err)
	}
	if cfg.NewsAPIKey == "" {
		slog.Warn("NEWS_API_KEY is not set, loads that need the network will fail")
	}

	// Connect to the sqlite db
	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Run all migrations
	if err := migrations.Run(dbx); err != nil {
		log.Fatalf("error running migrations: %s", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var (
		m      = metrics.New(reg)
		repo   = sqlite.New(dbx, purge)
		client = newsapi.New(newsapi.Config{
			BaseURL: cfg.NewsAPIBaseURL,
			APIKey:  cfg.NewsAPIKey,
			Locale:  cfg.NewsAPILocale,
		}, repo, m)
		tier = feed.TierFree
	)
	if cfg.Subscribed {
		tier = feed.TierSubscribed
	}

	// Start the application
	fx.New(
		fx.Supply(
			api.ServerConfig{
				Port:        cfg.Port,
				CorsOrigin:  cfg.CorsOrigin,
				LoadTimeout: cfg.LoadTimeout,
			},
			feed.Config{
				Tier: tier,
				Viewport: feed.Viewport{
					Height:    cfg.ViewportHeight,
					RowHeight: cfg.RowHeight,
				},
				LoadTimeout: cfg.LoadTimeout,
			},
			m,
			fx.Annotate(repo, fx.As(new(headlines.PageReader))),
			fx.Annotate(repo, fx.As(new(headlines.Purger))),
			fx.Annotate(repo, fx.As(new(headlines.DayStore))),
			fx.Annotate(repo, fx.As(new(api.ItemFinder))),
			fx.Annotate(client, fx.As(new(headlines.Source))),
			fx.Annotate(feed.DefaultPolicy(), fx.As(new(feed.PageSizer))),
		),
		feed.Module,
		api.Module,
		fx.Provide(func(c *feed.Coordinator) api.Loader { return c }),
		// The daily wipe has to finish before anything reads the cache, and
		// invokes run before any OnStart hook.
		fx.Invoke(func(inv *feed.Invalidator) {
			// A failed reset leaves the cache as it is, the service still starts.
			reset, err := inv.ResetIfStale(ctx, time.Now())
			if err != nil {
				slog.Warn("starting with a possibly stale cache", "purged", reset, "error", err)
			}
		}),
		fx.Invoke(func(*api.Server) {}), // Start the api server
	).Run()
}
