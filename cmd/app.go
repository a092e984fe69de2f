package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-ip/priorart-engine/internal/engine"
	"github.com/lattice-ip/priorart-engine/internal/ratelimit"
	"github.com/lattice-ip/priorart-engine/internal/store"
	"github.com/lattice-ip/priorart-engine/pkg/serpapi"
)

// appEnv holds the initialized store, provider client, rate limiter, and
// engine shared by the run/rescore/details/serve commands.
type appEnv struct {
	Store   store.Store
	Client  serpapi.Client
	Limiter *ratelimit.Limiter
	Engine  *engine.Engine
}

// Close releases resources held by the environment.
func (env *appEnv) Close() {
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "priorart.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, provider client, rate limiter, and engine.
// Callers should defer env.Close(). Commands that reach the provider pass
// requireKey so a missing credential fails before any run row exists;
// rescore and serve work without one.
func initEngine(ctx context.Context, requireKey bool) (*appEnv, error) {
	if requireKey && cfg.Provider.Key == "" {
		return nil, eris.New("provider API key is required (PRIORART_PROVIDER_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := serpapi.NewClient(cfg.Provider.Key,
		serpapi.WithBaseURL(cfg.Provider.BaseURL),
		serpapi.WithTimeout(time.Duration(cfg.Provider.TimeoutSecs)*time.Second),
	)
	limiter := ratelimit.New(ratelimit.Config{
		Intervals: map[string]time.Duration{
			ratelimit.EndpointSearch: time.Duration(cfg.RateLimit.SearchIntervalSecs) * time.Second,
			ratelimit.EndpointDetail: time.Duration(cfg.RateLimit.DetailIntervalSecs) * time.Second,
		},
	})

	return &appEnv{
		Store:   st,
		Client:  client,
		Limiter: limiter,
		Engine:  engine.New(cfg, st, client, limiter),
	}, nil
}
