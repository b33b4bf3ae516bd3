// Package app wires configuration into the fetch, cache and report stack
// shared by the commands.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"energy_prices/internal/cache"
	"energy_prices/internal/config"
	"energy_prices/internal/entsoe"
	"energy_prices/internal/fetcher"
	"energy_prices/internal/model"
	"energy_prices/internal/pipeline"
	"energy_prices/internal/store"
)

// App holds the wired components. Close releases the manifest database and
// the Redis connection.
type App struct {
	Config   *config.Config
	Location *time.Location
	Fetcher  *fetcher.Fetcher
	Cache    *cache.YearCache
	Builder  *pipeline.Builder
	Manifest *cache.Manifest

	closers []func() error
}

// Options let a command observe window progress or swap the provider.
type Options struct {
	Observer fetcher.Observer
	// Source replaces the ENTSO-E client, e.g. in tests.
	Source fetcher.Source
}

// keylessSource fails every window so a cache-only run reports the missing
// key instead of a provider 401.
type keylessSource struct{ err error }

func (k keylessSource) FetchPrices(context.Context, model.Kind, string, time.Time, time.Time) (model.PriceSeries, error) {
	return model.PriceSeries{}, k.err
}

func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Location: loc}

	source := opts.Source
	if source == nil {
		source = newSource(cfg)
	}
	a.Fetcher = fetcher.New(source, fetcher.Options{
		MaxSpan:       cfg.MaxWindowSpan(),
		WindowTimeout: cfg.Fetch.WindowTimeout,
		Concurrency:   cfg.Fetch.Concurrency,
		Pause:         cfg.Fetch.Pause,
		Observer:      opts.Observer,
	})

	artifacts, err := a.openArtifacts(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	manifest, err := cache.OpenManifest(cfg.Cache.ManifestPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Manifest = manifest
	a.closers = append(a.closers, manifest.Close)

	a.Cache = cache.New(a.Fetcher, artifacts, manifest, store.New(), cache.Options{
		Country:                cfg.Entsoe.Country,
		Location:               loc,
		RefreshIncompleteAfter: cfg.Cache.RefreshIncompleteAfter,
	})

	settings, err := pipeline.SettingsFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Builder = pipeline.NewBuilder(a.Cache, cfg.Entsoe.Country, settings)
	return a, nil
}

func newSource(cfg *config.Config) fetcher.Source {
	if err := cfg.RequireAPIKey(); err != nil {
		log.Printf("Warning: %v; only cached years are available", err)
		return keylessSource{err: err}
	}
	return entsoe.NewClient(cfg.Entsoe.BaseURL, cfg.Entsoe.APIKey,
		entsoe.WithHTTPClient(&http.Client{Timeout: cfg.Entsoe.Timeout}),
		entsoe.WithMaxRetries(cfg.Entsoe.MaxRetries),
		entsoe.WithBackoff(cfg.Entsoe.Backoff),
		entsoe.WithImbalanceCategory(cfg.Entsoe.ImbalanceCategory),
	)
}

func (a *App) openArtifacts(ctx context.Context) (cache.ArtifactStore, error) {
	c := a.Config.Cache
	switch c.Backend {
	case "redis":
		rs, err := cache.NewRedisStore(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB, c.Redis.Prefix, c.Redis.TTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		log.Printf("Cache artifacts in redis %s", c.Redis.Addr)
		return rs, nil
	default:
		fs, err := cache.NewFileStore(c.Dir)
		if err != nil {
			return nil, err
		}
		log.Printf("Cache artifacts in %s", c.Dir)
		return fs, nil
	}
}

// Years lists the years from the configured start year through the current
// year in the configured zone.
func (a *App) Years(now time.Time) []int {
	var years []int
	for y := a.Config.Analysis.StartYear; y <= now.In(a.Location).Year(); y++ {
		years = append(years, y)
	}
	return years
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
