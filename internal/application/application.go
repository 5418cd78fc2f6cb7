// Package application wires the configured components into a running course service. Both
// racemap-server and racemap-cli build their dependencies through New.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/components/chrono"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/config"
	"racemap-backend/internal/discovery"
	"racemap-backend/internal/extractor"
	"racemap-backend/internal/geocode"
	"racemap-backend/internal/scrapers/registry"
	"racemap-backend/internal/service"
)

// App is a collection of the components every entrypoint needs.
type App struct {
	Config    config.Config
	Durations config.Durations
	Time      chrono.StandardImpl

	Cache     *cache.Cache
	Registry  *registry.Client
	Resolver  *discovery.Resolver
	Bridge    *extractor.Bridge
	Extractor extractor.Extractor
	Geocoder  *geocode.Geocoder
	Courses   *service.Service

	// closer releases the cache backend connection, nil for the file backend.
	closer io.Closer
	tel    telemetry.API
}

// OpenStore opens the persistence backend the cache is configured with, the returned closer
// is nil when there is no connection to release.
func OpenStore(ctx context.Context, cfg config.Config) (cache.Store, io.Closer, error) {
	switch cfg.Cache.Backend {
	case "sql":
		db, err := cfg.Cache.Database.OpenDB()
		if err != nil {
			return nil, nil, err
		}
		store, err := cache.NewSQLStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db, nil
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.Cache.Redis)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewRedisStore(client, cfg.Cache.Redis.Prefix), client, nil
	case "file", "":
		store, err := cache.NewFileStore(cfg.Directories.Cache)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func New(ctx context.Context, cfg config.Config, tel telemetry.API) (*App, error) {
	durations, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	clock, err := chrono.NewStandardImpl(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	store, closer, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	c := cache.Open(ctx, cache.Options{
		Store:  store,
		Expiry: durations.Expiry,
		Time:   clock,
		Tel:    tel,
	})

	app := &App{
		Config:    cfg,
		Durations: durations,
		Time:      clock,
		Cache:     c,
		closer:    closer,
		tel:       tel,
	}
	err = app.init()
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) init() error {
	cfg := a.Config

	var dump telemetry.DumpOutput
	if cfg.Registry.DumpDir != "" {
		out, err := telemetry.NewFilesystemOutput(cfg.Registry.DumpDir)
		if err != nil {
			return fmt.Errorf("init registry dump: %w", err)
		}
		dump = out
	}

	client, err := registry.NewClient(registry.Options{
		BaseURL:           cfg.Registry.BaseURL,
		UserAgent:         cfg.Registry.UserAgent,
		Timeout:           a.Durations.RegistryTimeout,
		RequestsPerSecond: cfg.Registry.RequestsPerSecond,
		Dump:              dump,
	}, a.tel)
	if err != nil {
		return fmt.Errorf("init registry client: %w", err)
	}
	a.Registry = client

	base, err := url.Parse(client.BaseURL())
	if err != nil {
		return fmt.Errorf("parse registry base url: %w", err)
	}
	fetcher, err := discovery.NewFetcher(
		cfg.Directories.Downloads,
		discovery.NewHTTPClient(cfg.Registry.UserAgent, a.Durations.DownloadTimeout, a.tel),
		a.tel,
	)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	a.Resolver = discovery.NewResolver(a.tel, discovery.DefaultChain(discovery.ChainOptions{
		AssetsDir: cfg.Directories.Assets,
		BaseURL:   base,
		Pages:     discovery.NewHTTPClient(cfg.Registry.UserAgent, a.Durations.PageTimeout, a.tel),
		Fetcher:   fetcher,
	})...)

	a.Bridge = extractor.NewBridge(extractor.Options{
		Command: cfg.Extractor.Command,
		Timeout: a.Durations.ExtractorTimeout,
	}, a.tel)
	a.Extractor = extractor.NewCachedExtractor(a.Bridge, a.Cache)

	a.Geocoder = geocode.NewGeocoder(geocode.Options{
		BaseURL:   cfg.Geocoder.BaseURL,
		UserAgent: cfg.Geocoder.UserAgent,
		Contact:   cfg.Geocoder.Contact,
		Timeout:   a.Durations.GeocoderTimeout,
		Interval:  a.Durations.GeocoderInterval,
	}, a.Cache, a.tel)

	a.Courses = service.NewService(service.Options{
		Registry:    a.Registry,
		Resolver:    a.Resolver,
		Extractor:   a.Extractor,
		Cache:       a.Cache,
		SearchTTL:   a.Durations.SearchExpiry,
		SearchSize:  cfg.Cache.SearchSize,
		Concurrency: cfg.Concurrency,
	}, a.tel)
	return nil
}

// Close flushes the cache and releases the backend connection, if any.
func (a *App) Close(ctx context.Context) error {
	err := a.Cache.Close(ctx)
	if a.closer != nil {
		err = errors.Join(err, a.closer.Close())
	}
	return err
}
