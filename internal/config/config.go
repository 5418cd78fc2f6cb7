// Package config holds the settings shared by racemap-server and racemap-cli.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/configutil"
	"racemap-backend/internal/geocode"
	"racemap-backend/internal/scrapers/registry"
	"racemap-backend/internal/sqliteutil"
	"strconv"
	"time"
)

const DefaultPath = "config.json5"

type Directories struct {
	// Cache holds the persisted cache tables when the file backend is used.
	Cache string `json:"cache"`
	// Downloads holds fetched certification documents.
	Downloads string `json:"downloads"`
	// Assets is scanned for documents that were placed there by hand.
	Assets string `json:"assets"`
}

type RegistryConfig struct {
	BaseURL           string  `json:"base_url"`
	UserAgent         string  `json:"user_agent"`
	Timeout           string  `json:"timeout"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	// DumpDir receives a text dump of every registry request and response when set.
	DumpDir string `json:"dump_dir"`
}

type DiscoveryConfig struct {
	PageTimeout     string `json:"page_timeout"`
	DownloadTimeout string `json:"download_timeout"`
}

type CacheConfig struct {
	// Backend is one of "file", "sql" or "redis".
	Backend  string            `json:"backend"`
	Database sqliteutil.Config `json:"database"`
	Redis    cache.RedisConfig `json:"redis"`

	GeocodingExpiry string `json:"geocoding_expiry"`
	DocumentExpiry  string `json:"document_expiry"`
	SearchExpiry    string `json:"search_expiry"`
	SearchSize      int    `json:"search_size"`
	// SweepSchedule is a cron spec, ex. "@every 6h".
	SweepSchedule string `json:"sweep_schedule"`
}

type ExtractorConfig struct {
	Command []string `json:"command"`
	Timeout string   `json:"timeout"`
}

type GeocoderConfig struct {
	BaseURL   string `json:"base_url"`
	UserAgent string `json:"user_agent"`
	Contact   string `json:"contact"`
	Timeout   string `json:"timeout"`
	Interval  string `json:"interval"`
}

type Config struct {
	Port        int    `json:"port"`
	Environment string `json:"environment"`
	// Timezone is the IANA location the cron scheduler runs in.
	Timezone string `json:"timezone"`
	// Concurrency bounds how many records of a single search are enriched at once.
	Concurrency int `json:"concurrency"`

	Directories Directories     `json:"directories"`
	Registry    RegistryConfig  `json:"registry"`
	Discovery   DiscoveryConfig `json:"discovery"`
	Cache       CacheConfig     `json:"cache"`
	Extractor   ExtractorConfig `json:"extractor"`
	Geocoder    GeocoderConfig  `json:"geocoder"`
}

// Default returns the configuration used for every field a config file leaves unset.
func Default() Config {
	return Config{
		Port:        3000,
		Environment: "development",
		Timezone:    "UTC",
		Directories: Directories{
			Cache:     "cache",
			Downloads: "downloads",
			Assets:    "public/assets",
		},
		Registry: RegistryConfig{
			BaseURL:           registry.DefaultBaseURL,
			UserAgent:         registry.DefaultUserAgent,
			Timeout:           "30s",
			RequestsPerSecond: 2,
		},
		Discovery: DiscoveryConfig{
			PageTimeout:     "10s",
			DownloadTimeout: "30s",
		},
		Cache: CacheConfig{
			Backend:         "file",
			Database:        sqliteutil.Config{File: "cache/cache.db"},
			Redis:           cache.RedisConfig{Prefix: cache.DefaultRedisPrefix},
			GeocodingExpiry: cache.DefaultGeocodingExpiry.String(),
			DocumentExpiry:  cache.DefaultDocumentExpiry.String(),
			SearchExpiry:    cache.DefaultSearchExpiry.String(),
			SearchSize:      cache.DefaultSearchSize,
			SweepSchedule:   "@every 6h",
		},
		Extractor: ExtractorConfig{
			Command: []string{"python", "advanced_pdf_extractor.py"},
			Timeout: "2m",
		},
		Geocoder: GeocoderConfig{
			BaseURL:   geocode.DefaultBaseURL,
			UserAgent: geocode.DefaultUserAgent,
			Timeout:   "5s",
			Interval:  "1s",
		},
	}
}

// Load reads the config file at path (merged with its .local variant), fills unset fields
// from Default and applies the PORT and NODE_ENV environment overrides. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		err = nil
	}
	if err != nil {
		return Config{}, err
	}

	cfg = cfg.withDefaults()
	err = cfg.applyEnv()
	if err != nil {
		return Config{}, err
	}
	switch cfg.Cache.Backend {
	case "file", "sql":
	case "redis":
		if cfg.Cache.Redis.Address == "" {
			return Config{}, fmt.Errorf("cache.redis.address: %w", cache.ErrEmptyRedisAddress)
		}
	default:
		return Config{}, fmt.Errorf("cache.backend: unknown backend %q", cfg.Cache.Backend)
	}
	_, err = cfg.Resolve()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func orDefault[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}

func (c Config) withDefaults() Config {
	d := Default()

	c.Port = orDefault(c.Port, d.Port)
	c.Environment = orDefault(c.Environment, d.Environment)
	c.Timezone = orDefault(c.Timezone, d.Timezone)

	c.Directories.Cache = orDefault(c.Directories.Cache, d.Directories.Cache)
	c.Directories.Downloads = orDefault(c.Directories.Downloads, d.Directories.Downloads)
	c.Directories.Assets = orDefault(c.Directories.Assets, d.Directories.Assets)

	c.Registry.BaseURL = orDefault(c.Registry.BaseURL, d.Registry.BaseURL)
	c.Registry.UserAgent = orDefault(c.Registry.UserAgent, d.Registry.UserAgent)
	c.Registry.Timeout = orDefault(c.Registry.Timeout, d.Registry.Timeout)
	c.Registry.RequestsPerSecond = orDefault(c.Registry.RequestsPerSecond, d.Registry.RequestsPerSecond)

	c.Discovery.PageTimeout = orDefault(c.Discovery.PageTimeout, d.Discovery.PageTimeout)
	c.Discovery.DownloadTimeout = orDefault(c.Discovery.DownloadTimeout, d.Discovery.DownloadTimeout)

	c.Cache.Backend = orDefault(c.Cache.Backend, d.Cache.Backend)
	if c.Cache.Database == (sqliteutil.Config{}) {
		c.Cache.Database = d.Cache.Database
	}
	c.Cache.Redis.Prefix = orDefault(c.Cache.Redis.Prefix, d.Cache.Redis.Prefix)
	c.Cache.GeocodingExpiry = orDefault(c.Cache.GeocodingExpiry, d.Cache.GeocodingExpiry)
	c.Cache.DocumentExpiry = orDefault(c.Cache.DocumentExpiry, d.Cache.DocumentExpiry)
	c.Cache.SearchExpiry = orDefault(c.Cache.SearchExpiry, d.Cache.SearchExpiry)
	c.Cache.SearchSize = orDefault(c.Cache.SearchSize, d.Cache.SearchSize)
	c.Cache.SweepSchedule = orDefault(c.Cache.SweepSchedule, d.Cache.SweepSchedule)

	if len(c.Extractor.Command) == 0 {
		c.Extractor.Command = d.Extractor.Command
	}
	c.Extractor.Timeout = orDefault(c.Extractor.Timeout, d.Extractor.Timeout)

	c.Geocoder.BaseURL = orDefault(c.Geocoder.BaseURL, d.Geocoder.BaseURL)
	c.Geocoder.UserAgent = orDefault(c.Geocoder.UserAgent, d.Geocoder.UserAgent)
	c.Geocoder.Timeout = orDefault(c.Geocoder.Timeout, d.Geocoder.Timeout)
	c.Geocoder.Interval = orDefault(c.Geocoder.Interval, d.Geocoder.Interval)

	return c
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		c.Port = parsed
	}
	if env := os.Getenv("NODE_ENV"); env != "" {
		c.Environment = env
	}
	return nil
}

// Durations are the parsed forms of every duration string in Config.
type Durations struct {
	RegistryTimeout  time.Duration
	PageTimeout      time.Duration
	DownloadTimeout  time.Duration
	ExtractorTimeout time.Duration
	GeocoderTimeout  time.Duration
	GeocoderInterval time.Duration
	SearchExpiry     time.Duration
	Expiry           map[cache.Category]time.Duration
}

type durationField struct {
	name  string
	value string
	out   *time.Duration
}

// Resolve parses every duration field.
func (c Config) Resolve() (Durations, error) {
	var out Durations
	var geocoding, documents time.Duration

	fields := []durationField{
		{"registry.timeout", c.Registry.Timeout, &out.RegistryTimeout},
		{"discovery.page_timeout", c.Discovery.PageTimeout, &out.PageTimeout},
		{"discovery.download_timeout", c.Discovery.DownloadTimeout, &out.DownloadTimeout},
		{"extractor.timeout", c.Extractor.Timeout, &out.ExtractorTimeout},
		{"geocoder.timeout", c.Geocoder.Timeout, &out.GeocoderTimeout},
		{"geocoder.interval", c.Geocoder.Interval, &out.GeocoderInterval},
		{"cache.search_expiry", c.Cache.SearchExpiry, &out.SearchExpiry},
		{"cache.geocoding_expiry", c.Cache.GeocodingExpiry, &geocoding},
		{"cache.document_expiry", c.Cache.DocumentExpiry, &documents},
	}
	for _, f := range fields {
		parsed, err := time.ParseDuration(f.value)
		if err != nil {
			return Durations{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if parsed <= 0 {
			return Durations{}, fmt.Errorf("%s: must be positive, got %q", f.name, f.value)
		}
		*f.out = parsed
	}

	out.Expiry = map[cache.Category]time.Duration{
		cache.CategoryGeocoding: geocoding,
		cache.CategoryDocuments: documents,
	}
	return out, nil
}
