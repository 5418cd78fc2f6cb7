package application

import (
	"context"
	"path/filepath"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/config"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Directories = config.Directories{
		Cache:     filepath.Join(dir, "cache"),
		Downloads: filepath.Join(dir, "downloads"),
		Assets:    filepath.Join(dir, "assets"),
	}
	return cfg
}

func TestNewFileBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	app, err := New(ctx, cfg, &telemetry.MemoryAPI{})
	require.NoError(t, err)
	require.Equal(t, cfg.Registry.BaseURL, app.Registry.BaseURL())
	require.Equal(
		t,
		[]string{"local", "certificate-link", "direct-link", "site-search", "calendar-search"},
		app.Resolver.Strategies(),
	)

	app.Cache.SetGeocoding(ctx, "Lawrence", "KS", cache.Coordinates{38.97, -95.23})
	require.NoError(t, app.Close(ctx))

	reopened, err := New(ctx, cfg, &telemetry.MemoryAPI{})
	require.NoError(t, err)
	defer reopened.Close(ctx)
	coordinates, ok := reopened.Cache.GetGeocoding(ctx, "lawrence", "ks")
	require.True(t, ok)
	require.Equal(t, cache.Coordinates{38.97, -95.23}, coordinates)
}

func TestNewSQLBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Cache.Backend = "sql"
	cfg.Cache.Database.File = filepath.Join(t.TempDir(), "cache.db")

	app, err := New(ctx, cfg, &telemetry.MemoryAPI{})
	require.NoError(t, err)
	app.Cache.SetCourse(ctx, "KS12345ABC", map[string]string{"pdfUrl": "/api/pdf/a.pdf"})
	require.NoError(t, app.Close(ctx))

	reopened, err := New(ctx, cfg, &telemetry.MemoryAPI{})
	require.NoError(t, err)
	defer reopened.Close(ctx)
	_, ok := reopened.Cache.GetCourse(ctx, "KS12345ABC")
	require.True(t, ok)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "memcached"
	_, err := New(context.Background(), cfg, &telemetry.MemoryAPI{})
	require.Error(t, err)
}

func TestOpenStoreRedisRequiresAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"
	_, _, err := OpenStore(context.Background(), cfg)
	require.ErrorIs(t, err, cache.ErrEmptyRedisAddress)
}
