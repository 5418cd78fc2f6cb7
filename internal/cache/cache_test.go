package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"racemap-backend/internal/components/chrono"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/sqliteutil"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, store Store) (*Cache, *chrono.ManualImpl, *telemetry.MemoryAPI) {
	t.Helper()
	clock := chrono.NewManualImpl(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	tel := &telemetry.MemoryAPI{}
	c := Open(context.Background(), Options{
		Store: store,
		Time:  clock,
		Tel:   tel,
	})
	return c, clock, tel
}

func newFileStore(t *testing.T) FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return store
}

func TestGeocodingRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)
	c, _, _ := newTestCache(t, store)

	c.SetGeocoding(ctx, "Lawrence", "KS", Coordinates{38.97, -95.23})

	testCases := []struct {
		city  string
		state string
		found bool
	}{
		{city: "Lawrence", state: "KS", found: true},
		{city: "LAWRENCE", state: "ks", found: true},
		{city: "Topeka", state: "KS", found: false},
	}

	for _, test := range testCases {
		coords, ok := c.GetGeocoding(ctx, test.city, test.state)
		require.Equal(t, test.found, ok, test.city)
		if test.found {
			require.Equal(t, Coordinates{38.97, -95.23}, coords)
		}
	}

	reopened, _, _ := newTestCache(t, store)
	coords, ok := reopened.GetGeocoding(ctx, "lawrence", "ks")
	require.True(t, ok)
	require.Equal(t, Coordinates{38.97, -95.23}, coords)

	_, err := os.Stat(filepath.Join(store.dir, "geocoding.json"))
	require.NoError(t, err)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		category Category
		advance  time.Duration
		valid    bool
	}{
		{name: "fresh geocoding", category: CategoryGeocoding, advance: time.Hour, valid: true},
		{name: "geocoding just inside", category: CategoryGeocoding, advance: DefaultGeocodingExpiry - time.Millisecond, valid: true},
		{name: "geocoding just past", category: CategoryGeocoding, advance: DefaultGeocodingExpiry + time.Millisecond, valid: false},
		{name: "documents outlive geocoding", category: CategoryDocuments, advance: DefaultGeocodingExpiry + time.Hour, valid: true},
		{name: "documents just past", category: CategoryDocuments, advance: DefaultDocumentExpiry + time.Millisecond, valid: false},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			store := newFileStore(t)
			c, clock, _ := newTestCache(t, store)
			c.Set(ctx, test.category, "key", "value")
			clock.Advance(test.advance)

			value, ok := c.Get(ctx, test.category, "key")
			require.Equal(t, test.valid, ok)
			if test.valid {
				require.JSONEq(t, `"value"`, string(value))
				return
			}

			// the lazy eviction must have been persisted
			reloaded, err := store.Load(ctx, test.category)
			require.NoError(t, err)
			require.Empty(t, reloaded)
		})
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t, newFileStore(t))

	c.Set(ctx, CategoryGeocoding, "old", 1)
	c.Set(ctx, CategoryDocuments, "doc", 2)
	clock.Advance(DefaultGeocodingExpiry + time.Millisecond)
	c.Set(ctx, CategoryGeocoding, "new", 3)

	require.Equal(t, 1, c.Sweep(ctx))
	// idempotent
	require.Equal(t, 0, c.Sweep(ctx))

	stats := c.Stats()
	require.Equal(t, 1, stats[CategoryGeocoding].Entries)
	require.Equal(t, 1, stats[CategoryDocuments].Entries)

	_, ok := c.Get(ctx, CategoryGeocoding, "new")
	require.True(t, ok)

	clock.Advance(DefaultDocumentExpiry)
	require.Equal(t, 2, c.Sweep(ctx))
}

func TestExtractionInvalidatedByModification(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, newFileStore(t))

	doc := filepath.Join(t.TempDir(), "KS12345ABC - Lawrence 5K.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF-1.4"), 0644))
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(doc, modified, modified))

	fields := map[string]any{"courseName": "Lawrence 5K", "distance": "5 km"}
	c.SetExtraction(ctx, doc, fields)

	got, ok := c.GetExtraction(ctx, doc)
	require.True(t, ok)
	if diff := cmp.Diff(fields, got); diff != "" {
		t.Fatalf("extraction mismatch (-want +got):\n%s", diff)
	}

	// stored under the basename
	_, ok = c.Get(ctx, CategoryDocuments, "KS12345ABC - Lawrence 5K.pdf")
	require.True(t, ok)

	later := modified.Add(time.Minute)
	require.NoError(t, os.Chtimes(doc, later, later))
	_, ok = c.GetExtraction(ctx, doc)
	require.False(t, ok)
	_, ok = c.Get(ctx, CategoryDocuments, ExtractionKey(doc))
	require.False(t, ok)

	c.SetExtraction(ctx, doc, fields)
	require.NoError(t, os.Remove(doc))
	_, ok = c.GetExtraction(ctx, doc)
	require.False(t, ok)
}

func TestCourseEntries(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, newFileStore(t))

	type courseData struct {
		PdfURL string `json:"pdfUrl"`
	}
	c.SetCourse(ctx, "KS12345ABC", courseData{PdfURL: "/api/pdf/a.pdf"})

	got, ok := Lookup[courseData](ctx, c, CategoryDocuments, CourseKey("KS12345ABC"))
	require.True(t, ok)
	require.Equal(t, "/api/pdf/a.pdf", got.PdfURL)

	raw, ok := c.GetCourse(ctx, "KS12345ABC")
	require.True(t, ok)
	require.JSONEq(t, `{"pdfUrl":"/api/pdf/a.pdf"}`, string(raw))

	// categories are disjoint
	_, ok = c.Get(ctx, CategoryGeocoding, CourseKey("KS12345ABC"))
	require.False(t, ok)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)
	c, _, _ := newTestCache(t, store)

	c.Set(ctx, CategoryGeocoding, "a", 1)
	c.Set(ctx, CategoryDocuments, "b", 2)

	c.Clear(ctx, CategoryGeocoding)
	stats := c.Stats()
	require.Equal(t, 0, stats[CategoryGeocoding].Entries)
	require.Equal(t, 1, stats[CategoryDocuments].Entries)
	require.Equal(t, len("{}"), stats[CategoryGeocoding].Size)

	c.ClearAll(ctx)
	for _, category := range []Category{CategoryGeocoding, CategoryDocuments} {
		table, err := store.Load(ctx, category)
		require.NoError(t, err)
		require.Empty(t, table)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)
	require.NoError(t, os.WriteFile(store.path(CategoryGeocoding), []byte("{not json"), 0644))

	c, _, tel := newTestCache(t, store)
	require.Equal(t, 0, c.Stats()[CategoryGeocoding].Entries)
	require.Len(t, tel.Reports("broken", report_cache_load), 1)

	c.Set(ctx, CategoryGeocoding, "a", 1)
	_, ok := c.Get(ctx, CategoryGeocoding, "a")
	require.True(t, ok)
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context, category Category) (Table, error) {
	return Table{}, nil
}

func (failingStore) Save(ctx context.Context, category Category, table Table) error {
	return errors.New("disk full")
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	c, _, tel := newTestCache(t, failingStore{})

	c.Set(ctx, CategoryGeocoding, "a", 1)
	_, ok := c.Get(ctx, CategoryGeocoding, "a")
	require.True(t, ok)
	require.Len(t, tel.Reports("broken", report_cache_persist), 1)
	require.Error(t, c.Close(ctx))
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()
	db, err := sqliteutil.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLStore(ctx, db)
	require.NoError(t, err)

	table, err := store.Load(ctx, CategoryGeocoding)
	require.NoError(t, err)
	require.Empty(t, table)

	c, _, _ := newTestCache(t, store)
	c.SetGeocoding(ctx, "Austin", "TX", Coordinates{30.27, -97.74})
	c.SetGeocoding(ctx, "Boston", "MA", Coordinates{42.36, -71.06})

	reopened, _, _ := newTestCache(t, store)
	coords, ok := reopened.GetGeocoding(ctx, "austin", "tx")
	require.True(t, ok)
	require.Equal(t, Coordinates{30.27, -97.74}, coords)
	require.Equal(t, 2, reopened.Stats()[CategoryGeocoding].Entries)
}

func TestMemoryTier(t *testing.T) {
	tier := NewMemoryTier[string](2, time.Hour)
	tier.Set("a", "1")
	tier.Set("b", "2")
	tier.Set("c", "3")

	_, ok := tier.Get("a")
	require.False(t, ok)
	value, ok := tier.Get("c")
	require.True(t, ok)
	require.Equal(t, "3", value)
	require.Equal(t, 2, tier.Len())

	tier.Purge()
	require.Equal(t, 0, tier.Len())
}

func TestLegacyEntriesAreRead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	document := filepath.Join(dir, "KS12345ABC - Free State 5K.pdf")
	require.NoError(t, os.WriteFile(document, []byte("%PDF"), 0644))
	modified := time.UnixMilli(1717000000000)
	require.NoError(t, os.Chtimes(document, modified, modified))

	require.NoError(t, os.MkdirAll(cacheDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "geocoding.json"), []byte(`{
  "lawrence_ks": {
    "coordinates": [38.97, -95.23],
    "timestamp": 1717200000000,
    "city": "Lawrence",
    "state": "KS"
  }
}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "pdf-extractions.json"), []byte(`{
  "KS12345ABC - Free State 5K.pdf": {
    "extractedData": {"startLocation": "Massachusetts St"},
    "timestamp": 1717200000000,
    "fileModified": 1717000000000,
    "filePath": "`+filepath.ToSlash(document)+`"
  },
  "course_KS12345ABC": {
    "courseData": {"pdfUrl": "/api/pdf/KS12345ABC%20-%20Free%20State%205K.pdf"},
    "timestamp": 1717200000000
  }
}`), 0644))

	store, err := NewFileStore(cacheDir)
	require.NoError(t, err)
	c, _, _ := newTestCache(t, store)

	coords, ok := c.GetGeocoding(ctx, "Lawrence", "KS")
	require.True(t, ok)
	require.Equal(t, Coordinates{38.97, -95.23}, coords)

	fields, ok := c.GetExtraction(ctx, document)
	require.True(t, ok)
	require.Equal(t, map[string]any{"startLocation": "Massachusetts St"}, fields)

	course, ok := c.GetCourse(ctx, "KS12345ABC")
	require.True(t, ok)
	require.JSONEq(t, `{"pdfUrl": "/api/pdf/KS12345ABC%20-%20Free%20State%205K.pdf"}`, string(course))

	// saving rewrites the category in the current layout
	c.SetCourse(ctx, "MO11111C", map[string]string{})
	table, err := store.Load(ctx, CategoryDocuments)
	require.NoError(t, err)
	entry := table["KS12345ABC - Free State 5K.pdf"]
	require.Equal(t, int64(1717000000000), entry.SourceModified)
	require.Equal(t, filepath.ToSlash(document), entry.SourcePath)
	contents, err := os.ReadFile(filepath.Join(cacheDir, "pdf-extractions.json"))
	require.NoError(t, err)
	require.NotContains(t, string(contents), "courseData")
	require.NotContains(t, string(contents), "fileModified")
}
