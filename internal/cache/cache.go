// Package cache implements the expiry-aware key/value tiers that sit in front of every
// externally expensive step: geocoding lookups, document discovery and document extraction
// are persisted, search results live in memory only (see MemoryTier).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"racemap-backend/internal/components/assert"
	"racemap-backend/internal/components/chrono"
	"racemap-backend/internal/components/telemetry"
	"sync"
	"time"
)

const (
	report_cache_load    = "cache.load"
	report_cache_persist = "cache.persist"
	report_cache_encode  = "cache.encode"
	report_cache_sweep   = "cache.sweep"
)

// Category is a named partition of the cache with its own expiry policy.
type Category string

const (
	CategoryGeocoding Category = "geocoding"
	// CategoryDocuments holds both per-document extraction entries (keyed by basename) and
	// per-course discovery entries (keyed by CourseKey).
	CategoryDocuments Category = "pdf"
)

const (
	DefaultGeocodingExpiry = 7 * 24 * time.Hour
	DefaultDocumentExpiry  = 30 * 24 * time.Hour
)

// Entry is a single stored value.
type Entry struct {
	Value json.RawMessage `json:"value"`
	// Timestamp is the creation time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// SourceModified is the modification time (unix milliseconds) of the file the value was
	// derived from, zero when the value has no source file.
	SourceModified int64  `json:"sourceModified,omitempty"`
	SourcePath     string `json:"sourcePath,omitempty"`
}

// UnmarshalJSON also accepts entries in the earlier layout where the value sat under a
// per-category field (courseData, extractedData or coordinates with city and state) and the
// source file under fileModified and filePath. They are rewritten in the current layout the
// next time their category is saved.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value          json.RawMessage `json:"value"`
		Timestamp      int64           `json:"timestamp"`
		SourceModified int64           `json:"sourceModified"`
		SourcePath     string          `json:"sourcePath"`

		CourseData    json.RawMessage `json:"courseData"`
		ExtractedData json.RawMessage `json:"extractedData"`
		Coordinates   json.RawMessage `json:"coordinates"`
		City          string          `json:"city"`
		State         string          `json:"state"`
		FileModified  int64           `json:"fileModified"`
		FilePath      string          `json:"filePath"`
	}
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	*e = Entry{
		Value:          raw.Value,
		Timestamp:      raw.Timestamp,
		SourceModified: raw.SourceModified,
		SourcePath:     raw.SourcePath,
	}
	if e.SourceModified == 0 {
		e.SourceModified = raw.FileModified
	}
	if e.SourcePath == "" {
		e.SourcePath = raw.FilePath
	}
	if len(e.Value) > 0 {
		return nil
	}

	switch {
	case len(raw.CourseData) > 0:
		e.Value = raw.CourseData
	case len(raw.ExtractedData) > 0:
		e.Value = raw.ExtractedData
	case len(raw.Coordinates) > 0:
		e.Value, err = json.Marshal(struct {
			Coordinates json.RawMessage `json:"coordinates"`
			City        string          `json:"city"`
			State       string          `json:"state"`
		}{raw.Coordinates, raw.City, raw.State})
	}
	return err
}

// Table is the whole contents of one category.
type Table = map[string]Entry

// Store persists whole category tables.
type Store interface {
	// Load returns the persisted table, a category that was never saved yields an empty table.
	Load(ctx context.Context, category Category) (Table, error)
	// Save replaces the persisted table of the category.
	Save(ctx context.Context, category Category, table Table) error
}

// Options configures a Cache.
type Options struct {
	Store Store
	// Expiry maps each persisted category to its time-to-live, categories absent
	// from the map fall back to the defaults.
	Expiry map[Category]time.Duration
	Time   chrono.API
	Tel    telemetry.API
}

// Cache is a write-through, expiry-aware key/value store partitioned into categories.
// Every mutation persists the affected category synchronously.
type Cache struct {
	mutex  sync.RWMutex
	tables map[Category]Table
	expiry map[Category]time.Duration

	store Store
	time  chrono.API
	tel   telemetry.API
}

// Open loads every configured category from the store, a category that fails to load starts
// empty.
func Open(ctx context.Context, opts Options) *Cache {
	assert.NotNil(opts.Store, "cache store")

	expiry := map[Category]time.Duration{
		CategoryGeocoding: DefaultGeocodingExpiry,
		CategoryDocuments: DefaultDocumentExpiry,
	}
	for category, ttl := range opts.Expiry {
		if ttl > 0 {
			expiry[category] = ttl
		}
	}

	c := &Cache{
		tables: make(map[Category]Table, len(expiry)),
		expiry: expiry,
		store:  opts.Store,
		time:   opts.Time,
		tel:    opts.Tel,
	}
	if c.time == nil {
		c.time = chrono.StandardImpl{}
	}
	if c.tel == nil {
		c.tel = telemetry.SlogAPI{}
	}
	c.tel = telemetry.NewScopedAPI("cache", c.tel)

	for category := range expiry {
		table, err := c.store.Load(ctx, category)
		if err != nil {
			c.tel.ReportBroken(report_cache_load, fmt.Errorf("load %s: %w", category, err))
			table = Table{}
		}
		if table == nil {
			table = Table{}
		}
		c.tables[category] = table
		c.tel.ReportCount(fmt.Sprintf("entries.%s", category), int64(len(table)))
	}

	return c
}

// Categories returns the persisted categories known to the cache.
func (c *Cache) Categories() []Category {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]Category, 0, len(c.tables))
	for category := range c.tables {
		out = append(out, category)
	}
	return out
}

// Expiry returns the time-to-live of the category.
func (c *Cache) Expiry(category Category) time.Duration {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.expiry[category]
}

func (c *Cache) now() int64 {
	return c.time.Now().UnixMilli()
}

func (c *Cache) expired(category Category, entry Entry, now int64) bool {
	ttl, ok := c.expiry[category]
	if !ok {
		return false
	}
	return now-entry.Timestamp >= ttl.Milliseconds()
}

// persist must be called with the write lock held.
func (c *Cache) persist(ctx context.Context, category Category) {
	err := c.store.Save(context.WithoutCancel(ctx), category, c.tables[category])
	if err != nil {
		c.tel.ReportBroken(report_cache_persist, fmt.Errorf("save %s: %w", category, err))
	}
}

// GetEntry returns the raw entry if present and unexpired. An expired entry that is
// encountered is deleted and the removal persisted.
func (c *Cache) GetEntry(ctx context.Context, category Category, key string) (Entry, bool) {
	now := c.now()

	c.mutex.RLock()
	entry, ok := c.tables[category][key]
	isExpired := ok && c.expired(category, entry, now)
	c.mutex.RUnlock()

	if !ok {
		return Entry{}, false
	}
	if !isExpired {
		return entry, true
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	// another reader may have evicted or refreshed the entry in the meantime
	current, ok := c.tables[category][key]
	if !ok {
		return Entry{}, false
	}
	if !c.expired(category, current, now) {
		return current, true
	}
	delete(c.tables[category], key)
	c.persist(ctx, category)
	return Entry{}, false
}

// Get returns the stored value if present and unexpired.
func (c *Cache) Get(ctx context.Context, category Category, key string) (json.RawMessage, bool) {
	entry, ok := c.GetEntry(ctx, category, key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// SetEntry stores entry under key, its timestamp is set to the current time.
func (c *Cache) SetEntry(ctx context.Context, category Category, key string, entry Entry) {
	entry.Timestamp = c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	table, ok := c.tables[category]
	if !ok {
		table = Table{}
		c.tables[category] = table
	}
	table[key] = entry
	c.persist(ctx, category)
}

// Set encodes value as JSON and stores it under key. An encoding failure is reported and
// nothing is stored.
func (c *Cache) Set(ctx context.Context, category Category, key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		c.tel.ReportBroken(report_cache_encode, fmt.Errorf("encode %s/%s: %w", category, key, err))
		return
	}
	c.SetEntry(ctx, category, key, Entry{Value: encoded})
}

// Delete removes key from the category.
func (c *Cache) Delete(ctx context.Context, category Category, key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.tables[category][key]; !ok {
		return
	}
	delete(c.tables[category], key)
	c.persist(ctx, category)
}

// Sweep removes every expired entry from every category and returns how many were removed.
// Only categories that changed are persisted.
func (c *Cache) Sweep(ctx context.Context) int {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	cleaned := 0
	for category, table := range c.tables {
		removed := 0
		for key, entry := range table {
			if c.expired(category, entry, now) {
				delete(table, key)
				removed++
			}
		}
		if removed > 0 {
			c.persist(ctx, category)
		}
		cleaned += removed
	}

	if cleaned > 0 {
		c.tel.ReportDebug("cleaned expired cache entries", cleaned)
	}
	c.tel.ReportCount(report_cache_sweep, int64(cleaned))
	return cleaned
}

// Clear empties the category and persists immediately.
func (c *Cache) Clear(ctx context.Context, category Category) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.tables[category] = Table{}
	c.persist(ctx, category)
}

// ClearAll empties every category.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for category := range c.tables {
		c.tables[category] = Table{}
		c.persist(ctx, category)
	}
}

// Stats describes the size of one category.
type Stats struct {
	Entries int `json:"entries"`
	Size    int `json:"size"`
}

// Stats returns entry count and serialized size per category.
func (c *Cache) Stats() map[Category]Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make(map[Category]Stats, len(c.tables))
	for category, table := range c.tables {
		size := 0
		serialized, err := json.Marshal(table)
		if err == nil {
			size = len(serialized)
		}
		out[category] = Stats{Entries: len(table), Size: size}
	}
	return out
}

// Close flushes every category to the store.
func (c *Cache) Close(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var errs []error
	for category, table := range c.tables {
		err := c.store.Save(ctx, category, table)
		if err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", category, err))
		}
	}
	return errors.Join(errs...)
}
