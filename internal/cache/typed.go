package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const report_cache_decode = "cache.decode"

// Coordinates is a [latitude, longitude] pair.
type Coordinates [2]float64

type geocodingValue struct {
	Coordinates Coordinates `json:"coordinates"`
	City        string      `json:"city"`
	State       string      `json:"state"`
}

// GeocodingKey normalizes a city/state pair into its cache key.
func GeocodingKey(city, state string) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(city), strings.ToLower(state))
}

func (c *Cache) GetGeocoding(ctx context.Context, city, state string) (Coordinates, bool) {
	value, ok := Lookup[geocodingValue](ctx, c, CategoryGeocoding, GeocodingKey(city, state))
	if !ok {
		return Coordinates{}, false
	}
	return value.Coordinates, true
}

func (c *Cache) SetGeocoding(ctx context.Context, city, state string, coordinates Coordinates) {
	c.Set(ctx, CategoryGeocoding, GeocodingKey(city, state), geocodingValue{
		Coordinates: coordinates,
		City:        city,
		State:       state,
	})
}

// ExtractionKey is the cache key of the extraction result of the document at path.
func ExtractionKey(path string) string {
	return filepath.Base(path)
}

// GetExtraction returns the cached extraction of the document at path. The entry is only
// valid while the document's modification time matches the one recorded when it was stored,
// an entry whose document changed or disappeared is deleted.
func (c *Cache) GetExtraction(ctx context.Context, path string) (map[string]any, bool) {
	key := ExtractionKey(path)
	entry, ok := c.GetEntry(ctx, CategoryDocuments, key)
	if !ok {
		return nil, false
	}

	info, err := os.Stat(path)
	if err != nil || info.ModTime().UnixMilli() != entry.SourceModified {
		c.Delete(ctx, CategoryDocuments, key)
		return nil, false
	}

	var fields map[string]any
	err = json.Unmarshal(entry.Value, &fields)
	if err != nil {
		c.tel.ReportWarning(report_cache_decode, fmt.Errorf("extraction %s: %w", key, err))
		return nil, false
	}
	return fields, true
}

// SetExtraction records the extraction of the document at path together with its current
// modification time. Nothing is stored if the document cannot be stat'd.
func (c *Cache) SetExtraction(ctx context.Context, path string, fields map[string]any) {
	info, err := os.Stat(path)
	if err != nil {
		c.tel.ReportWarning(report_cache_encode, fmt.Errorf("stat %s: %w", path, err))
		return
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		c.tel.ReportBroken(report_cache_encode, fmt.Errorf("extraction %s: %w", path, err))
		return
	}
	c.SetEntry(ctx, CategoryDocuments, ExtractionKey(path), Entry{
		Value:          encoded,
		SourceModified: info.ModTime().UnixMilli(),
		SourcePath:     path,
	})
}

// CourseKey is the cache key of the resolved document data of a course.
func CourseKey(id string) string {
	return "course_" + id
}

func (c *Cache) GetCourse(ctx context.Context, id string) (json.RawMessage, bool) {
	return c.Get(ctx, CategoryDocuments, CourseKey(id))
}

func (c *Cache) SetCourse(ctx context.Context, id string, value any) {
	c.Set(ctx, CategoryDocuments, CourseKey(id), value)
}

// Lookup reads the value under key and decodes it into T. A value that cannot be decoded is
// reported and treated as absent.
func Lookup[T any](ctx context.Context, c *Cache, category Category, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, category, key)
	if !ok {
		return out, false
	}
	err := json.Unmarshal(raw, &out)
	if err != nil {
		c.tel.ReportWarning(report_cache_decode, fmt.Errorf("%s/%s: %w", category, key, err))
		return out, false
	}
	return out, true
}
