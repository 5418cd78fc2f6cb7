// Package service implements course search: a registry search whose results are enriched with
// their certification document and its extracted fields, every expensive step cached.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/components/assert"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/discovery"
	"racemap-backend/internal/extractor"
	"racemap-backend/internal/scrapers/registry"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("racemap.internal.service")

const (
	report_service_search = "service.search"
	report_service_enrich = "service.enrich"
)

var ErrMissingFilter = errors.New("at least one of city, state, course id or course name is required")

const NoCoursesMessage = "No courses found matching your criteria"

// Registry searches the course registry.
type Registry interface {
	Search(ctx context.Context, q registry.Query) ([]registry.Course, error)
}

// Resolver locates the document of a course, nil when there is none.
type Resolver interface {
	Resolve(ctx context.Context, course registry.Course) *discovery.Document
}

// DocumentData is what is known about the document of a course. It is cached per course id.
type DocumentData struct {
	PdfURL  string `json:"pdfUrl,omitempty"`
	PdfPath string `json:"pdfPath,omitempty"`
	// ExtractedData holds the extractor's fields, an empty object when the document yielded
	// nothing and nil when there is no document.
	ExtractedData any `json:"extractedData,omitempty"`
}

// EnrichedCourse is a registry record merged with its document data.
type EnrichedCourse struct {
	registry.Course
	DocumentData
}

type SearchResult struct {
	Courses      []EnrichedCourse `json:"courses"`
	Message      string           `json:"message"`
	SearchParams registry.Query   `json:"searchParams"`
}

// DocumentURL is the public path the document at path is served under.
func DocumentURL(path string) string {
	return "/api/pdf/" + url.PathEscape(filepath.Base(path))
}

type Options struct {
	Registry  Registry
	Resolver  Resolver
	Extractor extractor.Extractor
	Cache     *cache.Cache

	SearchTTL  time.Duration
	SearchSize int
	// Concurrency bounds how many records are enriched at once, zero means unbounded.
	Concurrency int
}

type Service struct {
	registry  Registry
	resolver  Resolver
	extractor extractor.Extractor
	cache     *cache.Cache
	searches  cache.MemoryTier[SearchResult]

	concurrency int
	inflight    singleflight.Group
	tel         telemetry.API
}

func NewService(opts Options, tel telemetry.API) *Service {
	assert.NotNil(opts.Registry, "registry")
	assert.NotNil(opts.Resolver, "resolver")
	assert.NotNil(opts.Extractor, "extractor")
	assert.NotNil(opts.Cache, "cache")

	return &Service{
		registry:    opts.Registry,
		resolver:    opts.Resolver,
		extractor:   opts.Extractor,
		cache:       opts.Cache,
		searches:    cache.NewMemoryTier[SearchResult](opts.SearchSize, opts.SearchTTL),
		concurrency: opts.Concurrency,
		tel:         telemetry.NewScopedAPI("service", tel),
	}
}

func foundMessage(n int) string {
	if n == 1 {
		return "Found 1 course"
	}
	return fmt.Sprintf("Found %d courses", n)
}

// Search runs the query against the registry and enriches every record with its document.
// A query without a locating filter fails with ErrMissingFilter, a failing registry fails the
// whole search, failures while enriching a single record only degrade that record.
func (s *Service) Search(ctx context.Context, q registry.Query) (SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()

	q = q.Normalized()
	if !q.HasLocator() {
		return SearchResult{}, ErrMissingFilter
	}

	key := q.CacheKey()
	if q.CachingEnabled() {
		cached, ok := s.searches.Get(key)
		if ok {
			span.SetAttributes(attribute.Bool("cached", true))
			s.tel.ReportDebug("search cache hit", key)
			return cached, nil
		}
	}

	courses, err := s.registry.Search(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry search failed")
		s.tel.ReportBroken(report_service_search, err, q)
		return SearchResult{}, fmt.Errorf("registry search: %w", err)
	}

	if len(courses) == 0 {
		result := SearchResult{
			Courses:      []EnrichedCourse{},
			Message:      NoCoursesMessage,
			SearchParams: q,
		}
		s.searches.Set(key, result)
		return result, nil
	}

	enriched := make([]EnrichedCourse, len(courses))
	group := errgroup.Group{}
	if s.concurrency > 0 {
		group.SetLimit(s.concurrency)
	}
	for i, course := range courses {
		group.Go(func() error {
			enriched[i] = s.Enrich(ctx, course)
			return nil
		})
	}
	group.Wait()

	// records enriched after cancellation are missing their documents
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "context done")
		return SearchResult{}, err
	}

	span.SetAttributes(attribute.Int("courses", len(enriched)))
	result := SearchResult{
		Courses:      enriched,
		Message:      foundMessage(len(enriched)),
		SearchParams: q,
	}
	s.searches.Set(key, result)
	return result, nil
}

// Enrich merges the course with its document data, from the course cache when present.
// It never fails: on any error the plain course is returned.
func (s *Service) Enrich(ctx context.Context, course registry.Course) (out EnrichedCourse) {
	out = EnrichedCourse{Course: course}
	defer func() {
		if r := recover(); r != nil {
			s.tel.ReportBroken(report_service_enrich, fmt.Errorf("%s: panic: %v", course.ID, r))
			out = EnrichedCourse{Course: course}
		}
	}()

	data, ok := cache.Lookup[DocumentData](ctx, s.cache, cache.CategoryDocuments, cache.CourseKey(course.ID))
	if ok {
		out.DocumentData = data
		return out
	}

	for {
		data, err := s.sharedResolve(ctx, course)
		if err == nil {
			out.DocumentData = data
			return out
		}
		// the shared call ran under another caller's context, which ended
		if isContextErr(err) && ctx.Err() == nil {
			continue
		}
		if !isContextErr(err) {
			s.tel.ReportBroken(report_service_enrich, fmt.Errorf("%s: %w", course.ID, err))
		}
		return out
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// sharedResolve collapses concurrent resolutions of the same course into one.
func (s *Service) sharedResolve(ctx context.Context, course registry.Course) (DocumentData, error) {
	// a panic must not cross singleflight, it would be re-raised on a fresh goroutine for
	// concurrent callers
	res, err, _ := s.inflight.Do(course.ID, func() (data any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return s.resolveDocument(ctx, course)
	})
	if err != nil {
		return DocumentData{}, err
	}
	return res.(DocumentData), nil
}

// resolveDocument finds and extracts the document of a course and caches the outcome. Nothing
// is cached when ctx ends first, a cancelled lookup is not a missing document.
func (s *Service) resolveDocument(ctx context.Context, course registry.Course) (DocumentData, error) {
	ctx, span := tracer.Start(ctx, "resolveDocument")
	defer span.End()
	span.SetAttributes(attribute.String("course_id", course.ID))

	data := DocumentData{}
	doc := s.resolver.Resolve(ctx, course)
	if doc != nil {
		fields, ok := s.extractor.Extract(ctx, doc.Path)
		if !ok || fields == nil {
			fields = extractor.Fields{}
		}
		data = DocumentData{
			PdfURL:        DocumentURL(doc.Path),
			PdfPath:       doc.Path,
			ExtractedData: fields,
		}
	}

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "context done")
		return DocumentData{}, err
	}
	s.cache.SetCourse(ctx, course.ID, data)
	return data, nil
}

// SearchCacheStats describes the in-memory search tier.
type SearchCacheStats struct {
	Entries int      `json:"entries"`
	Keys    []string `json:"keys"`
}

func (s *Service) SearchCacheStats() SearchCacheStats {
	return SearchCacheStats{
		Entries: s.searches.Len(),
		Keys:    s.searches.Keys(),
	}
}

func (s *Service) ClearSearchCache() {
	s.searches.Purge()
}
