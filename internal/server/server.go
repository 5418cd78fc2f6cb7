// Package server exposes course search, geocoding and cache management over connect (JSON
// messages) plus a few plain HTTP routes for documents, states and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/components/assert"
	"racemap-backend/internal/components/chrono"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/geocode"
	"racemap-backend/internal/scrapers/registry"
	"racemap-backend/internal/service"
	"time"

	"connectrpc.com/connect"
)

const (
	report_server_search   = "server.search"
	report_server_geocode  = "server.geocode"
	report_server_document = "server.document"
)

const (
	SearchCoursesProcedure = "/racemap.v1.CourseService/SearchCourses"
	GeocodeProcedure       = "/racemap.v1.CourseService/Geocode"
	GetStatsProcedure      = "/racemap.v1.CacheService/GetStats"
	ClearProcedure         = "/racemap.v1.CacheService/Clear"
)

// CourseService is the part of service.Service the server depends on.
type CourseService interface {
	Search(ctx context.Context, q registry.Query) (service.SearchResult, error)
	SearchCacheStats() service.SearchCacheStats
	ClearSearchCache()
}

type Geocoder interface {
	Geocode(ctx context.Context, city, state string) (geocode.Result, error)
}

type Options struct {
	Courses      CourseService
	Geocoder     Geocoder
	Cache        *cache.Cache
	DownloadsDir string
	Environment  string
	Time         chrono.API
	// Interceptors wrap every connect procedure (ex. otelconnect).
	Interceptors []connect.Interceptor
}

type Server struct {
	courses      CourseService
	geocoder     Geocoder
	cache        *cache.Cache
	downloadsDir string
	environment  string
	time         chrono.API
	started      time.Time
	interceptors []connect.Interceptor
	tel          telemetry.API
}

func NewServer(opts Options, tel telemetry.API) *Server {
	assert.NotNil(opts.Courses, "course service")
	assert.NotNil(opts.Geocoder, "geocoder")
	assert.NotNil(opts.Cache, "cache")
	assert.NotEmptyStr(opts.DownloadsDir, "downloads dir")

	clock := opts.Time
	if clock == nil {
		clock = chrono.StandardImpl{}
	}
	environment := opts.Environment
	if environment == "" {
		environment = "development"
	}

	return &Server{
		courses:      opts.Courses,
		geocoder:     opts.Geocoder,
		cache:        opts.Cache,
		downloadsDir: opts.DownloadsDir,
		environment:  environment,
		time:         clock,
		started:      clock.Now(),
		interceptors: opts.Interceptors,
		tel:          telemetry.NewScopedAPI("server", tel),
	}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	handlerOpts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(s.interceptors...),
	}

	mux.Handle(SearchCoursesProcedure, connect.NewUnaryHandler(SearchCoursesProcedure, s.SearchCourses, handlerOpts...))
	mux.Handle(GeocodeProcedure, connect.NewUnaryHandler(GeocodeProcedure, s.Geocode, handlerOpts...))
	mux.Handle(GetStatsProcedure, connect.NewUnaryHandler(GetStatsProcedure, s.GetStats, handlerOpts...))
	mux.Handle(ClearProcedure, connect.NewUnaryHandler(ClearProcedure, s.Clear, handlerOpts...))

	mux.HandleFunc("GET /api/pdf/{filename}", s.ServeDocument)
	mux.HandleFunc("GET /api/states", s.States)
	mux.HandleFunc("GET /health", s.Health)
}

// Handler returns a new mux with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) SearchCourses(ctx context.Context, req *connect.Request[registry.Query]) (*connect.Response[service.SearchResult], error) {
	result, err := s.courses.Search(ctx, *req.Msg)
	if errors.Is(err, service.ErrMissingFilter) {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err != nil {
		s.tel.ReportBroken(report_server_search, err)
		return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("failed to search courses: %w", err))
	}
	return connect.NewResponse(&result), nil
}

type GeocodeRequest struct {
	City  string `json:"city"`
	State string `json:"state"`
}

func (s *Server) Geocode(ctx context.Context, req *connect.Request[GeocodeRequest]) (*connect.Response[geocode.Result], error) {
	result, err := s.geocoder.Geocode(ctx, req.Msg.City, req.Msg.State)
	switch {
	case errors.Is(err, geocode.ErrMissingLocation):
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, geocode.ErrNotFound):
		return nil, connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, geocode.ErrUnavailable):
		return nil, connect.NewError(connect.CodeUnavailable, err)
	case err != nil:
		s.tel.ReportBroken(report_server_geocode, err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&result), nil
}

type GetStatsRequest struct{}

type GetStatsResponse struct {
	Memory     service.SearchCacheStats       `json:"memory"`
	Persistent map[cache.Category]cache.Stats `json:"persistent"`
}

func (s *Server) GetStats(ctx context.Context, req *connect.Request[GetStatsRequest]) (*connect.Response[GetStatsResponse], error) {
	return connect.NewResponse(&GetStatsResponse{
		Memory:     s.courses.SearchCacheStats(),
		Persistent: s.cache.Stats(),
	}), nil
}

type ClearRequest struct {
	// Category is one of "geocoding", "pdf", "search", empty clears everything.
	Category string `json:"category"`
}

type ClearResponse struct {
	Message string `json:"message"`
}

func (s *Server) Clear(ctx context.Context, req *connect.Request[ClearRequest]) (*connect.Response[ClearResponse], error) {
	var message string
	switch cache.Category(req.Msg.Category) {
	case "":
		s.courses.ClearSearchCache()
		s.cache.ClearAll(ctx)
		message = "All caches cleared"
	case cache.CategorySearch:
		s.courses.ClearSearchCache()
		message = "Search cache cleared"
	case cache.CategoryGeocoding:
		s.cache.Clear(ctx, cache.CategoryGeocoding)
		message = "Geocoding cache cleared"
	case cache.CategoryDocuments:
		s.cache.Clear(ctx, cache.CategoryDocuments)
		message = "PDF cache cleared"
	default:
		return nil, connect.NewError(
			connect.CodeInvalidArgument,
			fmt.Errorf("unknown cache category %q", req.Msg.Category),
		)
	}
	s.tel.ReportDebug(message)
	return connect.NewResponse(&ClearResponse{Message: message}), nil
}

type healthResponse struct {
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	Uptime      float64 `json:"uptime"`
	Environment string  `json:"environment"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	now := s.time.Now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		Uptime:      now.Sub(s.started).Seconds(),
		Environment: s.environment,
	})
}

func (s *Server) States(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, States)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
