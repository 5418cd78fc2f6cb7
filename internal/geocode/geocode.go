// Package geocode resolves a city/state pair to coordinates through a Nominatim compatible
// search API, results are cached per city/state.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/components/telemetry"
	"strconv"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("racemap.internal.geocode")

const report_geocoder_lookup = "geocoder.lookup"

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "Race-Course-Finder/1.0"
)

var (
	ErrMissingLocation = errors.New("city and state are required")
	ErrNotFound        = errors.New("location not found")
	ErrUnavailable     = errors.New("geocoding service unavailable")
)

// Place is a single search result.
type Place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	AddressType string `json:"addresstype"`
}

func (p Place) settlement() bool {
	for _, t := range []string{p.Type, p.AddressType} {
		switch t {
		case "city", "town", "village":
			return true
		}
	}
	return false
}

func (p Place) county() bool {
	return p.Type == "county" ||
		p.AddressType == "county" ||
		strings.Contains(strings.ToLower(p.DisplayName), "county")
}

func (p Place) label() string {
	if p.Name != "" {
		return p.Name
	}
	label, _, _ := strings.Cut(p.DisplayName, ",")
	return label
}

// Select picks the result that best represents the city. Settlements (city, town, village)
// are preferred, the one whose name is most similar to city winning, ties going to the earlier
// result. Without settlements the first result that is not a county is used.
func Select(city string, places []Place) (Place, bool) {
	best := -1
	bestScore := -1.0
	target := strings.ToLower(city)
	for i, p := range places {
		if !p.settlement() {
			continue
		}
		score := matchr.JaroWinkler(strings.ToLower(p.label()), target, false)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best >= 0 {
		return places[best], true
	}

	for _, p := range places {
		if !p.county() {
			return p, true
		}
	}
	return Place{}, false
}

func (p Place) coordinates() (cache.Coordinates, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return cache.Coordinates{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return cache.Coordinates{}, fmt.Errorf("longitude: %w", err)
	}
	return cache.Coordinates{lat, lon}, nil
}

type Options struct {
	BaseURL   string
	UserAgent string
	// Contact is appended to the user agent as the provider's usage policy asks.
	Contact string
	Timeout time.Duration
	// Interval is the minimum time between two upstream requests, defaults to 1 second.
	Interval time.Duration
}

type Result struct {
	Coordinates cache.Coordinates `json:"coordinates"`
	Cached      bool              `json:"cached"`
	Source      string            `json:"source,omitempty"`
}

type Geocoder struct {
	http    *resty.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	tel     telemetry.API
}

func NewGeocoder(opts Options, c *cache.Cache, tel telemetry.API) *Geocoder {
	tel = telemetry.NewScopedAPI("geocode", tel)

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if opts.Contact != "" {
		userAgent = fmt.Sprintf("%s (%s)", userAgent, opts.Contact)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(timeout)
	telemetry.InstrumentResty(client, "racemap.internal.geocode.http", tel)

	return &Geocoder{
		http:    client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		cache:   c,
		tel:     tel,
	}
}

// Geocode returns the coordinates of the city, served from the cache when possible.
func (g *Geocoder) Geocode(ctx context.Context, city, state string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Geocode")
	defer span.End()

	city = strings.TrimSpace(city)
	state = strings.TrimSpace(state)
	if city == "" || state == "" {
		return Result{}, ErrMissingLocation
	}
	span.SetAttributes(attribute.String("city", city), attribute.String("state", state))

	if g.cache != nil {
		coords, ok := g.cache.GetGeocoding(ctx, city, state)
		if ok {
			span.SetAttributes(attribute.Bool("cached", true))
			return Result{Coordinates: coords, Cached: true}, nil
		}
	}

	places, err := g.search(ctx, fmt.Sprintf("%s, %s, United States", city, state))
	if err != nil {
		g.tel.ReportWarning(report_geocoder_lookup, fmt.Errorf("%s, %s: %w", city, state, err))
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	place, ok := Select(city, places)
	if !ok {
		g.tel.ReportDebug("no geocoding results", city, state)
		return Result{}, ErrNotFound
	}
	coords, err := place.coordinates()
	if err != nil {
		g.tel.ReportWarning(report_geocoder_lookup, fmt.Errorf("%s, %s: %w", city, state, err))
		return Result{}, ErrNotFound
	}

	if g.cache != nil {
		g.cache.SetGeocoding(ctx, city, state, coords)
	}
	return Result{Coordinates: coords, Source: place.DisplayName}, nil
}

func (g *Geocoder) search(ctx context.Context, query string) ([]Place, error) {
	err := g.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	res, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":         "json",
			"q":              query,
			"limit":          "3",
			"addressdetails": "1",
		}).
		Get("/search")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("unexpected status %s", res.Status())
	}

	var places []Place
	err = json.Unmarshal(res.Body(), &places)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return places, nil
}
