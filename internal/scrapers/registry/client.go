package registry

import (
	"context"
	"fmt"
	"net/url"
	"racemap-backend/internal/components/telemetry"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_search = "client.search"
	report_client_probe  = "client.probe"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

type Options struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Parser defaults to TableParser.
	Parser Parser
	// RequestsPerSecond throttles outbound requests, defaults to 2.
	RequestsPerSecond float64
	// Dump receives every registry response when set (ex. telemetry.FilesystemOutput).
	Dump telemetry.DumpOutput
}

// Client submits searches to the registry.
type Client struct {
	http    *resty.Client
	parser  Parser
	baseURL string
	tel     telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	tel = telemetry.NewScopedAPI("registry_scraper", tel)

	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsedBaseURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := opts.Parser
	if parser == nil {
		parser = TableParser{}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	httpClient := resty.New()
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	httpClient.SetBaseURL(baseURL)
	httpClient.SetHeader("user-agent", userAgent)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseURL.Hostname()))
	httpClient.SetTimeout(timeout)

	// max burst >= rps just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(rate.Limit(rps), max(1, int(rps+0.5)))
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(httpClient, "racemap.internal.scrapers.registry.http", tel)
	if opts.Dump != nil {
		telemetry.DumpResty(httpClient, opts.Dump)
	}

	return &Client{
		http:    httpClient,
		parser:  parser,
		baseURL: baseURL,
		tel:     tel,
	}, nil
}

// BaseURL is the registry root every relative registry link resolves against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) post(ctx context.Context, body string) ([]byte, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(body).
		Post("/search/")
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("fetch: unexpected status %s", res.Status())
	}
	return res.Body(), nil
}

// Search submits the query and parses the response. Transport failures, non-2xx responses and
// unreadable pages are returned as errors.
func (c *Client) Search(ctx context.Context, q Query) ([]Course, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()

	body := q.Encode()
	c.tel.ReportDebug("search form", body)

	res, err := c.post(ctx, body)
	if err != nil {
		c.tel.ReportBroken(report_client_search, err, q)
		return nil, err
	}

	courses, err := c.parser.Parse(ctx, res)
	if err != nil {
		c.tel.ReportBroken(report_client_search, err, q)
		return nil, err
	}
	c.tel.ReportCount(report_client_search, int64(len(courses)))
	return courses, nil
}

// ProbeResult describes a connectivity check against the registry.
type ProbeResult struct {
	ResponseBytes int
	CourseIDs     []string
	Duration      time.Duration
}

// Probe submits a minimal search (active Kansas courses) and reports which course ids the raw
// response contains, it bypasses the parser so layout changes can be told apart from outages.
func (c *Client) Probe(ctx context.Context) (ProbeResult, error) {
	ctx, span := tracer.Start(ctx, "Probe")
	defer span.End()

	form := url.Values{}
	form.Set("State", "KS")
	form.Set("Status", "A")
	form.Set("searchBtn", "Search")

	start := time.Now()
	res, err := c.post(ctx, form.Encode())
	if err != nil {
		c.tel.ReportBroken(report_client_probe, err)
		return ProbeResult{}, err
	}

	ids := []string{}
	for _, course := range ScanCourseIDs(res) {
		ids = append(ids, course.ID)
	}
	return ProbeResult{
		ResponseBytes: len(res),
		CourseIDs:     ids,
		Duration:      time.Since(start),
	}, nil
}
