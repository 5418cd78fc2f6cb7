package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/scrapers/registry"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
)

const report_fetcher_download = "fetcher.download"

var unsafeNameChars = strings.NewReplacer("/", "-", "\\", "-", "..", ".")

// DocumentFilename is the name a downloaded document of the course is stored under.
func DocumentFilename(course registry.Course) string {
	name := strings.TrimSpace(course.Name)
	if name == "" {
		name = "Course"
	}
	return fmt.Sprintf("%s - %s.pdf", course.ID, unsafeNameChars.Replace(name))
}

// Fetcher downloads documents into a directory. A download is written to a partial file that
// is only renamed into place once complete, so readers never see a truncated document.
type Fetcher struct {
	http *resty.Client
	dir  string
	tel  telemetry.API
}

func NewFetcher(dir string, http *resty.Client, tel telemetry.API) (*Fetcher, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		http: http,
		dir:  dir,
		tel:  telemetry.NewScopedAPI("discovery", tel),
	}, nil
}

// Dir is the directory documents are downloaded into.
func (f *Fetcher) Dir() string {
	return f.dir
}

// NewHTTPClient creates the resty client used for certificate pages and downloads.
func NewHTTPClient(userAgent string, timeout time.Duration, tel telemetry.API) *resty.Client {
	if userAgent == "" {
		userAgent = registry.DefaultUserAgent
	}
	client := resty.New()
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(timeout)
	telemetry.InstrumentResty(client, "racemap.internal.discovery.http", telemetry.NewScopedAPI("discovery", tel))
	return client
}

func (f *Fetcher) Download(ctx context.Context, url string, course registry.Course) (*Document, error) {
	ctx, span := tracer.Start(ctx, "Download")
	defer span.End()

	target := filepath.Join(f.dir, DocumentFilename(course))
	suffix, err := random.String(8)
	if err != nil {
		return nil, fmt.Errorf("partial suffix: %w", err)
	}
	partial := fmt.Sprintf("%s.%s.part", target, suffix)

	res, err := f.http.R().
		SetContext(ctx).
		SetOutput(partial).
		Get(url)
	if err != nil {
		os.Remove(partial)
		f.tel.ReportWarning(report_fetcher_download, fmt.Errorf("%s: %w", url, err))
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if res.IsError() {
		os.Remove(partial)
		return nil, fmt.Errorf("download %s: unexpected status %s", url, res.Status())
	}

	err = os.Rename(partial, target)
	if err != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("download %s: %w", url, err)
	}

	f.tel.ReportDebug("downloaded document", course.ID, target)
	return &Document{
		Path:   target,
		Source: SourceDownload,
		URL:    url,
	}, nil
}
