package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"racemap-backend/internal/htmlutil"
	"racemap-backend/internal/scrapers/registry"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// LocalMatch looks for an already present document in a directory, matching file names on the
// course id or the first ten characters of the course name (case-insensitive).
type LocalMatch struct {
	Dir string
}

func (LocalMatch) Name() string {
	return "local"
}

func (s LocalMatch) Attempt(ctx context.Context, course registry.Course) (*Document, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	id := strings.ToLower(course.ID)
	namePrefix := []rune(strings.ToLower(course.Name))
	if len(namePrefix) > 10 {
		namePrefix = namePrefix[:10]
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := strings.ToLower(entry.Name())
		if (id != "" && strings.Contains(filename, id)) ||
			(len(namePrefix) > 0 && strings.Contains(filename, string(namePrefix))) {
			return &Document{
				Path:   filepath.Join(s.Dir, entry.Name()),
				Source: SourceLocal,
			}, nil
		}
	}
	return nil, nil
}

type page struct {
	doc         *goquery.Document
	contentType string
}

func fetchPage(ctx context.Context, client *resty.Client, link string) (page, error) {
	res, err := client.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		return page{}, fmt.Errorf("fetch %s: %w", link, err)
	}
	if res.IsError() {
		return page{}, fmt.Errorf("fetch %s: unexpected status %s", link, res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return page{}, fmt.Errorf("parse %s: %w", link, err)
	}
	return page{
		doc:         doc,
		contentType: res.Header().Get("content-type"),
	}, nil
}

// firstLink returns the resolved url of the first anchor matching selector whose href
// contains one of accept.
func firstLink(ctx context.Context, p page, selector string, base *url.URL, accept ...string) string {
	for _, anchor := range htmlutil.GetAnchors(ctx, p.doc.Find(selector), base) {
		for _, needle := range accept {
			if strings.Contains(anchor.Href, needle) {
				return anchor.URL
			}
		}
	}
	return ""
}

// CertificateLink follows the certificate page the registry links from a search result.
// The first link on that page that looks like a document is downloaded, when there is none and
// the page itself is a PDF, the page is downloaded instead.
type CertificateLink struct {
	// Pages fetches certificate pages.
	Pages   *resty.Client
	Fetcher *Fetcher
	// BaseURL is what relative links resolve against.
	BaseURL *url.URL
}

func (CertificateLink) Name() string {
	return "certificate-link"
}

func (s CertificateLink) Attempt(ctx context.Context, course registry.Course) (*Document, error) {
	if course.CertificateURL == "" {
		return nil, nil
	}
	pageURL, err := url.Parse(course.CertificateURL)
	if err != nil {
		return nil, fmt.Errorf("certificate url: %w", err)
	}
	if s.BaseURL != nil {
		pageURL = s.BaseURL.ResolveReference(pageURL)
	}

	p, err := fetchPage(ctx, s.Pages, pageURL.String())
	if err != nil {
		return nil, err
	}

	link := firstLink(
		ctx, p,
		`a[href*=".pdf"], a[href*="download"], a[href*="cert"]`,
		s.BaseURL,
		".pdf", "download",
	)
	if link != "" {
		return s.Fetcher.Download(ctx, link, course)
	}
	if strings.Contains(p.contentType, "pdf") {
		return s.Fetcher.Download(ctx, pageURL.String(), course)
	}
	return nil, nil
}

// DirectLink looks at the registry's own certificate page for the course id.
type DirectLink struct {
	Pages   *resty.Client
	Fetcher *Fetcher
	BaseURL *url.URL
}

func (DirectLink) Name() string {
	return "direct-link"
}

func (s DirectLink) Attempt(ctx context.Context, course registry.Course) (*Document, error) {
	if s.BaseURL == nil || course.ID == "" {
		return nil, nil
	}
	pageURL := s.BaseURL.JoinPath("certificate", course.ID)

	p, err := fetchPage(ctx, s.Pages, pageURL.String())
	if err != nil {
		return nil, err
	}

	link := firstLink(
		ctx, p,
		`a[href*=".pdf"], a[href*="certificate"], a[href*="cert"]`,
		s.BaseURL,
		".pdf",
	)
	if link == "" {
		return nil, nil
	}
	doc, err := s.Fetcher.Download(ctx, link, course)
	if err != nil {
		return nil, err
	}
	doc.Source = SourceDirectLink
	return doc, nil
}

// Reserved is a placeholder strategy that never finds anything, it keeps a slot in the chain
// for a search that is not implemented (ex. race websites, running calendars).
type Reserved struct {
	Label string
}

func (s Reserved) Name() string {
	return s.Label
}

func (Reserved) Attempt(ctx context.Context, course registry.Course) (*Document, error) {
	return nil, nil
}

var (
	SiteSearch     = Reserved{Label: "site-search"}
	CalendarSearch = Reserved{Label: "calendar-search"}
)

// ChainOptions configures DefaultChain.
type ChainOptions struct {
	AssetsDir string
	BaseURL   *url.URL
	Pages     *resty.Client
	Fetcher   *Fetcher
}

// DefaultChain is the standard strategy order: local documents, the registry's certificate
// link, the registry's direct certificate page, then the reserved searches.
func DefaultChain(opts ChainOptions) []Strategy {
	return []Strategy{
		LocalMatch{Dir: opts.AssetsDir},
		CertificateLink{Pages: opts.Pages, Fetcher: opts.Fetcher, BaseURL: opts.BaseURL},
		DirectLink{Pages: opts.Pages, Fetcher: opts.Fetcher, BaseURL: opts.BaseURL},
		SiteSearch,
		CalendarSearch,
	}
}
