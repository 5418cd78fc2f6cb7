package registry

import (
	"bytes"
	"context"
	"fmt"
	"racemap-backend/internal/htmlutil"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("racemap.internal.scrapers.registry")

// NoResultsPhrase is the sentence the registry prints instead of a result table.
const NoResultsPhrase = "No courses match your search criteria"

const (
	DefaultDistanceMeters = 5000
	// a row with fewer cells than this is not a result row
	minimumRowCells = 10
)

// Parser turns a registry search response into course records.
type Parser interface {
	Parse(ctx context.Context, body []byte) ([]Course, error)
}

// TableParser reads the registry's result table, falling back to a degraded scan of the raw
// text when no table rows can be read. Parsing is pure: the same body always yields the same
// records.
type TableParser struct{}

func (TableParser) Parse(ctx context.Context, body []byte) ([]Course, error) {
	ctx, span := tracer.Start(ctx, "Parse")
	defer span.End()

	if bytes.Contains(body, []byte(NoResultsPhrase)) {
		span.SetAttributes(attribute.Bool("no_results", true))
		return []Course{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, fmt.Errorf("parse html: %w", err)
	}

	courses := []Course{}
	doc.Find("table tr").
		FilterFunction(func(_ int, row *goquery.Selection) bool {
			return CourseIDPattern.MatchString(row.Text())
		}).
		Each(func(_ int, row *goquery.Selection) {
			course, ok := parseRow(ctx, row)
			if ok {
				courses = append(courses, course)
			}
		})

	if len(courses) > 0 {
		span.SetAttributes(attribute.Int("courses", len(courses)))
		return courses, nil
	}

	degraded := ScanCourseIDs(body)
	span.SetAttributes(
		attribute.Bool("degraded", true),
		attribute.Int("courses", len(degraded)),
	)
	return degraded, nil
}

// ScanCourseIDs synthesizes a minimal record for every distinct course id found anywhere in
// body, in order of first appearance.
func ScanCourseIDs(body []byte) []Course {
	courses := []Course{}
	seen := map[string]struct{}{}
	for _, match := range CourseIDPattern.FindAll(body, -1) {
		id := string(match)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		courses = append(courses, Course{
			ID:             id,
			Name:           fmt.Sprintf("Course %s", id),
			DistanceMeters: DefaultDistanceMeters,
			Status:         "A",
		})
	}
	return courses
}

// columns of the result table:
// 0 #, 1 course id, 2 name, 3 distance, 4 city, 5 state, 6 measurer, 7 certifier last name,
// 8 type, 9 drop, 10 separation, 11 record eligible, 12 status, 13 expiration
func parseRow(ctx context.Context, row *goquery.Selection) (Course, bool) {
	cells := row.Find("td")
	if cells.Length() < minimumRowCells {
		return Course{}, false
	}
	cell := func(i int) *goquery.Selection {
		return cells.Eq(i)
	}
	text := func(i int) string {
		if i >= cells.Length() {
			return ""
		}
		return htmlutil.SelectionText(cell(i))
	}

	idCell := cell(1)
	anchor := idCell.Find("a").First()
	id := htmlutil.SelectionText(anchor)
	if id == "" {
		id = text(1)
	}
	if !CourseIDPattern.MatchString(id) {
		return Course{}, false
	}

	certificateURL := ""
	anchors := htmlutil.GetAnchors(ctx, anchor, nil)
	if len(anchors) > 0 {
		certificateURL = anchors[0].Href
	}

	name := text(2)
	if name == "" {
		name = fmt.Sprintf("Course %s", id)
	}
	expiration := text(13)

	return Course{
		ID:                id,
		Name:              name,
		DistanceMeters:    ParseDistance(text(3)),
		City:              text(4),
		State:             text(5),
		Measurer:          text(6),
		CertifierLastName: text(7),
		CourseType:        text(8),
		Drop:              parseLeadingFloat(text(9)),
		Separation:        parseLeadingFloat(text(10)),
		Status:            text(12),
		Expiration:        expiration,
		CertificationYear: expiration,
		CertificateURL:    certificateURL,
	}, true
}

var (
	firstNumber   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	leadingNumber = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d*)?|\.\d+)`)
)

// ParseDistance converts a free-text distance description into meters, text it cannot read
// yields DefaultDistanceMeters.
func ParseDistance(text string) float64 {
	switch {
	case strings.Contains(text, "5 km") || strings.Contains(text, "5K"):
		return 5000
	case strings.Contains(text, "10 km") || strings.Contains(text, "10K"):
		return 10000
	case strings.Contains(text, "half") || strings.Contains(text, "Half"):
		return 21097
	case strings.Contains(text, "marathon") || strings.Contains(text, "Marathon"):
		return 42195
	}

	match := firstNumber.FindString(text)
	if match == "" {
		return DefaultDistanceMeters
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return DefaultDistanceMeters
	}

	switch {
	case strings.Contains(text, "km"):
		return value * 1000
	case strings.Contains(text, "mi"):
		return value * 1609.34
	}
	return value
}

// parseLeadingFloat reads the number at the start of text, zero when there is none.
func parseLeadingFloat(text string) float64 {
	match := leadingNumber.FindString(strings.TrimSpace(text))
	if match == "" {
		return 0
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return value
}
