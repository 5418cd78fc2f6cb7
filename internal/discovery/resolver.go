// Package discovery locates the certification document of a course by running an ordered
// chain of strategies, the first strategy that produces a document wins.
package discovery

import (
	"context"
	"fmt"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/scrapers/registry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("racemap.internal.discovery")

const report_resolver_strategy = "resolver.strategy"

type Source string

const (
	SourceLocal      Source = "local"
	SourceDirectLink Source = "direct-link"
	SourceDownload   Source = "download"
)

// Document is a certification document that exists on local disk.
type Document struct {
	Path   string `json:"path"`
	Source Source `json:"source"`
	// URL is the address the document was downloaded from, empty for local documents.
	URL string `json:"url,omitempty"`
}

// Strategy is one way of locating the document of a course. Returning (nil, nil) means the
// strategy found nothing, which is not an error.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, course registry.Course) (*Document, error)
}

// Resolver runs its strategies in order until one produces a document.
type Resolver struct {
	strategies []Strategy
	tel        telemetry.API
}

func NewResolver(tel telemetry.API, strategies ...Strategy) *Resolver {
	return &Resolver{
		strategies: strategies,
		tel:        telemetry.NewScopedAPI("discovery", tel),
	}
}

// Strategies returns the names of the strategies in the order they are tried.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve returns the first document any strategy produces, or nil when none does. A failing
// strategy is reported and counts as having found nothing, later strategies still run.
func (r *Resolver) Resolve(ctx context.Context, course registry.Course) *Document {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("course_id", course.ID))

	for _, strategy := range r.strategies {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "context done")
			return nil
		}

		doc, err := strategy.Attempt(ctx, course)
		if err != nil {
			span.RecordError(err)
			r.tel.ReportWarning(
				report_resolver_strategy,
				fmt.Errorf("%s for %s: %w", strategy.Name(), course.ID, err),
			)
			continue
		}
		if doc != nil && doc.Path != "" {
			span.SetAttributes(
				attribute.String("strategy", strategy.Name()),
				attribute.String("source", string(doc.Source)),
			)
			r.tel.ReportDebug("resolved document", course.ID, strategy.Name(), doc.Path)
			return doc
		}
	}

	r.tel.ReportDebug("no document found", course.ID)
	return nil
}
