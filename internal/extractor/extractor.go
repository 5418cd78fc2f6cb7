// Package extractor runs the external document extractor: a program that is given a document
// path, prints one JSON object of extracted fields and exits non-zero on failure.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/components/telemetry"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("racemap.internal.extractor")

const (
	report_bridge_extract = "bridge.extract"
	report_bridge_missing = "bridge.missing"
)

// Fields is the object the extractor printed.
type Fields = map[string]any

// Extractor pulls structured fields out of a document. ok is false whenever no data could be
// extracted, failures are never returned.
type Extractor interface {
	Extract(ctx context.Context, path string) (fields Fields, ok bool)
}

type Options struct {
	// Command is the program and its leading arguments, the document path is appended.
	// ex. ["python3", "advanced_pdf_extractor.py"]
	Command []string
	// Timeout bounds a single run, defaults to 2 minutes.
	Timeout time.Duration
}

// Bridge runs the extractor program once per document.
type Bridge struct {
	command []string
	timeout time.Duration
	tel     telemetry.API
}

func NewBridge(opts Options, tel telemetry.API) *Bridge {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Bridge{
		command: opts.Command,
		timeout: timeout,
		tel:     telemetry.NewScopedAPI("extractor", tel),
	}
}

// Available reports whether the program and every file argument it names exist. A missing
// extractor is a supported configuration, documents are then returned without fields.
func (b *Bridge) Available() error {
	if len(b.command) == 0 {
		return errors.New("no extractor command configured")
	}
	_, err := exec.LookPath(b.command[0])
	if err != nil {
		return err
	}
	for _, arg := range b.command[1:] {
		if !looksLikeFile(arg) {
			continue
		}
		_, err := os.Stat(arg)
		if err != nil {
			return err
		}
	}
	return nil
}

func looksLikeFile(arg string) bool {
	return !strings.HasPrefix(arg, "-") && strings.ContainsAny(arg, "./")
}

func (b *Bridge) Extract(ctx context.Context, path string) (Fields, bool) {
	ctx, span := tracer.Start(ctx, "Extract")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	err := b.Available()
	if err != nil {
		b.tel.ReportDebug(report_bridge_missing, err)
		span.SetAttributes(attribute.Bool("available", false))
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	args := append(append([]string{}, b.command[1:]...), path)
	cmd := exec.CommandContext(ctx, b.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extractor failed")
		b.tel.ReportWarning(
			report_bridge_extract,
			fmt.Errorf("%s: %w", path, err),
			stderr.String(),
		)
		return nil, false
	}

	var fields Fields
	err = json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &fields)
	if err != nil || fields == nil {
		if err == nil {
			err = errors.New("output is not a json object")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unreadable extractor output")
		b.tel.ReportWarning(report_bridge_extract, fmt.Errorf("decode output of %s: %w", path, err))
		return nil, false
	}
	return fields, true
}

// CachedExtractor serves extractions from the document cache, entries are invalidated when the
// document is modified. Only successful extractions are cached.
type CachedExtractor struct {
	inner Extractor
	cache *cache.Cache
}

func NewCachedExtractor(inner Extractor, c *cache.Cache) CachedExtractor {
	return CachedExtractor{inner: inner, cache: c}
}

func (e CachedExtractor) Extract(ctx context.Context, path string) (Fields, bool) {
	fields, ok := e.cache.GetExtraction(ctx, path)
	if ok {
		return fields, true
	}
	fields, ok = e.inner.Extract(ctx, path)
	if !ok {
		return nil, false
	}
	e.cache.SetExtraction(ctx, path, fields)
	return fields, true
}
