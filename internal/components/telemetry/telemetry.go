package telemetry

import (
	"fmt"
)

// API is how components report what happens to them. Production uses SlogAPI, tests use
// MemoryAPI to assert that a failure was noticed.
//
// Ids name the component that reported, not the line of code: the registry scraper failing a
// search reports "registry_scraper: search" and carries the details as params or as a wrapped
// error. Ids are lowercase, with underscores inside a component name and dashes inside an
// operation name.
type API interface {
	// ReportBroken reports a failure somebody needs to fix, like an unreadable cache file or a
	// registry page whose layout changed.
	ReportBroken(id string, params ...any)
	// ReportWarning reports something worth a look that the caller recovered from, like a
	// discovery strategy failing before a later one finds the document.
	ReportWarning(id string, params ...any)
	// ReportDebug is dropped outside development.
	ReportDebug(msg string, params ...any)
	// ReportCount reports a gauge sample (cache entries, goroutines), not an increment.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with the component's namespace.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scoped(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scoped(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scoped(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scoped(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scoped(id), count)
}
