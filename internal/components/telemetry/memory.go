package telemetry

import (
	"strings"
	"sync"
)

// Report is a single call recorded by MemoryAPI.
type Report struct {
	Kind   string
	ID     string
	Params []any
}

// MemoryAPI records every report in memory, it exists so tests can assert that
// a failure was reported instead of silently swallowed.
type MemoryAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func (m *MemoryAPI) push(kind, id string, params []any) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reports = append(m.reports, Report{Kind: kind, ID: id, Params: params})
}

func (m *MemoryAPI) ReportBroken(id string, params ...any) {
	m.push("broken", id, params)
}

func (m *MemoryAPI) ReportWarning(id string, params ...any) {
	m.push("warning", id, params)
}

func (m *MemoryAPI) ReportDebug(msg string, params ...any) {
	m.push("debug", msg, params)
}

func (m *MemoryAPI) ReportCount(id string, count int64) {
	m.push("count", id, []any{count})
}

// Reports returns a copy of every report of the given kind whose id contains substr.
func (m *MemoryAPI) Reports(kind, substr string) []Report {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var out []Report
	for _, r := range m.reports {
		if r.Kind == kind && strings.Contains(r.ID, substr) {
			out = append(out, r)
		}
	}
	return out
}
