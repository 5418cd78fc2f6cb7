package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	inner := &MemoryAPI{}
	scoped := NewScopedAPI("registry_scraper", inner)

	failure := errors.New("unexpected table layout")
	scoped.ReportBroken("search", failure)
	scoped.ReportWarning("robots", "status 503")
	scoped.ReportDebug("search cache hit")
	scoped.ReportCount("search", 12)

	testCases := []struct {
		kind   string
		id     string
		params []any
	}{
		{kind: "broken", id: "registry_scraper: search", params: []any{failure}},
		{kind: "warning", id: "registry_scraper: robots", params: []any{"status 503"}},
		{kind: "debug", id: "registry_scraper: search cache hit"},
		{kind: "count", id: "registry_scraper: search", params: []any{int64(12)}},
	}
	for _, test := range testCases {
		reports := inner.Reports(test.kind, test.id)
		require.Len(t, reports, 1, test.kind)
		require.Equal(t, test.id, reports[0].ID)
		if test.params != nil {
			require.Equal(t, test.params, reports[0].Params)
		}
	}
}
