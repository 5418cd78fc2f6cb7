package extractor

import (
	"context"
	"os"
	"path/filepath"
	"racemap-backend/internal/cache"
	"racemap-backend/internal/components/telemetry"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "extract.sh")
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))
	return script
}

func writeDocument(t *testing.T) string {
	t.Helper()
	doc := filepath.Join(t.TempDir(), "KS12345ABC - Free State 5K.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF-1.4"), 0644))
	return doc
}

func TestBridge(t *testing.T) {
	testCases := []struct {
		name     string
		command  func(t *testing.T) []string
		ok       bool
		expected Fields
		warned   bool
	}{
		{
			name: "success",
			command: func(t *testing.T) []string {
				return []string{"sh", writeScript(t, `printf '{"courseName":"Free State 5K","file":"%s"}' "$(basename "$1")"`)}
			},
			ok: true,
			expected: Fields{
				"courseName": "Free State 5K",
				"file":       "KS12345ABC - Free State 5K.pdf",
			},
		},
		{
			name: "non-zero exit",
			command: func(t *testing.T) []string {
				return []string{"sh", writeScript(t, "echo 'cannot read pdf' >&2\nexit 3\n")}
			},
			warned: true,
		},
		{
			name: "not json",
			command: func(t *testing.T) []string {
				return []string{"sh", writeScript(t, "echo 'Course ID: KS12345ABC'\n")}
			},
			warned: true,
		},
		{
			name: "json array",
			command: func(t *testing.T) []string {
				return []string{"sh", writeScript(t, "echo '[1, 2]'\n")}
			},
			warned: true,
		},
		{
			name: "missing script",
			command: func(t *testing.T) []string {
				return []string{"sh", filepath.Join(t.TempDir(), "advanced_pdf_extractor.py")}
			},
		},
		{
			name: "missing program",
			command: func(t *testing.T) []string {
				return []string{"racemap-extractor-that-does-not-exist"}
			},
		},
		{
			name: "nothing configured",
			command: func(t *testing.T) []string {
				return nil
			},
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			tel := &telemetry.MemoryAPI{}
			bridge := NewBridge(Options{Command: test.command(t)}, tel)

			fields, ok := bridge.Extract(context.Background(), writeDocument(t))
			require.Equal(t, test.ok, ok)
			if test.ok {
				if diff := cmp.Diff(test.expected, fields); diff != "" {
					t.Fatalf("fields mismatch (-want +got):\n%s", diff)
				}
			}
			require.Equal(t, test.warned, len(tel.Reports("warning", report_bridge_extract)) > 0)
		})
	}
}

type countingExtractor struct {
	calls  atomic.Int32
	fields Fields
}

func (e *countingExtractor) Extract(ctx context.Context, path string) (Fields, bool) {
	e.calls.Add(1)
	if e.fields == nil {
		return nil, false
	}
	return e.fields, true
}

func TestCachedExtractor(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := cache.Open(ctx, cache.Options{Store: store, Tel: &telemetry.MemoryAPI{}})

	doc := writeDocument(t)
	inner := &countingExtractor{fields: Fields{"distance": "5 km"}}
	cached := NewCachedExtractor(inner, c)

	for i := 0; i < 3; i++ {
		fields, ok := cached.Extract(ctx, doc)
		require.True(t, ok)
		require.Equal(t, "5 km", fields["distance"])
	}
	require.Equal(t, int32(1), inner.calls.Load())

	failing := &countingExtractor{}
	other := filepath.Join(filepath.Dir(doc), "TX54321B - Course.pdf")
	require.NoError(t, os.WriteFile(other, []byte("%PDF"), 0644))
	cachedFailing := NewCachedExtractor(failing, c)
	for i := 0; i < 2; i++ {
		_, ok := cachedFailing.Extract(ctx, other)
		require.False(t, ok)
	}
	// failures are not cached
	require.Equal(t, int32(2), failing.calls.Load())
}
