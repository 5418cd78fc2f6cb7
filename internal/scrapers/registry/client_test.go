package registry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"racemap-backend/internal/components/telemetry"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingRegistry struct {
	mutex  sync.Mutex
	bodies []string
	status int
	page   []byte
}

func (r *recordingRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mutex.Lock()
	r.bodies = append(r.bodies, string(body))
	r.mutex.Unlock()

	if req.Method != http.MethodPost || req.URL.Path != "/search/" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Header.Get("content-type") != "application/x-www-form-urlencoded" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	w.Header().Set("content-type", "text/html")
	w.Write(r.page)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *telemetry.MemoryAPI) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tel := &telemetry.MemoryAPI{}
	client, err := NewClient(Options{BaseURL: server.URL, RequestsPerSecond: 100}, tel)
	require.NoError(t, err)
	return client, tel
}

func TestClientSearch(t *testing.T) {
	registry := &recordingRegistry{
		page: resultPage(resultRow(1, "KS12345ABC", "/course/KS12345ABC", "Free State 5K", "5K")),
	}
	client, _ := newTestClient(t, registry)

	query := Query{City: "Lawrence", State: "KS"}
	courses, err := client.Search(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, "KS12345ABC", courses[0].ID)

	require.Len(t, registry.bodies, 1)
	require.Equal(t, query.Encode(), registry.bodies[0])
}

func TestClientSearchUpstreamFailure(t *testing.T) {
	registry := &recordingRegistry{status: http.StatusBadGateway}
	client, tel := newTestClient(t, registry)

	_, err := client.Search(context.Background(), Query{State: "KS"})
	require.Error(t, err)
	require.NotEmpty(t, tel.Reports("broken", report_client_search))
}

func TestClientProbe(t *testing.T) {
	registry := &recordingRegistry{
		page: []byte(`<p>KS12345ABC</p><p>KS54321XY</p><p>KS12345ABC</p>`),
	}
	client, _ := newTestClient(t, registry)

	result, err := client.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"KS12345ABC", "KS54321XY"}, result.CourseIDs)

	form, err := url.ParseQuery(registry.bodies[0])
	require.NoError(t, err)
	require.Equal(t, "KS", form.Get("State"))
	require.Equal(t, "A", form.Get("Status"))
}

func TestClientDump(t *testing.T) {
	registry := &recordingRegistry{
		page: resultPage(resultRow(1, "KS12345ABC", "/course/KS12345ABC", "Free State 5K", "5K")),
	}
	server := httptest.NewServer(registry)
	t.Cleanup(server.Close)

	dir := filepath.Join(t.TempDir(), "dump")
	out, err := telemetry.NewFilesystemOutput(dir)
	require.NoError(t, err)
	client, err := NewClient(Options{BaseURL: server.URL, RequestsPerSecond: 100, Dump: out}, &telemetry.MemoryAPI{})
	require.NoError(t, err)

	query := Query{City: "Lawrence", State: "KS"}
	_, err = client.Search(context.Background(), query)
	require.NoError(t, err)

	dumped, err := os.ReadFile(filepath.Join(dir, "1"))
	require.NoError(t, err)
	text := string(dumped)
	require.True(t, strings.HasPrefix(text, "---- REQUEST ----"))
	require.Contains(t, text, "POST "+server.URL+"/search/")
	require.Contains(t, text, query.Encode())
	require.Contains(t, text, "KS12345ABC")
}
