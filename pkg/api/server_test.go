package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/store"
)

const testAPIKey = "test-key"

func newTestStore(t *testing.T, mutate func(*store.Config)) *store.Store {
	t.Helper()
	cfg := store.Config{
		Path:             t.TempDir(),
		Data:             data.NewLex(16),
		CacheSize:        16 << 20,
		DiskSize:         64 << 20,
		MemtableCapacity: 1 << 20,
		UseStats:         true,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := store.Create(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// setupTestServer serves the API for a fresh store over httptest.
func setupTestServer(t *testing.T, mutate func(*store.Config)) *httptest.Server {
	t.Helper()
	s := newTestStore(t, mutate)
	server := NewServer(s, ServerConfig{APIKey: testAPIKey}, NewMetrics())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestServer_Health(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := do(t, ts, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.True(t, out.Success)
	assert.Equal(t, "healthy", out.Data.(map[string]interface{})["status"])
}

func TestServer_KeyValueLifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := do(t, ts, http.MethodGet, "/api/v1/kv/user-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, ts, http.MethodPut, "/api/v1/kv/user-1", "A")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/api/v1/kv/user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "A", readAll(t, resp))

	resp = do(t, ts, http.MethodPatch, "/api/v1/kv/user-1", "B")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/api/v1/kv/user-1", "")
	assert.Equal(t, "B", readAll(t, resp))

	resp = do(t, ts, http.MethodDelete, "/api/v1/kv/user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/api/v1/kv/user-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_EscapedKey(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := do(t, ts, http.MethodPut, "/api/v1/kv/a%2Fb%20c", "slash")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/api/v1/scan", "")
	out := decode(t, resp)
	items := out.Data.(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "a/b c", items[0].(map[string]interface{})["key"])
}

func TestServer_Errors(t *testing.T) {
	ts := setupTestServer(t, nil)

	testCases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"key too long", http.MethodPut, "/api/v1/kv/" + strings.Repeat("k", 17), "v", http.StatusBadRequest},
		{"lookup key too long", http.MethodGet, "/api/v1/kv/" + strings.Repeat("k", 17), "", http.StatusBadRequest},
		{"bad scan limit", http.MethodGet, "/api/v1/scan?limit=0", "", http.StatusBadRequest},
		{"scan limit too large", http.MethodGet, "/api/v1/scan?limit=5000", "", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, ts, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestServer_BodyTooLarge(t *testing.T) {
	s := newTestStore(t, nil)
	handler := NewServer(s, ServerConfig{MaxBodySize: 8}, NewMetrics()).Handler()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/kv/big", strings.NewReader("123456789"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/kv/small", strings.NewReader("12345678"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Scan(t *testing.T) {
	ts := setupTestServer(t, nil)

	for _, k := range []string{"e", "a", "d", "b", "c"} {
		require.Equal(t, http.StatusOK, do(t, ts, http.MethodPut, "/api/v1/kv/"+k, "v"+k).StatusCode)
	}
	require.Equal(t, http.StatusOK, do(t, ts, http.MethodDelete, "/api/v1/kv/d", "").StatusCode)

	var keys []string
	path := "/api/v1/scan?limit=2"
	for pages := 0; pages < 5; pages++ {
		resp := do(t, ts, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Data ScanResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		for _, item := range out.Data.Items {
			keys = append(keys, item.Key)
			assert.Equal(t, "v"+item.Key, string(item.Value))
		}
		if out.Data.Next == "" {
			break
		}
		path = "/api/v1/scan?limit=2&start=" + out.Data.Next
	}
	assert.Equal(t, []string{"a", "b", "c", "e"}, keys)
}

func TestServer_ThreadRegistryFull(t *testing.T) {
	// The creating goroutine holds the only slot.
	ts := setupTestServer(t, func(c *store.Config) { c.MaxThreads = 1 })

	resp := do(t, ts, http.MethodPut, "/api/v1/kv/k", "v")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, decode(t, resp).Error, "Too many concurrent requests")

	// Routes outside the registry still answer.
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/v1/health", "").StatusCode)

	resp = do(t, ts, http.MethodGet, "/metrics", "")
	assert.Contains(t, readAll(t, resp), "skadi_thread_rejections_total 1")
}

func TestServer_StatsAndMetrics(t *testing.T) {
	ts := setupTestServer(t, nil)

	require.Equal(t, http.StatusOK, do(t, ts, http.MethodPut, "/api/v1/kv/a", "1").StatusCode)
	require.Equal(t, http.StatusNotFound, do(t, ts, http.MethodGet, "/api/v1/kv/b", "").StatusCode)

	resp := do(t, ts, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Data store.Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, uint64(1), out.Data.Inserts)
	assert.Equal(t, uint64(1), out.Data.Lookups)
	assert.Zero(t, out.Data.LookupHits)

	resp = do(t, ts, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readAll(t, resp)
	assert.Contains(t, body, `skadi_http_requests_total{endpoint="/api/v1/kv/{key}",method="PUT",status_code="200"} 1`)
	assert.Contains(t, body, `skadi_store_operations_total{operation="insert",result="success"} 1`)
	assert.Contains(t, body, "skadi_allocator_extents_in_use")
}

func TestServer_RequiresAPIKey(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Metrics stay open for scraping.
	resp, err = ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Serve(t *testing.T) {
	s := newTestStore(t, nil)
	server := NewServer(s, ServerConfig{}, NewMetrics())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/v1/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestThreadMiddleware_ProvidesScratch(t *testing.T) {
	server := NewServer(newTestStore(t, nil), ServerConfig{}, NewMetrics())

	var scratch []byte
	handler := server.threadMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scratch = threadScratch(r)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, scratch, store.DefaultPageSize)

	assert.Nil(t, threadScratch(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestGet_ValuesAroundScratchSize(t *testing.T) {
	ts := setupTestServer(t, nil)

	for _, n := range []int{0, 10, store.DefaultPageSize, 3 * store.DefaultPageSize} {
		value := strings.Repeat("v", n)
		resp := do(t, ts, http.MethodPut, "/api/v1/kv/sized", value)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(t, ts, http.MethodGet, "/api/v1/kv/sized", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, value, readAll(t, resp), "value of %d bytes", n)
	}
}
