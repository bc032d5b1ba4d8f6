package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-kv/pkg/kv"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/server"
)

// startTestServer brings up the full stack: store, metrics, HTTP server.
func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	opts := kv.DefaultOptions()
	opts.SegmentSize = 8 << 10
	opts.AutoCompaction = false

	store, err := kv.Open(t.TempDir(), opts)
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { store.Close() })

	srv := server.New(store, server.Options{
		Listen:  "127.0.0.1:0",
		Metrics: metrics.NewRegistry(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func putKey(t *testing.T, baseURL, key string, value []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, baseURL+"/v1/keys/"+key, bytes.NewReader(value))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func getKey(t *testing.T, baseURL, key string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(baseURL + "/v1/keys/" + key)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func deleteKey(t *testing.T, baseURL, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/keys/"+key, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

// TestCompleteClientWorkflow walks a client through the whole API surface.
func TestCompleteClientWorkflow(t *testing.T) {
	ts := startTestServer(t)
	baseURL := ts.URL

	// Write a batch of keys.
	for i := 0; i < 10; i++ {
		resp := putKey(t, baseURL, fmt.Sprintf("user:%d", i), []byte(fmt.Sprintf(`{"id":%d}`, i)))
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	// Read one back.
	status, body := getKey(t, baseURL, "user:3")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":3}`, string(body))

	// Overwrite and confirm the new value is served.
	resp := putKey(t, baseURL, "user:3", []byte(`{"id":3,"name":"updated"}`))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	status, body = getKey(t, baseURL, "user:3")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "updated")

	// Delete and confirm it is gone.
	resp = deleteKey(t, baseURL, "user:7")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	status, _ = getKey(t, baseURL, "user:7")
	assert.Equal(t, http.StatusNotFound, status)

	// The key listing reflects all of the above.
	listResp, err := http.Get(baseURL + "/v1/keys")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.Equal(t, 9, list.Count)
	assert.NotContains(t, list.Keys, "user:7")

	// Maintenance endpoints respond.
	flushResp, err := http.Post(baseURL+"/v1/flush", "", nil)
	require.NoError(t, err)
	flushResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, flushResp.StatusCode)

	compactResp, err := http.Post(baseURL+"/v1/compact", "", nil)
	require.NoError(t, err)
	compactResp.Body.Close()
	assert.Equal(t, http.StatusOK, compactResp.StatusCode)

	// Stats report the traffic.
	statsResp, err := http.Get(baseURL + "/v1/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.GreaterOrEqual(t, stats["puts"].(float64), float64(11))
	assert.Equal(t, float64(9), stats["live_keys"])
}

// TestConcurrentClients hammers the server from several goroutines.
func TestConcurrentClients(t *testing.T) {
	ts := startTestServer(t)
	baseURL := ts.URL

	const clients = 5
	const opsPerClient = 40

	var wg sync.WaitGroup
	errCh := make(chan error, clients)
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < opsPerClient; i++ {
				key := fmt.Sprintf("c%d-k%d", c, i)
				req, err := http.NewRequest(http.MethodPut, baseURL+"/v1/keys/"+key, bytes.NewReader([]byte(key)))
				if err != nil {
					errCh <- err
					return
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					errCh <- err
					return
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusNoContent {
					errCh <- fmt.Errorf("put %s: status %d", key, resp.StatusCode)
					return
				}
			}
		}(c)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}

	// Every write from every client must be readable.
	for c := 0; c < clients; c++ {
		for i := 0; i < opsPerClient; i++ {
			key := fmt.Sprintf("c%d-k%d", c, i)
			status, body := getKey(t, baseURL, key)
			require.Equal(t, http.StatusOK, status, "key %s", key)
			assert.Equal(t, key, string(body))
		}
	}
}

// TestDurabilityAcrossRestart verifies data written over HTTP survives a
// full store close and reopen.
func TestDurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	opts := kv.DefaultOptions()
	opts.AutoCompaction = false

	store, err := kv.Open(dir, opts)
	require.NoError(t, err)
	srv := server.New(store, server.Options{Listen: "127.0.0.1:0", Metrics: metrics.NewRegistry()})
	ts := httptest.NewServer(srv.Handler())

	resp := putKey(t, ts.URL, "persistent", []byte("survives"))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ts.Close()
	require.NoError(t, store.Close())

	store2, err := kv.Open(dir, opts)
	require.NoError(t, err)
	defer store2.Close()
	srv2 := server.New(store2, server.Options{Listen: "127.0.0.1:0", Metrics: metrics.NewRegistry()})
	ts2 := httptest.NewServer(srv2.Handler())
	defer ts2.Close()

	status, body := getKey(t, ts2.URL, "persistent")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "survives", string(body))
}
