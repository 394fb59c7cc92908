package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofish2020/easyqueue"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, maxPayload int64) *httptest.Server {
	t.Helper()
	options := easyqueue.DefaultOptions
	options.DirPath = "/queues"
	options.GCInterval = -1
	options.Fs = afero.NewMemMapFs()
	registry, err := easyqueue.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	s, err := New(registry, Options{MaxPayload: maxPayload, NodeID: 1})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (int, string, http.Header) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data), resp.Header
}

func TestSubscribePublishGet(t *testing.T) {
	ts := newTestServer(t, 1024)

	code, _, header := do(t, http.MethodPost, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.NotEmpty(t, header.Get(requestIDHeader))

	code, _, _ = do(t, http.MethodGet, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _, _ = do(t, http.MethodPost, ts.URL+"/orders", "hello")
	assert.Equal(t, http.StatusNoContent, code)

	code, body, header := do(t, http.MethodGet, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello", body)
	assert.Equal(t, "5", header.Get("Content-Length"))

	code, _, _ = do(t, http.MethodGet, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNoContent, code)
}

func TestUnsubscribe(t *testing.T) {
	ts := newTestServer(t, 1024)

	code, _, _ := do(t, http.MethodDelete, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _, _ = do(t, http.MethodPost, ts.URL+"/orders/alice", "")
	require.Equal(t, http.StatusNoContent, code)
	code, _, _ = do(t, http.MethodDelete, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _, _ = do(t, http.MethodDelete, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _, _ = do(t, http.MethodGet, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetUnknownTopic(t *testing.T) {
	ts := newTestServer(t, 1024)
	code, _, _ := do(t, http.MethodGet, ts.URL+"/nope/alice", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestInvalidName(t *testing.T) {
	ts := newTestServer(t, 1024)
	code, _, _ := do(t, http.MethodPost, ts.URL+"/orders/.alice", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _, _ = do(t, http.MethodPost, ts.URL+"/"+strings.Repeat("t", 200), "x")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPayloadTooLarge(t *testing.T) {
	ts := newTestServer(t, 4)

	code, _, _ := do(t, http.MethodPost, ts.URL+"/orders/alice", "")
	require.Equal(t, http.StatusNoContent, code)

	code, _, _ = do(t, http.MethodPost, ts.URL+"/orders", "far too large")
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	// 失败的写入不留痕迹
	code, _, _ = do(t, http.MethodGet, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _, _ = do(t, http.MethodPost, ts.URL+"/orders", "tiny")
	assert.Equal(t, http.StatusNoContent, code)
	code, body, _ := do(t, http.MethodGet, ts.URL+"/orders/alice", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tiny", body)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, 1024)

	code, body, _ := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body, _ = do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "easyqueue_http_requests_total")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{errors.Wrap(easyqueue.ErrNotFound, "topic x"), http.StatusNotFound},
		{errors.Wrap(easyqueue.ErrInvalidName, "topic ."), http.StatusBadRequest},
		{easyqueue.ErrClosed, http.StatusServiceUnavailable},
		{errors.Wrap(&http.MaxBytesError{Limit: 4}, "read payload"), http.StatusRequestEntityTooLarge},
		{easyqueue.ErrCorruption, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusCode(tt.err), tt.err.Error())
	}
}

func TestNewRejectsBadNode(t *testing.T) {
	_, err := New(nil, Options{NodeID: 1024})
	assert.Error(t, err)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s, err := New(nil, Options{NodeID: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
