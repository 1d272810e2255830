package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoki records every push it receives.
type fakeLoki struct {
	mu     sync.Mutex
	pushes []pushRequest
	paths  []string
	status int
}

func newFakeLoki(t *testing.T, status int) (*fakeLoki, *httptest.Server) {
	t.Helper()
	f := &fakeLoki{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.pushes = append(f.pushes, req)
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()
		w.WriteHeader(f.status)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeLoki) received() []pushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushRequest(nil), f.pushes...)
}

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(Config{URL: "http://localhost:3100/"})

	assert.Equal(t, 50, w.batchSize)
	assert.Equal(t, 10*time.Second, w.client.Timeout)
	assert.Equal(t, "http://localhost:3100/loki/api/v1/push", w.url)
	assert.Equal(t, map[string]string{"job": "storeaudit"}, w.labels)
}

func TestNewWriter_Labels(t *testing.T) {
	labels := map[string]string{"cluster": "prod-east", "job": "etcd-audit"}
	w := NewWriter(Config{URL: "http://localhost:3100", Labels: labels})

	assert.Equal(t, "etcd-audit", w.labels["job"], "an explicit job label is kept")
	assert.Equal(t, "prod-east", w.labels["cluster"])

	w.labels["cluster"] = "changed"
	assert.Equal(t, "prod-east", labels["cluster"], "caller labels are copied")
}

func TestWriter_BuffersUntilClose(t *testing.T) {
	f, srv := newFakeLoki(t, http.StatusNoContent)
	w := NewWriter(Config{URL: srv.URL, Labels: map[string]string{"cluster": "prod"}})
	w.now = func() time.Time { return time.Unix(0, 42) }

	line := []byte(`{"level":"info","event_type":"session"}` + "\n")
	n, err := w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	n, err = w.Write([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "blank lines are accepted and dropped")

	assert.Empty(t, f.received(), "nothing is pushed before the batch fills")

	require.NoError(t, w.Close())
	pushes := f.received()
	require.Len(t, pushes, 1)
	require.Len(t, pushes[0].Streams, 1)

	s := pushes[0].Streams[0]
	assert.Equal(t, map[string]string{"job": "storeaudit", "cluster": "prod"}, s.Stream)
	assert.Equal(t, [][]string{{"42", `{"level":"info","event_type":"session"}`}}, s.Values)
	assert.Equal(t, []string{pushPath}, f.paths)
}

func TestWriter_PushesFullBatch(t *testing.T) {
	f, srv := newFakeLoki(t, http.StatusNoContent)
	w := NewWriter(Config{URL: srv.URL, BatchSize: 2})

	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte(`{"msg":"bulk read"}`))
		require.NoError(t, err)
	}
	assert.Len(t, f.received(), 2)

	require.NoError(t, w.Close())
	pushes := f.received()
	require.Len(t, pushes, 3)
	assert.Len(t, pushes[2].Streams[0].Values, 1)

	require.NoError(t, w.Close(), "closing twice pushes nothing")
	assert.Len(t, f.received(), 3)
}

func TestWriter_ServerError(t *testing.T) {
	_, srv := newFakeLoki(t, http.StatusInternalServerError)
	w := NewWriter(Config{URL: srv.URL, BatchSize: 1})

	n, err := w.Write([]byte(`{"msg":"x"}`))
	assert.NoError(t, err, "a failed push never fails the write")
	assert.Equal(t, 11, n)

	err = w.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWriter_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := NewWriter(Config{URL: url, Timeout: time.Second})
	_, err := w.Write([]byte(`{"msg":"x"}`))
	require.NoError(t, err)

	err = w.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push 1 entries")
}
