// Package loki ships the action trail to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const pushPath = "/loki/api/v1/push"

// Config holds configuration for the Loki writer.
type Config struct {
	URL       string            // Loki base URL (e.g., "http://loki.monitoring:3100")
	Labels    map[string]string // Static stream labels
	BatchSize int               // Entries pushed per request (default: 50)
	Timeout   time.Duration     // HTTP timeout per push (default: 10s)
}

// Writer implements io.WriteCloser for zerolog. Lines are buffered and pushed
// in batches; Close pushes what is left. An audit run is short, so there is
// no background flusher.
type Writer struct {
	url       string
	labels    map[string]string
	batchSize int
	client    *http.Client
	now       func() time.Time

	mu      sync.Mutex
	pending [][]string
	err     error
}

var _ io.WriteCloser = (*Writer)(nil)

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewWriter creates a Loki writer. The job label defaults to "storeaudit".
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "storeaudit"
	}

	return &Writer{
		url:       strings.TrimRight(cfg.URL, "/") + pushPath,
		labels:    labels,
		batchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: cfg.Timeout},
		now:       time.Now,
	}
}

// Write buffers one log line. A full batch is pushed before Write returns.
// Push failures are kept for Close rather than returned, so a Loki outage
// never interrupts the audit.
func (w *Writer) Write(p []byte) (int, error) {
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, []string{strconv.FormatInt(w.now().UnixNano(), 10), line})
	if len(w.pending) >= w.batchSize {
		w.pushLocked(context.Background())
	}
	return len(p), nil
}

// Flush pushes every buffered line.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pushLocked(ctx)
	return w.err
}

// Close flushes the buffer and returns the first push error seen.
func (w *Writer) Close() error {
	return w.Flush(context.Background())
}

func (w *Writer) pushLocked(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	values := w.pending
	w.pending = nil

	if err := w.push(ctx, values); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *Writer) push(ctx context.Context, values [][]string) error {
	data, err := json.Marshal(pushRequest{
		Streams: []stream{{Stream: w.labels, Values: values}},
	})
	if err != nil {
		return fmt.Errorf("loki: marshal push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("loki: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("loki: push %d entries: %w", len(values), err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("loki: push %d entries: server returned %s", len(values), resp.Status)
	}
	return nil
}
