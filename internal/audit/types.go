// Package audit implements the storage audit engine: it compares the object
// counts reported by the control plane with the bytes those objects occupy in
// the backing key-value store.
//
// The engine is strictly read-only and sequential. Every remote read is issued
// and awaited before the next one starts, because the store being audited is
// the same one serving live cluster traffic.
package audit

import (
	"context"
	"io"
	"time"
)

// ResourceCount is the number of stored objects of one resource kind.
type ResourceCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

// KeyPrefix is the discovered physical path segment under which all keys of
// one resource kind are stored. It is inferred from key names, not read from
// any schema.
type KeyPrefix struct {
	Kind   string `json:"kind"`
	Prefix string `json:"prefix"`
}

// Method tells how a SizeMeasurement was obtained.
type Method string

const (
	// MethodExact sums the raw payload of a range read against the store.
	MethodExact Method = "exact"
	// MethodEstimated measures the JSON listing served by the API. JSON is
	// roughly three times larger than the store's native encoding.
	MethodEstimated Method = "estimated"
)

// SizeMeasurement is the byte footprint of one prefix or resource kind.
type SizeMeasurement struct {
	Target string `json:"target"`
	Bytes  int64  `json:"bytes"`
	Method Method `json:"method"`
}

// EndpointStatus holds the byte counters of one storage replica.
type EndpointStatus struct {
	Endpoint      string `json:"endpoint"`
	PhysicalBytes int64  `json:"physical_bytes"`
	UsedBytes     int64  `json:"used_bytes"`
	Version       string `json:"version,omitempty"`
	Leader        bool   `json:"leader"`
}

// ForensicRow is the joined result of auditing one resource kind.
type ForensicRow struct {
	Kind     string `json:"kind"`
	APICount int64  `json:"api_count"`
	// PhysicalKeys is only meaningful when KeysKnown is true; an unresolved
	// prefix leaves the physical count unknown.
	PhysicalKeys int64            `json:"physical_keys"`
	KeysKnown    bool             `json:"keys_known"`
	Prefix       string           `json:"prefix,omitempty"`
	Measurement  *SizeMeasurement `json:"measurement,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Forensic row outcomes.
const (
	OutcomeMeasured   = "measured"
	OutcomeSkipped    = "skipped"
	OutcomeUnresolved = "unresolved"
	OutcomeFailed     = "failed"
)

// Outcome classifies the row: empty kinds are skipped, kinds without a
// discovered prefix are unresolved, and the rest were measured or failed.
func (r ForensicRow) Outcome() string {
	switch {
	case r.APICount == 0:
		return OutcomeSkipped
	case !r.KeysKnown:
		return OutcomeUnresolved
	case r.Measurement == nil:
		return OutcomeFailed
	default:
		return OutcomeMeasured
	}
}

// Member is a storage replica pod as seen by the control plane.
type Member struct {
	Name  string `json:"name"`
	Node  string `json:"node"`
	Phase string `json:"phase"`
	Ready bool   `json:"ready"`
}

// MetricsSource serves the control plane's metrics exposition text.
type MetricsSource interface {
	RawMetrics(ctx context.Context) (io.ReadCloser, error)
}

// ControlPlane is the read-only part of the orchestrator API used by the audit.
type ControlPlane interface {
	// ResolveKind maps an alias such as "cm" or "Deployment" to the
	// canonical resource name ("configmaps", "deployments.apps").
	ResolveKind(ctx context.Context, alias string) (string, error)
	// Members lists the storage replica pods.
	Members(ctx context.Context) ([]Member, error)
	// ListJSON streams all objects of kind, across namespaces, as JSON.
	ListJSON(ctx context.Context, kind string, w io.Writer) error
	// Reachable reports whether the API still answers for this session.
	Reachable(ctx context.Context) error
}

// Storage is the read-only administrative interface of the key-value store.
type Storage interface {
	// ListKeys writes the keys-only listing, one key per line.
	ListKeys(ctx context.Context, w io.Writer) error
	// RangeRead writes keys and values of every key starting with prefix.
	RangeRead(ctx context.Context, prefix string, w io.Writer) error
	// EndpointStatus returns the raw batch status of all replicas.
	EndpointStatus(ctx context.Context) ([]byte, error)
	// Ping reports whether the store is still reachable.
	Ping(ctx context.Context) error
}

// Sleeper blocks between forensic iterations.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a real timer and wakes early when ctx is done.
type TimerSleeper struct{}

// Sleep implements Sleeper.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
