package audit

import (
	"context"
	"errors"
	"strings"
)

// Target identifies what a Measurer sizes.
type Target struct {
	Kind   string
	Prefix string // Required by ExactByPrefix
	Count  int64  // Known object count; -1 when unknown
}

// Measurer returns the byte footprint of a target. An empty or missing
// target measures zero bytes and is not an error.
type Measurer interface {
	Measure(ctx context.Context, target Target) (SizeMeasurement, error)
}

// byteCounter is an io.Writer that only counts.
type byteCounter int64

func (c *byteCounter) Write(p []byte) (int, error) {
	*c += byteCounter(len(p))
	return len(p), nil
}

// ExactByPrefix range-reads every key under a prefix and counts the raw
// payload bytes, keys and values included. It is the ground truth and also
// the most expensive read the audit issues.
type ExactByPrefix struct {
	Storage Storage
}

// Measure implements Measurer.
func (m ExactByPrefix) Measure(ctx context.Context, target Target) (SizeMeasurement, error) {
	out := SizeMeasurement{Target: target.Prefix, Method: MethodExact}
	if target.Prefix == "" {
		return out, ErrPrefixNotFound
	}
	if target.Count == 0 {
		return out, nil
	}

	var n byteCounter
	scope := strings.TrimSuffix(target.Prefix, "/") + "/"
	if err := m.Storage.RangeRead(ctx, scope, &n); err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return out, nil
		}
		return out, systemErr(SystemStorage, "range read "+scope, err)
	}
	out.Bytes = int64(n)
	return out, nil
}

// EstimatedByAPI measures the all-namespace JSON listing of a resource kind.
// The figure is an order-of-magnitude signal only: JSON inflates the store's
// binary encoding about threefold.
type EstimatedByAPI struct {
	API ControlPlane
}

// Measure implements Measurer.
func (m EstimatedByAPI) Measure(ctx context.Context, target Target) (SizeMeasurement, error) {
	out := SizeMeasurement{Target: target.Kind, Method: MethodEstimated}
	if target.Count == 0 {
		return out, nil
	}

	var n byteCounter
	if err := m.API.ListJSON(ctx, target.Kind, &n); err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return out, nil
		}
		return out, systemErr(SystemAPI, "list "+target.Kind, err)
	}
	out.Bytes = int64(n)
	return out, nil
}
