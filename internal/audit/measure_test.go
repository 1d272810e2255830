package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactByPrefix_CountsKeysAndValues(t *testing.T) {
	store := &fakeStorage{
		keys: []string{"/r/secrets/ns/a", "/r/secrets/ns/b", "/r/pods/ns/c"},
		values: map[string]string{
			"/r/secrets/ns/a": "0123456789",
			"/r/secrets/ns/b": "xyz",
			"/r/pods/ns/c":    "ignored",
		},
	}

	m, err := ExactByPrefix{Storage: store}.Measure(context.Background(), Target{Kind: "secrets", Prefix: "/r/secrets", Count: -1})
	require.NoError(t, err)

	// "key\nvalue\n" per entry
	want := int64(len("/r/secrets/ns/a\n0123456789\n") + len("/r/secrets/ns/b\nxyz\n"))
	assert.Equal(t, SizeMeasurement{Target: "/r/secrets", Bytes: want, Method: MethodExact}, m)
}

func TestExactByPrefix_EmptyIsZero(t *testing.T) {
	store := &fakeStorage{keys: []string{"/r/pods/ns/c"}}

	m, err := ExactByPrefix{Storage: store}.Measure(context.Background(), Target{Kind: "secrets", Prefix: "/r/secrets", Count: -1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Bytes)

	store.readErr = map[string]error{"/r/gone/": ErrResourceNotFound}
	m, err = ExactByPrefix{Storage: store}.Measure(context.Background(), Target{Prefix: "/r/gone", Count: -1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Bytes)
}

func TestExactByPrefix_KnownZeroCountSkipsRead(t *testing.T) {
	store := &fakeStorage{tl: &timeline{}}

	m, err := ExactByPrefix{Storage: store}.Measure(context.Background(), Target{Prefix: "/r/secrets", Count: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Bytes)
	assert.Empty(t, store.tl.snapshot())
}

func TestExactByPrefix_Errors(t *testing.T) {
	_, err := ExactByPrefix{Storage: &fakeStorage{}}.Measure(context.Background(), Target{Kind: "x", Count: -1})
	assert.True(t, errors.Is(err, ErrPrefixNotFound))

	store := &fakeStorage{readErr: map[string]error{"/r/secrets/": errConnRefused}}
	_, err = ExactByPrefix{Storage: store}.Measure(context.Background(), Target{Prefix: "/r/secrets", Count: -1})
	require.Error(t, err)

	var se *SystemError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, SystemStorage, se.System)
	assert.True(t, errors.Is(err, errConnRefused))
}

func TestEstimatedByAPI(t *testing.T) {
	api := &fakeAPI{
		listings: map[string]string{"secrets": `{"items":[{"a":1}]}`},
		listErr:  map[string]error{"broken": errConnRefused},
	}
	est := EstimatedByAPI{API: api}

	m, err := est.Measure(context.Background(), Target{Kind: "secrets", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, SizeMeasurement{Target: "secrets", Bytes: int64(len(`{"items":[{"a":1}]}`)), Method: MethodEstimated}, m)

	m, err = est.Measure(context.Background(), Target{Kind: "missing", Count: 3})
	require.NoError(t, err, "not found is an empty result")
	assert.Equal(t, int64(0), m.Bytes)

	m, err = est.Measure(context.Background(), Target{Kind: "secrets", Count: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Bytes)
	assert.Equal(t, []string{"secrets", "missing"}, api.calls, "zero count must not list")

	_, err = est.Measure(context.Background(), Target{Kind: "broken", Count: 1})
	var se *SystemError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, SystemAPI, se.System)
}
