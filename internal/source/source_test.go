package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher() *Fetcher {
	f := New()
	f.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return f
}

func TestFetch_LocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")

	tests := []struct {
		location string
		want     string
	}{
		{path, path},
		{"file://" + path, path},
		{"data/train.csv", "data/train.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, cleanup, err := testFetcher().Fetch(context.Background(), tt.location)
			require.NoError(t, err)
			cleanup()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetch_HTTP(t *testing.T) {
	const body = "EmissionSourceID,EntryDate,MeasurementDate,ParameterCode,Unit\n1,a,2024-01-01,TS01,m3/h\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	path, cleanup, err := testFetcher().Fetch(context.Background(), srv.URL+"/train.csv")
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	cleanup()
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "cleanup left %s behind", path)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("complete"))
	}))
	defer flaky.Close()

	path, cleanup, err := testFetcher().Fetch(context.Background(), flaky.URL)
	require.NoError(t, err)
	defer cleanup()

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete", string(got))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_PermanentErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, _, err := testFetcher().Fetch(context.Background(), srv.URL+"/missing.csv")
	require.Error(t, err, "404 should fail")
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")

	_, _, err = testFetcher().Fetch(context.Background(), "s3://bucket/train.csv")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestFetch_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, _, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err, "should fail after exhausting retries")
	assert.Equal(t, int32(4), calls.Load())
}
