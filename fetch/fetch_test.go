package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/gleaner/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/article", http.StatusFound)
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, DefaultAccept, r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	result, err := NewFetcher().Fetch(context.Background(), server.URL+"/start", DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/start", result.URL)
	assert.Equal(t, server.URL+"/article", result.FinalURL)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "text/html; charset=utf-8", result.ContentType)
	assert.Equal(t, `"v1"`, result.ETag)
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", result.LastModified)
	assert.Equal(t, "text/html; charset=utf-8", result.Headers["content-type"])
	assert.Equal(t, "<html><body>hi</body></html>", string(result.Body))
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.BackoffBase = time.Millisecond
	result, err := NewFetcher().Fetch(context.Background(), server.URL, opts)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(result.Body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetcher_Failures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		retries       int
		expectedCalls int32
	}{
		{name: "server error exhausts retries", status: http.StatusBadGateway, retries: 2, expectedCalls: 3},
		{name: "not found is not retried", status: http.StatusNotFound, retries: 2, expectedCalls: 1},
		{name: "rate limit is retried", status: http.StatusTooManyRequests, retries: 1, expectedCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			opts := FetchOptions{Retries: tt.retries, BackoffBase: time.Millisecond}
			_, err := NewFetcher().Fetch(context.Background(), server.URL, opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrFetchFailure)
			assert.ErrorIs(t, err, ErrStatus)
			assert.Equal(t, tt.expectedCalls, calls.Load())
		})
	}
}

func TestFetcher_AttemptTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	opts := FetchOptions{Timeout: 20 * time.Millisecond, Retries: 0}
	start := time.Now()
	_, err := NewFetcher().Fetch(context.Background(), server.URL, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFetchFailure)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetcher_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	result, err := NewFetcher().Fetch(context.Background(), server.URL, FetchOptions{MaxBodyBytes: 4})
	require.NoError(t, err)
	assert.Equal(t, "0123", string(result.Body))
}
