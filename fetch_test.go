// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	goerrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastFetcher() *HTTPFetcher {
	return NewHTTPFetcher(&FetchOptions{
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Headers:       map[string]string{"X-Client": "dto"},
	})
}

func fetchCtx(f Fetcher) context.Context {
	env := DefaultEnv().Clone()
	env.Fetcher = f
	return WithEnv(context.Background(), env)
}

func TestFromURL_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "dto", r.Header.Get("X-Client"))
		assert.Equal(t, "t1", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"remote"}`))
	}))
	defer server.Close()

	v, err := FromURL[childDTO](fetchCtx(fastFetcher()), server.URL, map[string]string{"X-Trace": "t1"})
	require.NoError(t, err)
	disposeAll(t, v)
	assert.Equal(t, "remote", v.Name)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFromURL_ClientErrorStopsRetrying(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer server.Close()

	_, err := FromURL[childDTO](fetchCtx(fastFetcher()), server.URL, nil)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeRequestFailed))

	var failure *RequestFailure
	require.True(t, goerrors.As(err, &failure))
	assert.Equal(t, http.StatusNotFound, failure.Status)
	assert.Equal(t, "missing", string(failure.Body))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPFetcher_RetryPolicy(t *testing.T) {
	tests := []struct {
		status   int
		wantHits int32
	}{
		{http.StatusTooManyRequests, 4},
		{http.StatusRequestTimeout, 4},
		{http.StatusBadGateway, 4},
		{http.StatusNotImplemented, 1},
		{http.StatusForbidden, 1},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			status, _, err := fastFetcher().Request(context.Background(), http.MethodGet, server.URL, nil, nil)
			assert.Error(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestHTTPFetcher_PostBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	status, body, err := fastFetcher().Request(context.Background(), http.MethodPost, server.URL, nil, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ok", string(body))
}

func TestHTTPFetcher_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	f := fastFetcher()
	f.Options.RetryAttempts = 1
	_, _, err := f.Request(context.Background(), http.MethodGet, url, nil, nil)
	assert.True(t, HasCode(err, ErrCodeRequestFailed))
}

func TestHTTPFetcher_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := fastFetcher().Request(ctx, http.MethodGet, server.URL, nil, nil)
	assert.True(t, HasCode(err, ErrCodeRequestFailed))
}
