// fetch.go: HTTP collaborator used by FromURL
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agilira/go-errors"
)

// Fetcher performs a single HTTP exchange. Statuses of 400 and above are
// reported as *RequestFailure.
type Fetcher interface {
	Request(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error)
}

// FetchOptions tunes HTTPFetcher.
type FetchOptions struct {
	// Timeout bounds the whole exchange including retries
	Timeout time.Duration

	// RetryAttempts after the first failed attempt
	RetryAttempts int

	// RetryDelay between attempts
	RetryDelay time.Duration

	// Headers sent with every request
	Headers map[string]string
}

// DefaultFetchOptions returns production defaults.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Headers:       map[string]string{},
	}
}

// HTTPFetcher is a Fetcher over net/http with retries.
type HTTPFetcher struct {
	Client  *http.Client
	Options FetchOptions
}

// NewHTTPFetcher creates a fetcher with opts, or defaults when opts is nil.
func NewHTTPFetcher(opts *FetchOptions) *HTTPFetcher {
	options := DefaultFetchOptions()
	if opts != nil {
		options = *opts
	}
	return &HTTPFetcher{Client: &http.Client{}, Options: options}
}

// Request implements Fetcher.
func (f *HTTPFetcher) Request(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Options.Timeout)
		defer cancel()
	}

	var (
		status  int
		payload []byte
		lastErr error
	)
	for attempt := 0; attempt <= f.Options.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, f.Options.RetryDelay); err != nil {
				return 0, nil, err
			}
		}

		status, payload, lastErr = f.once(ctx, method, url, headers, body)
		if lastErr == nil || shouldStopRetrying(lastErr) {
			break
		}
	}
	if lastErr != nil {
		var failure *RequestFailure
		if goerrors.As(lastErr, &failure) {
			return status, payload, failure
		}
		return status, payload, errors.Wrap(lastErr, ErrCodeRequestFailed, fmt.Sprintf("%s %s failed", method, url)).
			WithContext("url", url)
	}
	return status, payload, nil
}

func (f *HTTPFetcher) once(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range f.Options.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, payload, &RequestFailure{URL: url, Status: resp.StatusCode, Body: payload}
	}
	return resp.StatusCode, payload, nil
}

func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), ErrCodeRequestFailed, "context canceled during retry")
	}
}

// shouldStopRetrying is true for context errors and for statuses a retry
// cannot fix: every 4xx except 408 and 429, and 501.
func shouldStopRetrying(err error) bool {
	if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var failure *RequestFailure
	if !goerrors.As(err, &failure) {
		return false
	}
	switch {
	case failure.Status == http.StatusRequestTimeout, failure.Status == http.StatusTooManyRequests:
		return false
	case failure.Status >= 400 && failure.Status < 500:
		return true
	case failure.Status == http.StatusNotImplemented:
		return true
	}
	return false
}
