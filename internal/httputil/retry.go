// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the clients that talk
// to external services (embedding, vector store, hybrid search, reranker).
package httputil

import (
	"context"
	"io"
	"net/http"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// transient responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = time.Second

// RetryMaxDelay caps the backoff between attempts.
var RetryMaxDelay = 60 * time.Second

const defaultMaxAttempts = 3

// Transient reports whether an HTTP status is worth retrying: 429 and 5xx.
func Transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// DoWithRetry executes an HTTP request and retries transient failures
// (HTTP 429, 5xx, and transport errors) with exponential backoff starting
// at RetryBaseDelay and doubling per attempt, capped at RetryMaxDelay.
//
// When maxAttempts is 0 the default (3) is used. Before each retry the
// previous response body is drained and closed. If the context is cancelled
// during a backoff wait the function returns ctx.Err(). After exhausting
// attempts the last transient response (or transport error) is returned so
// the caller can wrap it in a typed error.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxAttempts int) (*http.Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		attemptReq := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attemptReq.Body = body
		}

		resp, lastErr = client.Do(attemptReq)
		if lastErr != nil {
			// Transport-level failure (connection refused, timeout).
			continue
		}

		if !Transient(resp.StatusCode) {
			return resp, nil
		}

		// Exhausted attempts — return the transient response as-is.
		if attempt == maxAttempts-1 {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return resp, nil
}

// backoff returns the delay before the given retry attempt (1-based).
func backoff(attempt int) time.Duration {
	d := RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= RetryMaxDelay {
			return RetryMaxDelay
		}
	}
	if d > RetryMaxDelay {
		return RetryMaxDelay
	}
	return d
}
