package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConfigured is returned when a backend has no credentials or URL.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrEmptyResponse is returned when a backend answered without content.
	ErrEmptyResponse = errors.New("empty response from provider")
)

const maxAttempts = 3

// backoff returns the wait before the next attempt: 2s, 4s, ...
var backoff = func(attempt int) time.Duration {
	return time.Duration(2<<uint(attempt-1)) * time.Second
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was classified as not worth retrying.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// retryable reports whether an HTTP status is worth another attempt.
func retryable(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status < 400 || status >= 500
}

// statusError builds the error for a non-2xx HTTP response.
func statusError(kind Kind, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("%s request failed with status %d: %s", kind, resp.StatusCode, string(body))
	if !retryable(resp.StatusCode) {
		return permanent(err)
	}
	return err
}

// classifyOpenAI maps go-openai errors onto the retry policy.
func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && !retryable(apiErr.HTTPStatusCode) {
		return permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && !retryable(reqErr.HTTPStatusCode) {
		return permanent(err)
	}
	return err
}

// withRetry runs fn up to maxAttempts times with exponential backoff.
func withRetry[T any](ctx context.Context, logger *logrus.Logger, kind Kind, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || errors.Is(err, ErrNotConfigured) || ctx.Err() != nil {
			return zero, err
		}

		logger.WithFields(logrus.Fields{
			"provider": kind.String(),
			"attempt":  attempt,
			"error":    err.Error(),
		}).Warn("Provider request failed, retrying...")

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}
	}

	return zero, fmt.Errorf("all retry attempts failed: %w", lastErr)
}
