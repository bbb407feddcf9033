package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// StatusError is a response with a 4xx or 5xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}

// Retrier sends requests with bounded retries.
type Retrier struct {
	Session     *http.Client
	MaxAttempts int
	Backoff     time.Duration
}

func NewRetrier(session *http.Client) *Retrier {
	if session == nil {
		session = &http.Client{Timeout: 10 * time.Second}
	}
	return &Retrier{Session: session, MaxAttempts: 4, Backoff: 200 * time.Millisecond}
}

func (r *Retrier) do(req *http.Request) (*http.Response, error) {
	resp, err := r.Session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// Do retries transient failures (network errors, 429 and 5xx responses)
// using exponential backoff while respecting context cancellation.
func (r *Retrier) Do(
	ctx context.Context,
	makeReq func() (*http.Request, error),
) (*http.Response, error) {
	attempts := max(r.MaxAttempts, 1)
	backoff := r.Backoff

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := r.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !Retryable(err) || attempt == attempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
	}

	return nil, lastErr
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
