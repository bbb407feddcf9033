package backend

import (
	"bytes"
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/httpx"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

func (c *Client) newRequest(
	ctx context.Context,
	method string,
	path string,
	body []byte,
) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// classify wraps a transport error in the domain error kinds the engine
// understands. Caller cancellation passes through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientNetworkError{Op: op, Err: err}
	}

	var se *httpx.StatusError
	if errors.As(err, &se) {
		switch {
		case httpx.Retryable(err):
			return &domain.TransientNetworkError{Op: op, Err: err}
		case se.Code == http.StatusNotFound:
			return &domain.FatalError{Op: op, Err: fmt.Errorf("%w: %w", domain.ErrNotFound, err)}
		case se.Code == http.StatusConflict:
			// The only conflict the backend reports is a training run in progress.
			return &domain.FatalError{Op: op, Err: fmt.Errorf("%w: %w", domain.ErrJobRunning, err)}
		}
		return &domain.FatalError{Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.TransientNetworkError{Op: op, Err: err}
	}
	return &domain.FatalError{Op: op, Err: err}
}

// call performs one JSON round trip. out may be nil when the body is ignored.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = b
	}

	resp, err := c.http.Do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, method, path, body)
	})
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return &domain.TransientNetworkError{Op: op, Err: err}
		}
		return &domain.FatalError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
