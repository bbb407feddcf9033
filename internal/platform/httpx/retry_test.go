package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := NewRetrier(srv.Client())
	r.Backoff = time.Millisecond

	resp, err := r.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetrierDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewRetrier(srv.Client())
	_, err := r.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "bad input", se.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetrierStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetrier(nil)
	_, err := r.Do(ctx, func() (*http.Request, error) {
		t.Fatal("request should not be built")
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StatusError{Code: 503}))
	assert.True(t, Retryable(&StatusError{Code: 429}))
	assert.False(t, Retryable(&StatusError{Code: 404}))
	assert.False(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(errors.New("boom")))
}
