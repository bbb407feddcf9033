package roads

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/httpx"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, h http.HandlerFunc) *ORSRouter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	r, err := NewORSRouter("key", srv.URL+"/", srv.Client())
	require.NoError(t, err)
	r.http.Backoff = time.Millisecond
	return r
}

func TestRoadPathDecodesAndMemoizes(t *testing.T) {
	var calls atomic.Int32
	r := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v2/directions/driving-car/geojson", req.URL.Path)
		assert.Equal(t, "key", req.Header.Get("Authorization"))

		var body directionsRequest
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, [][]float64{{-74.1, 4.6}, {-74.0, 4.7}}, body.Coordinates)

		_, _ = w.Write([]byte(`{"features":[{"geometry":{"coordinates":[[-74.1,4.6],[-74.05,4.62],[-74.0,4.7]]}}]}`))
	})

	waypoints := []domain.Coordinates{{Lon: -74.1, Lat: 4.6}, {Lon: -74.0, Lat: 4.7}}
	path, err := r.RoadPath(context.Background(), waypoints)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, domain.Coordinates{Lon: -74.05, Lat: 4.62}, path[1])

	_, err = r.RoadPath(context.Background(), waypoints)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRoadPathRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	r := newTestRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusTooManyRequests)
	})

	_, err := r.RoadPath(context.Background(), []domain.Coordinates{{}, {Lon: 1}})
	require.Error(t, err)

	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, int32(4), calls.Load())
}

func TestRoadPathValidatesInput(t *testing.T) {
	r := newTestRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	})

	_, err := r.RoadPath(context.Background(), []domain.Coordinates{{}})
	require.Error(t, err)

	_, err = r.RoadPath(context.Background(), make([]domain.Coordinates, maxWaypoints+1))
	require.Error(t, err)

	_, err = r.RoadPath(context.Background(), []domain.Coordinates{{}, {Lon: 1}})
	require.ErrorContains(t, err, "no features")

	_, err = NewORSRouter("", "", nil)
	require.Error(t, err)
}
