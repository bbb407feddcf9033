package services

import (
	"delivery-dashboard/internal/domain"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOptimizationRequestValidationOrder(t *testing.T) {
	depots := []domain.Depot{{ID: "D1"}}

	tests := []struct {
		name   string
		sel    SelectionView
		opts   RequestOptions
		method domain.Method
		check  func(t *testing.T, err error)
	}{
		{
			name: "nothing selected reports points first",
			sel:  SelectionView{},
			check: func(t *testing.T, err error) {
				var es *domain.EmptySelectionError
				require.ErrorAs(t, err, &es)
				assert.Equal(t, domain.KindPoints, es.Kind)
			},
		},
		{
			name: "points without carriers",
			sel:  SelectionView{Points: []string{"P1"}},
			opts: RequestOptions{DepotID: ""},
			check: func(t *testing.T, err error) {
				var es *domain.EmptySelectionError
				require.ErrorAs(t, err, &es)
				assert.Equal(t, domain.KindCarriers, es.Kind)
			},
		},
		{
			name: "missing depot",
			sel:  SelectionView{Points: []string{"P1"}, Carriers: []string{"V1"}},
			check: func(t *testing.T, err error) {
				var md *domain.MissingDepotError
				require.ErrorAs(t, err, &md)
				assert.Empty(t, md.DepotID)
			},
		},
		{
			name: "unknown depot",
			sel:  SelectionView{Points: []string{"P1"}, Carriers: []string{"V1"}},
			opts: RequestOptions{DepotID: "D9", Depots: depots},
			check: func(t *testing.T, err error) {
				var md *domain.MissingDepotError
				require.ErrorAs(t, err, &md)
				assert.Equal(t, "D9", md.DepotID)
			},
		},
		{
			name:   "unknown method",
			sel:    SelectionView{Points: []string{"P1"}, Carriers: []string{"V1"}},
			opts:   RequestOptions{DepotID: "D1", Depots: depots},
			method: "genetic",
			check: func(t *testing.T, err error) {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "method", ve.Field)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildOptimizationRequest(tt.sel, tt.method, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			tt.check(t, err)
		})
	}
}

func TestBuildOptimizationRequestCopiesSelection(t *testing.T) {
	points := []string{"P2", "P1"}
	carriers := []string{"V1"}

	req, err := BuildOptimizationRequest(
		SelectionView{Points: points, Carriers: carriers},
		domain.MethodSolver,
		RequestOptions{DepotID: " D1 ", UseRealRoads: true},
	)
	require.NoError(t, err)

	points[0] = "changed"
	carriers[0] = "changed"

	assert.Equal(t, []string{"P1", "P2"}, req.PointIDs)
	assert.Equal(t, []string{"V1"}, req.CarrierIDs)
	assert.Equal(t, "D1", req.DepotID)
	assert.Equal(t, domain.MethodSolver, req.Method)
	assert.True(t, req.UseRealRoads)
}
