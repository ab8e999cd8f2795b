package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/railsim/railsim_core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeStopRoute() models.Route {
	return models.Route{
		ID: "R1",
		Waypoints: []models.Waypoint{
			{StationID: "A", ArrivalOffset: 0, DepartureOffset: 2 * time.Minute, MinDwell: time.Minute},
			{StationID: "B", TrackID: "T1", ArrivalOffset: 10 * time.Minute, DepartureOffset: 12 * time.Minute, MinDwell: time.Minute},
			{StationID: "C", TrackID: "T2", ArrivalOffset: 20 * time.Minute, DepartureOffset: 20 * time.Minute},
		},
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *models.Route) []float64
		wantIdx int
	}{
		{
			name: "empty route",
			mutate: func(r *models.Route) []float64 {
				r.Waypoints = nil
				return nil
			},
			wantIdx: -1,
		},
		{
			name: "non-increasing arrival offset",
			mutate: func(r *models.Route) []float64 {
				r.Waypoints[2].ArrivalOffset = 10 * time.Minute
				r.Waypoints[2].DepartureOffset = 10 * time.Minute
				return []float64{0, 10, 5}
			},
			wantIdx: 2,
		},
		{
			name: "departure before arrival",
			mutate: func(r *models.Route) []float64 {
				r.Waypoints[1].DepartureOffset = 5 * time.Minute
				return []float64{0, 10, 5}
			},
			wantIdx: 1,
		},
		{
			name: "zero length segment",
			mutate: func(r *models.Route) []float64 {
				return []float64{0, 0, 5}
			},
			wantIdx: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := threeStopRoute()
			lengths := tt.mutate(&route)

			_, err := New(route, lengths)
			require.Error(t, err)

			var invalid *InvalidRouteError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, "R1", invalid.RouteID)
			assert.Equal(t, tt.wantIdx, invalid.Index)
		})
	}
}

func TestTimetableGeometry(t *testing.T) {
	tt, err := New(threeStopRoute(), []float64{0, 10, 5})
	require.NoError(t, err)

	assert.Equal(t, 3, tt.Len())
	assert.Equal(t, 15.0, tt.TotalDistanceKm())
	assert.Equal(t, 10.0, tt.CumulativeKm(1))
	assert.Equal(t, 5.0, tt.SegmentKm(2))
	assert.Equal(t, 0.0, tt.SegmentKm(0))
	assert.Equal(t, 20*time.Minute, tt.TotalPlannedDuration())
	assert.True(t, tt.IsFinal(2))
	assert.False(t, tt.IsFinal(1))
}

func TestLocate(t *testing.T) {
	tt, err := New(threeStopRoute(), []float64{0, 10, 5})
	require.NoError(t, err)

	t.Run("at origin", func(t *testing.T) {
		pos := tt.Locate(0)
		assert.Equal(t, 0, pos.Previous)
		assert.Equal(t, 1, pos.Next)
		assert.Equal(t, 2*time.Minute, pos.PlannedDwell)
		assert.Equal(t, 10.0, pos.DistanceToNextKm)
	})

	t.Run("mid segment", func(t *testing.T) {
		pos := tt.Locate(12.5)
		assert.Equal(t, 1, pos.Previous)
		assert.Equal(t, 2, pos.Next)
		assert.InDelta(t, 2.5, pos.DistanceToNextKm, 1e-9)
	})

	t.Run("exactly on a waypoint", func(t *testing.T) {
		pos := tt.Locate(10)
		assert.Equal(t, 1, pos.Previous)
		assert.Equal(t, 2, pos.Next)
	})

	t.Run("past the end", func(t *testing.T) {
		pos := tt.Locate(99)
		assert.Equal(t, 2, pos.Previous)
		assert.Equal(t, 2, pos.Next)
		assert.Equal(t, 0.0, pos.DistanceToNextKm)
	})
}

func TestExpectedTimes(t *testing.T) {
	tt, err := New(threeStopRoute(), []float64{0, 10, 5})
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	delay := 3 * time.Minute

	assert.Equal(t, start.Add(10*time.Minute), tt.PlannedArrival(start, 1))
	assert.Equal(t, start.Add(13*time.Minute), tt.ExpectedArrival(start, 1, delay))
	assert.Equal(t, start.Add(15*time.Minute), tt.ExpectedDeparture(start, 1, delay))
}
