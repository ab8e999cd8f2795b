package gtfs

import (
	"testing"
	"time"

	"github.com/railsim/railsim_core/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestIsRail(t *testing.T) {
	tests := []struct {
		name     string
		route    models.GTFSRoute
		expected bool
	}{
		{"Rail route type", models.GTFSRoute{RouteID: "1", RouteType: 2}, true},
		{"Extended railway type", models.GTFSRoute{RouteID: "2", RouteType: 109}, true},
		{"Keyword beats bus type", models.GTFSRoute{RouteID: "3", ShortName: "TER Dakar", RouteType: 3}, true},
		{"Regional keyword", models.GTFSRoute{RouteID: "4", LongName: "Regional Express", RouteType: 3}, true},
		{"Plain bus", models.GTFSRoute{RouteID: "5", ShortName: "12", RouteType: 3}, false},
		{"Ferry", models.GTFSRoute{RouteID: "6", RouteType: 4}, false},
		{"Interurban bus is not TER", models.GTFSRoute{RouteID: "7", ShortName: "INTERURBAN", RouteType: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRail(tt.route))
		})
	}
}

func TestHaversineDistance(t *testing.T) {
	tests := []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		expected float64
		delta    float64
	}{
		{
			name:     "Zero distance",
			lat1:     41.3809,
			lon1:     2.1400,
			lat2:     41.3809,
			lon2:     2.1400,
			expected: 0,
			delta:    1,
		},
		{
			name:     "Approximately 1km",
			lat1:     41.3809,
			lon1:     2.1400,
			lat2:     41.3899,
			lon2:     2.1400,
			expected: 1000,
			delta:    100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := haversineDistance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, result, tt.delta)
		})
	}
}

func TestParseGTFSTime(t *testing.T) {
	tests := []struct {
		name     string
		timeStr  string
		expected time.Duration
		hasError bool
	}{
		{"Valid time", "12:30:00", 12*time.Hour + 30*time.Minute, false},
		{"Single digit hour", "7:05:09", 7*time.Hour + 5*time.Minute + 9*time.Second, false},
		{"Midnight", "00:00:00", 0, false},
		{"Next day service", "25:30:00", 25*time.Hour + 30*time.Minute, false},
		{"Invalid format", "12:30", 0, true},
		{"Minutes out of range", "12:75:00", 0, true},
		{"Not a number", "ab:00:00", 0, true},
		{"Empty string", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseGTFSTime(tt.timeStr)
			if tt.hasError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestDeduplicateStops(t *testing.T) {
	stops := []models.GTFSStop{
		{StopID: "sants-1", Lat: 41.3790, Lon: 2.1400},
		{StopID: "sants-2", Lat: 41.3792, Lon: 2.1401},
		{StopID: "clot", Lat: 41.4100, Lon: 2.1870},
	}

	kept, mapping := DeduplicateStops(stops, 50)

	assert.Len(t, kept, 2)
	assert.Equal(t, "sants-1", mapping["sants-1"])
	assert.Equal(t, "sants-1", mapping["sants-2"])
	assert.Equal(t, "clot", mapping["clot"])
}

func TestValidateAndCleanStops(t *testing.T) {
	tests := []struct {
		name     string
		stops    []models.GTFSStop
		expected int
	}{
		{
			name: "All valid stops",
			stops: []models.GTFSStop{
				{StopID: "1", Lat: 41.3, Lon: 2.1},
				{StopID: "2", Lat: 41.4, Lon: 2.2},
			},
			expected: 2,
		},
		{
			name: "Filter invalid latitude",
			stops: []models.GTFSStop{
				{StopID: "1", Lat: 41.3, Lon: 2.1},
				{StopID: "2", Lat: 95.0, Lon: 2.2},
			},
			expected: 1,
		},
		{
			name: "Filter null island",
			stops: []models.GTFSStop{
				{StopID: "1", Lat: 41.3, Lon: 2.1},
				{StopID: "2", Lat: 0.0, Lon: 0.0},
			},
			expected: 1,
		},
		{
			name: "Filter invalid longitude",
			stops: []models.GTFSStop{
				{StopID: "1", Lat: 41.3, Lon: 2.1},
				{StopID: "2", Lat: 41.4, Lon: 200.0},
			},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndCleanStops(tt.stops)
			assert.Equal(t, tt.expected, len(result))
		})
	}
}
