package gtfs

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/railsim/railsim_core/internal/models"
)

// IsRail reports whether a GTFS route is operated by trains.
// Keywords win over route_type because many feeds file regional rail under bus types.
func IsRail(route models.GTFSRoute) bool {
	routeName := strings.ToUpper(route.ShortName + " " + route.LongName)
	for _, kw := range []string{"TRAIN", "RAIL", "TER ", "RODALIES", "REGIONAL"} {
		if strings.Contains(routeName, kw) {
			return true
		}
	}

	// https://developers.google.com/transit/gtfs/reference#routestxt
	switch {
	case route.RouteType == 2: // Rail
		return true
	case route.RouteType >= 100 && route.RouteType <= 117: // extended railway types
		return true
	}
	return false
}

// DeduplicateStops merges stops closer than thresholdMeters, typically the
// platforms of one station. Returns the kept stops and a mapping from every
// stop ID to the kept stop ID.
func DeduplicateStops(stops []models.GTFSStop, thresholdMeters float64) ([]models.GTFSStop, map[string]string) {
	deduplicated := []models.GTFSStop{}
	skipIndices := make(map[int]bool)
	stopMapping := make(map[string]string)

	for i := 0; i < len(stops); i++ {
		if skipIndices[i] {
			continue
		}

		currentStop := stops[i]
		deduplicated = append(deduplicated, currentStop)
		stopMapping[currentStop.StopID] = currentStop.StopID

		for j := i + 1; j < len(stops); j++ {
			if skipIndices[j] {
				continue
			}
			distance := haversineDistance(currentStop.Lat, currentStop.Lon, stops[j].Lat, stops[j].Lon)
			if distance < thresholdMeters {
				skipIndices[j] = true
				stopMapping[stops[j].StopID] = currentStop.StopID
			}
		}
	}

	if removed := len(stops) - len(deduplicated); removed > 0 {
		log.Printf("Merged %d stops into %d stations", len(stops), len(deduplicated))
	}
	return deduplicated, stopMapping
}

// haversineDistance calculates the distance between two points in meters
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000 // meters

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// ParseGTFSTime converts GTFS time (H:MM:SS) to an offset from service-day midnight.
// Times past 24:00:00 belong to the same service day.
func ParseGTFSTime(timeStr string) (time.Duration, error) {
	if timeStr == "" {
		return 0, fmt.Errorf("empty time string")
	}

	parts := strings.Split(timeStr, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}

	var values [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid time format: %s", timeStr)
		}
		values[i] = v
	}
	if values[1] > 59 || values[2] > 59 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}

	return time.Duration(values[0])*time.Hour + time.Duration(values[1])*time.Minute +
		time.Duration(values[2])*time.Second, nil
}

// ValidateAndCleanStops removes stops with invalid coordinates
func ValidateAndCleanStops(stops []models.GTFSStop) []models.GTFSStop {
	cleaned := []models.GTFSStop{}

	for _, stop := range stops {
		if stop.Lat < -90 || stop.Lat > 90 {
			log.Printf("Warning: invalid latitude for stop %s: %f", stop.StopID, stop.Lat)
			continue
		}
		if stop.Lon < -180 || stop.Lon > 180 {
			log.Printf("Warning: invalid longitude for stop %s: %f", stop.StopID, stop.Lon)
			continue
		}
		if stop.Lat == 0 && stop.Lon == 0 {
			log.Printf("Warning: stop %s has null island coordinates, skipping", stop.StopID)
			continue
		}

		cleaned = append(cleaned, stop)
	}

	if len(cleaned) < len(stops) {
		log.Printf("Cleaned stops: removed %d invalid stops", len(stops)-len(cleaned))
	}

	return cleaned
}
