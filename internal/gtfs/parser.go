package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
	"strings"

	"github.com/railsim/railsim_core/internal/models"
)

// Feed represents a parsed static GTFS feed
type Feed struct {
	Stops     []models.GTFSStop
	Routes    []models.GTFSRoute
	Trips     []models.GTFSTrip
	StopTimes []models.GTFSStopTime
}

// ParseZip parses a GTFS ZIP file without extracting it
func ParseZip(zipPath string) (*Feed, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer reader.Close()

	return ParseFS(reader)
}

// ParseFS parses the GTFS text files found at the root of fsys
func ParseFS(fsys fs.FS) (*Feed, error) {
	feed := &Feed{}
	var err error

	if feed.Stops, err = parseFile(fsys, "stops.txt", parseStopsFromReader); err != nil {
		return nil, fmt.Errorf("failed to parse stops (required): %w", err)
	}
	log.Printf("Parsed %d stops", len(feed.Stops))

	if feed.Routes, err = parseFile(fsys, "routes.txt", parseRoutesFromReader); err != nil {
		return nil, fmt.Errorf("failed to parse routes (required): %w", err)
	}
	log.Printf("Parsed %d routes", len(feed.Routes))

	if feed.Trips, err = parseFile(fsys, "trips.txt", parseTripsFromReader); err != nil {
		return nil, fmt.Errorf("failed to parse trips (required): %w", err)
	}
	log.Printf("Parsed %d trips", len(feed.Trips))

	if feed.StopTimes, err = parseFile(fsys, "stop_times.txt", parseStopTimesFromReader); err != nil {
		return nil, fmt.Errorf("failed to parse stop_times (required): %w", err)
	}
	log.Printf("Parsed %d stop_times", len(feed.StopTimes))

	return feed, nil
}

func parseFile[T any](fsys fs.FS, name string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parse(file)
}

// readRows calls fn with every well-formed data row of a CSV file
func readRows(reader io.Reader, kind string, fn func(record []string, colMap map[string]int)) error {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	colMap := makeColumnMap(header)

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Printf("Warning: skipping malformed %s row: %v", kind, err)
			continue
		}
		fn(record, colMap)
	}
}

func parseStopsFromReader(reader io.Reader) ([]models.GTFSStop, error) {
	var stops []models.GTFSStop
	err := readRows(reader, "stop", func(record []string, colMap map[string]int) {
		stopID := getField(record, colMap, "stop_id")
		latStr := getField(record, colMap, "stop_lat")
		lonStr := getField(record, colMap, "stop_lon")

		if stopID == "" || latStr == "" || lonStr == "" {
			log.Printf("Warning: skipping stop with missing required fields: %s", stopID)
			return
		}

		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			log.Printf("Warning: invalid latitude for stop %s: %v", stopID, err)
			return
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			log.Printf("Warning: invalid longitude for stop %s: %v", stopID, err)
			return
		}
		locationType, _ := strconv.Atoi(getField(record, colMap, "location_type"))

		stops = append(stops, models.GTFSStop{
			StopID:       stopID,
			StopName:     getField(record, colMap, "stop_name"),
			Lat:          lat,
			Lon:          lon,
			LocationType: locationType,
		})
	})
	return stops, err
}

func parseRoutesFromReader(reader io.Reader) ([]models.GTFSRoute, error) {
	var routes []models.GTFSRoute
	err := readRows(reader, "route", func(record []string, colMap map[string]int) {
		routeID := getField(record, colMap, "route_id")
		if routeID == "" {
			return
		}
		routeType, _ := strconv.Atoi(getField(record, colMap, "route_type"))

		routes = append(routes, models.GTFSRoute{
			RouteID:   routeID,
			ShortName: getField(record, colMap, "route_short_name"),
			LongName:  getField(record, colMap, "route_long_name"),
			RouteType: routeType,
		})
	})
	return routes, err
}

func parseTripsFromReader(reader io.Reader) ([]models.GTFSTrip, error) {
	var trips []models.GTFSTrip
	err := readRows(reader, "trip", func(record []string, colMap map[string]int) {
		tripID := getField(record, colMap, "trip_id")
		routeID := getField(record, colMap, "route_id")
		if tripID == "" || routeID == "" {
			return
		}

		trips = append(trips, models.GTFSTrip{
			RouteID:   routeID,
			ServiceID: getField(record, colMap, "service_id"),
			TripID:    tripID,
			Headsign:  getField(record, colMap, "trip_headsign"),
		})
	})
	return trips, err
}

func parseStopTimesFromReader(reader io.Reader) ([]models.GTFSStopTime, error) {
	var stopTimes []models.GTFSStopTime
	err := readRows(reader, "stop_time", func(record []string, colMap map[string]int) {
		tripID := getField(record, colMap, "trip_id")
		stopID := getField(record, colMap, "stop_id")
		seqStr := getField(record, colMap, "stop_sequence")
		if tripID == "" || stopID == "" || seqStr == "" {
			return
		}

		sequence, err := strconv.Atoi(seqStr)
		if err != nil {
			log.Printf("Warning: invalid sequence for trip %s: %v", tripID, err)
			return
		}

		stopTimes = append(stopTimes, models.GTFSStopTime{
			TripID:        tripID,
			ArrivalTime:   getField(record, colMap, "arrival_time"),
			DepartureTime: getField(record, colMap, "departure_time"),
			StopID:        stopID,
			StopSequence:  sequence,
		})
	})
	return stopTimes, err
}

func makeColumnMap(header []string) map[string]int {
	colMap := make(map[string]int)
	for i, col := range header {
		// strip a UTF-8 byte order mark from the first column
		colMap[strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")] = i
	}
	return colMap
}

func getField(record []string, colMap map[string]int, fieldName string) string {
	if idx, ok := colMap[fieldName]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}
