package gtfs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/railsim/railsim_core/internal/db"
	"github.com/railsim/railsim_core/internal/graph"
	"github.com/railsim/railsim_core/internal/models"
	"github.com/railsim/railsim_core/internal/schedule"
)

// BuildOptions controls how a static feed becomes a rail network
type BuildOptions struct {
	AllModes          bool      // import every route, not only rail
	MergeMeters       float64   // stops closer than this become one station
	PlatformCount     int       // platforms per generated station
	MaxSpeedKmh       float64   // line speed of generated tracks
	ServiceDate       time.Time // trips become trains departing on this date; zero skips trains
	GenerateFleet     bool      // give every train a traction unit and carriages
	CarriagesPerTrain int
	MinDwell          time.Duration // dwell used when a stop time has none
}

// DefaultBuildOptions returns the options used by the importer
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		MergeMeters:       50,
		PlatformCount:     2,
		MaxSpeedKmh:       120,
		CarriagesPerTrain: 3,
		MinDwell:          30 * time.Second,
	}
}

// Result is the network derived from a feed
type Result struct {
	Stations []models.Station
	Tracks   []models.Track
	Routes   []models.Route
	Vehicles []models.Vehicle
	Trains   []models.Train
}

type stopEvent struct {
	stationID string
	arrival   time.Duration
	departure time.Duration
}

// Build converts a feed into stations, tracks and routes. Every distinct stop pattern
// of a GTFS route becomes one route; trips become trains when a service date is set.
func Build(feed *Feed, opts BuildOptions) (*Result, error) {
	railRoutes := make(map[string]models.GTFSRoute)
	for _, r := range feed.Routes {
		if opts.AllModes || IsRail(r) {
			railRoutes[r.RouteID] = r
		}
	}
	if len(railRoutes) == 0 {
		return nil, fmt.Errorf("feed has no rail routes")
	}

	tripsByID := make(map[string]models.GTFSTrip)
	for _, t := range feed.Trips {
		if _, ok := railRoutes[t.RouteID]; ok {
			tripsByID[t.TripID] = t
		}
	}

	stopTimes := make(map[string][]models.GTFSStopTime)
	used := make(map[string]bool)
	for _, st := range feed.StopTimes {
		if _, ok := tripsByID[st.TripID]; !ok {
			continue
		}
		stopTimes[st.TripID] = append(stopTimes[st.TripID], st)
		used[st.StopID] = true
	}

	var stops []models.GTFSStop
	for _, s := range ValidateAndCleanStops(feed.Stops) {
		if used[s.StopID] {
			stops = append(stops, s)
		}
	}
	stops, mapping := DeduplicateStops(stops, opts.MergeMeters)

	res := &Result{}
	stopsByID := make(map[string]models.GTFSStop, len(stops))
	for _, s := range stops {
		stopsByID[s.StopID] = s
		res.Stations = append(res.Stations, models.Station{
			ID:            s.StopID,
			Name:          s.StopName,
			Lat:           s.Lat,
			Lon:           s.Lon,
			StationType:   stationType(s),
			PlatformCount: opts.PlatformCount,
		})
	}

	tracks := make(map[string]models.Track)
	routes := make(map[string]models.Route)
	patternIDs := make(map[string]string)
	perRoute := make(map[string]int)

	tripIDs := make([]string, 0, len(stopTimes))
	for id := range stopTimes {
		tripIDs = append(tripIDs, id)
	}
	sort.Strings(tripIDs)

	skipped := 0
	for _, tripID := range tripIDs {
		trip := tripsByID[tripID]
		events, err := tripEvents(stopTimes[tripID], mapping, stopsByID)
		if err != nil {
			log.Printf("Warning: skipping trip %s: %v", tripID, err)
			skipped++
			continue
		}

		start := events[0].departure
		waypoints := make([]models.Waypoint, len(events))
		for i, ev := range events {
			wp := models.Waypoint{
				StationID:       ev.stationID,
				ArrivalOffset:   ev.arrival - start,
				DepartureOffset: ev.departure - start,
				MinDwell:        ev.departure - ev.arrival,
			}
			if i == 0 {
				wp.ArrivalOffset = 0
				wp.MinDwell = 0
			} else if i < len(events)-1 && wp.MinDwell == 0 {
				wp.MinDwell = opts.MinDwell
				if wp.DepartureOffset < wp.ArrivalOffset+wp.MinDwell {
					wp.DepartureOffset = wp.ArrivalOffset + wp.MinDwell
				}
			}
			if i > 0 {
				track := trackBetween(stopsByID[events[i-1].stationID], stopsByID[ev.stationID], opts.MaxSpeedKmh)
				tracks[track.ID] = track
				wp.TrackID = track.ID
			}
			waypoints[i] = wp
		}

		key := patternKey(trip.RouteID, waypoints)
		routeID, ok := patternIDs[key]
		if !ok {
			perRoute[trip.RouteID]++
			routeID = fmt.Sprintf("%s-%d", trip.RouteID, perRoute[trip.RouteID])
			route := models.Route{ID: routeID, Name: routeName(railRoutes[trip.RouteID], trip), Waypoints: waypoints}
			if err := validate(route, tracks); err != nil {
				log.Printf("Warning: skipping trip %s: %v", tripID, err)
				perRoute[trip.RouteID]--
				skipped++
				continue
			}
			patternIDs[key] = routeID
			routes[routeID] = route
		}

		if opts.ServiceDate.IsZero() {
			continue
		}
		train := models.Train{
			ID:                 tripID,
			Name:               trainName(trip),
			RouteID:            routeID,
			ScheduledDeparture: serviceMidnight(opts.ServiceDate).Add(start).UTC(),
		}
		if opts.GenerateFleet {
			vehicles := generateConsist(opts.CarriagesPerTrain)
			for _, v := range vehicles {
				train.Vehicles = append(train.Vehicles, v.ID)
			}
			res.Vehicles = append(res.Vehicles, vehicles...)
		}
		res.Trains = append(res.Trains, train)
	}

	for _, t := range tracks {
		res.Tracks = append(res.Tracks, t)
	}
	sort.Slice(res.Tracks, func(i, j int) bool { return res.Tracks[i].ID < res.Tracks[j].ID })
	for _, r := range routes {
		res.Routes = append(res.Routes, r)
	}
	sort.Slice(res.Routes, func(i, j int) bool { return res.Routes[i].ID < res.Routes[j].ID })

	log.Printf("Built %d stations, %d tracks, %d routes, %d trains (%d trips skipped)",
		len(res.Stations), len(res.Tracks), len(res.Routes), len(res.Trains), skipped)
	return res, nil
}

// tripEvents orders a trip's stop times, maps stops onto stations and collapses
// consecutive calls at the same station
func tripEvents(times []models.GTFSStopTime, mapping map[string]string, stops map[string]models.GTFSStop) ([]stopEvent, error) {
	sort.Slice(times, func(i, j int) bool { return times[i].StopSequence < times[j].StopSequence })

	var events []stopEvent
	for _, st := range times {
		stationID, ok := mapping[st.StopID]
		if !ok {
			return nil, fmt.Errorf("stop %s has no valid location", st.StopID)
		}
		if _, ok := stops[stationID]; !ok {
			return nil, fmt.Errorf("stop %s has no valid location", st.StopID)
		}

		arrStr, depStr := st.ArrivalTime, st.DepartureTime
		if arrStr == "" {
			arrStr = depStr
		}
		if depStr == "" {
			depStr = arrStr
		}
		arrival, err := ParseGTFSTime(arrStr)
		if err != nil {
			return nil, fmt.Errorf("stop %s: %w", st.StopID, err)
		}
		departure, err := ParseGTFSTime(depStr)
		if err != nil {
			return nil, fmt.Errorf("stop %s: %w", st.StopID, err)
		}

		if n := len(events); n > 0 && events[n-1].stationID == stationID {
			events[n-1].departure = departure
			continue
		}
		events = append(events, stopEvent{stationID: stationID, arrival: arrival, departure: departure})
	}

	if len(events) < 2 {
		return nil, fmt.Errorf("fewer than two stations")
	}
	return events, nil
}

// validate checks a route the same way the engine will before any train runs it
func validate(route models.Route, tracks map[string]models.Track) error {
	lengths := make([]float64, len(route.Waypoints))
	for i := 1; i < len(route.Waypoints); i++ {
		lengths[i] = tracks[route.Waypoints[i].TrackID].LengthKm
	}
	_, err := schedule.New(route, lengths)
	return err
}

// trackBetween returns the undirected track joining two stations. The length is
// the great-circle distance, never below 100 m.
func trackBetween(a, b models.GTFSStop, maxSpeed float64) models.Track {
	from, to := a, b
	if to.StopID < from.StopID {
		from, to = to, from
	}
	km := haversineDistance(from.Lat, from.Lon, to.Lat, to.Lon) / 1000
	if km < 0.1 {
		km = 0.1
	}
	return models.Track{
		ID:            from.StopID + "~" + to.StopID,
		Name:          from.StopName + " - " + to.StopName,
		FromStationID: from.StopID,
		ToStationID:   to.StopID,
		LengthKm:      km,
		Gauge:         "standard",
		MaxSpeedKmh:   maxSpeed,
		Condition:     models.ConditionGood,
		Electrified:   true,
		Bidirectional: true,
	}
}

func patternKey(routeID string, wps []models.Waypoint) string {
	var b strings.Builder
	b.WriteString(routeID)
	for _, wp := range wps {
		fmt.Fprintf(&b, "|%s@%d/%d", wp.StationID, int64(wp.ArrivalOffset/time.Second), int64(wp.DepartureOffset/time.Second))
	}
	return b.String()
}

func routeName(r models.GTFSRoute, trip models.GTFSTrip) string {
	name := r.ShortName
	if name == "" {
		name = r.LongName
	}
	if name == "" {
		name = r.RouteID
	}
	if trip.Headsign != "" {
		name += " to " + trip.Headsign
	}
	return name
}

func trainName(trip models.GTFSTrip) string {
	if trip.Headsign != "" {
		return trip.TripID + " " + trip.Headsign
	}
	return trip.TripID
}

func stationType(s models.GTFSStop) string {
	if s.LocationType == 1 {
		return "station"
	}
	return "stop"
}

// serviceMidnight is local noon minus twelve hours, the GTFS definition of a service day start
func serviceMidnight(date time.Time) time.Time {
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, date.Location())
	return noon.Add(-12 * time.Hour)
}

// generateConsist creates one traction unit followed by carriages
func generateConsist(carriages int) []models.Vehicle {
	vehicles := []models.Vehicle{{
		ID:           uuid.New().String(),
		Name:         "Locomotive",
		Kind:         models.KindTraction,
		WeightTonnes: 80,
		MaxSpeedKmh:  160,
		BrakeType:    models.BrakeElectropneumatic,
	}}
	for i := 0; i < carriages; i++ {
		vehicles = append(vehicles, models.Vehicle{
			ID:           uuid.New().String(),
			Name:         fmt.Sprintf("Carriage %d", i+1),
			Kind:         models.KindCarriage,
			WeightTonnes: 40,
			Capacity:     80,
			MaxSpeedKmh:  160,
			BrakeType:    models.BrakeElectropneumatic,
		})
	}
	return vehicles
}

// Write stores the result through s, infrastructure first
func (r *Result) Write(ctx context.Context, s db.Seeder) error {
	for _, st := range r.Stations {
		if err := s.UpsertStation(ctx, st); err != nil {
			return err
		}
	}
	for _, t := range r.Tracks {
		if err := s.UpsertTrack(ctx, t); err != nil {
			return err
		}
	}
	for _, route := range r.Routes {
		if err := s.UpsertRoute(ctx, route); err != nil {
			return err
		}
	}
	for _, v := range r.Vehicles {
		if err := s.UpsertVehicle(ctx, v); err != nil {
			return err
		}
	}
	for _, t := range r.Trains {
		if err := s.UpsertTrain(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Check loads the result into a network and verifies every route resolves
func (r *Result) Check(ctx context.Context) error {
	net := graph.NewNetwork()
	if err := net.Load(ctx, resultSource{r}); err != nil {
		return err
	}
	for _, route := range r.Routes {
		if _, err := net.SegmentLengths(route); err != nil {
			return fmt.Errorf("route %s: %w", route.ID, err)
		}
	}
	return nil
}

// resultSource serves a Result as a graph.Source
type resultSource struct {
	r *Result
}

func (s resultSource) ListTracks(ctx context.Context) ([]models.Track, error) { return s.r.Tracks, nil }
func (s resultSource) ListStations(ctx context.Context) ([]models.Station, error) {
	return s.r.Stations, nil
}
func (s resultSource) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return s.r.Vehicles, nil
}
func (s resultSource) ListRoutes(ctx context.Context) ([]models.Route, error) { return s.r.Routes, nil }
