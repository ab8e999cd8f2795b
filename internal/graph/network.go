package graph

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/railsim/railsim_core/internal/models"
)

// Source lists infrastructure records from the persistence layer
type Source interface {
	ListTracks(ctx context.Context) ([]models.Track, error)
	ListStations(ctx context.Context) ([]models.Station, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
}

// Network holds the infrastructure in memory for the progression pass
type Network struct {
	mu       sync.RWMutex
	tracks   map[string]models.Track
	stations map[string]models.Station
	vehicles map[string]models.Vehicle
	routes   map[string]models.Route
	served   map[string][]string // station ID -> stations reachable on some route
	loaded   bool
	loadedAt time.Time
}

// NewNetwork returns an empty network
func NewNetwork() *Network {
	return &Network{
		tracks:   make(map[string]models.Track),
		stations: make(map[string]models.Station),
		vehicles: make(map[string]models.Vehicle),
		routes:   make(map[string]models.Route),
		served:   make(map[string][]string),
	}
}

// Load reads all infrastructure from src and swaps it in.
// On error the previous contents are kept.
func (n *Network) Load(ctx context.Context, src Source) error {
	tracks, err := src.ListTracks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tracks: %w", err)
	}
	stations, err := src.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stations: %w", err)
	}
	vehicles, err := src.ListVehicles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load vehicles: %w", err)
	}
	routes, err := src.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}

	trackMap := make(map[string]models.Track, len(tracks))
	for _, t := range tracks {
		trackMap[t.ID] = t
	}
	stationMap := make(map[string]models.Station, len(stations))
	for _, s := range stations {
		stationMap[s.ID] = s
	}
	vehicleMap := make(map[string]models.Vehicle, len(vehicles))
	for _, v := range vehicles {
		vehicleMap[v.ID] = v
	}
	routeMap := make(map[string]models.Route, len(routes))
	for _, r := range routes {
		routeMap[r.ID] = r
	}

	served := destinations(routes)

	n.mu.Lock()
	defer n.mu.Unlock()

	firstLoad := !n.loaded
	n.tracks = trackMap
	n.stations = stationMap
	n.vehicles = vehicleMap
	n.routes = routeMap
	n.served = served
	n.loaded = true
	n.loadedAt = time.Now()

	if firstLoad {
		log.Printf("Network loaded (%d stations, %d tracks, %d vehicles, %d routes)",
			len(stationMap), len(trackMap), len(vehicleMap), len(routeMap))
	}
	return nil
}

// IsLoaded returns true if the network has been loaded at least once
func (n *Network) IsLoaded() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loaded
}

// LoadedAt returns the wall time of the last successful load
func (n *Network) LoadedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loadedAt
}

// Track returns a track by ID
func (n *Network) Track(id string) (models.Track, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.tracks[id]
	return t, ok
}

// Station returns a station by ID
func (n *Network) Station(id string) (models.Station, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.stations[id]
	return s, ok
}

// Vehicle returns a vehicle by ID
func (n *Network) Vehicle(id string) (models.Vehicle, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vehicles[id]
	return v, ok
}

// Route returns a route by ID
func (n *Network) Route(id string) (models.Route, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, ok := n.routes[id]
	return r, ok
}

// Destinations returns the stations a passenger at stationID can reach without
// changing trains, ordered by ID
func (n *Network) Destinations(stationID string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.served[stationID]...)
}

func destinations(routes []models.Route) map[string][]string {
	sets := make(map[string]map[string]bool)
	for _, r := range routes {
		for i, from := range r.Waypoints {
			if !from.IsStation() {
				continue
			}
			for _, to := range r.Waypoints[i+1:] {
				if !to.IsStation() || to.StationID == from.StationID {
					continue
				}
				if sets[from.StationID] == nil {
					sets[from.StationID] = make(map[string]bool)
				}
				sets[from.StationID][to.StationID] = true
			}
		}
	}

	result := make(map[string][]string, len(sets))
	for id, set := range sets {
		list := make([]string, 0, len(set))
		for dest := range set {
			list = append(list, dest)
		}
		sort.Strings(list)
		result[id] = list
	}
	return result
}

// Stations returns all stations ordered by ID
func (n *Network) Stations() []models.Station {
	n.mu.RLock()
	defer n.mu.RUnlock()

	result := make([]models.Station, 0, len(n.stations))
	for _, s := range n.stations {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// FleetMaxSpeed returns the highest speed every vehicle in the composition can sustain.
// It returns 0 when the composition is not headed by a known traction unit.
func (n *Network) FleetMaxSpeed(vehicleIDs []string) float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if len(vehicleIDs) == 0 {
		return 0
	}
	lead, ok := n.vehicles[vehicleIDs[0]]
	if !ok || !lead.IsTraction() {
		return 0
	}

	speed := math.Inf(1)
	for _, id := range vehicleIDs {
		v, ok := n.vehicles[id]
		if !ok {
			return 0
		}
		speed = math.Min(speed, v.AchievableSpeed())
	}
	return math.Max(speed, 0)
}

// SegmentSpeed returns the running speed of a composition over a track:
// min(fleet max speed, track max speed * condition multiplier)
func (n *Network) SegmentSpeed(vehicleIDs []string, trackID string) (float64, error) {
	track, ok := n.Track(trackID)
	if !ok {
		return 0, fmt.Errorf("track %q not found", trackID)
	}
	return math.Max(0, math.Min(n.FleetMaxSpeed(vehicleIDs), track.EffectiveMaxSpeed())), nil
}

// SegmentLengths returns, for each waypoint of the route, the distance from the previous waypoint.
// Element 0 is always 0.
func (n *Network) SegmentLengths(route models.Route) ([]float64, error) {
	lengths := make([]float64, len(route.Waypoints))
	for i := 1; i < len(route.Waypoints); i++ {
		wp := route.Waypoints[i]
		if wp.SegmentKm > 0 {
			lengths[i] = wp.SegmentKm
			continue
		}
		track, ok := n.Track(wp.TrackID)
		if !ok {
			return nil, fmt.Errorf("waypoint %d: track %q not found", i, wp.TrackID)
		}
		lengths[i] = track.LengthKm
	}
	return lengths, nil
}

// SeatCapacity returns the total seats of a composition
func (n *Network) SeatCapacity(vehicleIDs []string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	total := 0
	for _, id := range vehicleIDs {
		total += n.vehicles[id].Capacity
	}
	return total
}
