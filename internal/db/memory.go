package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/railsim/railsim_core/internal/models"
)

// MemoryStore keeps every record in process memory. Records are copied on the way
// in and out so callers never share slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	state    *models.SimulationState
	tracks   map[string]models.Track
	stations map[string]models.Station
	vehicles map[string]models.Vehicle
	routes   map[string]models.Route
	trains   map[string]*models.Train
	pax      map[string]models.StationPassengers
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tracks:   make(map[string]models.Track),
		stations: make(map[string]models.Station),
		vehicles: make(map[string]models.Vehicle),
		routes:   make(map[string]models.Route),
		trains:   make(map[string]*models.Train),
		pax:      make(map[string]models.StationPassengers),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) LoadState(ctx context.Context) (*models.SimulationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

func (m *MemoryStore) SaveState(ctx context.Context, state models.SimulationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *MemoryStore) ListTracks(ctx context.Context) ([]models.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) ListStations(ctx context.Context) ([]models.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Station, 0, len(m.stations))
	for _, s := range m.stations {
		s.PlatformClasses = append([]models.PlatformClass(nil), s.PlatformClasses...)
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Route, 0, len(m.routes))
	for _, r := range m.routes {
		r.Waypoints = append([]models.Waypoint(nil), r.Waypoints...)
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) ListTrains(ctx context.Context) ([]models.Train, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Train, 0, len(m.trains))
	for _, t := range m.trains {
		result = append(result, *t.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) ListPassengers(ctx context.Context) ([]models.StationPassengers, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.StationPassengers, 0, len(m.pax))
	for _, p := range m.pax {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StationID < result[j].StationID })
	return result, nil
}

func (m *MemoryStore) CommitPass(ctx context.Context, state models.SimulationState, trains []*models.Train, passengers []models.StationPassengers) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = &state
	for _, t := range trains {
		stored, ok := m.trains[t.ID]
		if !ok {
			continue
		}
		stored.Runtime = t.Clone().Runtime
	}
	for _, p := range passengers {
		m.pax[p.StationID] = p.Clone()
	}
	return nil
}

func (m *MemoryStore) SaveComposition(ctx context.Context, trainID string, vehicleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trains[trainID]
	if !ok {
		return fmt.Errorf("train %s not found", trainID)
	}
	for id, other := range m.trains {
		if id == trainID {
			continue
		}
		for _, v := range other.Vehicles {
			for _, want := range vehicleIDs {
				if v == want {
					return fmt.Errorf("vehicle %s already assigned to train %s", v, id)
				}
			}
		}
	}
	t.Vehicles = append([]string(nil), vehicleIDs...)
	return nil
}

func (m *MemoryStore) UpsertTrack(ctx context.Context, t models.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[t.ID] = t
	return nil
}

func (m *MemoryStore) UpsertStation(ctx context.Context, s models.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.PlatformClasses = append([]models.PlatformClass(nil), s.PlatformClasses...)
	m.stations[s.ID] = s
	return nil
}

func (m *MemoryStore) UpsertVehicle(ctx context.Context, v models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = v
	return nil
}

func (m *MemoryStore) UpsertRoute(ctx context.Context, r models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Waypoints = append([]models.Waypoint(nil), r.Waypoints...)
	m.routes[r.ID] = r
	return nil
}

func (m *MemoryStore) UpsertTrain(ctx context.Context, t models.Train) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trains[t.ID] = t.Clone()
	return nil
}

// DeleteTrain removes a train record
func (m *MemoryStore) DeleteTrain(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trains, id)
	return nil
}
