package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/railsim/railsim_core/internal/models"
)

// Seeder writes infrastructure and train records. The importer and tests use it
// to populate a store.
type Seeder interface {
	UpsertTrack(ctx context.Context, t models.Track) error
	UpsertStation(ctx context.Context, s models.Station) error
	UpsertVehicle(ctx context.Context, v models.Vehicle) error
	UpsertRoute(ctx context.Context, r models.Route) error
	UpsertTrain(ctx context.Context, t models.Train) error
	DeleteTrain(ctx context.Context, id string) error
}

// Store is the full persistence surface of a backend
type Store interface {
	Seeder

	ListTracks(ctx context.Context) ([]models.Track, error)
	ListStations(ctx context.Context) ([]models.Station, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
	ListTrains(ctx context.Context) ([]models.Train, error)
	ListPassengers(ctx context.Context) ([]models.StationPassengers, error)

	LoadState(ctx context.Context) (*models.SimulationState, error)
	SaveState(ctx context.Context, state models.SimulationState) error
	CommitPass(ctx context.Context, state models.SimulationState, trains []*models.Train, passengers []models.StationPassengers) error
	SaveComposition(ctx context.Context, trainID string, vehicleIDs []string) error

	Ping(ctx context.Context) error
	Close()
}

// Open connects the backend named by cfg.Driver and ensures its schema
func Open(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Timestamps are stored as unix nanoseconds so both SQL backends share one encoding.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func encodeClasses(classes []models.PlatformClass) string {
	parts := make([]string, len(classes))
	for i, c := range classes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func decodeClasses(s string) []models.PlatformClass {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	classes := make([]models.PlatformClass, len(parts))
	for i, p := range parts {
		classes[i] = models.PlatformClass(strings.TrimSpace(p))
	}
	return classes
}

func encodeWaypoints(wps []models.Waypoint) (string, error) {
	if wps == nil {
		wps = []models.Waypoint{}
	}
	data, err := json.Marshal(wps)
	if err != nil {
		return "", fmt.Errorf("failed to encode waypoints: %w", err)
	}
	return string(data), nil
}

func decodeWaypoints(data []byte) ([]models.Waypoint, error) {
	var wps []models.Waypoint
	if len(data) == 0 {
		return wps, nil
	}
	if err := json.Unmarshal(data, &wps); err != nil {
		return nil, fmt.Errorf("failed to decode waypoints: %w", err)
	}
	return wps, nil
}

func encodeRuntime(t *models.Train) (string, error) {
	data, err := t.MarshalRuntime()
	if err != nil {
		return "", fmt.Errorf("failed to encode runtime of train %s: %w", t.ID, err)
	}
	return string(data), nil
}

func encodeWaiting(waiting map[string]int) (string, error) {
	if waiting == nil {
		waiting = map[string]int{}
	}
	data, err := json.Marshal(waiting)
	if err != nil {
		return "", fmt.Errorf("failed to encode waiting passengers: %w", err)
	}
	return string(data), nil
}

func decodeWaiting(data []byte) (map[string]int, error) {
	waiting := map[string]int{}
	if len(data) == 0 {
		return waiting, nil
	}
	if err := json.Unmarshal(data, &waiting); err != nil {
		return nil, fmt.Errorf("failed to decode waiting passengers: %w", err)
	}
	return waiting, nil
}

type compositionRow struct {
	trainID   string
	vehicleID string
}

// groupVehicles collects rows ordered by position into compositions
func groupVehicles(rows []compositionRow) map[string][]string {
	result := make(map[string][]string)
	for _, r := range rows {
		result[r.trainID] = append(result[r.trainID], r.vehicleID)
	}
	return result
}
