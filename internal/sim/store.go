package sim

import (
	"context"

	"github.com/railsim/railsim_core/internal/graph"
	"github.com/railsim/railsim_core/internal/models"
)

// Store is the persistence the engine needs
type Store interface {
	graph.Source

	// LoadState returns nil, nil when no simulation has been created yet
	LoadState(ctx context.Context) (*models.SimulationState, error)
	SaveState(ctx context.Context, state models.SimulationState) error

	ListTrains(ctx context.Context) ([]models.Train, error)
	ListPassengers(ctx context.Context) ([]models.StationPassengers, error)

	// CommitPass saves the clock, every train's runtime and the station passenger
	// records in one transaction
	CommitPass(ctx context.Context, state models.SimulationState, trains []*models.Train, passengers []models.StationPassengers) error
	SaveComposition(ctx context.Context, trainID string, vehicleIDs []string) error

	Ping(ctx context.Context) error
}

// PassLocker serializes passes across processes sharing one store
type PassLocker interface {
	// Acquire returns false when another process holds the lock
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
