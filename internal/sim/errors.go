package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy means another pass holds the advance lock; retry later
	ErrBusy = errors.New("simulation busy")
	// ErrNotFound means the requested train, route or vehicle does not exist
	ErrNotFound = errors.New("not found")
	// ErrNotOpen means Open has not completed
	ErrNotOpen = errors.New("simulation not open")
)

// ConfigurationError marks a train that was terminated because its route or the
// infrastructure it runs on is malformed
type ConfigurationError struct {
	TrainID string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for train %s: %v", e.TrainID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// PersistenceError means the store rejected a read or write; the pass was abandoned
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
