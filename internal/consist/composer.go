package consist

import (
	"fmt"

	"github.com/railsim/railsim_core/internal/models"
)

// CompositionError reports a rejected vehicle assignment or removal
type CompositionError struct {
	TrainID   string
	VehicleID string
	Reason    string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition error on train %s, vehicle %s: %s", e.TrainID, e.VehicleID, e.Reason)
}

// VehicleLookup resolves vehicle records
type VehicleLookup interface {
	Vehicle(id string) (models.Vehicle, bool)
}

// Composer plans composition changes and tracks which train owns each vehicle.
// Planning never mutates a train; Commit applies a validated plan.
type Composer struct {
	vehicles VehicleLookup
	owners   map[string]string // vehicleID -> trainID
}

// NewComposer creates a composer over the given vehicle records
func NewComposer(vehicles VehicleLookup) *Composer {
	return &Composer{vehicles: vehicles, owners: make(map[string]string)}
}

// Index rebuilds the ownership index from the trains' compositions.
// A vehicle listed by more than one train is reported as an error and kept by the
// train that comes first in the slice.
func (c *Composer) Index(trains []*models.Train) error {
	owners := make(map[string]string)
	var err error
	for _, t := range trains {
		for _, v := range t.Vehicles {
			if other, ok := owners[v]; ok && other != t.ID {
				if err == nil {
					err = &CompositionError{TrainID: t.ID, VehicleID: v, Reason: "already assigned to train " + other}
				}
				continue
			}
			owners[v] = t.ID
		}
	}
	c.owners = owners
	return err
}

// Owner returns the train holding a vehicle
func (c *Composer) Owner(vehicleID string) (string, bool) {
	id, ok := c.owners[vehicleID]
	return id, ok
}

// PlanAssign returns the composition that results from inserting vehicleID at position.
// A negative or out of range position appends.
func (c *Composer) PlanAssign(train *models.Train, vehicleID string, position int) ([]string, error) {
	fail := func(reason string) error {
		return &CompositionError{TrainID: train.ID, VehicleID: vehicleID, Reason: reason}
	}

	if _, ok := c.vehicles.Vehicle(vehicleID); !ok {
		return nil, fail("vehicle not found")
	}
	if owner, ok := c.owners[vehicleID]; ok {
		if owner == train.ID {
			return nil, fail("vehicle already in this train")
		}
		return nil, fail("vehicle already assigned to train " + owner)
	}

	next := make([]string, 0, len(train.Vehicles)+1)
	if position < 0 || position >= len(train.Vehicles) {
		next = append(next, train.Vehicles...)
		next = append(next, vehicleID)
	} else {
		next = append(next, train.Vehicles[:position]...)
		next = append(next, vehicleID)
		next = append(next, train.Vehicles[position:]...)
	}

	if err := c.validate(train, vehicleID, next); err != nil {
		return nil, err
	}
	return next, nil
}

// PlanRemove returns the composition without vehicleID
func (c *Composer) PlanRemove(train *models.Train, vehicleID string) ([]string, error) {
	idx := -1
	for i, v := range train.Vehicles {
		if v == vehicleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &CompositionError{TrainID: train.ID, VehicleID: vehicleID, Reason: "vehicle not in train"}
	}

	next := make([]string, 0, len(train.Vehicles)-1)
	next = append(next, train.Vehicles[:idx]...)
	next = append(next, train.Vehicles[idx+1:]...)

	if idx == 0 && train.Runtime.Status.IsActive() {
		return nil, &CompositionError{TrainID: train.ID, VehicleID: vehicleID, Reason: "cannot remove the lead traction unit of a running train"}
	}
	if err := c.validate(train, vehicleID, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Commit applies a planned composition and updates ownership
func (c *Composer) Commit(train *models.Train, composition []string) {
	for _, v := range train.Vehicles {
		delete(c.owners, v)
	}
	train.Vehicles = composition
	for _, v := range composition {
		c.owners[v] = train.ID
	}
}

// Release drops ownership of every vehicle of a train that no longer exists
func (c *Composer) Release(train *models.Train) {
	for _, v := range train.Vehicles {
		if c.owners[v] == train.ID {
			delete(c.owners, v)
		}
	}
}

func (c *Composer) validate(train *models.Train, vehicleID string, composition []string) error {
	fail := func(reason string) error {
		return &CompositionError{TrainID: train.ID, VehicleID: vehicleID, Reason: reason}
	}

	if len(composition) == 0 {
		if train.Runtime.Status.IsActive() {
			return fail("a running train needs a traction unit")
		}
		return nil
	}

	lead, ok := c.vehicles.Vehicle(composition[0])
	if !ok || !lead.IsTraction() {
		return fail("composition must be headed by a traction unit")
	}
	return nil
}
