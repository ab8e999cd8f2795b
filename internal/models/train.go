package models

import (
	"encoding/json"
	"time"
)

// TrainStatus is the lifecycle state of a train
type TrainStatus string

const (
	StatusUnassigned TrainStatus = "unassigned"
	StatusScheduled  TrainStatus = "scheduled"
	StatusRunning    TrainStatus = "running"
	StatusDelayed    TrainStatus = "delayed"
	StatusTerminated TrainStatus = "terminated"
)

// IsActive reports whether the train is progressing along its route
func (s TrainStatus) IsActive() bool {
	return s == StatusRunning || s == StatusDelayed
}

// Phase is where a train is within its current waypoint cycle
type Phase string

const (
	PhaseWaiting  Phase = "waiting"  // not yet activated
	PhaseDwelling Phase = "dwelling" // stopped at WaypointIndex
	PhaseTransit  Phase = "transit"  // running from WaypointIndex to the next waypoint
	PhaseHeld     Phase = "held"     // at the boundary of a full station
	PhaseDone     Phase = "done"
)

// TrainRuntime is the engine-owned progression state of a train
type TrainRuntime struct {
	Status        TrainStatus `json:"status"`
	Phase         Phase       `json:"phase"`
	WaypointIndex int         `json:"waypoint_index"`

	// Position within the current segment is SegmentStartKm + SpeedKmh * (now - SegmentStartedAt)
	SegmentStartKm   float64   `json:"segment_start_km"`
	SegmentStartedAt time.Time `json:"segment_started_at"`
	SpeedKmh         float64   `json:"speed_kmh"`

	ReadyAt   time.Time `json:"ready_at"`
	HeldSince time.Time `json:"held_since"`

	Delay             time.Duration `json:"delay"`
	LastObservedDelay time.Duration `json:"last_observed_delay"`
	StationDelay      time.Duration `json:"station_delay"`

	// Passengers on board by destination station
	Onboard  map[string]int `json:"onboard,omitempty"`
	Boarded  int            `json:"boarded"`
	Alighted int            `json:"alighted"`

	Slot  *OccupancySlot `json:"slot,omitempty"`
	Route *Route         `json:"route,omitempty"`

	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	DepartedAt  *time.Time `json:"departed_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Train is a composition of vehicles optionally running against a route
type Train struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	RouteID            string       `json:"route_id,omitempty"`
	ScheduledDeparture time.Time    `json:"scheduled_departure"`
	Vehicles           []string     `json:"vehicles"`
	Runtime            TrainRuntime `json:"runtime"`
}

// Load returns the number of passengers on board
func (r TrainRuntime) Load() int {
	n := 0
	for _, c := range r.Onboard {
		n += c
	}
	return n
}

// Clone returns a deep copy of the train
func (t *Train) Clone() *Train {
	c := *t
	c.Vehicles = append([]string(nil), t.Vehicles...)
	if t.Runtime.Slot != nil {
		slot := *t.Runtime.Slot
		c.Runtime.Slot = &slot
	}
	if t.Runtime.Route != nil {
		route := *t.Runtime.Route
		route.Waypoints = append([]Waypoint(nil), t.Runtime.Route.Waypoints...)
		c.Runtime.Route = &route
	}
	if t.Runtime.Onboard != nil {
		c.Runtime.Onboard = make(map[string]int, len(t.Runtime.Onboard))
		for k, v := range t.Runtime.Onboard {
			c.Runtime.Onboard[k] = v
		}
	}
	c.Runtime.ActivatedAt = cloneTime(t.Runtime.ActivatedAt)
	c.Runtime.DepartedAt = cloneTime(t.Runtime.DepartedAt)
	c.Runtime.ArrivedAt = cloneTime(t.Runtime.ArrivedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// MarshalRuntime encodes the runtime for storage in a single column
func (t *Train) MarshalRuntime() ([]byte, error) {
	return json.Marshal(t.Runtime)
}

// UnmarshalRuntime decodes a stored runtime column. An empty column leaves the zero runtime.
func (t *Train) UnmarshalRuntime(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &t.Runtime)
}
