package models

import "time"

// TrackCondition represents the maintenance state of a track segment
type TrackCondition string

const (
	ConditionGood TrackCondition = "good"
	ConditionFair TrackCondition = "fair"
	ConditionPoor TrackCondition = "poor"
)

// SpeedMultiplier returns the fraction of the line speed usable on a track in this condition.
// Unknown conditions are treated as poor.
func (c TrackCondition) SpeedMultiplier() float64 {
	switch c {
	case ConditionGood:
		return 1.0
	case ConditionFair:
		return 0.75
	default:
		return 0.5
	}
}

// VehicleKind distinguishes traction units from unpowered carriages
type VehicleKind string

const (
	KindTraction VehicleKind = "traction"
	KindCarriage VehicleKind = "carriage"
)

// BrakeType represents the braking system fitted to a vehicle
type BrakeType string

const (
	BrakeElectropneumatic BrakeType = "electropneumatic"
	BrakeAir              BrakeType = "air"
	BrakeVacuum           BrakeType = "vacuum"
	BrakeHand             BrakeType = "hand"
)

// SpeedMultiplier returns the fraction of a vehicle's rated speed that its brakes allow.
// Weaker brakes need longer stopping distances, so the achievable line speed drops.
func (b BrakeType) SpeedMultiplier() float64 {
	switch b {
	case BrakeElectropneumatic, BrakeAir, "":
		return 1.0
	case BrakeVacuum:
		return 0.85
	default:
		return 0.6
	}
}

// PlatformClass is the capacity class of a single platform
type PlatformClass string

const (
	PlatformShort    PlatformClass = "short"
	PlatformStandard PlatformClass = "standard"
	PlatformLong     PlatformClass = "long"
)

// Accepts reports whether a train of the given number of vehicles fits the platform
func (p PlatformClass) Accepts(vehicles int) bool {
	switch p {
	case PlatformShort:
		return vehicles <= 4
	case PlatformStandard:
		return vehicles <= 8
	default:
		return true
	}
}

// Track represents a physical line segment between two stations
type Track struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	FromStationID string         `json:"from_station_id"`
	ToStationID   string         `json:"to_station_id"`
	LengthKm      float64        `json:"length_km"`
	Gauge         string         `json:"gauge"`
	MaxSpeedKmh   float64        `json:"max_speed_kmh"`
	Condition     TrackCondition `json:"condition"`
	Electrified   bool           `json:"electrified"`
	Bidirectional bool           `json:"bidirectional"`
}

// EffectiveMaxSpeed is the line speed after applying the condition multiplier
func (t Track) EffectiveMaxSpeed() float64 {
	return t.MaxSpeedKmh * t.Condition.SpeedMultiplier()
}

// Station represents a stopping place with a fixed number of platforms
type Station struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Lat             float64         `json:"lat"`
	Lon             float64         `json:"lon"`
	StationType     string          `json:"station_type,omitempty"`
	PlatformCount   int             `json:"platform_count"`
	PlatformClasses []PlatformClass `json:"platform_classes,omitempty"`
}

// PlatformClass returns the class of platform i, long when not configured
func (s Station) PlatformClass(i int) PlatformClass {
	if i < 0 || i >= len(s.PlatformClasses) || s.PlatformClasses[i] == "" {
		return PlatformLong
	}
	return s.PlatformClasses[i]
}

// Vehicle represents a single unit of rolling stock
type Vehicle struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Kind         VehicleKind `json:"kind"`
	WeightTonnes float64     `json:"weight_tonnes"`
	Capacity     int         `json:"capacity"`
	MaxSpeedKmh  float64     `json:"max_speed_kmh"`
	BrakeType    BrakeType   `json:"brake_type"`
}

// IsTraction reports whether the vehicle can haul a train
func (v Vehicle) IsTraction() bool {
	return v.Kind == KindTraction
}

// AchievableSpeed is the vehicle's rated speed limited by its brakes
func (v Vehicle) AchievableSpeed() float64 {
	return v.MaxSpeedKmh * v.BrakeType.SpeedMultiplier()
}

// Waypoint is a point along a route with planned offsets from the route start.
// StationID is empty for a timing point on open track.
type Waypoint struct {
	StationID       string        `json:"station_id,omitempty"`
	TrackID         string        `json:"track_id,omitempty"`   // track used to reach this waypoint
	SegmentKm       float64       `json:"segment_km,omitempty"` // overrides the track length when > 0
	ArrivalOffset   time.Duration `json:"arrival_offset"`
	DepartureOffset time.Duration `json:"departure_offset"`
	MinDwell        time.Duration `json:"min_dwell"`
}

// IsStation reports whether the waypoint is a station stop
func (w Waypoint) IsStation() bool {
	return w.StationID != ""
}

// Route represents an ordered list of waypoints
type Route struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Waypoints []Waypoint `json:"waypoints"`
}

// OccupancySlot is a claim by one train on one platform of a station
type OccupancySlot struct {
	StationID string    `json:"station_id"`
	Platform  int       `json:"platform"`
	TrainID   string    `json:"train_id"`
	Since     time.Time `json:"since"`
}

// SimulationState is the singleton clock record
type SimulationState struct {
	SimulationID string    `json:"simulation_id"`
	CurrentTime  time.Time `json:"current_time"`
	TimeScale    float64   `json:"time_scale"` // simulated seconds per real second
	Running      bool      `json:"running"`
	StartedAt    time.Time `json:"started_at"`
	LastUpdated  time.Time `json:"last_updated"`
	LastPassID   string    `json:"last_pass_id,omitempty"`
	Passes       int64     `json:"passes"`
}

// GTFS data structures for import

// GTFSStop represents a stop from stops.txt
type GTFSStop struct {
	StopID       string
	StopName     string
	Lat          float64
	Lon          float64
	LocationType int
}

// GTFSRoute represents a route from routes.txt
type GTFSRoute struct {
	RouteID   string
	ShortName string
	LongName  string
	RouteType int
}

// GTFSTrip represents a trip from trips.txt
type GTFSTrip struct {
	RouteID   string
	ServiceID string
	TripID    string
	Headsign  string
}

// GTFSStopTime represents a stop time from stop_times.txt
type GTFSStopTime struct {
	TripID        string
	ArrivalTime   string
	DepartureTime string
	StopID        string
	StopSequence  int
}

// StationPassengers is the passenger demand at one station. Passengers are generated
// at a steady rate and spread over Destinations in turn; Since is the simulated time
// up to which generation has been applied.
type StationPassengers struct {
	StationID string         `json:"station_id"`
	Since     time.Time      `json:"since"`
	Generated int64          `json:"generated"`
	Waiting   map[string]int `json:"waiting"` // destination station ID -> passengers
	Arrived   int            `json:"arrived"`
}

// WaitingTotal returns the number of passengers waiting for any destination
func (s StationPassengers) WaitingTotal() int {
	n := 0
	for _, c := range s.Waiting {
		n += c
	}
	return n
}

// Clone returns a deep copy
func (s StationPassengers) Clone() StationPassengers {
	c := s
	c.Waiting = make(map[string]int, len(s.Waiting))
	for k, v := range s.Waiting {
		c.Waiting[k] = v
	}
	return c
}
