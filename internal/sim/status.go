package sim

import (
	"fmt"
	"sort"
	"time"

	"github.com/railsim/railsim_core/internal/models"
	"github.com/railsim/railsim_core/internal/schedule"
)

// StatusView is the clock summary
type StatusView struct {
	SimulationID        string                     `json:"simulation_id"`
	CurrentTime         time.Time                  `json:"current_time"`
	TimeScale           float64                    `json:"time_scale"`
	Running             bool                       `json:"running"`
	StartedAt           time.Time                  `json:"started_at"`
	LastUpdated         time.Time                  `json:"last_updated"`
	LastPassID          string                     `json:"last_pass_id,omitempty"`
	Passes              int64                      `json:"passes"`
	DelayPolicy         string                     `json:"delay_policy"`
	Trains              map[models.TrainStatus]int `json:"trains"`
	StalledTrains       int                        `json:"stalled_trains"`
	LastError           string                     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time                 `json:"last_error_at,omitempty"`
	ConsecutiveFailures int                        `json:"consecutive_failures"`
}

// UpcomingStop is a remaining waypoint with the delay carried forward
type UpcomingStop struct {
	WaypointIndex     int       `json:"waypoint_index"`
	StationID         string    `json:"station_id,omitempty"`
	PlannedArrival    time.Time `json:"planned_arrival"`
	ExpectedArrival   time.Time `json:"expected_arrival"`
	ExpectedDeparture time.Time `json:"expected_departure"`
}

// TrainView is the per-train status
type TrainView struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	RouteID            string             `json:"route_id,omitempty"`
	RouteName          string             `json:"route_name,omitempty"`
	Status             models.TrainStatus `json:"status"`
	Phase              models.Phase       `json:"phase"`
	WaypointIndex      int                `json:"waypoint_index"`
	CurrentStationID   string             `json:"current_station_id,omitempty"`
	NextStationID      string             `json:"next_station_id,omitempty"`
	LastStationID      string             `json:"last_station_id,omitempty"`
	StationFraction    float64            `json:"station_fraction"` // share of the way from LastStationID to NextStationID
	Platform           *int               `json:"platform,omitempty"`
	ProgressKm         float64            `json:"progress_km"`
	RouteLengthKm      float64            `json:"route_length_km"`
	ProgressFraction   float64            `json:"progress_fraction"`
	SpeedKmh           float64            `json:"speed_kmh"`
	DelaySeconds       int64              `json:"delay_seconds"`
	DelayMinutes       float64            `json:"delay_minutes"`
	StationDelaySecs   int64              `json:"station_delay_seconds"`
	LastObservedSecs   int64              `json:"last_observed_delay_seconds"`
	ScheduledDeparture time.Time          `json:"scheduled_departure"`
	PlannedDuration    int64              `json:"planned_duration_seconds,omitempty"`
	Upcoming           []UpcomingStop     `json:"upcoming,omitempty"`
	Vehicles           []string           `json:"vehicles"`
	SeatCapacity       int                `json:"seat_capacity"`
	Passengers         int                `json:"passengers"`
	LoadFactor         float64            `json:"load_factor"`
	Boarded            int                `json:"boarded"`
	Alighted           int                `json:"alighted"`
	HeldSince          *time.Time         `json:"held_since,omitempty"`
	DepartedAt         *time.Time         `json:"departed_at,omitempty"`
	ArrivedAt          *time.Time         `json:"arrived_at,omitempty"`
	Error              string             `json:"error,omitempty"`
}

// StationView is the per-station occupancy
type StationView struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Lat           float64                `json:"lat"`
	Lon           float64                `json:"lon"`
	PlatformCount int                    `json:"platform_count"`
	Occupied      int                    `json:"occupied"`
	Slots         []models.OccupancySlot `json:"slots"`
	Waiting       []string               `json:"waiting"`
	Passengers    int                    `json:"waiting_passengers"`
	Arrived       int                    `json:"arrived_passengers"`
}

// PassengerView is the passenger demand at one station at the current time
type PassengerView struct {
	StationID string         `json:"station_id"`
	AsOf      time.Time      `json:"as_of"`
	Waiting   map[string]int `json:"waiting"` // destination station ID -> passengers
	Total     int            `json:"total"`
	Arrived   int            `json:"arrived"`
	Generated int64          `json:"generated"`
}

// ScheduleStop is one row of a route timetable
type ScheduleStop struct {
	WaypointIndex   int     `json:"waypoint_index"`
	StationID       string  `json:"station_id,omitempty"`
	StationName     string  `json:"station_name,omitempty"`
	TrackID         string  `json:"track_id,omitempty"`
	CumulativeKm    float64 `json:"cumulative_km"`
	ArrivalOffset   int64   `json:"arrival_offset_seconds"`
	DepartureOffset int64   `json:"departure_offset_seconds"`
	MinDwell        int64   `json:"min_dwell_seconds"`
}

// ScheduleTrain is one train against a route timetable
type ScheduleTrain struct {
	TrainID            string             `json:"train_id"`
	Status             models.TrainStatus `json:"status"`
	ScheduledDeparture time.Time          `json:"scheduled_departure"`
	DelaySeconds       int64              `json:"delay_seconds"`
	ExpectedArrivals   []time.Time        `json:"expected_arrivals"`
}

// RouteScheduleView is the timetable of a route with every train running it
type RouteScheduleView struct {
	RouteID         string          `json:"route_id"`
	Name            string          `json:"name"`
	TotalDistanceKm float64         `json:"total_distance_km"`
	PlannedDuration int64           `json:"planned_duration_seconds"`
	Stops           []ScheduleStop  `json:"stops"`
	Trains          []ScheduleTrain `json:"trains"`
}

// Status returns the clock summary
func (e *Engine) Status() StatusView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[models.TrainStatus]int)
	for _, t := range e.trains {
		counts[t.Runtime.Status]++
	}

	view := StatusView{
		SimulationID:        e.state.SimulationID,
		CurrentTime:         e.state.CurrentTime,
		TimeScale:           e.state.TimeScale,
		Running:             e.state.Running,
		StartedAt:           e.state.StartedAt,
		LastUpdated:         e.state.LastUpdated,
		LastPassID:          e.state.LastPassID,
		Passes:              e.state.Passes,
		DelayPolicy:         e.policy.Name(),
		Trains:              counts,
		StalledTrains:       e.health.stalledTrains,
		LastError:           e.health.lastError,
		ConsecutiveFailures: e.health.consecutiveFailures,
	}
	if !e.health.lastErrorAt.IsZero() {
		view.LastErrorAt = timePtr(e.health.lastErrorAt)
	}
	return view
}

// TrainsStatus returns every train ordered by ID, optionally only those in status
func (e *Engine) TrainsStatus(status models.TrainStatus) []TrainView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	views := make([]TrainView, 0, len(e.trains))
	for _, t := range sortedTrains(e.trains) {
		if status != "" && t.Runtime.Status != status {
			continue
		}
		views = append(views, e.trainView(t))
	}
	return views
}

// TrainStatus returns one train
func (e *Engine) TrainStatus(id string) (TrainView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.trains[id]
	if !ok {
		return TrainView{}, fmt.Errorf("train %s: %w", id, ErrNotFound)
	}
	return e.trainView(t), nil
}

// StationsStatus returns occupancy of every station ordered by ID
func (e *Engine) StationsStatus() []StationView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	waiting := e.waitingByStation()
	stations := e.network.Stations()
	views := make([]StationView, 0, len(stations))
	for _, s := range stations {
		slots := e.occ.Holders(s.ID)
		if slots == nil {
			slots = []models.OccupancySlot{}
		}
		w := waiting[s.ID]
		if w == nil {
			w = []string{}
		}
		demand := e.pax.Peek(s.ID, e.network.Destinations(s.ID), e.state.CurrentTime)
		views = append(views, StationView{
			ID:            s.ID,
			Name:          s.Name,
			Lat:           s.Lat,
			Lon:           s.Lon,
			PlatformCount: s.PlatformCount,
			Occupied:      len(slots),
			Slots:         slots,
			Waiting:       w,
			Passengers:    demand.WaitingTotal(),
			Arrived:       demand.Arrived,
		})
	}
	return views
}

// StationPassengers returns the passengers waiting at a station by destination
func (e *Engine) StationPassengers(id string) (PassengerView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.network.Station(id); !ok {
		return PassengerView{}, fmt.Errorf("station %s: %w", id, ErrNotFound)
	}
	demand := e.pax.Peek(id, e.network.Destinations(id), e.state.CurrentTime)
	waiting := demand.Waiting
	if waiting == nil {
		waiting = map[string]int{}
	}
	return PassengerView{
		StationID: id,
		AsOf:      e.state.CurrentTime,
		Waiting:   waiting,
		Total:     demand.WaitingTotal(),
		Arrived:   demand.Arrived,
		Generated: demand.Generated,
	}, nil
}

// RouteSchedule returns the planned timetable of a route and the expected times of its trains
func (e *Engine) RouteSchedule(routeID string) (RouteScheduleView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	route, ok := e.network.Route(routeID)
	if !ok {
		return RouteScheduleView{}, fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	tt, err := e.timetable(route)
	if err != nil {
		return RouteScheduleView{}, err
	}

	view := RouteScheduleView{
		RouteID:         route.ID,
		Name:            route.Name,
		TotalDistanceKm: tt.TotalDistanceKm(),
		PlannedDuration: int64(tt.TotalPlannedDuration().Seconds()),
		Trains:          []ScheduleTrain{},
	}
	for i, wp := range route.Waypoints {
		stop := ScheduleStop{
			WaypointIndex:   i,
			StationID:       wp.StationID,
			TrackID:         wp.TrackID,
			CumulativeKm:    tt.CumulativeKm(i),
			ArrivalOffset:   int64(wp.ArrivalOffset.Seconds()),
			DepartureOffset: int64(wp.DepartureOffset.Seconds()),
			MinDwell:        int64(wp.MinDwell.Seconds()),
		}
		if s, ok := e.network.Station(wp.StationID); ok {
			stop.StationName = s.Name
		}
		view.Stops = append(view.Stops, stop)
	}

	for _, t := range sortedTrains(e.trains) {
		if t.RouteID != routeID {
			continue
		}
		st := ScheduleTrain{
			TrainID:            t.ID,
			Status:             t.Runtime.Status,
			ScheduledDeparture: t.ScheduledDeparture,
			DelaySeconds:       int64(t.Runtime.Delay.Seconds()),
		}
		for i := range route.Waypoints {
			st.ExpectedArrivals = append(st.ExpectedArrivals, tt.ExpectedArrival(t.ScheduledDeparture, i, t.Runtime.Delay))
		}
		view.Trains = append(view.Trains, st)
	}
	return view, nil
}

func (e *Engine) timetable(route models.Route) (*schedule.Timetable, error) {
	lengths, err := e.network.SegmentLengths(route)
	if err != nil {
		return nil, err
	}
	return schedule.New(route, lengths)
}

func (e *Engine) trainView(t *models.Train) TrainView {
	rt := t.Runtime
	view := TrainView{
		ID:                 t.ID,
		Name:               t.Name,
		RouteID:            t.RouteID,
		Status:             rt.Status,
		Phase:              rt.Phase,
		WaypointIndex:      rt.WaypointIndex,
		DelaySeconds:       int64(rt.Delay.Seconds()),
		DelayMinutes:       rt.Delay.Minutes(),
		StationDelaySecs:   int64(rt.StationDelay.Seconds()),
		LastObservedSecs:   int64(rt.LastObservedDelay.Seconds()),
		ScheduledDeparture: t.ScheduledDeparture,
		Vehicles:           append([]string{}, t.Vehicles...),
		SeatCapacity:       e.network.SeatCapacity(t.Vehicles),
		Passengers:         rt.Load(),
		Boarded:            rt.Boarded,
		Alighted:           rt.Alighted,
		DepartedAt:         rt.DepartedAt,
		ArrivedAt:          rt.ArrivedAt,
		Error:              rt.Error,
	}
	if view.SeatCapacity > 0 {
		view.LoadFactor = float64(view.Passengers) / float64(view.SeatCapacity)
	}
	if rt.Phase == models.PhaseHeld {
		view.HeldSince = timePtr(rt.HeldSince)
	}
	if rt.Slot != nil {
		platform := rt.Slot.Platform
		view.Platform = &platform
		view.CurrentStationID = rt.Slot.StationID
	}
	if rt.Phase == models.PhaseTransit {
		view.SpeedKmh = rt.SpeedKmh
	}

	route := rt.Route
	if route == nil {
		r, ok := e.network.Route(t.RouteID)
		if !ok {
			return view
		}
		route = &r
	}
	view.RouteName = route.Name
	tt, err := e.timetable(*route)
	if err != nil {
		return view
	}

	view.RouteLengthKm = tt.TotalDistanceKm()
	view.PlannedDuration = int64(tt.TotalPlannedDuration().Seconds())
	view.ProgressKm = progressKm(t, tt, e.state.CurrentTime)
	if view.RouteLengthKm > 0 {
		view.ProgressFraction = view.ProgressKm / view.RouteLengthKm
	}

	next := nextWaypoint(t)
	if rt.ActivatedAt != nil {
		last := lastStation(tt, rt.WaypointIndex)
		if last >= 0 {
			view.LastStationID = tt.Waypoint(last).StationID
		}
		if n := nextStationIndex(tt, next); n >= 0 && last >= 0 && rt.Status != models.StatusTerminated {
			span := tt.CumulativeKm(n) - tt.CumulativeKm(last)
			if span > 0 {
				view.StationFraction = clamp01((view.ProgressKm - tt.CumulativeKm(last)) / span)
			}
		}
	}
	if next < tt.Len() && rt.Status != models.StatusTerminated {
		view.NextStationID = nextStation(tt, next)
		for i := next; i < tt.Len(); i++ {
			if !tt.Waypoint(i).IsStation() {
				continue
			}
			view.Upcoming = append(view.Upcoming, UpcomingStop{
				WaypointIndex:     i,
				StationID:         tt.Waypoint(i).StationID,
				PlannedArrival:    tt.PlannedArrival(t.ScheduledDeparture, i),
				ExpectedArrival:   tt.ExpectedArrival(t.ScheduledDeparture, i, rt.Delay),
				ExpectedDeparture: tt.ExpectedDeparture(t.ScheduledDeparture, i, rt.Delay),
			})
		}
	}
	return view
}

// progressKm is the distance from the route start at time now
func progressKm(t *models.Train, tt *schedule.Timetable, now time.Time) float64 {
	rt := &t.Runtime
	if rt.ActivatedAt == nil || rt.WaypointIndex >= tt.Len() {
		return 0
	}
	base := tt.CumulativeKm(rt.WaypointIndex)
	switch rt.Phase {
	case models.PhaseTransit:
		return base + coveredKm(rt, tt.SegmentKm(rt.WaypointIndex+1), now)
	case models.PhaseHeld:
		return base + rt.SegmentStartKm
	default:
		return base
	}
}

// nextWaypoint is the first waypoint the train has not yet reached
func nextWaypoint(t *models.Train) int {
	rt := &t.Runtime
	if rt.ActivatedAt == nil {
		return 0
	}
	if rt.Phase == models.PhaseDwelling {
		return rt.WaypointIndex
	}
	return rt.WaypointIndex + 1
}

func nextStation(tt *schedule.Timetable, from int) string {
	if i := nextStationIndex(tt, from); i >= 0 {
		return tt.Waypoint(i).StationID
	}
	return ""
}

func nextStationIndex(tt *schedule.Timetable, from int) int {
	for i := from; i < tt.Len(); i++ {
		if tt.Waypoint(i).IsStation() {
			return i
		}
	}
	return -1
}

// lastStation is the last station waypoint at or before reached
func lastStation(tt *schedule.Timetable, reached int) int {
	if reached >= tt.Len() {
		reached = tt.Len() - 1
	}
	for i := reached; i >= 0; i-- {
		if tt.Waypoint(i).IsStation() {
			return i
		}
	}
	return -1
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// waitingByStation lists held trains per station in admission order
func (e *Engine) waitingByStation() map[string][]string {
	var held []*models.Train
	for _, t := range e.trains {
		if t.Runtime.Phase == models.PhaseHeld && t.Runtime.Status != models.StatusTerminated {
			held = append(held, t)
		}
	}
	sort.Slice(held, func(i, j int) bool {
		a, b := held[i].Runtime.HeldSince, held[j].Runtime.HeldSince
		if !a.Equal(b) {
			return a.Before(b)
		}
		return held[i].ID < held[j].ID
	})

	result := make(map[string][]string)
	for _, t := range held {
		route := t.Runtime.Route
		if route == nil {
			r, ok := e.network.Route(t.RouteID)
			if !ok {
				continue
			}
			route = &r
		}
		idx := 0
		if t.Runtime.ActivatedAt != nil {
			idx = t.Runtime.WaypointIndex + 1
		}
		if idx < len(route.Waypoints) {
			station := route.Waypoints[idx].StationID
			result[station] = append(result[station], t.ID)
		}
	}
	return result
}
