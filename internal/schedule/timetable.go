package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/railsim/railsim_core/internal/models"
)

// InvalidRouteError reports a route that cannot be run
type InvalidRouteError struct {
	RouteID string
	Index   int
	Reason  string
}

func (e *InvalidRouteError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid route %s: %s", e.RouteID, e.Reason)
	}
	return fmt.Sprintf("invalid route %s at waypoint %d: %s", e.RouteID, e.Index, e.Reason)
}

// Timetable is a validated route with the distance of every waypoint from the route start
type Timetable struct {
	route models.Route
	cumKm []float64
}

// New validates a route against its segment lengths (as returned by graph.Network.SegmentLengths).
func New(route models.Route, segmentKm []float64) (*Timetable, error) {
	if len(route.Waypoints) == 0 {
		return nil, &InvalidRouteError{RouteID: route.ID, Index: -1, Reason: "no waypoints"}
	}
	if len(segmentKm) != len(route.Waypoints) {
		return nil, &InvalidRouteError{RouteID: route.ID, Index: -1, Reason: "segment lengths do not match waypoints"}
	}

	cum := make([]float64, len(route.Waypoints))
	for i, wp := range route.Waypoints {
		if wp.DepartureOffset < wp.ArrivalOffset {
			return nil, &InvalidRouteError{RouteID: route.ID, Index: i, Reason: "departure before arrival"}
		}
		if wp.MinDwell < 0 {
			return nil, &InvalidRouteError{RouteID: route.ID, Index: i, Reason: "negative dwell"}
		}
		if i == 0 {
			continue
		}
		if wp.ArrivalOffset <= route.Waypoints[i-1].ArrivalOffset {
			return nil, &InvalidRouteError{RouteID: route.ID, Index: i, Reason: "non-increasing arrival offset"}
		}
		if segmentKm[i] <= 0 {
			return nil, &InvalidRouteError{RouteID: route.ID, Index: i, Reason: "segment length must be positive"}
		}
		cum[i] = cum[i-1] + segmentKm[i]
	}

	return &Timetable{route: route, cumKm: cum}, nil
}

// Route returns the underlying route
func (t *Timetable) Route() models.Route {
	return t.route
}

// Len returns the number of waypoints
func (t *Timetable) Len() int {
	return len(t.route.Waypoints)
}

// Waypoint returns waypoint i
func (t *Timetable) Waypoint(i int) models.Waypoint {
	return t.route.Waypoints[i]
}

// IsFinal reports whether i is the last waypoint
func (t *Timetable) IsFinal(i int) bool {
	return i == len(t.route.Waypoints)-1
}

// SegmentKm returns the distance from waypoint i-1 to waypoint i
func (t *Timetable) SegmentKm(i int) float64 {
	if i <= 0 || i >= len(t.cumKm) {
		return 0
	}
	return t.cumKm[i] - t.cumKm[i-1]
}

// CumulativeKm returns the distance of waypoint i from the route start
func (t *Timetable) CumulativeKm(i int) float64 {
	return t.cumKm[i]
}

// TotalDistanceKm returns the route length
func (t *Timetable) TotalDistanceKm() float64 {
	return t.cumKm[len(t.cumKm)-1]
}

// TotalPlannedDuration is the planned time from leaving the origin to reaching the final waypoint
func (t *Timetable) TotalPlannedDuration() time.Duration {
	first := t.route.Waypoints[0]
	last := t.route.Waypoints[len(t.route.Waypoints)-1]
	return last.ArrivalOffset - first.ArrivalOffset
}

// Position describes where a route-progress value falls on the route
type Position struct {
	Previous         int           `json:"previous"`
	Next             int           `json:"next"`
	PlannedDwell     time.Duration `json:"planned_dwell"`
	DistanceToNextKm float64       `json:"distance_to_next_km"`
}

// Locate returns the bounding waypoints for a progress value in km from the route start.
// Progress beyond the route is reported at the final waypoint.
func (t *Timetable) Locate(progressKm float64) Position {
	last := len(t.cumKm) - 1
	if progressKm < 0 {
		progressKm = 0
	}

	// first waypoint strictly ahead of progress
	next := sort.Search(len(t.cumKm), func(i int) bool { return t.cumKm[i] > progressKm })
	if next > last {
		return Position{Previous: last, Next: last, PlannedDwell: t.plannedDwell(last)}
	}
	prev := next - 1
	if prev < 0 {
		prev = 0
	}
	return Position{
		Previous:         prev,
		Next:             next,
		PlannedDwell:     t.plannedDwell(prev),
		DistanceToNextKm: t.cumKm[next] - progressKm,
	}
}

func (t *Timetable) plannedDwell(i int) time.Duration {
	wp := t.route.Waypoints[i]
	dwell := wp.DepartureOffset - wp.ArrivalOffset
	if wp.MinDwell > dwell {
		return wp.MinDwell
	}
	return dwell
}

// PlannedArrival returns the planned arrival at waypoint i for a train starting at start
func (t *Timetable) PlannedArrival(start time.Time, i int) time.Time {
	return start.Add(t.route.Waypoints[i].ArrivalOffset)
}

// PlannedDeparture returns the planned departure from waypoint i for a train starting at start
func (t *Timetable) PlannedDeparture(start time.Time, i int) time.Time {
	return start.Add(t.route.Waypoints[i].DepartureOffset)
}

// ExpectedArrival is the planned arrival shifted by the carried delay
func (t *Timetable) ExpectedArrival(start time.Time, i int, delay time.Duration) time.Time {
	return t.PlannedArrival(start, i).Add(delay)
}

// ExpectedDeparture is the planned departure shifted by the carried delay
func (t *Timetable) ExpectedDeparture(start time.Time, i int, delay time.Duration) time.Time {
	return t.PlannedDeparture(start, i).Add(delay)
}
