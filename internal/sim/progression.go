package sim

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/railsim/railsim_core/internal/graph"
	"github.com/railsim/railsim_core/internal/models"
	"github.com/railsim/railsim_core/internal/occupancy"
	"github.com/railsim/railsim_core/internal/passengers"
	"github.com/railsim/railsim_core/internal/schedule"
)

// termination is a completed journey, fed into the delay statistics after commit
type termination struct {
	TrainID string
	RouteID string
	Delay   time.Duration
}

// pass advances a working copy of the trains and the occupancy table over [from, to].
// Events are processed in time order with train ID as the tie-break, so the result
// only depends on the starting state and the interval.
type pass struct {
	from, to time.Time
	net      *graph.Network
	policy   DelayPolicy
	occ      *occupancy.Manager
	pax      *passengers.Ledger // nil skips passenger exchange
	trains   map[string]*models.Train
	tables   map[string]*schedule.Timetable
	waiting  map[string][]string // station ID -> held train IDs, first come first served
	queue    eventQueue
	seq      int

	events       int
	terminations []termination
	failures     []*ConfigurationError
	stalled      []string
	boarded      int
	alighted     int
}

func newPass(from, to time.Time, net *graph.Network, policy DelayPolicy, occ *occupancy.Manager, trains map[string]*models.Train) *pass {
	return &pass{
		from:    from,
		to:      to,
		net:     net,
		policy:  policy,
		occ:     occ,
		trains:  trains,
		tables:  make(map[string]*schedule.Timetable),
		waiting: make(map[string][]string),
	}
}

func (p *pass) run() {
	ids := make([]string, 0, len(p.trains))
	for id := range p.trains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var held []*models.Train
	for _, id := range ids {
		t := p.trains[id]
		if t.Runtime.Phase == models.PhaseHeld && t.Runtime.Status != models.StatusTerminated {
			held = append(held, t)
			continue
		}
		p.schedule(t)
	}

	sort.SliceStable(held, func(i, j int) bool {
		a, b := held[i].Runtime.HeldSince, held[j].Runtime.HeldSince
		if !a.Equal(b) {
			return a.Before(b)
		}
		return held[i].ID < held[j].ID
	})
	for _, t := range held {
		if _, err := p.timetable(t); err != nil {
			p.fail(t, p.from, err)
			continue
		}
		station := p.heldStation(t)
		p.waiting[station] = append(p.waiting[station], t.ID)
	}

	stations := make([]string, 0, len(p.waiting))
	for id := range p.waiting {
		stations = append(stations, id)
	}
	sort.Strings(stations)
	for _, id := range stations {
		p.admit(id, p.from)
	}

	for p.queue.Len() > 0 && !p.queue[0].at.After(p.to) {
		ev := heap.Pop(&p.queue).(*event)
		p.events++
		p.handle(ev)
	}
}

// schedule queues the next event implied by a train's persisted runtime
func (p *pass) schedule(t *models.Train) {
	rt := &t.Runtime

	switch {
	case rt.Status == models.StatusTerminated:
		if rt.Slot != nil {
			p.push(t.ID, eventRelease, rt.WaypointIndex, rt.ReadyAt)
		}

	case t.RouteID == "" && rt.Route == nil:
		return

	case rt.Phase == models.PhaseWaiting:
		p.push(t.ID, eventArrive, 0, t.ScheduledDeparture)

	case rt.Phase == models.PhaseDwelling:
		if _, err := p.timetable(t); err != nil {
			p.fail(t, p.from, err)
			return
		}
		p.push(t.ID, eventDepart, rt.WaypointIndex, rt.ReadyAt)

	case rt.Phase == models.PhaseTransit:
		tt, err := p.timetable(t)
		if err != nil {
			p.fail(t, p.from, err)
			return
		}
		next := rt.WaypointIndex + 1
		speed, err := p.speed(t, tt, next)
		if err != nil {
			p.fail(t, p.from, err)
			return
		}
		if speed != rt.SpeedKmh {
			// infrastructure changed under the train: rebase the segment at the pass start
			rt.SegmentStartKm = coveredKm(rt, tt.SegmentKm(next), p.from)
			rt.SegmentStartedAt = p.from
			rt.SpeedKmh = speed
		}
		if speed <= 0 {
			p.stalled = append(p.stalled, t.ID)
			return
		}
		remaining := tt.SegmentKm(next) - rt.SegmentStartKm
		p.push(t.ID, eventArrive, next, rt.SegmentStartedAt.Add(hours(remaining/speed)))
	}
}

func (p *pass) push(trainID string, kind eventKind, waypoint int, at time.Time) {
	if at.Before(p.from) {
		at = p.from
	}
	p.seq++
	heap.Push(&p.queue, &event{at: at, trainID: trainID, kind: kind, waypoint: waypoint, seq: p.seq})
}

func (p *pass) handle(ev *event) {
	t, ok := p.trains[ev.trainID]
	if !ok {
		return
	}
	rt := &t.Runtime

	switch ev.kind {
	case eventArrive:
		if rt.Status == models.StatusTerminated {
			return
		}
		if rt.Phase != models.PhaseWaiting && rt.Phase != models.PhaseTransit {
			return
		}
		p.arrive(t, ev.waypoint, ev.at)

	case eventDepart:
		if rt.Status == models.StatusTerminated || rt.Phase != models.PhaseDwelling || rt.WaypointIndex != ev.waypoint {
			return
		}
		p.depart(t, ev.at)

	case eventRelease:
		if rt.Slot == nil {
			return
		}
		station := rt.Slot.StationID
		p.occ.Release(station, t.ID)
		rt.Slot = nil
		p.admit(station, ev.at)
	}
}

// arrive processes a train reaching waypoint idx at time at
func (p *pass) arrive(t *models.Train, idx int, at time.Time) {
	rt := &t.Runtime
	tt, err := p.timetable(t)
	if err != nil {
		p.fail(t, at, err)
		return
	}
	wp := tt.Waypoint(idx)

	if wp.IsStation() {
		if _, ok := p.net.Station(wp.StationID); !ok {
			p.fail(t, at, fmt.Errorf("station %q not found", wp.StationID))
			return
		}
		slot, err := p.occ.Acquire(wp.StationID, t.ID, len(t.Vehicles), at)
		if errors.Is(err, occupancy.ErrBusy) {
			p.hold(t, tt, idx, at)
			return
		}
		if err != nil {
			p.fail(t, at, err)
			return
		}
		rt.Slot = &slot
	}

	if rt.Phase == models.PhaseHeld {
		rt.StationDelay += at.Sub(rt.HeldSince)
		rt.HeldSince = time.Time{}
	}
	if idx == 0 {
		route := tt.Route()
		rt.Route = &route
		rt.ActivatedAt = timePtr(at)
	}

	observed := at.Sub(tt.PlannedArrival(t.ScheduledDeparture, idx))
	rt.LastObservedDelay = observed
	rt.Delay = p.policy.Apply(rt.Delay, observed)
	p.updateStatus(t)

	rt.WaypointIndex = idx
	rt.SegmentStartKm = 0
	rt.SegmentStartedAt = at
	rt.SpeedKmh = 0

	if wp.IsStation() {
		p.exchange(t, tt, idx, at)
	}

	if tt.IsFinal(idx) {
		rt.Status = models.StatusTerminated
		rt.Phase = models.PhaseDone
		rt.ArrivedAt = timePtr(at)
		p.terminations = append(p.terminations, termination{TrainID: t.ID, RouteID: tt.Route().ID, Delay: rt.Delay})
		if rt.Slot != nil {
			rt.ReadyAt = at.Add(wp.MinDwell)
			p.push(t.ID, eventRelease, idx, rt.ReadyAt)
		}
		return
	}

	rt.Phase = models.PhaseDwelling
	ready := at
	if wp.IsStation() {
		ready = latest(at.Add(wp.MinDwell), tt.ExpectedDeparture(t.ScheduledDeparture, idx, rt.Delay))
	}
	rt.ReadyAt = ready
	p.push(t.ID, eventDepart, idx, ready)
}

// depart starts the train on the segment after its current waypoint
func (p *pass) depart(t *models.Train, at time.Time) {
	rt := &t.Runtime
	tt, err := p.timetable(t)
	if err != nil {
		p.fail(t, at, err)
		return
	}
	next := rt.WaypointIndex + 1

	speed, err := p.speed(t, tt, next)
	if err != nil {
		p.fail(t, at, err)
		return
	}
	if speed <= 0 {
		// no usable traction: stay put and retry on the next pass
		p.stalled = append(p.stalled, t.ID)
		return
	}

	if rt.WaypointIndex == 0 && rt.DepartedAt == nil {
		rt.DepartedAt = timePtr(at)
		if rt.Status == models.StatusScheduled {
			rt.Status = models.StatusRunning
		}
	}

	released := ""
	if rt.Slot != nil {
		released = rt.Slot.StationID
		p.occ.Release(released, t.ID)
		rt.Slot = nil
	}

	rt.Phase = models.PhaseTransit
	rt.SegmentStartKm = 0
	rt.SegmentStartedAt = at
	rt.SpeedKmh = speed
	p.push(t.ID, eventArrive, next, at.Add(hours(tt.SegmentKm(next)/speed)))

	if released != "" {
		p.admit(released, at)
	}
}

// exchange lets passengers off and on at an admitted station call
func (p *pass) exchange(t *models.Train, tt *schedule.Timetable, idx int, at time.Time) {
	if p.pax == nil {
		return
	}
	station := tt.Waypoint(idx).StationID
	var downstream []string
	seen := map[string]bool{station: true}
	for i := idx + 1; i < tt.Len(); i++ {
		id := tt.Waypoint(i).StationID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		downstream = append(downstream, id)
	}

	off, on := p.pax.Exchange(station, p.net.Destinations(station), &t.Runtime,
		p.net.SeatCapacity(t.Vehicles), downstream, at)
	p.alighted += off
	p.boarded += on
}

// hold freezes a train at the boundary of a full station
func (p *pass) hold(t *models.Train, tt *schedule.Timetable, idx int, at time.Time) {
	rt := &t.Runtime
	if rt.Phase != models.PhaseHeld {
		rt.HeldSince = at
	}
	rt.Phase = models.PhaseHeld
	if idx > 0 {
		rt.WaypointIndex = idx - 1
		rt.SegmentStartKm = tt.SegmentKm(idx)
		rt.SegmentStartedAt = at
		rt.SpeedKmh = 0
	}

	station := tt.Waypoint(idx).StationID
	for _, id := range p.waiting[station] {
		if id == t.ID {
			return
		}
	}
	p.waiting[station] = append(p.waiting[station], t.ID)
}

// admit lets held trains into a station while it has room, in arrival order
func (p *pass) admit(stationID string, at time.Time) {
	for len(p.waiting[stationID]) > 0 {
		queue := p.waiting[stationID]
		t, ok := p.trains[queue[0]]
		if !ok || t.Runtime.Phase != models.PhaseHeld || t.Runtime.Status == models.StatusTerminated {
			p.waiting[stationID] = queue[1:]
			continue
		}
		if !p.occ.CanAdmit(stationID, len(t.Vehicles)) && p.occ.Fits(stationID, len(t.Vehicles)) {
			return
		}
		p.waiting[stationID] = queue[1:]
		p.arrive(t, p.heldTarget(t), at)
	}
}

func (p *pass) heldTarget(t *models.Train) int {
	if t.Runtime.ActivatedAt == nil {
		return 0
	}
	return t.Runtime.WaypointIndex + 1
}

func (p *pass) heldStation(t *models.Train) string {
	tt := p.tables[t.ID]
	return tt.Waypoint(p.heldTarget(t)).StationID
}

func (p *pass) updateStatus(t *models.Train) {
	rt := &t.Runtime
	if p.policy.Delayed(rt.Status, rt.Delay) {
		rt.Status = models.StatusDelayed
		return
	}
	if rt.Status == models.StatusDelayed {
		rt.Status = models.StatusRunning
	}
}

// fail terminates one train because of a configuration problem
func (p *pass) fail(t *models.Train, at time.Time, err error) {
	cfgErr := &ConfigurationError{TrainID: t.ID, Err: err}
	log.Printf("Warning: train %s terminated: %v", t.ID, err)

	rt := &t.Runtime
	rt.Status = models.StatusTerminated
	rt.Phase = models.PhaseDone
	rt.Error = cfgErr.Error()
	p.failures = append(p.failures, cfgErr)

	if rt.Slot != nil {
		station := rt.Slot.StationID
		p.occ.Release(station, t.ID)
		rt.Slot = nil
		p.admit(station, at)
	}
}

// timetable returns the validated route a train runs against. The route is read from
// the network until the train activates; after that the snapshot in its runtime is used.
func (p *pass) timetable(t *models.Train) (*schedule.Timetable, error) {
	if tt, ok := p.tables[t.ID]; ok {
		return tt, nil
	}

	var route models.Route
	if t.Runtime.Route != nil {
		route = *t.Runtime.Route
	} else {
		r, ok := p.net.Route(t.RouteID)
		if !ok {
			return nil, fmt.Errorf("route %q not found", t.RouteID)
		}
		route = r
		route.Waypoints = append([]models.Waypoint(nil), r.Waypoints...)
	}

	lengths, err := p.net.SegmentLengths(route)
	if err != nil {
		return nil, err
	}
	tt, err := schedule.New(route, lengths)
	if err != nil {
		return nil, err
	}
	p.tables[t.ID] = tt
	return tt, nil
}

func (p *pass) speed(t *models.Train, tt *schedule.Timetable, next int) (float64, error) {
	if next >= tt.Len() {
		return 0, fmt.Errorf("no waypoint after %d", next-1)
	}
	trackID := tt.Waypoint(next).TrackID
	if trackID == "" {
		return 0, fmt.Errorf("waypoint %d has no track", next)
	}
	return p.net.SegmentSpeed(t.Vehicles, trackID)
}

// coveredKm is the distance run on the current segment by time at
func coveredKm(rt *models.TrainRuntime, segmentKm float64, at time.Time) float64 {
	elapsed := at.Sub(rt.SegmentStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	km := rt.SegmentStartKm + rt.SpeedKmh*elapsed.Hours()
	if km > segmentKm {
		return segmentKm
	}
	return km
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func timePtr(t time.Time) *time.Time {
	return &t
}
