package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/railsim/railsim_core/internal/consist"
	"github.com/railsim/railsim_core/internal/graph"
	"github.com/railsim/railsim_core/internal/metrics"
	"github.com/railsim/railsim_core/internal/models"
	"github.com/railsim/railsim_core/internal/occupancy"
	"github.com/railsim/railsim_core/internal/passengers"
)

// passHealth tracks abandoned passes so a stalled clock is visible in status
type passHealth struct {
	lastError           string
	lastErrorAt         time.Time
	consecutiveFailures int
	stalledTrains       int
}

// Engine owns the simulated clock, the trains and the station occupancy table.
// All mutation goes through Advance, Step, AssignVehicle, RemoveVehicle and SetRunning,
// which hold the write lock for their whole duration.
type Engine struct {
	cfg     *Config
	store   Store
	locker  PassLocker
	policy  DelayPolicy
	network *graph.Network
	stats   *metrics.DelayStats

	passSem chan struct{}
	dirty   atomic.Bool

	mu       sync.RWMutex
	opened   bool
	state    models.SimulationState
	trains   map[string]*models.Train
	occ      *occupancy.Manager
	pax      *passengers.Ledger
	composer *consist.Composer
	health   passHealth
}

// Option configures an Engine
type Option func(*Engine)

// WithPassLocker makes every pass hold a lock shared with other processes
func WithPassLocker(l PassLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithDelayPolicy overrides the policy named in the config
func WithDelayPolicy(p DelayPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// NewEngine creates an engine over store. Call Open before use.
func NewEngine(store Store, cfg *Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	network := graph.NewNetwork()
	e := &Engine{
		cfg:      cfg,
		store:    store,
		policy:   GetPolicy(cfg.DelayPolicy, cfg.DelayThreshold),
		network:  network,
		stats:    metrics.NewDelayStats(cfg.DelayThreshold),
		passSem:  make(chan struct{}, 1),
		trains:   make(map[string]*models.Train),
		occ:      occupancy.NewManager(),
		pax:      passengers.NewLedger(paxConfig(cfg)),
		composer: consist.NewComposer(network),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func paxConfig(cfg *Config) passengers.Config {
	return passengers.Config{
		PerHour:    cfg.PassengersPerHour,
		Initial:    cfg.InitialPassengers,
		MaxWaiting: cfg.MaxWaitingPassengers,
	}
}

// Open loads the simulation state, creating it on first start, and the trains.
// A restart resumes at the persisted current time.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.store.LoadState(ctx)
	if err != nil {
		return &PersistenceError{Op: "load state", Err: err}
	}
	if state == nil {
		now := time.Now().UTC()
		state = &models.SimulationState{
			SimulationID: uuid.New().String(),
			CurrentTime:  e.cfg.StartTime.UTC(),
			TimeScale:    e.cfg.TimeScale,
			StartedAt:    now,
			LastUpdated:  now,
		}
		if err := e.store.SaveState(ctx, *state); err != nil {
			return &PersistenceError{Op: "create state", Err: err}
		}
		log.Printf("Created simulation %s at %s (time scale %.0fx)",
			state.SimulationID, state.CurrentTime.Format(time.RFC3339), state.TimeScale)
	} else {
		log.Printf("Resuming simulation %s at %s", state.SimulationID, state.CurrentTime.Format(time.RFC3339))
	}

	if err := e.network.Load(ctx, e.store); err != nil {
		return &PersistenceError{Op: "load network", Err: err}
	}
	stored, err := e.store.ListTrains(ctx)
	if err != nil {
		return &PersistenceError{Op: "load trains", Err: err}
	}

	rows, err := e.store.ListPassengers(ctx)
	if err != nil {
		return &PersistenceError{Op: "load passengers", Err: err}
	}

	trains := make(map[string]*models.Train, len(stored))
	occ := occupancy.NewManager()
	occ.Configure(e.network.Stations())
	mergeTrains(trains, stored, occ)
	pax := passengers.NewLedger(paxConfig(e.cfg))
	pax.Restore(rows)

	e.stats.Reset()
	for _, t := range trains {
		if t.Runtime.Status == models.StatusTerminated && t.Runtime.Error == "" && t.Runtime.ArrivedAt != nil {
			e.stats.Record(t.RouteID, t.Runtime.Delay)
		}
	}

	e.state = *state
	e.trains = trains
	e.occ = occ
	e.pax = pax
	e.reindex()
	e.opened = true

	log.Printf("Loaded %d trains", len(trains))
	return nil
}

// Advance moves the clock forward by d and runs one progression pass.
// It waits for any pass in flight.
func (e *Engine) Advance(ctx context.Context, d time.Duration) error {
	select {
	case e.passSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.passSem }()

	return e.advance(ctx, d, true)
}

// Step is the manual advance. It queues behind a pass in flight for at most
// StepWait and then gives up with ErrBusy.
func (e *Engine) Step(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(e.cfg.StepWait)
	defer timer.Stop()

	select {
	case e.passSem <- struct{}{}:
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.passSem }()

	return e.advance(ctx, d, false)
}

// advance runs one pass. With waitLock set a pass lock held by another process is
// retried until ctx is done; otherwise it fails with ErrBusy at once.
func (e *Engine) advance(ctx context.Context, d time.Duration, waitLock bool) error {
	if d < 0 {
		return fmt.Errorf("cannot advance by negative duration %s", d)
	}

	if e.locker != nil {
		if err := e.acquirePassLock(ctx, waitLock); err != nil {
			return err
		}
		defer func() {
			if err := e.locker.Release(context.Background()); err != nil {
				log.Printf("Warning: failed to release pass lock: %v", err)
			}
		}()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		return ErrNotOpen
	}

	trains, occ, err := e.workingSet(ctx)
	if err != nil {
		return e.abandon(&PersistenceError{Op: "reload", Err: err})
	}
	pax := e.pax.Clone()

	from := e.state.CurrentTime
	to := from.Add(d)
	p := newPass(from, to, e.network, e.policy, occ, trains)
	p.pax = pax
	p.run()

	next := e.state
	next.CurrentTime = to
	next.LastUpdated = time.Now().UTC()
	next.LastPassID = uuid.New().String()
	next.Passes++

	if err := e.store.CommitPass(ctx, next, sortedTrains(trains), pax.Snapshot()); err != nil {
		return e.abandon(&PersistenceError{Op: "commit pass", Err: err})
	}

	e.state = next
	e.trains = trains
	e.occ = occ
	e.pax = pax
	e.reindex()
	if e.health.consecutiveFailures > 0 {
		log.Printf("Simulation resumed after %d failed passes", e.health.consecutiveFailures)
	}
	e.health.consecutiveFailures = 0
	e.health.stalledTrains = len(p.stalled)

	if p.boarded > 0 || p.alighted > 0 {
		log.Printf("Pass %s: %d passengers boarded, %d alighted", next.LastPassID, p.boarded, p.alighted)
	}
	for _, term := range p.terminations {
		e.stats.Record(term.RouteID, term.Delay)
		log.Printf("Train %s terminated on route %s (delay %s)", term.TrainID, term.RouteID, term.Delay)
	}
	return nil
}

const (
	lockRetryMin = 25 * time.Millisecond
	lockRetryMax = time.Second
)

func (e *Engine) acquirePassLock(ctx context.Context, wait bool) error {
	backoff := lockRetryMin
	warned := false
	for {
		ok, err := e.locker.Acquire(ctx)
		if err == nil && ok {
			return nil
		}
		if !wait {
			if err != nil {
				return fmt.Errorf("%w: pass lock unavailable: %v", ErrBusy, err)
			}
			return ErrBusy
		}
		if err != nil && !warned {
			log.Printf("Warning: pass lock unavailable, retrying: %v", err)
			warned = true
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff *= 2; backoff > lockRetryMax {
			backoff = lockRetryMax
		}
	}
}

// abandon records a failed pass; state is left untouched so the clock stalls
func (e *Engine) abandon(err error) error {
	e.health.lastError = err.Error()
	e.health.lastErrorAt = time.Now().UTC()
	e.health.consecutiveFailures++
	if !e.cfg.ReloadEveryPass {
		e.dirty.Store(true)
	}
	log.Printf("Warning: pass abandoned, simulated time held at %s: %v",
		e.state.CurrentTime.Format(time.RFC3339), err)
	return err
}

// workingSet clones the trains and occupancy table, reloading infrastructure and
// train records from the store when due
func (e *Engine) workingSet(ctx context.Context) (map[string]*models.Train, *occupancy.Manager, error) {
	trains := make(map[string]*models.Train, len(e.trains))
	for id, t := range e.trains {
		trains[id] = t.Clone()
	}
	occ := e.occ.Clone()

	if !e.cfg.ReloadEveryPass && !e.dirty.Swap(false) {
		return trains, occ, nil
	}

	if err := e.network.Load(ctx, e.store); err != nil {
		return nil, nil, err
	}
	stored, err := e.store.ListTrains(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load trains: %w", err)
	}
	occ.Configure(e.network.Stations())
	mergeTrains(trains, stored, occ)
	return trains, occ, nil
}

// mergeTrains folds stored train records into the working set. The engine owns the
// runtime and composition of trains it already knows; schedule fields of trains that
// have not started yet follow the store. Trains gone from the store are dropped.
func mergeTrains(trains map[string]*models.Train, stored []models.Train, occ *occupancy.Manager) {
	seen := make(map[string]bool, len(stored))
	for i := range stored {
		st := stored[i]
		seen[st.ID] = true

		cur, ok := trains[st.ID]
		if !ok {
			t := st.Clone()
			normalize(t)
			if t.Runtime.Slot != nil {
				occ.Restore(*t.Runtime.Slot)
			}
			trains[t.ID] = t
			continue
		}

		cur.Name = st.Name
		if cur.Runtime.Phase == models.PhaseWaiting {
			cur.RouteID = st.RouteID
			cur.ScheduledDeparture = st.ScheduledDeparture
			normalize(cur)
		}
	}

	for id, t := range trains {
		if seen[id] {
			continue
		}
		if t.Runtime.Slot != nil {
			occ.Release(t.Runtime.Slot.StationID, id)
		}
		delete(trains, id)
	}
}

func normalize(t *models.Train) {
	rt := &t.Runtime
	if rt.Phase == "" {
		rt.Phase = models.PhaseWaiting
	}
	if rt.Phase != models.PhaseWaiting {
		return
	}
	switch rt.Status {
	case "", models.StatusUnassigned, models.StatusScheduled:
		if t.RouteID == "" {
			rt.Status = models.StatusUnassigned
		} else {
			rt.Status = models.StatusScheduled
		}
	}
}

func (e *Engine) reindex() {
	if err := e.composer.Index(sortedTrains(e.trains)); err != nil {
		log.Printf("Warning: %v", err)
	}
}

func sortedTrains(trains map[string]*models.Train) []*models.Train {
	result := make([]*models.Train, 0, len(trains))
	for _, t := range trains {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// AssignVehicle adds a vehicle to a train. A negative position appends.
func (e *Engine) AssignVehicle(ctx context.Context, trainID, vehicleID string, position int) (*models.Train, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trains[trainID]
	if !ok {
		return nil, fmt.Errorf("train %s: %w", trainID, ErrNotFound)
	}
	next, err := e.composer.PlanAssign(t, vehicleID, position)
	if err != nil {
		return nil, err
	}
	return e.commitComposition(ctx, t, next)
}

// RemoveVehicle takes a vehicle out of a train
func (e *Engine) RemoveVehicle(ctx context.Context, trainID, vehicleID string) (*models.Train, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trains[trainID]
	if !ok {
		return nil, fmt.Errorf("train %s: %w", trainID, ErrNotFound)
	}
	next, err := e.composer.PlanRemove(t, vehicleID)
	if err != nil {
		return nil, err
	}
	return e.commitComposition(ctx, t, next)
}

func (e *Engine) commitComposition(ctx context.Context, t *models.Train, next []string) (*models.Train, error) {
	if err := e.store.SaveComposition(ctx, t.ID, next); err != nil {
		return nil, &PersistenceError{Op: "save composition", Err: err}
	}
	e.composer.Commit(t, next)
	return t.Clone(), nil
}

// SetRunning records whether the background driver is active
func (e *Engine) SetRunning(ctx context.Context, running bool) error {
	select {
	case e.passSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.passSem }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		return ErrNotOpen
	}
	next := e.state
	next.Running = running
	next.LastUpdated = time.Now().UTC()
	if err := e.store.SaveState(ctx, next); err != nil {
		return &PersistenceError{Op: "save state", Err: err}
	}
	e.state = next
	return nil
}

// InvalidateInfrastructure forces a reload before the next pass
func (e *Engine) InvalidateInfrastructure() {
	e.dirty.Store(true)
}

// TimeScale returns simulated seconds per real second
func (e *Engine) TimeScale() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.TimeScale
}

// CurrentTime returns the simulated clock
func (e *Engine) CurrentTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.CurrentTime
}

// Ping checks the store
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// DelayStats returns per-route statistics of completed journeys
func (e *Engine) DelayStats() []metrics.RouteDelay {
	return e.stats.Snapshot()
}

// IsBusy reports whether err is retryable contention
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
