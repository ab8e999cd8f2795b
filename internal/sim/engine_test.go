package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/railsim/railsim_core/internal/db"
	"github.com/railsim/railsim_core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// seedLine builds stations A and B joined by a 10 km track and a route A -> B
// planned at 10 minutes with a 5 minute terminal dwell. Traction runs at 60 km/h,
// so a train leaving on time arrives exactly on time.
func seedLine(t *testing.T, s *db.MemoryStore, platformsAtB int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.UpsertStation(ctx, models.Station{ID: "A", Name: "Alpha", PlatformCount: 4}))
	require.NoError(t, s.UpsertStation(ctx, models.Station{ID: "B", Name: "Beta", PlatformCount: platformsAtB}))
	require.NoError(t, s.UpsertTrack(ctx, models.Track{
		ID: "T1", FromStationID: "A", ToStationID: "B", LengthKm: 10, MaxSpeedKmh: 120, Condition: models.ConditionGood,
	}))
	for _, id := range []string{"L1", "L2", "L3"} {
		require.NoError(t, s.UpsertVehicle(ctx, models.Vehicle{
			ID: id, Kind: models.KindTraction, MaxSpeedKmh: 60, BrakeType: models.BrakeAir,
		}))
	}
	require.NoError(t, s.UpsertVehicle(ctx, models.Vehicle{
		ID: "C1", Kind: models.KindCarriage, MaxSpeedKmh: 160, Capacity: 80, BrakeType: models.BrakeAir,
	}))
	require.NoError(t, s.UpsertRoute(ctx, models.Route{
		ID: "R1", Name: "Alpha - Beta",
		Waypoints: []models.Waypoint{
			{StationID: "A"},
			{StationID: "B", TrackID: "T1", ArrivalOffset: 10 * time.Minute, DepartureOffset: 10 * time.Minute, MinDwell: 5 * time.Minute},
		},
	}))
}

func addTrain(t *testing.T, s *db.MemoryStore, id, routeID string, departure time.Time, vehicles ...string) {
	t.Helper()
	require.NoError(t, s.UpsertTrain(context.Background(), models.Train{
		ID: id, Name: id, RouteID: routeID, ScheduledDeparture: departure, Vehicles: vehicles,
	}))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.StartTime = epoch
	cfg.StepWait = 20 * time.Millisecond
	return cfg
}

func openEngine(t *testing.T, store Store, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(store, testConfig(), opts...)
	require.NoError(t, e.Open(context.Background()))
	return e
}

func trainView(t *testing.T, e *Engine, id string) TrainView {
	t.Helper()
	v, err := e.TrainStatus(id)
	require.NoError(t, err)
	return v
}

// flakyStore fails commits on demand
type flakyStore struct {
	*db.MemoryStore
	mu         sync.Mutex
	failCommit bool
}

func (f *flakyStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCommit = fail
}

func (f *flakyStore) CommitPass(ctx context.Context, state models.SimulationState, trains []*models.Train, passengers []models.StationPassengers) error {
	f.mu.Lock()
	fail := f.failCommit
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.CommitPass(ctx, state, trains, passengers)
}

func TestOnTimeJourney(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	addTrain(t, store, "TR1", "R1", epoch, "L1")
	e := openEngine(t, store)

	t.Run("scheduled before departure", func(t *testing.T) {
		v := trainView(t, e, "TR1")
		assert.Equal(t, models.StatusScheduled, v.Status)
		assert.Equal(t, "A", v.NextStationID, "origin comes first")
	})

	t.Run("running mid segment", func(t *testing.T) {
		require.NoError(t, e.Advance(ctx, 5*time.Minute))
		v := trainView(t, e, "TR1")
		assert.Equal(t, models.StatusRunning, v.Status)
		assert.Equal(t, models.PhaseTransit, v.Phase)
		assert.InDelta(t, 5.0, v.ProgressKm, 1e-6)
		assert.InDelta(t, 0.5, v.ProgressFraction, 1e-6)
		assert.Equal(t, 60.0, v.SpeedKmh)
	})

	t.Run("terminated on time", func(t *testing.T) {
		require.NoError(t, e.Advance(ctx, 10*time.Minute))
		v := trainView(t, e, "TR1")
		assert.Equal(t, models.StatusTerminated, v.Status)
		assert.Equal(t, int64(0), v.DelaySeconds)
		require.NotNil(t, v.ArrivedAt)
		assert.True(t, v.ArrivedAt.Equal(epoch.Add(10*time.Minute)))
		assert.Empty(t, v.Error)
	})

	t.Run("statistics record the journey", func(t *testing.T) {
		stats := e.DelayStats()
		require.Len(t, stats, 1)
		assert.Equal(t, "R1", stats[0].RouteID)
		assert.Equal(t, 1, stats[0].Journeys)
	})

	t.Run("terminal platform released after dwell", func(t *testing.T) {
		stations := e.StationsStatus()
		require.Len(t, stations, 2)
		assert.Equal(t, 0, stations[1].Occupied)
	})
}

func TestHeldAtFullStation(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	addTrain(t, store, "TR1", "R1", epoch, "L1")
	addTrain(t, store, "TR2", "R1", epoch, "L2")
	e := openEngine(t, store)

	require.NoError(t, e.Advance(ctx, 12*time.Minute))

	t.Run("second train waits outside", func(t *testing.T) {
		v := trainView(t, e, "TR2")
		assert.Equal(t, models.PhaseHeld, v.Phase)
		require.NotNil(t, v.HeldSince)
		assert.True(t, v.HeldSince.Equal(epoch.Add(10*time.Minute)))
		assert.InDelta(t, 10.0, v.ProgressKm, 1e-6)

		stations := e.StationsStatus()
		assert.Equal(t, 1, stations[1].Occupied)
		assert.Equal(t, []string{"TR2"}, stations[1].Waiting)
	})

	require.NoError(t, e.Advance(ctx, 18*time.Minute))

	t.Run("hold becomes delay", func(t *testing.T) {
		first := trainView(t, e, "TR1")
		assert.Equal(t, int64(0), first.DelaySeconds)

		second := trainView(t, e, "TR2")
		assert.Equal(t, models.StatusTerminated, second.Status)
		assert.Equal(t, int64(300), second.DelaySeconds)
		assert.Equal(t, int64(300), second.StationDelaySecs)
		require.NotNil(t, second.ArrivedAt)
		assert.True(t, second.ArrivedAt.Equal(epoch.Add(15*time.Minute)))
	})
}

func TestAdvanceIsAdditive(t *testing.T) {
	ctx := context.Background()
	build := func() *Engine {
		store := db.NewMemoryStore()
		seedLine(t, store, 1)
		addTrain(t, store, "TR1", "R1", epoch, "L1")
		addTrain(t, store, "TR2", "R1", epoch, "L2")
		addTrain(t, store, "TR3", "R1", epoch.Add(4*time.Minute), "L3", "C1")
		return openEngine(t, store)
	}

	whole := build()
	require.NoError(t, whole.Advance(ctx, 30*time.Minute))

	pieces := build()
	for _, d := range []time.Duration{3 * time.Minute, 7 * time.Minute, 2 * time.Minute, 90 * time.Second, 90 * time.Second, 15 * time.Minute} {
		require.NoError(t, pieces.Advance(ctx, d))
	}

	assert.True(t, whole.CurrentTime().Equal(pieces.CurrentTime()))
	a := whole.TrainsStatus("")
	b := pieces.TrainsStatus("")
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Status, b[i].Status, a[i].ID)
		assert.Equal(t, a[i].Phase, b[i].Phase, a[i].ID)
		assert.Equal(t, a[i].WaypointIndex, b[i].WaypointIndex, a[i].ID)
		assert.Equal(t, a[i].DelaySeconds, b[i].DelaySeconds, a[i].ID)
		assert.Equal(t, a[i].StationDelaySecs, b[i].StationDelaySecs, a[i].ID)
		assert.InDelta(t, a[i].ProgressKm, b[i].ProgressKm, 1e-6, a[i].ID)
		assert.Equal(t, a[i].Passengers, b[i].Passengers, a[i].ID)
		assert.Equal(t, a[i].Boarded, b[i].Boarded, a[i].ID)
		assert.Equal(t, a[i].Alighted, b[i].Alighted, a[i].ID)
	}

	sa, sb := whole.StationsStatus(), pieces.StationsStatus()
	require.Len(t, sb, len(sa))
	for i := range sa {
		assert.Equal(t, sa[i].Passengers, sb[i].Passengers, sa[i].ID)
		assert.Equal(t, sa[i].Arrived, sb[i].Arrived, sa[i].ID)
	}
}

func TestClockIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	e := openEngine(t, store)

	before := e.CurrentTime()
	assert.True(t, before.Equal(epoch))

	require.NoError(t, e.Advance(ctx, 0))
	assert.True(t, e.CurrentTime().Equal(before))

	require.NoError(t, e.Step(ctx, time.Hour))
	assert.True(t, e.CurrentTime().Equal(before.Add(time.Hour)))

	assert.Error(t, e.Advance(ctx, -time.Minute))
	assert.True(t, e.CurrentTime().Equal(before.Add(time.Hour)))
	assert.Equal(t, int64(2), e.Status().Passes)
}

func TestRestartResumes(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	addTrain(t, store, "TR1", "R1", epoch, "L1")

	first := openEngine(t, store)
	require.NoError(t, first.Advance(ctx, 5*time.Minute))
	id := first.Status().SimulationID

	second := openEngine(t, store)
	assert.Equal(t, id, second.Status().SimulationID)
	assert.True(t, second.CurrentTime().Equal(epoch.Add(5*time.Minute)))
	assert.Equal(t, models.PhaseTransit, trainView(t, second, "TR1").Phase)

	require.NoError(t, second.Advance(ctx, 10*time.Minute))
	v := trainView(t, second, "TR1")
	assert.Equal(t, models.StatusTerminated, v.Status)
	assert.Equal(t, int64(0), v.DelaySeconds)
}

func TestPersistenceFailureStallsClock(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemoryStore()
	seedLine(t, mem, 1)
	addTrain(t, mem, "TR1", "R1", epoch, "L1")
	store := &flakyStore{MemoryStore: mem}
	e := openEngine(t, store)

	store.setFail(true)
	err := e.Advance(ctx, 15*time.Minute)
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)

	assert.True(t, e.CurrentTime().Equal(epoch))
	assert.Equal(t, models.PhaseWaiting, trainView(t, e, "TR1").Phase)
	status := e.Status()
	assert.Equal(t, 1, status.ConsecutiveFailures)
	assert.Contains(t, status.LastError, "disk full")
	require.NotNil(t, status.LastErrorAt)

	store.setFail(false)
	require.NoError(t, e.Advance(ctx, 15*time.Minute))
	assert.True(t, e.CurrentTime().Equal(epoch.Add(15*time.Minute)))
	assert.Equal(t, models.StatusTerminated, trainView(t, e, "TR1").Status)
	assert.Equal(t, 0, e.Status().ConsecutiveFailures)
}

func TestConfigurationErrorIsolatesTrain(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	require.NoError(t, store.UpsertRoute(ctx, models.Route{
		ID: "R2",
		Waypoints: []models.Waypoint{
			{StationID: "A"},
			{StationID: "B", TrackID: "missing", ArrivalOffset: 10 * time.Minute, DepartureOffset: 10 * time.Minute},
		},
	}))
	addTrain(t, store, "BAD", "R2", epoch, "L1")
	addTrain(t, store, "GOOD", "R1", epoch, "L2")
	e := openEngine(t, store)

	require.NoError(t, e.Advance(ctx, 15*time.Minute))

	bad := trainView(t, e, "BAD")
	assert.Equal(t, models.StatusTerminated, bad.Status)
	assert.Contains(t, bad.Error, "missing")

	good := trainView(t, e, "GOOD")
	assert.Equal(t, models.StatusTerminated, good.Status)
	assert.Empty(t, good.Error)

	stats := e.DelayStats()
	require.Len(t, stats, 1, "failed journeys are not statistics")
}

func TestStallWithoutTraction(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	addTrain(t, store, "TR1", "R1", epoch, "C1")
	e := openEngine(t, store)

	require.NoError(t, e.Advance(ctx, 15*time.Minute))
	v := trainView(t, e, "TR1")
	assert.Equal(t, models.StatusScheduled, v.Status)
	assert.Equal(t, models.PhaseDwelling, v.Phase)
	assert.Equal(t, 1, e.Status().StalledTrains)
}

func TestStepBusy(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	e := openEngine(t, store)

	e.passSem <- struct{}{}
	err := e.Step(ctx, time.Minute)
	assert.True(t, IsBusy(err))
	assert.True(t, e.CurrentTime().Equal(epoch))

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Advance(tctx, time.Minute), context.DeadlineExceeded)

	<-e.passSem
	require.NoError(t, e.Step(ctx, time.Minute))
}

// countdownLocker refuses the first deny attempts, optionally with an error, then grants
type countdownLocker struct {
	mu       sync.Mutex
	deny     int
	err      error
	attempts int
	released int
}

func (l *countdownLocker) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.deny < 0 || l.attempts <= l.deny {
		return false, l.err
	}
	return true, nil
}

func (l *countdownLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func (l *countdownLocker) counts() (attempts, released int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts, l.released
}

func TestPassLockerHeldElsewhere(t *testing.T) {
	ctx := context.Background()

	t.Run("step fails fast", func(t *testing.T) {
		store := db.NewMemoryStore()
		seedLine(t, store, 1)
		locker := &countdownLocker{deny: -1}
		e := openEngine(t, store, WithPassLocker(locker))

		err := e.Step(ctx, time.Minute)
		assert.ErrorIs(t, err, ErrBusy)
		attempts, released := locker.counts()
		assert.Equal(t, 1, attempts)
		assert.Equal(t, 0, released)
		assert.True(t, e.CurrentTime().Equal(epoch))
	})

	t.Run("step reports lock errors as busy", func(t *testing.T) {
		store := db.NewMemoryStore()
		seedLine(t, store, 1)
		e := openEngine(t, store, WithPassLocker(&countdownLocker{deny: -1, err: errors.New("redis down")}))

		err := e.Step(ctx, time.Minute)
		assert.True(t, IsBusy(err))
		assert.Contains(t, err.Error(), "redis down")
	})

	t.Run("advance waits until the deadline", func(t *testing.T) {
		store := db.NewMemoryStore()
		seedLine(t, store, 1)
		locker := &countdownLocker{deny: -1}
		e := openEngine(t, store, WithPassLocker(locker))

		tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		err := e.Advance(tctx, time.Minute)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		attempts, released := locker.counts()
		assert.Greater(t, attempts, 1, "retried")
		assert.Equal(t, 0, released)
		assert.True(t, e.CurrentTime().Equal(epoch))
	})

	t.Run("advance runs once the lock frees", func(t *testing.T) {
		store := db.NewMemoryStore()
		seedLine(t, store, 1)
		locker := &countdownLocker{deny: 3}
		e := openEngine(t, store, WithPassLocker(locker))

		require.NoError(t, e.Advance(ctx, time.Minute))
		attempts, released := locker.counts()
		assert.Equal(t, 4, attempts)
		assert.Equal(t, 1, released)
		assert.True(t, e.CurrentTime().Equal(epoch.Add(time.Minute)))
	})

	t.Run("advance retries through lock errors", func(t *testing.T) {
		store := db.NewMemoryStore()
		seedLine(t, store, 1)
		locker := &countdownLocker{deny: 2, err: errors.New("redis down")}
		e := openEngine(t, store, WithPassLocker(locker))

		require.NoError(t, e.Advance(ctx, time.Minute))
		_, released := locker.counts()
		assert.Equal(t, 1, released)
		assert.True(t, e.CurrentTime().Equal(epoch.Add(time.Minute)))
	})
}

func TestNotOpen(t *testing.T) {
	e := NewEngine(db.NewMemoryStore(), testConfig())
	assert.ErrorIs(t, e.Advance(context.Background(), time.Minute), ErrNotOpen)
}

func TestCompositionThroughEngine(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	addTrain(t, store, "TR1", "R1", epoch.Add(time.Hour), "L1")
	addTrain(t, store, "TR2", "R1", epoch.Add(time.Hour))
	e := openEngine(t, store)

	t.Run("assign", func(t *testing.T) {
		tr, err := e.AssignVehicle(ctx, "TR1", "C1", -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"L1", "C1"}, tr.Vehicles)
		assert.Equal(t, 80, trainView(t, e, "TR1").SeatCapacity)

		stored, err := store.ListTrains(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"L1", "C1"}, stored[0].Vehicles)
	})

	t.Run("vehicle belongs to one train", func(t *testing.T) {
		_, err := e.AssignVehicle(ctx, "TR2", "L1", 0)
		require.Error(t, err)
	})

	t.Run("unknown train", func(t *testing.T) {
		_, err := e.AssignVehicle(ctx, "nope", "L2", -1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("remove then reuse", func(t *testing.T) {
		_, err := e.RemoveVehicle(ctx, "TR1", "C1")
		require.NoError(t, err)
		_, err = e.AssignVehicle(ctx, "TR2", "L2", -1)
		require.NoError(t, err)
		tr, err := e.AssignVehicle(ctx, "TR2", "C1", -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"L2", "C1"}, tr.Vehicles)
	})
}

func TestRouteSchedule(t *testing.T) {
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	addTrain(t, store, "TR1", "R1", epoch, "L1")
	e := openEngine(t, store)

	view, err := e.RouteSchedule("R1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, view.TotalDistanceKm)
	assert.Equal(t, int64(600), view.PlannedDuration)
	require.Len(t, view.Stops, 2)
	assert.Equal(t, "Beta", view.Stops[1].StationName)
	require.Len(t, view.Trains, 1)
	assert.True(t, view.Trains[0].ExpectedArrivals[1].Equal(epoch.Add(10*time.Minute)))

	_, err = e.RouteSchedule("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrainsAddedWhileRunning(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	e := openEngine(t, store)
	require.NoError(t, e.Advance(ctx, time.Minute))

	addTrain(t, store, "LATE", "R1", epoch.Add(2*time.Minute), "L1")
	require.NoError(t, e.Advance(ctx, 15*time.Minute))

	v := trainView(t, e, "LATE")
	assert.Equal(t, models.StatusTerminated, v.Status)
	assert.Equal(t, int64(0), v.DelaySeconds)
}

func TestTrainTooLongForStation(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 2)
	require.NoError(t, store.UpsertStation(ctx, models.Station{
		ID: "B", Name: "Beta", PlatformCount: 2,
		PlatformClasses: []models.PlatformClass{models.PlatformShort, models.PlatformShort},
	}))
	for _, id := range []string{"C2", "C3", "C4"} {
		require.NoError(t, store.UpsertVehicle(ctx, models.Vehicle{
			ID: id, Kind: models.KindCarriage, MaxSpeedKmh: 160, Capacity: 80, BrakeType: models.BrakeAir,
		}))
	}
	addTrain(t, store, "LONG", "R1", epoch, "L1", "C1", "C2", "C3", "C4")
	addTrain(t, store, "SHORT", "R1", epoch.Add(time.Minute), "L2")
	e := openEngine(t, store)

	require.NoError(t, e.Advance(ctx, 30*time.Minute))

	t.Run("terminated with a configuration error", func(t *testing.T) {
		v := trainView(t, e, "LONG")
		assert.Equal(t, models.StatusTerminated, v.Status)
		assert.Equal(t, models.PhaseDone, v.Phase)
		assert.Contains(t, v.Error, "no platform fits")
		assert.Nil(t, v.HeldSince, "never held")
		assert.Nil(t, v.ArrivedAt)
	})

	t.Run("station is not blocked", func(t *testing.T) {
		v := trainView(t, e, "SHORT")
		assert.Equal(t, models.StatusTerminated, v.Status)
		assert.Empty(t, v.Error)
		assert.Equal(t, int64(0), v.DelaySeconds)

		stations := e.StationsStatus()
		assert.Equal(t, 0, stations[1].Occupied)
		assert.Empty(t, stations[1].Waiting)
	})

	t.Run("failed journey is not a statistic", func(t *testing.T) {
		stats := e.DelayStats()
		require.Len(t, stats, 1)
		assert.Equal(t, 1, stats[0].Journeys)
	})
}

func TestDelayStaysMonotonicAcrossWaypoints(t *testing.T) {
	ctx := context.Background()
	build := func(opts ...Option) *Engine {
		store := db.NewMemoryStore()
		seedLine(t, store, 1)
		for _, id := range []string{"C", "D"} {
			require.NoError(t, store.UpsertStation(ctx, models.Station{ID: id, Name: id, PlatformCount: 1}))
		}
		require.NoError(t, store.UpsertTrack(ctx, models.Track{
			ID: "T2", FromStationID: "B", ToStationID: "C", LengthKm: 10, MaxSpeedKmh: 120, Condition: models.ConditionGood,
		}))
		require.NoError(t, store.UpsertTrack(ctx, models.Track{
			ID: "T3", FromStationID: "C", ToStationID: "D", LengthKm: 10, MaxSpeedKmh: 120, Condition: models.ConditionGood,
		}))
		// 5 minutes late at B, then planned far slower than the train runs
		require.NoError(t, store.UpsertRoute(ctx, models.Route{
			ID: "R3", Name: "Alpha - Delta",
			Waypoints: []models.Waypoint{
				{StationID: "A"},
				{StationID: "B", TrackID: "T1", ArrivalOffset: 5 * time.Minute, DepartureOffset: 5 * time.Minute},
				{StationID: "C", TrackID: "T2", ArrivalOffset: 40 * time.Minute, DepartureOffset: 40 * time.Minute},
				{StationID: "D", TrackID: "T3", ArrivalOffset: 90 * time.Minute, DepartureOffset: 90 * time.Minute},
			},
		}))
		addTrain(t, store, "TR1", "R3", epoch, "L1")
		return openEngine(t, store, opts...)
	}

	e := build()
	var delays []int64
	for _, step := range []struct {
		advance  time.Duration
		waypoint int
		observed int64
		status   models.TrainStatus
	}{
		{12 * time.Minute, 1, 300, models.StatusDelayed},
		{18 * time.Minute, 2, -1200, models.StatusDelayed},
		{30 * time.Minute, 3, -2100, models.StatusTerminated},
	} {
		require.NoError(t, e.Advance(ctx, step.advance))
		v := trainView(t, e, "TR1")
		require.Equal(t, step.waypoint, v.WaypointIndex)
		assert.Equal(t, step.observed, v.LastObservedSecs)
		assert.Equal(t, step.status, v.Status)
		delays = append(delays, v.DelaySeconds)
	}

	assert.Equal(t, []int64{300, 300, 300}, delays)
	stats := e.DelayStats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Journeys)

	t.Run("recovering policy gives it back", func(t *testing.T) {
		r := build(WithDelayPolicy(&RecoveringPolicy{}))
		require.NoError(t, r.Advance(ctx, 60*time.Minute))
		v := trainView(t, r, "TR1")
		assert.Equal(t, models.StatusTerminated, v.Status)
		assert.Equal(t, int64(0), v.DelaySeconds)
	})
}

func TestCapacityUnderConcurrentPasses(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedLine(t, store, 1)
	addTrain(t, store, "TR1", "R1", epoch, "L1")
	addTrain(t, store, "TR2", "R1", epoch, "L2")
	addTrain(t, store, "TR3", "R1", epoch.Add(time.Minute), "L3", "C1")
	e := openEngine(t, store)

	const (
		workers = 4
		passes  = 15
		step    = 30 * time.Second
	)

	var (
		mu       sync.Mutex
		advanced time.Duration
		writers  sync.WaitGroup
		readers  sync.WaitGroup
	)
	done := make(chan struct{})

	for r := 0; r < 2; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, s := range e.StationsStatus() {
					assert.LessOrEqual(t, s.Occupied, s.PlatformCount, s.ID)
					assert.LessOrEqual(t, len(s.Slots), s.PlatformCount, s.ID)
				}
			}
		}()
	}

	for w := 0; w < workers; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < passes; i++ {
				var err error
				if w%2 == 0 {
					err = e.Advance(ctx, step)
				} else {
					err = e.Step(ctx, step)
				}
				if IsBusy(err) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				advanced += step
				mu.Unlock()
			}
		}(w)
	}

	writers.Wait()
	close(done)
	readers.Wait()

	assert.True(t, e.CurrentTime().Equal(epoch.Add(advanced)), "every completed pass moved the clock once")

	require.NoError(t, e.Advance(ctx, time.Hour))
	for _, v := range e.TrainsStatus("") {
		assert.Equal(t, models.StatusTerminated, v.Status, v.ID)
		assert.Empty(t, v.Error, v.ID)
	}
	stations := e.StationsStatus()
	assert.Equal(t, 0, stations[1].Occupied)
}
