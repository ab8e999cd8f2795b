package passengers

import (
	"sort"
	"time"

	"github.com/railsim/railsim_core/internal/models"
)

// Config controls passenger generation
type Config struct {
	PerHour    float64 // passengers generated per station per simulated hour
	Initial    int     // passengers waiting when a station is first called at
	MaxWaiting int     // cap per station, 0 for none
}

// Enabled reports whether any passengers are ever generated
func (c Config) Enabled() bool {
	return c.PerHour > 0 || c.Initial > 0
}

// interval is the simulated time between two generated passengers at one station
func (c Config) interval() time.Duration {
	if c.PerHour <= 0 {
		return 0
	}
	iv := time.Duration(float64(time.Hour) / c.PerHour)
	if iv <= 0 {
		iv = 1
	}
	return iv
}

// Ledger holds waiting passengers per station. Generation is applied lazily when a
// train calls, from the station's Since up to the call time, so the result does not
// depend on how simulated time was split into passes. Not safe for concurrent use.
type Ledger struct {
	cfg      Config
	stations map[string]*models.StationPassengers
}

// NewLedger returns an empty ledger
func NewLedger(cfg Config) *Ledger {
	return &Ledger{cfg: cfg, stations: make(map[string]*models.StationPassengers)}
}

// Config returns the generation settings
func (l *Ledger) Config() Config {
	return l.cfg
}

// Restore replaces the ledger contents with stored rows
func (l *Ledger) Restore(rows []models.StationPassengers) {
	l.stations = make(map[string]*models.StationPassengers, len(rows))
	for _, r := range rows {
		c := r.Clone()
		l.stations[c.StationID] = &c
	}
}

// Clone returns an independent copy
func (l *Ledger) Clone() *Ledger {
	c := NewLedger(l.cfg)
	for id, rec := range l.stations {
		r := rec.Clone()
		c.stations[id] = &r
	}
	return c
}

// Snapshot returns every station record ordered by station ID
func (l *Ledger) Snapshot() []models.StationPassengers {
	result := make([]models.StationPassengers, 0, len(l.stations))
	for _, rec := range l.stations {
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StationID < result[j].StationID })
	return result
}

// Peek returns the demand at a station as it would be at time at, without
// changing the ledger. destinations are the stations reachable from it.
func (l *Ledger) Peek(stationID string, destinations []string, at time.Time) models.StationPassengers {
	rec, ok := l.stations[stationID]
	if !ok {
		if !l.cfg.Enabled() {
			return models.StationPassengers{StationID: stationID, Waiting: map[string]int{}}
		}
		fresh := l.create(stationID, destinations, at)
		return *fresh
	}
	c := rec.Clone()
	l.accrue(&c, destinations, at)
	return c
}

// Exchange lets passengers for this station off the train, then boards waiting
// passengers bound for downstream stations, nearest first, up to capacity.
// It returns how many alighted and boarded.
func (l *Ledger) Exchange(stationID string, destinations []string, rt *models.TrainRuntime, capacity int, downstream []string, at time.Time) (alighted, boarded int) {
	if !l.cfg.Enabled() && rt.Load() == 0 {
		return 0, 0
	}
	rec := l.record(stationID, destinations, at)

	alighted = rt.Onboard[stationID]
	if alighted > 0 {
		delete(rt.Onboard, stationID)
		rec.Arrived += alighted
		rt.Alighted += alighted
	}

	free := capacity - rt.Load()
	for _, dest := range downstream {
		if free <= 0 {
			break
		}
		n := rec.Waiting[dest]
		if n > free {
			n = free
		}
		if n <= 0 {
			continue
		}
		if rec.Waiting[dest] -= n; rec.Waiting[dest] == 0 {
			delete(rec.Waiting, dest)
		}
		if rt.Onboard == nil {
			rt.Onboard = make(map[string]int)
		}
		rt.Onboard[dest] += n
		free -= n
		boarded += n
	}
	rt.Boarded += boarded
	return alighted, boarded
}

func (l *Ledger) record(stationID string, destinations []string, at time.Time) *models.StationPassengers {
	rec, ok := l.stations[stationID]
	if !ok {
		rec = l.create(stationID, destinations, at)
		l.stations[stationID] = rec
		return rec
	}
	l.accrue(rec, destinations, at)
	return rec
}

func (l *Ledger) create(stationID string, destinations []string, at time.Time) *models.StationPassengers {
	rec := &models.StationPassengers{StationID: stationID, Since: at, Waiting: make(map[string]int)}
	l.generate(rec, destinations, int64(l.cfg.Initial))
	return rec
}

// accrue generates the whole passengers due between rec.Since and at. The remainder
// stays pending by advancing Since only by whole intervals.
func (l *Ledger) accrue(rec *models.StationPassengers, destinations []string, at time.Time) {
	if !at.After(rec.Since) {
		return
	}
	iv := l.cfg.interval()
	if iv <= 0 {
		rec.Since = at
		return
	}
	n := int64(at.Sub(rec.Since) / iv)
	if n == 0 {
		return
	}
	rec.Since = rec.Since.Add(time.Duration(n) * iv)
	l.generate(rec, destinations, n)
}

// generate spreads n passengers over destinations in turn, continuing the rotation
// from earlier generations
func (l *Ledger) generate(rec *models.StationPassengers, destinations []string, n int64) {
	k := int64(len(destinations))
	if k == 0 || n <= 0 {
		return
	}
	if rec.Waiting == nil {
		rec.Waiting = make(map[string]int)
	}

	room := int64(-1)
	if l.cfg.MaxWaiting > 0 {
		room = int64(l.cfg.MaxWaiting - rec.WaitingTotal())
		if room < 0 {
			room = 0
		}
	}

	full, rem := n/k, n%k
	start := rec.Generated % k
	for i := int64(0); i < k; i++ {
		dest := destinations[(start+i)%k]
		c := full
		if i < rem {
			c++
		}
		if room >= 0 {
			if c > room {
				c = room
			}
			room -= c
		}
		if c > 0 {
			rec.Waiting[dest] += int(c)
		}
	}
	rec.Generated += n
}
