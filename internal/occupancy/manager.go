package occupancy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/railsim/railsim_core/internal/models"
)

var (
	// ErrBusy means every platform that could take the train is held
	ErrBusy = errors.New("station busy")
	// ErrUnknownStation means the station has not been configured
	ErrUnknownStation = errors.New("unknown station")
	// ErrNoFittingPlatform means no platform at the station could ever take the train
	ErrNoFittingPlatform = errors.New("no platform fits the train")
)

type platformTable struct {
	station models.Station
	holders []string // platform index -> train ID, "" when free
	since   []time.Time
}

func (p *platformTable) held() int {
	n := 0
	for _, h := range p.holders {
		if h != "" {
			n++
		}
	}
	return n
}

func (p *platformTable) indexOf(trainID string) int {
	for i, h := range p.holders {
		if h == trainID {
			return i
		}
	}
	return -1
}

// fits reports whether any platform accepts the train, held or not
func (p *platformTable) fits(vehicles int) bool {
	for i := 0; i < p.station.PlatformCount; i++ {
		if p.station.PlatformClass(i).Accepts(vehicles) {
			return true
		}
	}
	return false
}

// free returns the lowest free platform that accepts the train, or -1
func (p *platformTable) free(vehicles int) int {
	if p.held() >= p.station.PlatformCount {
		return -1
	}
	for i := 0; i < p.station.PlatformCount; i++ {
		if p.holders[i] == "" && p.station.PlatformClass(i).Accepts(vehicles) {
			return i
		}
	}
	return -1
}

func (p *platformTable) grow(n int) {
	for len(p.holders) < n {
		p.holders = append(p.holders, "")
		p.since = append(p.since, time.Time{})
	}
}

// Manager tracks which train holds which platform.
// It is not safe for concurrent use; the engine serializes access.
type Manager struct {
	stations map[string]*platformTable
}

// NewManager returns an empty occupancy table
func NewManager() *Manager {
	return &Manager{stations: make(map[string]*platformTable)}
}

// Configure updates station capacities. Existing holders are never evicted, even when
// the platform count shrinks; they only block new acquisitions until released.
func (m *Manager) Configure(stations []models.Station) {
	for _, s := range stations {
		t, ok := m.stations[s.ID]
		if !ok {
			t = &platformTable{}
			m.stations[s.ID] = t
		}
		t.station = s
		t.grow(s.PlatformCount)
	}
}

// Acquire claims a platform at stationID for trainID. A train that already holds a
// platform there gets the same slot back.
func (m *Manager) Acquire(stationID, trainID string, vehicles int, at time.Time) (models.OccupancySlot, error) {
	t, ok := m.stations[stationID]
	if !ok {
		return models.OccupancySlot{}, fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}

	if i := t.indexOf(trainID); i >= 0 {
		return models.OccupancySlot{StationID: stationID, Platform: i, TrainID: trainID, Since: t.since[i]}, nil
	}

	if !t.fits(vehicles) {
		return models.OccupancySlot{}, fmt.Errorf("%w: %d vehicles at %s", ErrNoFittingPlatform, vehicles, stationID)
	}
	i := t.free(vehicles)
	if i < 0 {
		return models.OccupancySlot{}, ErrBusy
	}
	t.holders[i] = trainID
	t.since[i] = at
	return models.OccupancySlot{StationID: stationID, Platform: i, TrainID: trainID, Since: at}, nil
}

// Release frees the platform held by trainID at stationID. Releasing a slot that is not
// held is a no-op. It returns true if a slot was freed.
func (m *Manager) Release(stationID, trainID string) bool {
	t, ok := m.stations[stationID]
	if !ok {
		return false
	}
	i := t.indexOf(trainID)
	if i < 0 {
		return false
	}
	t.holders[i] = ""
	t.since[i] = time.Time{}
	return true
}

// Restore puts back a slot loaded from storage. Capacity is not checked so a restart
// never drops a train that was already on a platform.
func (m *Manager) Restore(slot models.OccupancySlot) {
	t, ok := m.stations[slot.StationID]
	if !ok {
		t = &platformTable{station: models.Station{ID: slot.StationID}}
		m.stations[slot.StationID] = t
	}
	t.grow(slot.Platform + 1)
	t.holders[slot.Platform] = slot.TrainID
	t.since[slot.Platform] = slot.Since
}

// CanAdmit reports whether Acquire would succeed for a train of the given length
func (m *Manager) CanAdmit(stationID string, vehicles int) bool {
	t, ok := m.stations[stationID]
	if !ok {
		return false
	}
	return t.free(vehicles) >= 0
}

// Fits reports whether the station has any platform the train could ever use
func (m *Manager) Fits(stationID string, vehicles int) bool {
	t, ok := m.stations[stationID]
	if !ok {
		return false
	}
	return t.fits(vehicles)
}

// Occupied returns the number of platforms held at a station
func (m *Manager) Occupied(stationID string) int {
	t, ok := m.stations[stationID]
	if !ok {
		return 0
	}
	return t.held()
}

// Holders returns the slots held at a station ordered by platform
func (m *Manager) Holders(stationID string) []models.OccupancySlot {
	t, ok := m.stations[stationID]
	if !ok {
		return nil
	}
	var slots []models.OccupancySlot
	for i, h := range t.holders {
		if h != "" {
			slots = append(slots, models.OccupancySlot{StationID: stationID, Platform: i, TrainID: h, Since: t.since[i]})
		}
	}
	return slots
}

// StationIDs returns every configured station ID in order
func (m *Manager) StationIDs() []string {
	ids := make([]string, 0, len(m.stations))
	for id := range m.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy of the table
func (m *Manager) Clone() *Manager {
	c := NewManager()
	for id, t := range m.stations {
		c.stations[id] = &platformTable{
			station: t.station,
			holders: append([]string(nil), t.holders...),
			since:   append([]time.Time(nil), t.since...),
		}
	}
	return c
}
