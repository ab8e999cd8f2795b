package api

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/railsim/railsim_core/internal/sim"
)

// --- Response types ---

// DepartureInfo represents a single upcoming departure at a station
type DepartureInfo struct {
	TrainID           string    `json:"train_id"`
	TrainName         string    `json:"train_name"`
	RouteID           string    `json:"route_id"`
	RouteName         string    `json:"route_name"`
	Status            string    `json:"status"`
	PlannedArrival    time.Time `json:"planned_arrival"`
	ExpectedArrival   time.Time `json:"expected_arrival"`
	ExpectedDeparture time.Time `json:"expected_departure"`
	DelayMinutes      float64   `json:"delay_minutes"`
	MinutesUntil      int       `json:"minutes_until"`
	Held              bool      `json:"held"`
}

// DeparturesResponse is the response for the departures endpoint
type DeparturesResponse struct {
	Station     StationBasic    `json:"station"`
	Departures  []DepartureInfo `json:"departures"`
	CurrentTime time.Time       `json:"current_time"`
	Total       int             `json:"total"`
}

// StationBasic represents minimal station info
type StationBasic struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	PlatformCount int     `json:"platform_count"`
	Occupied      int     `json:"occupied"`
}

// --- Handlers ---

// StationDepartures handles GET /v2/simulation/stations/:id/departures
func (h *Handler) StationDepartures(c *fiber.Ctx) error {
	stationID := c.Params("id")

	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	var station *sim.StationView
	for _, s := range h.engine.StationsStatus() {
		if s.ID == stationID {
			s := s
			station = &s
			break
		}
	}
	if station == nil {
		return fmt.Errorf("station %s: %w", stationID, sim.ErrNotFound)
	}

	now := h.engine.CurrentTime()
	departures := []DepartureInfo{}
	for _, t := range h.engine.TrainsStatus("") {
		for _, stop := range t.Upcoming {
			if stop.StationID != stationID {
				continue
			}
			departures = append(departures, DepartureInfo{
				TrainID:           t.ID,
				TrainName:         t.Name,
				RouteID:           t.RouteID,
				RouteName:         t.RouteName,
				Status:            string(t.Status),
				PlannedArrival:    stop.PlannedArrival,
				ExpectedArrival:   stop.ExpectedArrival,
				ExpectedDeparture: stop.ExpectedDeparture,
				DelayMinutes:      t.DelayMinutes,
				MinutesUntil:      int(stop.ExpectedDeparture.Sub(now) / time.Minute),
				Held:              t.HeldSince != nil && t.NextStationID == stationID,
			})
			break
		}
	}

	sort.Slice(departures, func(i, j int) bool {
		if departures[i].ExpectedDeparture.Equal(departures[j].ExpectedDeparture) {
			return departures[i].TrainID < departures[j].TrainID
		}
		return departures[i].ExpectedDeparture.Before(departures[j].ExpectedDeparture)
	})
	if len(departures) > limit {
		departures = departures[:limit]
	}

	return c.JSON(DeparturesResponse{
		Station: StationBasic{
			ID:            station.ID,
			Name:          station.Name,
			Lat:           station.Lat,
			Lon:           station.Lon,
			PlatformCount: station.PlatformCount,
			Occupied:      station.Occupied,
		},
		Departures:  departures,
		CurrentTime: now,
		Total:       len(departures),
	})
}

// RouteSchedule handles GET /v2/simulation/routes/:id/schedule
func (h *Handler) RouteSchedule(c *fiber.Ctx) error {
	view, err := h.engine.RouteSchedule(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}
