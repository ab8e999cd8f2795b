package metrics

import (
	"sort"
	"sync"
	"time"
)

// RouteDelay is the delay summary of every journey completed on one route
type RouteDelay struct {
	RouteID       string  `json:"route_id"`
	Journeys      int     `json:"journeys"`
	MeanSeconds   float64 `json:"mean_delay_seconds"`
	StdDevSeconds float64 `json:"stddev_delay_seconds"`
	MaxSeconds    float64 `json:"max_delay_seconds"`
	OnTime        int     `json:"on_time"`
	Delayed       int     `json:"delayed"`
}

type routeStats struct {
	welford WelfordState
	max     time.Duration
	onTime  int
	delayed int
}

// DelayStats aggregates final delays per route. Safe for concurrent use.
type DelayStats struct {
	mu        sync.Mutex
	threshold time.Duration
	routes    map[string]*routeStats
}

// NewDelayStats creates an empty aggregate; journeys above threshold count as delayed
func NewDelayStats(threshold time.Duration) *DelayStats {
	return &DelayStats{threshold: threshold, routes: make(map[string]*routeStats)}
}

// Record adds the final delay of one journey
func (s *DelayStats) Record(routeID string, delay time.Duration) {
	if routeID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.routes[routeID]
	if !ok {
		rs = &routeStats{}
		s.routes[routeID] = rs
	}
	rs.welford.Update(delay.Seconds())
	if delay > rs.max {
		rs.max = delay
	}
	if delay > s.threshold {
		rs.delayed++
	} else {
		rs.onTime++
	}
}

// Snapshot returns the summary of every route ordered by route ID
func (s *DelayStats) Snapshot() []RouteDelay {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]RouteDelay, 0, len(s.routes))
	for id, rs := range s.routes {
		result = append(result, RouteDelay{
			RouteID:       id,
			Journeys:      rs.welford.GetCount(),
			MeanSeconds:   rs.welford.GetMean(),
			StdDevSeconds: rs.welford.GetStdDev(),
			MaxSeconds:    rs.max.Seconds(),
			OnTime:        rs.onTime,
			Delayed:       rs.delayed,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RouteID < result[j].RouteID })
	return result
}

// Reset drops every observation
func (s *DelayStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = make(map[string]*routeStats)
}
