package sim

import (
	"time"

	"github.com/railsim/railsim_core/internal/models"
)

// DelayPolicy decides how lateness observed at a waypoint is carried forward
// and when a train counts as delayed
type DelayPolicy interface {
	Name() string
	// Apply returns the new carried delay given the carried delay so far and the
	// signed lateness just observed (negative means early)
	Apply(carried, observed time.Duration) time.Duration
	// Delayed reports whether a train in status current with the given carried delay is delayed
	Delayed(current models.TrainStatus, carried time.Duration) bool
}

// StickyPolicy never lets a train regain lost time.
// Carried delay only grows and the Delayed status holds until the journey ends.
type StickyPolicy struct {
	Threshold time.Duration
}

func (p *StickyPolicy) Name() string {
	return "sticky"
}

func (p *StickyPolicy) Apply(carried, observed time.Duration) time.Duration {
	if observed > carried {
		return observed
	}
	return carried
}

func (p *StickyPolicy) Delayed(current models.TrainStatus, carried time.Duration) bool {
	return current == models.StatusDelayed || carried > p.Threshold
}

// RecoveringPolicy lets the carried delay follow the lateness observed at each waypoint,
// so a train that makes up time returns to Running
type RecoveringPolicy struct {
	Threshold time.Duration
}

func (p *RecoveringPolicy) Name() string {
	return "recovering"
}

func (p *RecoveringPolicy) Apply(carried, observed time.Duration) time.Duration {
	if observed < 0 {
		return 0
	}
	return observed
}

func (p *RecoveringPolicy) Delayed(current models.TrainStatus, carried time.Duration) bool {
	return carried > p.Threshold
}

// GetPolicy returns a policy by name, sticky when the name is unknown
func GetPolicy(name string, threshold time.Duration) DelayPolicy {
	switch name {
	case "recovering":
		return &RecoveringPolicy{Threshold: threshold}
	default:
		return &StickyPolicy{Threshold: threshold}
	}
}

// GetAllPolicies returns all available policies
func GetAllPolicies(threshold time.Duration) []DelayPolicy {
	return []DelayPolicy{
		&StickyPolicy{Threshold: threshold},
		&RecoveringPolicy{Threshold: threshold},
	}
}
