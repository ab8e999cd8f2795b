package sim

import (
	"testing"
	"time"

	"github.com/railsim/railsim_core/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestStickyPolicy(t *testing.T) {
	policy := &StickyPolicy{Threshold: time.Minute}

	t.Run("Name", func(t *testing.T) {
		assert.Equal(t, "sticky", policy.Name())
	})

	tests := []struct {
		name              string
		carried, observed time.Duration
		want              time.Duration
	}{
		{"grows with new lateness", 2 * time.Minute, 5 * time.Minute, 5 * time.Minute},
		{"never shrinks", 5 * time.Minute, time.Minute, 5 * time.Minute},
		{"early running keeps delay", 3 * time.Minute, -2 * time.Minute, 3 * time.Minute},
		{"early from on time", 0, -time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Apply(tt.carried, tt.observed))
		})
	}

	t.Run("Delayed above threshold", func(t *testing.T) {
		assert.False(t, policy.Delayed(models.StatusRunning, time.Minute))
		assert.True(t, policy.Delayed(models.StatusRunning, 61*time.Second))
	})

	t.Run("Delayed status holds", func(t *testing.T) {
		assert.True(t, policy.Delayed(models.StatusDelayed, 0))
	})
}

func TestRecoveringPolicy(t *testing.T) {
	policy := &RecoveringPolicy{Threshold: 0}

	t.Run("Name", func(t *testing.T) {
		assert.Equal(t, "recovering", policy.Name())
	})

	t.Run("follows observed lateness", func(t *testing.T) {
		assert.Equal(t, time.Minute, policy.Apply(5*time.Minute, time.Minute))
		assert.Equal(t, time.Duration(0), policy.Apply(5*time.Minute, -time.Minute))
	})

	t.Run("recovers to running", func(t *testing.T) {
		assert.False(t, policy.Delayed(models.StatusDelayed, 0))
		assert.True(t, policy.Delayed(models.StatusRunning, time.Second))
	})
}

func TestGetPolicy(t *testing.T) {
	assert.Equal(t, "recovering", GetPolicy("recovering", 0).Name())
	assert.Equal(t, "sticky", GetPolicy("sticky", 0).Name())
	assert.Equal(t, "sticky", GetPolicy("unknown", 0).Name())

	names := []string{}
	for _, p := range GetAllPolicies(0) {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"sticky", "recovering"}, names)
}
