package consist

import (
	"errors"
	"testing"

	"github.com/railsim/railsim_core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vehicleMap map[string]models.Vehicle

func (m vehicleMap) Vehicle(id string) (models.Vehicle, bool) {
	v, ok := m[id]
	return v, ok
}

func fleet() vehicleMap {
	return vehicleMap{
		"L1": {ID: "L1", Kind: models.KindTraction},
		"L2": {ID: "L2", Kind: models.KindTraction},
		"C1": {ID: "C1", Kind: models.KindCarriage},
		"C2": {ID: "C2", Kind: models.KindCarriage},
	}
}

func train(id string, status models.TrainStatus, vehicles ...string) *models.Train {
	return &models.Train{ID: id, Vehicles: vehicles, Runtime: models.TrainRuntime{Status: status}}
}

func assertCompositionError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var ce *CompositionError
	assert.True(t, errors.As(err, &ce), "expected CompositionError, got %T", err)
}

func TestPlanAssign(t *testing.T) {
	a := train("A", models.StatusScheduled, "L1")
	b := train("B", models.StatusScheduled)
	c := NewComposer(fleet())
	require.NoError(t, c.Index([]*models.Train{a, b}))

	t.Run("append carriage", func(t *testing.T) {
		next, err := c.PlanAssign(a, "C1", -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"L1", "C1"}, next)
		assert.Equal(t, []string{"L1"}, a.Vehicles, "planning must not mutate")
	})

	t.Run("insert traction at head", func(t *testing.T) {
		next, err := c.PlanAssign(a, "L2", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"L2", "L1"}, next)
	})

	t.Run("vehicle owned by another train", func(t *testing.T) {
		_, err := c.PlanAssign(b, "L1", -1)
		assertCompositionError(t, err)
	})

	t.Run("vehicle already in train", func(t *testing.T) {
		_, err := c.PlanAssign(a, "L1", -1)
		assertCompositionError(t, err)
	})

	t.Run("carriage cannot lead", func(t *testing.T) {
		_, err := c.PlanAssign(b, "C2", -1)
		assertCompositionError(t, err)
		_, err = c.PlanAssign(a, "C2", 0)
		assertCompositionError(t, err)
	})

	t.Run("unknown vehicle", func(t *testing.T) {
		_, err := c.PlanAssign(a, "X", -1)
		assertCompositionError(t, err)
	})
}

func TestPlanRemove(t *testing.T) {
	c := NewComposer(fleet())

	t.Run("running train keeps its lead", func(t *testing.T) {
		running := train("R", models.StatusRunning, "L1", "L2")
		require.NoError(t, c.Index([]*models.Train{running}))
		_, err := c.PlanRemove(running, "L1")
		assertCompositionError(t, err)

		next, err := c.PlanRemove(running, "L2")
		require.NoError(t, err)
		assert.Equal(t, []string{"L1"}, next)
	})

	t.Run("delayed train counts as running", func(t *testing.T) {
		delayed := train("D", models.StatusDelayed, "L1")
		require.NoError(t, c.Index([]*models.Train{delayed}))
		_, err := c.PlanRemove(delayed, "L1")
		assertCompositionError(t, err)
	})

	t.Run("scheduled train may be emptied", func(t *testing.T) {
		s := train("S", models.StatusScheduled, "L1")
		require.NoError(t, c.Index([]*models.Train{s}))
		next, err := c.PlanRemove(s, "L1")
		require.NoError(t, err)
		assert.Empty(t, next)
	})

	t.Run("removing lead may not expose a carriage", func(t *testing.T) {
		s := train("S", models.StatusScheduled, "L1", "C1")
		require.NoError(t, c.Index([]*models.Train{s}))
		_, err := c.PlanRemove(s, "L1")
		assertCompositionError(t, err)
	})

	t.Run("vehicle not in train", func(t *testing.T) {
		s := train("S", models.StatusScheduled, "L1")
		_, err := c.PlanRemove(s, "C1")
		assertCompositionError(t, err)
	})
}

func TestCommitMovesOwnership(t *testing.T) {
	a := train("A", models.StatusScheduled, "L1", "C1")
	b := train("B", models.StatusScheduled, "L2")
	c := NewComposer(fleet())
	require.NoError(t, c.Index([]*models.Train{a, b}))

	next, err := c.PlanRemove(a, "C1")
	require.NoError(t, err)
	c.Commit(a, next)

	_, owned := c.Owner("C1")
	assert.False(t, owned)

	next, err = c.PlanAssign(b, "C1", -1)
	require.NoError(t, err)
	c.Commit(b, next)

	owner, _ := c.Owner("C1")
	assert.Equal(t, "B", owner)
	assert.Equal(t, []string{"L2", "C1"}, b.Vehicles)

	c.Release(b)
	_, owned = c.Owner("L2")
	assert.False(t, owned)
}

func TestIndexDetectsDoubleOwnership(t *testing.T) {
	c := NewComposer(fleet())
	err := c.Index([]*models.Train{
		train("A", models.StatusScheduled, "L1"),
		train("B", models.StatusScheduled, "L1"),
	})
	assertCompositionError(t, err)

	owner, _ := c.Owner("L1")
	assert.Equal(t, "A", owner)
}
