package passengers

import (
	"testing"
	"time"

	"github.com/railsim/railsim_core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestGeneration(t *testing.T) {
	dests := []string{"B", "C"}
	l := NewLedger(Config{PerHour: 6, Initial: 2})

	t.Run("first call seeds initial passengers", func(t *testing.T) {
		p := l.Peek("A", dests, t0)
		assert.Equal(t, map[string]int{"B": 1, "C": 1}, p.Waiting)
		assert.Empty(t, l.Snapshot(), "peek does not record")
	})

	var rt models.TrainRuntime
	l.Exchange("A", dests, &rt, 0, dests, t0)

	t.Run("whole intervals only", func(t *testing.T) {
		p := l.Peek("A", dests, t0.Add(35*time.Minute))
		assert.Equal(t, map[string]int{"B": 3, "C": 2}, p.Waiting)
		assert.Equal(t, int64(5), p.Generated)
		assert.True(t, p.Since.Equal(t0.Add(30*time.Minute)))
	})
}

func TestGenerationIsSplitIndependent(t *testing.T) {
	dests := []string{"B", "C"}
	call := func(offsets ...time.Duration) models.StationPassengers {
		l := NewLedger(Config{PerHour: 6, Initial: 2})
		var rt models.TrainRuntime
		for _, off := range offsets {
			l.Exchange("A", dests, &rt, 0, dests, t0.Add(off))
		}
		return l.Snapshot()[0]
	}

	once := call(0, 50*time.Minute)
	often := call(0, 25*time.Minute, 50*time.Minute)
	assert.Equal(t, once.Waiting, often.Waiting)
	assert.Equal(t, once.Generated, often.Generated)
	assert.True(t, once.Since.Equal(often.Since))
	assert.Equal(t, map[string]int{"B": 4, "C": 3}, once.Waiting)
}

func TestExchange(t *testing.T) {
	stored := models.StationPassengers{StationID: "B", Since: t0, Waiting: map[string]int{"C": 5, "D": 4, "A": 2}}

	tests := []struct {
		name        string
		capacity    int
		wantBoarded int
		wantOnboard map[string]int
		wantWaiting map[string]int
	}{
		{"room for everyone downstream", 10, 9, map[string]int{"C": 6, "D": 4}, map[string]int{"A": 2}},
		{"nearest destination first", 3, 2, map[string]int{"C": 3}, map[string]int{"A": 2, "C": 3, "D": 4}},
		{"full train boards nobody", 1, 0, map[string]int{"C": 1}, map[string]int{"A": 2, "C": 5, "D": 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(Config{Initial: 1})
			l.Restore([]models.StationPassengers{stored})
			rt := models.TrainRuntime{Onboard: map[string]int{"B": 3, "C": 1}}

			alighted, boarded := l.Exchange("B", []string{"A", "C", "D"}, &rt, tt.capacity, []string{"C", "D"}, t0.Add(time.Hour))

			assert.Equal(t, 3, alighted)
			assert.Equal(t, tt.wantBoarded, boarded)
			assert.Equal(t, tt.wantOnboard, rt.Onboard)
			assert.Equal(t, 3, rt.Alighted)
			assert.Equal(t, tt.wantBoarded, rt.Boarded)

			rows := l.Snapshot()
			require.Len(t, rows, 1)
			assert.Equal(t, tt.wantWaiting, rows[0].Waiting)
			assert.Equal(t, 3, rows[0].Arrived)
		})
	}

	t.Run("restore copies", func(t *testing.T) {
		assert.Equal(t, 5, stored.Waiting["C"])
	})
}

func TestMaxWaiting(t *testing.T) {
	l := NewLedger(Config{PerHour: 60, MaxWaiting: 10})
	l.Restore([]models.StationPassengers{{StationID: "A", Since: t0}})

	p := l.Peek("A", []string{"X"}, t0.Add(time.Hour))
	assert.Equal(t, 10, p.WaitingTotal())
	assert.Equal(t, int64(60), p.Generated)
}

func TestDisabled(t *testing.T) {
	l := NewLedger(Config{})
	var rt models.TrainRuntime
	alighted, boarded := l.Exchange("A", []string{"B"}, &rt, 100, []string{"B"}, t0)
	assert.Zero(t, alighted)
	assert.Zero(t, boarded)
	assert.Empty(t, l.Snapshot())
	assert.Zero(t, l.Peek("A", []string{"B"}, t0).WaitingTotal())
}

func TestCloneIsIndependent(t *testing.T) {
	l := NewLedger(Config{Initial: 4})
	var rt models.TrainRuntime
	l.Exchange("A", []string{"B"}, &rt, 0, nil, t0)

	c := l.Clone()
	var other models.TrainRuntime
	c.Exchange("A", []string{"B"}, &other, 10, []string{"B"}, t0)

	assert.Equal(t, 4, l.Snapshot()[0].Waiting["B"])
	assert.Empty(t, c.Snapshot()[0].Waiting)
}
