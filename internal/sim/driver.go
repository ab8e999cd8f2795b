package sim

import (
	"context"
	"log"
	"time"
)

// Driver advances the engine on a fixed real-time period
type Driver struct {
	engine   *Engine
	interval time.Duration
	now      func() time.Time
}

// NewDriver creates a background driver ticking every interval
func NewDriver(engine *Engine, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = time.Second
	}
	return &Driver{engine: engine, interval: interval, now: time.Now}
}

// Run ticks until ctx is cancelled. The running flag is persisted on start and stop.
func (d *Driver) Run(ctx context.Context) {
	if err := d.engine.SetRunning(ctx, true); err != nil {
		log.Printf("Warning: failed to mark simulation running: %v", err)
	}
	log.Printf("Simulation driver started (tick %s, time scale %.0fx)", d.interval, d.engine.TimeScale())

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	last := d.now()
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := d.engine.SetRunning(stopCtx, false); err != nil {
				log.Printf("Warning: failed to mark simulation stopped: %v", err)
			}
			cancel()
			log.Println("Simulation driver stopped")
			return
		case <-ticker.C:
			last = d.Tick(ctx, last)
		}
	}
}

// Tick advances by the real time elapsed since last, scaled by the time scale,
// and returns the new reference point. A failed pass drops its elapsed time.
func (d *Driver) Tick(ctx context.Context, last time.Time) time.Time {
	now := d.now()
	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}

	simulated := time.Duration(float64(elapsed) * d.engine.TimeScale())
	if err := d.engine.Advance(ctx, simulated); err != nil && ctx.Err() == nil {
		log.Printf("Warning: tick dropped (%s simulated): %v", simulated, err)
	}
	return now
}
