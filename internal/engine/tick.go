// Package engine provides the tick-based simulation loop.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Engine drives the simulation forward one tick at a time.
type Engine struct {
	Interval    time.Duration // Base tick interval (default 50ms)
	ReportEvery uint64        // Ticks between OnReport calls, 0 = never

	// Callbacks populated during setup.
	OnTick   func(tick uint64) // Every tick
	OnReport func(tick uint64) // Every ReportEvery ticks

	step    sync.Mutex // Held for a whole tick and its callbacks
	mu      sync.Mutex
	tick    uint64
	speed   float64 // Multiplier: 1.0 = real-time, 0 = paused
	running bool
	stop    chan struct{}
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:    50 * time.Millisecond,
		ReportEvery: 100,
		speed:       1.0,
	}
}

// Tick returns the number of ticks run so far.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetTick sets the tick counter, used after a reset.
func (e *Engine) SetTick(t uint64) {
	e.mu.Lock()
	e.tick = t
	e.mu.Unlock()
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero or negative pauses the loop.
func (e *Engine) SetSpeed(s float64) {
	e.mu.Lock()
	e.speed = s
	e.mu.Unlock()
	slog.Info("engine speed changed", "speed", s)
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts the loop. Blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		slog.Info("simulation engine stopped", "tick", humanize.Comma(int64(e.Tick())))
	}()

	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond // Paused: check again shortly.

		if speed > 0 {
			start := time.Now()
			e.Advance()

			// Sleep for the remainder of the tick interval, adjusted for speed.
			wait = time.Duration(float64(e.Interval)/speed) - time.Since(start)
		}

		if wait <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
				continue
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop halts a running loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Rewind runs fn with no tick in flight and restarts the counter at zero
// if fn succeeds. Used to swap in a fresh world.
func (e *Engine) Rewind(fn func() error) error {
	e.step.Lock()
	defer e.step.Unlock()
	if err := fn(); err != nil {
		return err
	}
	e.SetTick(0)
	return nil
}

// Flush reports the current tick unless the last Advance already did.
// Called once on shutdown so the journal ends on the final state.
func (e *Engine) Flush() {
	e.step.Lock()
	defer e.step.Unlock()
	tick := e.Tick()
	if e.OnReport == nil || tick == 0 {
		return
	}
	if e.ReportEvery > 0 && tick%e.ReportEvery == 0 {
		return
	}
	e.OnReport(tick)
}

// Advance runs exactly one tick and its callbacks, regardless of speed.
func (e *Engine) Advance() {
	e.step.Lock()
	defer e.step.Unlock()

	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(tick)
	}
	if e.ReportEvery > 0 && tick%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(tick)
	}
}
