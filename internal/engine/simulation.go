// Simulation wraps the current World and serializes every access to it.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/lifesim/internal/config"
	"github.com/talgya/lifesim/internal/entropy"
	"github.com/talgya/lifesim/internal/world"
)

// RunInfo identifies one world lifetime, from construction to the next reset.
type RunInfo struct {
	ID        string    `json:"id"`
	Seed      int64     `json:"seed"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	StartedAt time.Time `json:"started_at"`
}

// Report is a census taken every ReportEvery ticks, plus the step counters
// accumulated since the previous report.
type Report struct {
	RunID string `json:"run_id"`
	world.Census
	Activity world.StepStats `json:"activity"`
}

// Simulation holds the active world. All methods are safe for concurrent use;
// the world itself still advances strictly one step at a time.
type Simulation struct {
	mu       sync.RWMutex
	world    *world.World
	settings config.Simulation
	run      RunInfo

	pending world.StepStats // Activity since last report
	reports []Report        // Oldest first
	history int

	subs    map[int]chan Report
	nextSub int

	// OnReset is called with the new run after every successful Reset.
	OnReset func(run RunInfo)
}

// NewSimulation builds the first world. A zero seed picks a random one.
func NewSimulation(width, height int, seed int64, settings config.Simulation, history int) (*Simulation, error) {
	if history < 1 {
		history = 1
	}
	s := &Simulation{settings: settings, history: history}
	if err := s.installLocked(width, height, seed); err != nil {
		return nil, err
	}
	return s, nil
}

// Run returns the current run's identity.
func (s *Simulation) Run() RunInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// Tick returns the current world's completed step count.
func (s *Simulation) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Tick()
}

// Settings returns the tunables every world of this simulation uses.
func (s *Simulation) Settings() config.Simulation {
	return s.settings
}

// Step advances the world by one step.
func (s *Simulation) Step() world.StepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.world.Step()
	s.pending.Add(st)
	return st
}

// Reset replaces the world with a fresh one of the same size.
func (s *Simulation) Reset(seed int64) (RunInfo, error) {
	s.mu.Lock()
	w, h := s.world.Width(), s.world.Height()
	err := s.installLocked(w, h, seed)
	run := s.run
	hook := s.OnReset
	s.mu.Unlock()

	if err != nil {
		return RunInfo{}, err
	}
	slog.Info("simulation reset", "run", run.ID, "seed", run.Seed, "width", w, "height", h)
	if hook != nil {
		hook(run)
	}
	return run, nil
}

// Spawn places an agent on an empty site.
func (s *Simulation) Spawn(x, y, team int, energy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.world.Spawn(x, y, team, energy)
	return err
}

// Census returns aggregate counts for the current world.
func (s *Simulation) Census() world.Census {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Census()
}

// Report takes a census, folds in the pending activity, and appends it to
// the in-memory history.
func (s *Simulation) Report() Report {
	s.mu.Lock()
	r := Report{
		RunID:    s.run.ID,
		Census:   s.world.Census(),
		Activity: s.pending,
	}
	s.pending = world.StepStats{}
	s.reports = append(s.reports, r)
	if len(s.reports) > s.history {
		s.reports = s.reports[len(s.reports)-s.history:]
	}
	for _, ch := range s.subs {
		select {
		case ch <- r:
		default: // Slow subscriber; it misses this report.
		}
	}
	s.mu.Unlock()

	attrs := []any{
		"run", r.RunID,
		"tick", humanize.Comma(int64(r.Tick)),
		"population", r.Population,
		"births", r.Activity.Births,
		"deaths", r.Activity.Deaths,
		"moves", r.Activity.Moves,
		"max_generation", r.MaxGeneration,
		"agent_energy", fmt.Sprintf("%.1f", r.AgentEnergy),
		"site_energy", fmt.Sprintf("%.1f", r.SiteEnergy),
	}
	for _, team := range r.TeamIDs() {
		attrs = append(attrs, fmt.Sprintf("team_%d", team), r.Teams[team])
	}
	slog.Info("step report", attrs...)
	return r
}

// Reports returns up to limit recent reports, oldest first.
func (s *Simulation) Reports(limit int) []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.reports) > limit {
		start = len(s.reports) - limit
	}
	out := make([]Report, len(s.reports)-start)
	copy(out, s.reports[start:])
	return out
}

// Subscribe returns a channel that receives every subsequent report.
// Call Unsubscribe with the returned id when done.
func (s *Simulation) Subscribe() (int, <-chan Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan Report)
	}
	s.nextSub++
	ch := make(chan Report, 16)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

// Unsubscribe closes and removes a subscription.
func (s *Simulation) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Simulation) installLocked(width, height int, seed int64) error {
	seed = entropy.Resolve(seed)
	w, err := world.New(width, height, seed, s.settings)
	if err != nil {
		return fmt.Errorf("install world: %w", err)
	}
	s.world = w
	s.run = RunInfo{
		ID:        uuid.NewString(),
		Seed:      seed,
		Width:     width,
		Height:    height,
		StartedAt: time.Now().UTC(),
	}
	s.pending = world.StepStats{}
	s.reports = nil
	return nil
}
