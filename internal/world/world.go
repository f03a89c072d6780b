// Package world provides the site grid, agents, and the per-step update.
// A World is single-threaded: callers must serialize Step, Spawn and reads.
package world

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/talgya/lifesim/internal/config"
	"github.com/talgya/lifesim/internal/grid"
	"github.com/talgya/lifesim/internal/noise"
)

var (
	// ErrInvalidDimension is returned by New for a width or height below 1.
	ErrInvalidDimension = grid.ErrInvalidDimension

	// ErrOutOfBounds is returned for site access outside the grid.
	ErrOutOfBounds = grid.ErrOutOfBounds

	// ErrOccupied is returned by Spawn when the target site already has an agent.
	ErrOccupied = errors.New("site occupied")
)

// World owns the sites, the shared random stream, and the tunables for one run.
type World struct {
	seed     int64
	settings config.Simulation
	rng      *rand.Rand
	noise    *noise.Generator
	sites    *grid.Grid[*Site]
	tick     uint64
}

// StepStats counts what happened during one Step.
type StepStats struct {
	Births     int `json:"births"`
	Deaths     int `json:"deaths"`
	Moves      int `json:"moves"`
	Crowded    int `json:"crowded"` // Reproduction attempts with no free neighbour
	Stabilised int `json:"stabilised"`
}

// Add accumulates o into s.
func (s *StepStats) Add(o StepStats) {
	s.Births += o.Births
	s.Deaths += o.Deaths
	s.Moves += o.Moves
	s.Crowded += o.Crowded
	s.Stabilised += o.Stabilised
}

// New builds a width × height world, lays down terrain energy from seed,
// and seeds the initial population.
func New(width, height int, seed int64, settings config.Simulation) (*World, error) {
	sites, err := grid.New(width, height, newSite)
	if err != nil {
		return nil, fmt.Errorf("new world: %w", err)
	}

	w := &World{
		seed:     seed,
		settings: settings,
		rng:      rand.New(rand.NewSource(seed)),
		noise:    noise.New(seed),
		sites:    sites,
	}

	w.initTerrain()
	w.initAgents()
	return w, nil
}

// Width returns the number of columns.
func (w *World) Width() int { return w.sites.Width() }

// Height returns the number of rows.
func (w *World) Height() int { return w.sites.Height() }

// Seed returns the seed the world was built from.
func (w *World) Seed() int64 { return w.seed }

// Tick returns the number of completed steps.
func (w *World) Tick() uint64 { return w.tick }

// Settings returns the tunables this world runs with.
func (w *World) Settings() config.Simulation { return w.settings }

// SiteAt returns the site at (x, y), or ErrOutOfBounds.
func (w *World) SiteAt(x, y int) (*Site, error) {
	return w.sites.At(x, y)
}

// EachSite calls fn for every site in traversal order.
func (w *World) EachSite(fn func(s *Site)) {
	w.sites.Each(func(_, _ int, s *Site) { fn(s) })
}

// Step advances the simulation by one tick. Sites are updated in place in
// grid order; an agent moved onto a site later in the pass may be updated
// again in the same step.
func (w *World) Step() StepStats {
	var stats StepStats
	w.sites.Each(func(_, _ int, s *Site) {
		s.update(w, &stats)
	})
	w.regenerate()
	w.tick++
	return stats
}

// Spawn places a new generation-0 agent of team on the empty site (x, y).
func (w *World) Spawn(x, y, team int, energy float64) (*Agent, error) {
	site, err := w.SiteAt(x, y)
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	if site.occupant != nil {
		return nil, fmt.Errorf("spawn at (%d,%d): %w", x, y, ErrOccupied)
	}
	a := newAgent(team, 0, w.settings.Agent.EnergyMax)
	a.setEnergy(energy)
	site.setOccupant(a)
	return a, nil
}

// site resolves coordinates to a site, or nil outside the grid.
func (w *World) site(x, y int) *Site {
	s, err := w.sites.At(x, y)
	if err != nil {
		return nil
	}
	return s
}

// initAgents scatters the starting population. Each draw that lands on an
// occupied site is dropped, so small or crowded grids get fewer agents.
func (w *World) initAgents() {
	ws, as := w.settings.World, w.settings.Agent
	for i := 0; i < ws.AgentsPerTeam; i++ {
		for team := 0; team < ws.Teams; team++ {
			s := w.randomSite()
			if s.occupant != nil {
				continue
			}
			a := newAgent(team, 0, as.EnergyMax)
			a.setEnergy(as.EnergyAtStart)
			s.setOccupant(a)
		}
	}
}

func (w *World) randomSite() *Site {
	x := w.rng.Intn(w.Width())
	y := w.rng.Intn(w.Height())
	return w.site(x, y)
}
