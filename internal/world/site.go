package world

import "fmt"

// Site is one grid cell: an energy reserve and at most one agent.
type Site struct {
	x, y     int
	energy   float64
	occupant *Agent

	capacity  float64 // Starting terrain energy, the regrowth ceiling
	fertility float64 // 0.0–1.0 regrowth multiplier
}

func newSite(x, y int) *Site {
	return &Site{x: x, y: y}
}

// X returns the site column.
func (s *Site) X() int { return s.x }

// Y returns the site row.
func (s *Site) Y() int { return s.y }

// Energy returns the site's energy reserve.
func (s *Site) Energy() float64 { return s.energy }

// Capacity returns the energy the site started with.
func (s *Site) Capacity() float64 { return s.capacity }

// Fertility returns the site's regrowth multiplier.
func (s *Site) Fertility() float64 { return s.fertility }

// Occupant returns the agent on the site, or nil.
func (s *Site) Occupant() *Agent { return s.occupant }

// String returns a summary of the site.
func (s *Site) String() string {
	if s.occupant != nil {
		return fmt.Sprintf("Site(%d,%d energy=%.2f team=%d)", s.x, s.y, s.energy, s.occupant.team)
	}
	return fmt.Sprintf("Site(%d,%d energy=%.2f)", s.x, s.y, s.energy)
}

// setEnergy writes the reserve, never below zero.
func (s *Site) setEnergy(e float64) {
	if e < 0 {
		e = 0
	}
	s.energy = e
}

// setOccupant binds a to the site. A previous occupant is unplaced first.
func (s *Site) setOccupant(a *Agent) {
	if s.occupant != nil && s.occupant != a {
		s.occupant.unplace()
	}
	s.occupant = a
	if a != nil {
		a.x, a.y = s.x, s.y
	}
}

// clearOccupant removes and unplaces the current occupant.
func (s *Site) clearOccupant() {
	s.setOccupant(nil)
}

// update runs the occupant's turn, or turns a dead occupant into site energy.
func (s *Site) update(w *World, stats *StepStats) {
	a := s.occupant
	if a == nil {
		return
	}
	if a.energy > 0 {
		a.update(w, stats)
		return
	}
	s.setEnergy(s.energy + w.settings.Agent.EnergyOfCorpse)
	s.clearOccupant()
	stats.Deaths++
}
