package engine

import (
	"github.com/talgya/lifesim/internal/world"
)

// CellView is a read-only copy of one site, the unit a renderer draws.
type CellView struct {
	X              int     `json:"x"`
	Y              int     `json:"y"`
	Energy         float64 `json:"energy"`
	EnergyFraction float64 `json:"energy_fraction"` // Site energy / CellEnergyMax
	Occupied       bool    `json:"occupied"`
	Team           int     `json:"team"`
	Generation     int     `json:"generation,omitempty"`
	AgentEnergy    float64 `json:"agent_energy,omitempty"`
	AgentFraction  float64 `json:"agent_fraction,omitempty"` // Agent energy / EnergyMax
}

// View is a consistent copy of the whole grid at one tick.
type View struct {
	RunID  string     `json:"run_id"`
	Tick   uint64     `json:"tick"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Cells  []CellView `json:"cells"` // Row-major
}

// View copies every site under a read lock.
func (s *Simulation) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := s.world
	v := View{
		RunID:  s.run.ID,
		Tick:   w.Tick(),
		Width:  w.Width(),
		Height: w.Height(),
		Cells:  make([]CellView, 0, w.Width()*w.Height()),
	}
	cellMax := s.settings.World.CellEnergyMax
	w.EachSite(func(site *world.Site) {
		v.Cells = append(v.Cells, cellView(site, cellMax))
	})
	return v
}

// Cell copies one site, or returns world.ErrOutOfBounds.
func (s *Simulation) Cell(x, y int) (CellView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, err := s.world.SiteAt(x, y)
	if err != nil {
		return CellView{}, err
	}
	return cellView(site, s.settings.World.CellEnergyMax), nil
}

func cellView(site *world.Site, cellMax float64) CellView {
	c := CellView{
		X:      site.X(),
		Y:      site.Y(),
		Energy: site.Energy(),
	}
	if cellMax > 0 {
		c.EnergyFraction = clamp01(site.Energy() / cellMax)
	}
	if a := site.Occupant(); a != nil {
		c.Occupied = true
		c.Team = a.Team()
		c.Generation = a.Generation()
		c.AgentEnergy = a.Energy()
		c.AgentFraction = a.EnergyFraction()
	}
	return c
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
