package world

import "sort"

// Census is an aggregate snapshot of the world.
type Census struct {
	Tick          uint64      `json:"tick"`
	Population    int         `json:"population"`
	Teams         map[int]int `json:"teams"` // team → living agents
	AgentEnergy   float64     `json:"agent_energy"`
	SiteEnergy    float64     `json:"site_energy"`
	MaxGeneration int         `json:"max_generation"`
}

// TeamIDs returns the teams present in the census, ascending.
func (c Census) TeamIDs() []int {
	ids := make([]int, 0, len(c.Teams))
	for id := range c.Teams {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// TotalEnergy returns agent plus site energy.
func (c Census) TotalEnergy() float64 {
	return c.AgentEnergy + c.SiteEnergy
}

// Census counts agents and sums energy across every site.
func (w *World) Census() Census {
	c := Census{
		Tick:  w.tick,
		Teams: make(map[int]int),
	}
	w.sites.Each(func(_, _ int, s *Site) {
		c.SiteEnergy += s.energy
		a := s.occupant
		if a == nil {
			return
		}
		c.Population++
		c.Teams[a.team]++
		c.AgentEnergy += a.energy
		if a.generation > c.MaxGeneration {
			c.MaxGeneration = a.generation
		}
	})
	return c
}
