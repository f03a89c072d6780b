// Agent behavior: stability, metabolism, reproduction and movement.
// Every step a living agent pays its upkeep, then either spawns a child
// or, if it is not part of a stable group, moves to a richer neighbour.
package world

import "fmt"

// Unplaced is the coordinate held by an agent that owns no site.
const Unplaced = -1

// mooreNeighborhood lists the eight neighbour offsets, clockwise from up.
var mooreNeighborhood = [8][2]int{
	{0, -1},  // up
	{1, -1},  // up right
	{1, 0},   // right
	{1, 1},   // down right
	{0, 1},   // down
	{-1, 1},  // down left
	{-1, 0},  // left
	{-1, -1}, // up left
}

// Agent is a living unit. It refers to its site only by coordinates,
// resolved through the World when needed.
type Agent struct {
	team       int
	generation int
	energy     float64
	energyMax  float64
	x, y       int
}

func newAgent(team, generation int, energyMax float64) *Agent {
	return &Agent{
		team:       team,
		generation: generation,
		energyMax:  energyMax,
		x:          Unplaced,
		y:          Unplaced,
	}
}

// Team returns the agent's team.
func (a *Agent) Team() int { return a.team }

// Generation returns 0 for the initial population, parent+1 for children.
func (a *Agent) Generation() int { return a.generation }

// Energy returns the current energy, always in [0, EnergyMax].
func (a *Agent) Energy() float64 { return a.energy }

// EnergyFraction returns energy / EnergyMax.
func (a *Agent) EnergyFraction() float64 {
	if a.energyMax <= 0 {
		return 0
	}
	return a.energy / a.energyMax
}

// Position returns the coordinates of the owning site, or (-1, -1).
func (a *Agent) Position() (x, y int) { return a.x, a.y }

// Placed reports whether the agent currently owns a site.
func (a *Agent) Placed() bool { return a.x != Unplaced && a.y != Unplaced }

// Alive reports whether the agent still has energy to act on its next turn.
func (a *Agent) Alive() bool { return a.energy > 0 }

// String returns a summary of the agent.
func (a *Agent) String() string {
	return fmt.Sprintf("Agent(team=%d gen=%d energy=%.2f at %d,%d)", a.team, a.generation, a.energy, a.x, a.y)
}

func (a *Agent) setEnergy(e float64) {
	if e < 0 {
		e = 0
	}
	if e > a.energyMax {
		e = a.energyMax
	}
	a.energy = e
}

func (a *Agent) unplace() {
	a.x, a.y = Unplaced, Unplaced
}

// update runs one turn. w supplies the grid, the shared random stream and
// the tunables.
func (a *Agent) update(w *World, stats *StepStats) {
	cfg := w.settings.Agent

	stable := a.sameTeamNeighbors(w) >= cfg.NeighboursForStability
	if stable {
		stats.Stabilised++
		a.setEnergy(a.energy - cfg.EnergyForStabileState)
	} else {
		a.setEnergy(a.energy - cfg.EnergyForNonStabileState)
	}

	if a.energy >= cfg.EnergyForChildSpawn {
		if a.spawnChild(w) {
			stats.Births++
		} else {
			stats.Crowded++
		}
		return
	}

	if !stable && a.energy >= cfg.EnergyForMovement {
		if a.move(w) {
			stats.Moves++
		}
	}
}

// sameTeamNeighbors counts in-bounds neighbours holding an agent of the same team.
func (a *Agent) sameTeamNeighbors(w *World) int {
	n := 0
	for _, d := range mooreNeighborhood {
		s := w.site(a.x+d[0], a.y+d[1])
		if s != nil && s.occupant != nil && s.occupant.team == a.team {
			n++
		}
	}
	return n
}

// freeNeighbors returns the in-bounds neighbouring sites with no occupant.
func (a *Agent) freeNeighbors(w *World) []*Site {
	var free []*Site
	for _, d := range mooreNeighborhood {
		s := w.site(a.x+d[0], a.y+d[1])
		if s != nil && s.occupant == nil {
			free = append(free, s)
		}
	}
	return free
}

// spawnChild places a child on the richest free neighbour and hands it half
// the parent's energy. Returns false when no neighbour is free.
func (a *Agent) spawnChild(w *World) bool {
	dest := w.selectDestination(a.freeNeighbors(w))
	if dest == nil {
		return false
	}

	child := newAgent(a.team, a.generation+1, a.energyMax)
	dest.setOccupant(child)

	half := a.energy / 2
	child.setEnergy(half)
	a.setEnergy(a.energy - half)

	child.drain(dest, w.settings.Agent.EnergyConsumptionFromCellSpeed)
	return true
}

// move relocates the agent to the richest free neighbour. The movement
// cost is only paid when a destination exists.
func (a *Agent) move(w *World) bool {
	free := a.freeNeighbors(w)
	if len(free) == 0 {
		return false
	}
	cfg := w.settings.Agent
	a.setEnergy(a.energy - cfg.EnergyForMovement)

	dest := w.selectDestination(free)
	if from := w.site(a.x, a.y); from != nil {
		from.clearOccupant()
	}
	dest.setOccupant(a)

	a.drain(dest, cfg.EnergyConsumptionFromCellSpeed)
	return true
}

// drain takes up to speed energy from s.
func (a *Agent) drain(s *Site, speed float64) {
	gain := speed
	if s.energy < gain {
		gain = s.energy
	}
	s.setEnergy(s.energy - gain)
	a.setEnergy(a.energy + gain)
}

// selectDestination shuffles candidates with the shared stream and returns
// the first one with the most energy, so ties are broken uniformly at
// random. Returns nil for an empty list.
func (w *World) selectDestination(candidates []*Site) *Site {
	if len(candidates) == 0 {
		return nil
	}
	shuffled := make([]*Site, len(candidates))
	copy(shuffled, candidates)
	w.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	best := shuffled[0]
	for _, s := range shuffled[1:] {
		if s.energy > best.energy {
			best = s
		}
	}
	return best
}
