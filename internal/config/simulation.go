// Package config holds the simulation tunables and the process configuration.
package config

import (
	"errors"
	"fmt"
)

// Simulation is the per-run tunables bundle consumed by the world.
// A World copies it at construction and never mutates it.
type Simulation struct {
	World WorldSettings `yaml:"world" toml:"world" json:"world"`
	Agent AgentSettings `yaml:"agent" toml:"agent" json:"agent"`
}

// WorldSettings controls terrain and initial population.
type WorldSettings struct {
	CellEnergyMin      float64 `yaml:"cell_energy_min" toml:"cell_energy_min" json:"cell_energy_min"`             // Minimum site energy at start
	CellEnergyMax      float64 `yaml:"cell_energy_max" toml:"cell_energy_max" json:"cell_energy_max"`             // Maximum site energy at start
	NoiseStep          float64 `yaml:"noise_step" toml:"noise_step" json:"noise_step"`                            // Noise sampling distance between adjacent sites
	NoiseAmplification float64 `yaml:"noise_amplification" toml:"noise_amplification" json:"noise_amplification"` // Multiplier applied before clamping
	Teams              int     `yaml:"teams" toml:"teams" json:"teams"`
	AgentsPerTeam      int     `yaml:"agents_per_team" toml:"agents_per_team" json:"agents_per_team"` // Placement attempts per team

	// Regeneration toward the starting terrain energy. 0 disables it.
	RegenRate      float64 `yaml:"regen_rate" toml:"regen_rate" json:"regen_rate"`
	FertilityScale float64 `yaml:"fertility_scale" toml:"fertility_scale" json:"fertility_scale"`
}

// AgentSettings controls the agent energy economy.
type AgentSettings struct {
	EnergyAtStart                  float64 `yaml:"energy_at_start" toml:"energy_at_start" json:"energy_at_start"`
	EnergyMax                      float64 `yaml:"energy_max" toml:"energy_max" json:"energy_max"`
	EnergyOfCorpse                 float64 `yaml:"energy_of_corpse" toml:"energy_of_corpse" json:"energy_of_corpse"`
	EnergyForChildSpawn            float64 `yaml:"energy_for_child_spawn" toml:"energy_for_child_spawn" json:"energy_for_child_spawn"`
	EnergyConsumptionFromCellSpeed float64 `yaml:"energy_consumption_from_cell_speed" toml:"energy_consumption_from_cell_speed" json:"energy_consumption_from_cell_speed"`
	EnergyForMovement              float64 `yaml:"energy_for_movement" toml:"energy_for_movement" json:"energy_for_movement"`
	EnergyForStabileState          float64 `yaml:"energy_for_stabile_state" toml:"energy_for_stabile_state" json:"energy_for_stabile_state"`
	EnergyForNonStabileState       float64 `yaml:"energy_for_non_stabile_state" toml:"energy_for_non_stabile_state" json:"energy_for_non_stabile_state"`
	NeighboursForStability         int     `yaml:"neighbours_for_stability" toml:"neighbours_for_stability" json:"neighbours_for_stability"`
}

// DefaultSimulation returns the stock tunables.
func DefaultSimulation() Simulation {
	return Simulation{
		World: WorldSettings{
			CellEnergyMin:      5,
			CellEnergyMax:      20,
			NoiseStep:          0.1,
			NoiseAmplification: 8,
			Teams:              4,
			AgentsPerTeam:      10,
			RegenRate:          0,
			FertilityScale:     0.05,
		},
		Agent: AgentSettings{
			EnergyAtStart:                  20,
			EnergyMax:                      200,
			EnergyOfCorpse:                 10,
			EnergyForChildSpawn:            40,
			EnergyConsumptionFromCellSpeed: 2,
			EnergyForMovement:              1,
			EnergyForStabileState:          0.01,
			EnergyForNonStabileState:       0.25,
			NeighboursForStability:         3,
		},
	}
}

// Validate reports every tunable that would break the energy invariants.
func (s Simulation) Validate() error {
	var errs []error
	w, a := s.World, s.Agent

	if w.CellEnergyMin < 0 {
		errs = append(errs, fmt.Errorf("world.cell_energy_min must be >= 0, got %g", w.CellEnergyMin))
	}
	if w.CellEnergyMax < w.CellEnergyMin {
		errs = append(errs, fmt.Errorf("world.cell_energy_max (%g) < cell_energy_min (%g)", w.CellEnergyMax, w.CellEnergyMin))
	}
	if w.Teams < 0 || w.AgentsPerTeam < 0 {
		errs = append(errs, fmt.Errorf("world.teams and agents_per_team must be >= 0"))
	}
	if w.RegenRate < 0 {
		errs = append(errs, fmt.Errorf("world.regen_rate must be >= 0, got %g", w.RegenRate))
	}

	if a.EnergyMax <= 0 {
		errs = append(errs, fmt.Errorf("agent.energy_max must be > 0, got %g", a.EnergyMax))
	}
	nonNeg := map[string]float64{
		"agent.energy_at_start":                    a.EnergyAtStart,
		"agent.energy_of_corpse":                   a.EnergyOfCorpse,
		"agent.energy_for_child_spawn":             a.EnergyForChildSpawn,
		"agent.energy_consumption_from_cell_speed": a.EnergyConsumptionFromCellSpeed,
		"agent.energy_for_movement":                a.EnergyForMovement,
		"agent.energy_for_stabile_state":           a.EnergyForStabileState,
		"agent.energy_for_non_stabile_state":       a.EnergyForNonStabileState,
	}
	for _, name := range sortedKeys(nonNeg) {
		if nonNeg[name] < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %g", name, nonNeg[name]))
		}
	}
	if a.NeighboursForStability < 0 {
		errs = append(errs, fmt.Errorf("agent.neighbours_for_stability must be >= 0"))
	}

	return errors.Join(errs...)
}
