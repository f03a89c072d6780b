// Terrain energy from layered noise.
// The gradient field sets each site's starting energy; an independent
// simplex field sets how fast a depleted site grows back toward it.
package world

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Fertility field parameters. The seed offset keeps it independent of the
// terrain field.
const (
	fertilitySeedOffset  = 1
	fertilityOctaves     = 3
	fertilityPersistence = 0.5
)

// initTerrain assigns every site its starting energy and regrowth profile.
func (w *World) initTerrain() {
	ws := w.settings.World
	fertility := opensimplex.NewNormalized(w.seed + fertilitySeedOffset)

	w.sites.Each(func(x, y int, s *Site) {
		n := w.noise.Noise(float64(x)*ws.NoiseStep, float64(y)*ws.NoiseStep)
		e := clamp(n*ws.NoiseAmplification*ws.CellEnergyMax, ws.CellEnergyMin, ws.CellEnergyMax)
		s.setEnergy(e)
		s.capacity = e
		s.fertility = octaveNoise(fertility, float64(x), float64(y),
			fertilityOctaves, ws.FertilityScale, fertilityPersistence)
	})
}

// regenerate lets depleted sites regrow toward their starting energy.
// Disabled when RegenRate is 0.
func (w *World) regenerate() {
	rate := w.settings.World.RegenRate
	if rate <= 0 {
		return
	}
	w.sites.Each(func(_, _ int, s *Site) {
		if s.energy >= s.capacity {
			return
		}
		e := s.energy + rate*s.fertility
		if e > s.capacity {
			e = s.capacity
		}
		s.setEnergy(e)
	})
}

// octaveNoise layers octaves of doubling frequency. The result stays in the
// source noise's range.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
