// Package noise provides seeded 2D gradient noise used to lay down terrain energy.
package noise

import (
	"math"
	"math/rand"
)

// TableSize is the length of the permutation and gradient tables.
const TableSize = 256

// Vec2 is a 2D gradient vector.
type Vec2 struct {
	X, Y float64
}

// Generator evaluates a smooth 2D noise field derived entirely from a seed.
// The zero value is not usable; construct with New.
type Generator struct {
	seed        int64
	permutation [TableSize]int
	gradients   [TableSize]Vec2
}

// New creates a generator seeded with seed.
func New(seed int64) *Generator {
	g := &Generator{}
	g.Reseed(seed)
	return g
}

// Seed returns the seed the tables were last derived from.
func (g *Generator) Seed() int64 {
	return g.seed
}

// Reseed rebuilds the permutation and gradient tables from seed.
// Both tables come from one stream: permutation first, then gradients.
func (g *Generator) Reseed(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	g.seed = seed

	for i := range g.permutation {
		g.permutation[i] = i
	}
	for i := range g.permutation {
		j := rng.Intn(TableSize)
		g.permutation[i], g.permutation[j] = g.permutation[j], g.permutation[i]
	}

	for i := range g.gradients {
		var v Vec2
		for {
			v = Vec2{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1}
			l2 := v.X*v.X + v.Y*v.Y
			if l2 > 0 && l2 < 1 {
				break
			}
		}
		l := math.Hypot(v.X, v.Y)
		g.gradients[i] = Vec2{X: v.X / l, Y: v.Y / l}
	}
}

// Gradient returns the gradient stored at table index i (mod TableSize).
func (g *Generator) Gradient(i int) Vec2 {
	return g.gradients[wrap(i)]
}

// Noise samples the field at (x, y). The result is in [-1, 1] and is 0 at
// every integer lattice point.
func (g *Generator) Noise(x, y float64) float64 {
	cx := math.Floor(x)
	cy := math.Floor(y)

	total := 0.0
	for _, corner := range [4][2]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		ix := cx + corner[0]
		iy := cy + corner[1]
		u := x - ix
		v := y - iy

		h := g.permutation[wrap(int(ix))]
		h = g.permutation[wrap(h+int(iy))]
		grad := g.gradients[h]

		total += falloff(u) * falloff(v) * (grad.X*u + grad.Y*v)
	}

	return clamp(total, -1, 1)
}

// falloff is the quintic kernel 1 - |t|³(|t|(6|t|-15)+10); 1 at t=0, 0 at |t|=1.
func falloff(t float64) float64 {
	t = math.Abs(t)
	return 1 - t*t*t*(t*(t*6-15)+10)
}

func wrap(i int) int {
	i %= TableSize
	if i < 0 {
		i += TableSize
	}
	return i
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
