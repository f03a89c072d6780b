// Package grid provides a generic rectangular cell container.
// Cells are built once by a factory callback and enumerated row-major.
package grid

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDimension is returned when a grid is constructed with a
	// width or height below 1.
	ErrInvalidDimension = errors.New("invalid grid dimension")

	// ErrOutOfBounds is returned for coordinate access outside the grid.
	ErrOutOfBounds = errors.New("coordinates out of bounds")
)

// Point is a cell coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Grid holds Width × Height cells of type T in row-major order.
type Grid[T any] struct {
	width  int
	height int
	cells  []T
}

// New builds a grid, calling factory exactly once per coordinate in
// enumeration order (y outer, x inner).
func New[T any](width, height int, factory func(x, y int) T) (*Grid[T], error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}

	g := &Grid[T]{
		width:  width,
		height: height,
		cells:  make([]T, width*height),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.cells[g.index(x, y)] = factory(x, y)
		}
	}
	return g, nil
}

// Width returns the number of columns.
func (g *Grid[T]) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid[T]) Height() int { return g.height }

// Len returns the total number of cells.
func (g *Grid[T]) Len() int { return len(g.cells) }

// InBounds reports whether (x, y) lies inside the grid.
func (g *Grid[T]) InBounds(x, y int) bool {
	return x >= 0 && x < g.width && y >= 0 && y < g.height
}

// At returns the cell at (x, y), or ErrOutOfBounds.
func (g *Grid[T]) At(x, y int) (T, error) {
	if !g.InBounds(x, y) {
		var zero T
		return zero, fmt.Errorf("%w: (%d,%d) in %dx%d", ErrOutOfBounds, x, y, g.width, g.height)
	}
	return g.cells[g.index(x, y)], nil
}

// Each calls fn for every cell, left to right, top to bottom.
func (g *Grid[T]) Each(fn func(x, y int, cell T)) {
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			fn(x, y, g.cells[g.index(x, y)])
		}
	}
}

// String returns a summary of the grid.
func (g *Grid[T]) String() string {
	return fmt.Sprintf("Grid(%dx%d)", g.width, g.height)
}

func (g *Grid[T]) index(x, y int) int {
	return y*g.width + x
}
