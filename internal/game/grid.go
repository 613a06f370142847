package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// WallThickness in pixels.
const WallThickness = 4.0

// probability that an interior cell edge carries a wall
const wallDensity = 0.35

// Rect is an axis-aligned rectangle; X and Y are its top-left corner.
type Rect struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	W float64 `msgpack:"w"`
	H float64 `msgpack:"h"`
}

// Intersects reports whether r and o overlap with positive area. Touching
// edges do not count.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W &&
		r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Grid is the maze the tractors drive in.
type Grid struct {
	Cols            int     `msgpack:"cols"`
	Rows            int     `msgpack:"rows"`
	CellW           float64 `msgpack:"cell_w"`
	CellH           float64 `msgpack:"cell_h"`
	HorizontalWalls []Rect  `msgpack:"h_walls"`
	VerticalWalls   []Rect  `msgpack:"v_walls"`
}

// NewGrid generates a cols x rows maze filling the playing field. The same
// seed always yields the same walls. The outer border is always closed.
func NewGrid(cols, rows int, seed int64) (*Grid, error) {
	if cols < 1 || rows < 1 {
		return nil, fmt.Errorf("grid needs at least one cell, got %dx%d", cols, rows)
	}

	g := &Grid{
		Cols:  cols,
		Rows:  rows,
		CellW: float64(FieldWidth) / float64(cols),
		CellH: float64(FieldHeight) / float64(rows),
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(cols*rows)))

	// Horizontal walls sit on row boundaries 0..rows.
	for r := 0; r <= rows; r++ {
		for c := 0; c < cols; c++ {
			border := r == 0 || r == rows
			if border || rng.Float64() < wallDensity {
				g.HorizontalWalls = append(g.HorizontalWalls, Rect{
					X: float64(c) * g.CellW,
					Y: float64(r)*g.CellH - WallThickness/2,
					W: g.CellW,
					H: WallThickness,
				})
			}
		}
	}
	// Vertical walls sit on column boundaries 0..cols.
	for c := 0; c <= cols; c++ {
		for r := 0; r < rows; r++ {
			border := c == 0 || c == cols
			if border || rng.Float64() < wallDensity {
				g.VerticalWalls = append(g.VerticalWalls, Rect{
					X: float64(c)*g.CellW - WallThickness/2,
					Y: float64(r) * g.CellH,
					W: WallThickness,
					H: g.CellH,
				})
			}
		}
	}
	return g, nil
}

// Validate checks the grid dimensions.
func (g *Grid) Validate() error {
	if g.Cols < 1 || g.Rows < 1 {
		return errors.New("grid has no cells")
	}
	if g.CellW <= 0 || g.CellH <= 0 {
		return errors.New("grid cells have no size")
	}
	return nil
}

// CellCentre returns the pixel centre of cell (col, row).
func (g *Grid) CellCentre(col, row int) (float64, float64) {
	return (float64(col) + 0.5) * g.CellW, (float64(row) + 0.5) * g.CellH
}

// CollidesHorizontal reports whether r overlaps a horizontal wall.
func (g *Grid) CollidesHorizontal(r Rect) bool {
	for _, w := range g.HorizontalWalls {
		if w.Intersects(r) {
			return true
		}
	}
	return false
}

// CollidesVertical reports whether r overlaps a vertical wall.
func (g *Grid) CollidesVertical(r Rect) bool {
	for _, w := range g.VerticalWalls {
		if w.Intersects(r) {
			return true
		}
	}
	return false
}

// Collides reports whether a tractor at p touches any wall.
func (g *Grid) Collides(p Pose) bool {
	b := p.Bounds()
	return g.CollidesHorizontal(b) || g.CollidesVertical(b)
}
