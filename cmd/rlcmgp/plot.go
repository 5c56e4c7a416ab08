package main

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// fieldGrid exposes a 2-D field stored first-axis-fastest as a plotter.GridXYZ.
type fieldGrid struct {
	shape        [2]int
	lower, upper [2]float64
	z            []float64
}

func (g fieldGrid) Dims() (c, r int) { return g.shape[0], g.shape[1] }

func (g fieldGrid) Z(c, r int) float64 { return g.z[c+g.shape[0]*r] }

func (g fieldGrid) X(c int) float64 { return g.coord(0, c) }

func (g fieldGrid) Y(r int) float64 { return g.coord(1, r) }

func (g fieldGrid) coord(axis, k int) float64 {
	if g.shape[axis] == 1 {
		return g.lower[axis]
	}
	return g.lower[axis] + (g.upper[axis]-g.lower[axis])*float64(k)/float64(g.shape[axis]-1)
}

// plotField renders a 2-D field as a heat map PNG.
func plotField(path, title string, shape []int, lower, upper, z []float64) error {
	if len(shape) != 2 {
		return fmt.Errorf("heat map needs a 2-D field, got %d-D", len(shape))
	}
	g := fieldGrid{
		shape: [2]int{shape[0], shape[1]},
		lower: [2]float64{lower[0], lower[1]},
		upper: [2]float64{upper[0], upper[1]},
		z:     z,
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x1"
	p.Y.Label.Text = "x2"
	p.Add(plotter.NewHeatMap(g, palette.Heat(16, 1)))
	return p.Save(6*vg.Inch, 5*vg.Inch, path)
}
