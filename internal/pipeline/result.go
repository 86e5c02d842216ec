package pipeline

import (
	"fmt"
	"strings"

	"github.com/pacific-data/tilepress/internal/raster"
)

// Result is a transform's output: a set of 2-D grids labeled along up to two
// non-spatial dimensions, time and variable. An absent dimension has no
// labels. Layers are stored time-major.
type Result struct {
	TimeLabels     []string
	VariableLabels []string
	grids          []*raster.Grid
}

// NewResult builds a labeled result. The grid count must equal the product
// of the dimension sizes (absent dimensions count as one).
func NewResult(timeLabels, variableLabels []string, grids []*raster.Grid) (*Result, error) {
	want := dimSize(timeLabels) * dimSize(variableLabels)
	if len(grids) != want {
		return nil, fmt.Errorf("result has %d grids for %d (time) x %d (variable) labels",
			len(grids), dimSize(timeLabels), dimSize(variableLabels))
	}
	for i, g := range grids {
		if g == nil {
			return nil, fmt.Errorf("result grid %d is nil", i)
		}
	}
	return &Result{TimeLabels: timeLabels, VariableLabels: variableLabels, grids: grids}, nil
}

// NewResult2D wraps a single unlabeled grid.
func NewResult2D(g *raster.Grid) *Result {
	return &Result{grids: []*raster.Grid{g}}
}

func dimSize(labels []string) int {
	if len(labels) == 0 {
		return 1
	}
	return len(labels)
}

// Grid returns the layer at (time index, variable index); absent dimensions
// use index 0.
func (r *Result) Grid(ti, vi int) *raster.Grid {
	return r.grids[ti*dimSize(r.VariableLabels)+vi]
}

// Layers returns the number of 2-D grids.
func (r *Result) Layers() int { return len(r.grids) }

// Squeeze drops non-spatial dimensions of length one, so a transform that
// returns one year's worth of one variable decomposes to a single plain
// artifact.
func (r *Result) Squeeze() {
	if len(r.TimeLabels) == 1 {
		r.TimeLabels = nil
	}
	if len(r.VariableLabels) == 1 {
		r.VariableLabels = nil
	}
}

// SplitOptions select how labeled dimensions decompose into artifacts.
type SplitOptions struct {
	// ByTime routes the time label into the artifact's year path component.
	ByTime bool
	// ByVariable routes the variable label into the artifact's file name.
	ByVariable bool
}

// Artifact is one write-ready 2-D raster with its naming inputs. Empty Year
// and Variable fall back to the path resolver's defaults.
type Artifact struct {
	Grid     *raster.Grid
	Year     string
	Variable string
}

// Decompose flattens a result into strictly 2-D artifacts. Split dimensions
// contribute their label to the artifact's year or variable; labels of
// unsplit dimensions are concatenated (time first) into the variable name so
// that every layer still gets a distinct path.
func Decompose(r *Result, opts SplitOptions) []Artifact {
	out := make([]Artifact, 0, r.Layers())
	for ti := 0; ti < dimSize(r.TimeLabels); ti++ {
		for vi := 0; vi < dimSize(r.VariableLabels); vi++ {
			a := Artifact{Grid: r.Grid(ti, vi)}
			var flat []string
			if len(r.TimeLabels) > 0 {
				if opts.ByTime {
					a.Year = r.TimeLabels[ti]
				} else {
					flat = append(flat, r.TimeLabels[ti])
				}
			}
			if len(r.VariableLabels) > 0 {
				if opts.ByVariable {
					a.Variable = r.VariableLabels[vi]
				} else {
					flat = append(flat, r.VariableLabels[vi])
				}
			}
			if len(flat) > 0 {
				if a.Variable != "" {
					flat = append(flat, a.Variable)
				}
				a.Variable = strings.Join(flat, "_")
			}
			out = append(out, a)
		}
	}
	return out
}
