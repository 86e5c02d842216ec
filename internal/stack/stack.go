// Package stack assembles a scene collection into the per-tile image stack
// the pipeline computes on: one grid per (band, acquisition), all on a shared
// pixel frame in the working coordinate system. Assembly is split into a plan
// of independent chunk reads and a materialization step that runs the plan on
// a worker pool, so the expensive reads are scheduled rather than performed
// while planning.
package stack

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/raster"
)

// ErrNoCoverage signals that a tile has no scenes for the period, or that no
// pixel of the tile frame falls inside its geometry. Callers skip the tile.
var ErrNoCoverage = errors.New("stack: no coverage for tile")

// Stack is the materialized per-tile array: for every band, one grid per
// acquisition time, all sharing the same frame. It is created and consumed
// within a single tile's processing scope.
type Stack struct {
	Bands    []string
	Times    []time.Time
	SceneIDs []string

	Width  int
	Height int
	Bounds geo.BBox
	CRS    string

	grids map[string][]*raster.Grid
}

// NumTimes returns the temporal depth of the stack.
func (s *Stack) NumTimes() int { return len(s.Times) }

// Grid returns the grid for one band and time index, or nil when the band is
// unknown.
func (s *Stack) Grid(band string, t int) *raster.Grid {
	g, ok := s.grids[band]
	if !ok {
		return nil
	}
	return g[t]
}

// HasBand reports whether the stack carries the named band.
func (s *Stack) HasBand(band string) bool {
	_, ok := s.grids[band]
	return ok
}

// setNodataAt clears one pixel across every band at one time index.
func (s *Stack) setNodataAt(t, row, col int) {
	for _, band := range s.Bands {
		g := s.grids[band][t]
		g.Set(row, col, math.NaN())
	}
}

// Frame returns the pixel-to-world transform shared by every grid.
func (s *Stack) Frame() geo.Transform {
	return geo.TransformFor(s.Bounds, s.Width, s.Height)
}

func newStack(scenes sceneInfo, bands []string, w, h int, bounds geo.BBox, crs string) *Stack {
	s := &Stack{
		Bands:    bands,
		Times:    scenes.times,
		SceneIDs: scenes.ids,
		Width:    w,
		Height:   h,
		Bounds:   bounds,
		CRS:      crs,
		grids:    make(map[string][]*raster.Grid, len(bands)),
	}
	for _, band := range bands {
		gs := make([]*raster.Grid, len(scenes.ids))
		for i := range gs {
			gs[i] = raster.NewGrid(w, h, bounds, crs)
		}
		s.grids[band] = gs
	}
	return s
}

type sceneInfo struct {
	ids   []string
	times []time.Time
}

// frameFor snaps a geometry's bounds outward to the resolution grid so every
// tile frame is pixel-aligned to a common origin.
func frameFor(b geo.BBox, res float64) (geo.BBox, int, int, error) {
	if b.IsEmpty() {
		return geo.BBox{}, 0, 0, fmt.Errorf("empty tile bounds %v", b)
	}
	snapped := geo.BBox{
		XMin: math.Floor(b.XMin/res) * res,
		YMin: math.Floor(b.YMin/res) * res,
		XMax: math.Ceil(b.XMax/res) * res,
		YMax: math.Ceil(b.YMax/res) * res,
	}
	w := int(math.Round(snapped.Width() / res))
	h := int(math.Round(snapped.Height() / res))
	if w <= 0 || h <= 0 {
		return geo.BBox{}, 0, 0, fmt.Errorf("degenerate tile frame %dx%d", w, h)
	}
	return snapped, w, h, nil
}
