// Package raster defines the 2-D raster value type the pipeline computes on
// and the codec collaborator interface through which all raster encoding,
// decoding, and random-access reads happen. The codec itself (GDAL or
// equivalent) is an external capability; this package only fixes its
// contract and supplies an in-memory implementation for tests and dry runs.
package raster

import (
	"fmt"
	"math"

	"github.com/pacific-data/tilepress/internal/geo"
)

// Data types a Grid can carry. Float32 is the working type for computation;
// Int16 is the quantized output type.
const (
	DTypeFloat32 = "float32"
	DTypeInt16   = "int16"
)

// Grid is one 2-D raster: row-major samples with georeferencing. Nodata is
// NaN for float grids and a sentinel value for int16 grids.
type Grid struct {
	Width  int
	Height int
	Bounds geo.BBox
	CRS    string
	DType  string
	Nodata float64
	Data   []float64

	// ScaleFactor, when non-zero, is recorded in output metadata so readers
	// can recover approximate original units from quantized values. It is
	// never baked into Data.
	ScaleFactor float64
}

// NewGrid allocates a float32-typed grid filled with NaN nodata.
func NewGrid(w, h int, bounds geo.BBox, crs string) *Grid {
	data := make([]float64, w*h)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Grid{
		Width:  w,
		Height: h,
		Bounds: bounds,
		CRS:    crs,
		DType:  DTypeFloat32,
		Nodata: math.NaN(),
		Data:   data,
	}
}

// At returns the sample at (row, col).
func (g *Grid) At(row, col int) float64 { return g.Data[row*g.Width+col] }

// Set stores a sample at (row, col).
func (g *Grid) Set(row, col int, v float64) { g.Data[row*g.Width+col] = v }

// IsNodata reports whether v is the grid's nodata value.
func (g *Grid) IsNodata(v float64) bool {
	if math.IsNaN(g.Nodata) {
		return math.IsNaN(v)
	}
	return v == g.Nodata
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := *g
	out.Data = append([]float64(nil), g.Data...)
	return &out
}

// Transform returns the pixel-to-world transform of the grid.
func (g *Grid) Transform() geo.Transform {
	return geo.TransformFor(g.Bounds, g.Width, g.Height)
}

// Validate checks internal consistency before handing a grid to the codec.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid has invalid shape %dx%d", g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("grid data length %d does not match shape %dx%d", len(g.Data), g.Width, g.Height)
	}
	switch g.DType {
	case DTypeFloat32, DTypeInt16:
	default:
		return fmt.Errorf("unknown grid dtype %q", g.DType)
	}
	return nil
}

// SampleAt returns the nearest-neighbor sample for a world coordinate, or
// the grid's nodata when the coordinate falls outside the grid.
func (g *Grid) SampleAt(x, y float64) float64 {
	if !g.Bounds.Contains(x, y) {
		return g.Nodata
	}
	t := g.Transform()
	col := int((x - t.OriginX) / t.PixelWidth)
	row := int((t.OriginY - y) / t.PixelHeight)
	if col < 0 {
		col = 0
	}
	if col >= g.Width {
		col = g.Width - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.Height {
		row = g.Height - 1
	}
	return g.At(row, col)
}
