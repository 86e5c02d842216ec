package pyramid

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/raster"
)

// Relief is a color-relief rendering that can be cut into map tiles.
type Relief interface {
	// Bounds returns the geographic extent used to enumerate tiles. It may
	// continue past +-180 for antimeridian-crossing mosaics; the generator
	// splits it.
	Bounds() geo.BBox

	// RenderTile renders one slippy tile at the given pixel size, encoded
	// as PNG with alpha.
	RenderTile(ctx context.Context, id geo.TileID, size int) ([]byte, error)
}

// Renderer derives reliefs from rasters. Production deployments wrap a
// full raster engine here; SoftwareRenderer covers tests and small local
// runs.
type Renderer interface {
	ColorRelief(ctx context.Context, g *raster.Grid, ramp *Ramp) (Relief, error)
}

// SoftwareRenderer is a pure-Go renderer for the working projections the
// geo package knows. Mosaics in other CRSs need an engine-backed renderer.
type SoftwareRenderer struct{}

// ColorRelief implements Renderer.
func (SoftwareRenderer) ColorRelief(ctx context.Context, g *raster.Grid, ramp *Ramp) (Relief, error) {
	if len(ramp.Entries) == 0 {
		return nil, fmt.Errorf("empty color ramp")
	}
	if g.Bounds.IsEmpty() {
		return nil, fmt.Errorf("relief source has empty bounds")
	}
	proj, err := geo.ProjectorFor(g.CRS)
	if err != nil {
		return nil, fmt.Errorf("software renderer: %w", err)
	}
	return &softwareRelief{
		grid:      g,
		ramp:      ramp,
		proj:      proj,
		geoBounds: geo.InverseGeographicBounds(proj, g.Bounds),
	}, nil
}

type softwareRelief struct {
	grid *raster.Grid
	ramp *Ramp
	proj geo.Projector
	// geoBounds is the grid's footprint in lon/lat, continuous past the
	// antimeridian when the mosaic crosses it.
	geoBounds geo.BBox
}

func (r *softwareRelief) Bounds() geo.BBox { return r.geoBounds }

func (r *softwareRelief) RenderTile(ctx context.Context, id geo.TileID, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tb := geo.TileBounds(id)
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for py := 0; py < size; py++ {
		// Web mercator tiles shrink toward the poles; linear latitude
		// sampling within one tile is close enough at the zooms we render.
		lat := tb.YMax - (float64(py)+0.5)/float64(size)*tb.Height()
		for px := 0; px < size; px++ {
			lon := tb.XMin + (float64(px)+0.5)/float64(size)*tb.Width()
			x, y := r.proj.Forward(lon, lat)
			c := r.colorAt(x, y)
			img.SetNRGBA(px, py, color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode tile %v: %w", id, err)
	}
	return buf.Bytes(), nil
}

// colorAt samples the grid and interpolates linearly between the two
// surrounding ramp stops, clamping beyond the ends.
func (r *softwareRelief) colorAt(x, y float64) Color {
	v := r.grid.SampleAt(x, y)
	if r.grid.IsNodata(v) {
		return r.ramp.Nodata
	}
	entries := r.ramp.Entries
	if v <= entries[0].Value {
		return entries[0].Color
	}
	last := entries[len(entries)-1]
	if v >= last.Value {
		return last.Color
	}
	for i := 1; i < len(entries); i++ {
		if v > entries[i].Value {
			continue
		}
		lo, hi := entries[i-1], entries[i]
		t := (v - lo.Value) / (hi.Value - lo.Value)
		return Color{
			R: lerp(lo.Color.R, hi.Color.R, t),
			G: lerp(lo.Color.G, hi.Color.G, t),
			B: lerp(lo.Color.B, hi.Color.B, t),
			A: lerp(lo.Color.A, hi.Color.A, t),
		}
	}
	return last.Color
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}
