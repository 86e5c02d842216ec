package pyramid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/monitoring"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/storage"
)

// Pyramid geometry fixed by the published map layers.
const (
	DefaultMinZoom  = 0
	DefaultMaxZoom  = 11
	DefaultTileSize = 512
)

// Options tune pyramid generation.
type Options struct {
	MinZoom  int
	MaxZoom  int
	TileSize int
	// DestPrefix is the storage prefix tiles upload under; the z/x/y.png
	// suffix is appended.
	DestPrefix string
	// ScratchDir holds at most one rendered tile at a time; defaults to the
	// OS temp directory.
	ScratchDir string
}

func (o *Options) withDefaults() {
	if o.MaxZoom == 0 {
		o.MaxZoom = DefaultMaxZoom
	}
	if o.TileSize <= 0 {
		o.TileSize = DefaultTileSize
	}
	if o.ScratchDir == "" {
		o.ScratchDir = os.TempDir()
	}
}

// Generator renders tile pyramids through a renderer and streams them to a
// store.
type Generator struct {
	renderer Renderer
	store    storage.ObjectStore
}

// NewGenerator wires a generator.
func NewGenerator(renderer Renderer, store storage.ObjectStore) *Generator {
	return &Generator{renderer: renderer, store: store}
}

// Run derives a color relief from the raster and renders every tile covering
// it for each zoom level. Each tile file is written to scratch, uploaded,
// and deleted before the next renders, so local disk never holds more than
// one tile. Returns the number of tiles uploaded.
func (g *Generator) Run(ctx context.Context, src *raster.Grid, ramp *Ramp, opts Options) (int, error) {
	opts.withDefaults()
	if opts.MinZoom < 0 || opts.MaxZoom < opts.MinZoom {
		return 0, fmt.Errorf("bad zoom range %d..%d", opts.MinZoom, opts.MaxZoom)
	}

	relief, err := g.renderer.ColorRelief(ctx, src, ramp)
	if err != nil {
		return 0, fmt.Errorf("color relief: %w", err)
	}

	uploaded := 0
	for z := opts.MinZoom; z <= opts.MaxZoom; z++ {
		tiles := tilesFor(relief.Bounds(), z)
		for _, id := range tiles {
			if err := ctx.Err(); err != nil {
				return uploaded, err
			}
			if err := g.emit(ctx, relief, id, opts); err != nil {
				return uploaded, err
			}
			uploaded++
		}
		monitoring.Logf("[pyramid] zoom %d: %d tile(s)", z, len(tiles))
	}
	return uploaded, nil
}

// emit renders one tile through the scratch directory: write, upload,
// delete. The local file must be gone when emit returns, error or not.
func (g *Generator) emit(ctx context.Context, relief Relief, id geo.TileID, opts Options) error {
	data, err := relief.RenderTile(ctx, id, opts.TileSize)
	if err != nil {
		return fmt.Errorf("render %s: %w", tileSuffix(id), err)
	}

	local := filepath.Join(opts.ScratchDir, filepath.FromSlash(tileSuffix(id)))
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("scratch dir for %s: %w", tileSuffix(id), err)
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", local, err)
	}
	defer os.Remove(local)

	uploaded, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("reread %s: %w", local, err)
	}
	dst := opts.DestPrefix + tileSuffix(id)
	if err := g.store.Write(ctx, dst, uploaded, true); err != nil {
		return fmt.Errorf("upload %s: %w", dst, err)
	}
	return nil
}

func tileSuffix(id geo.TileID) string {
	return fmt.Sprintf("%d/%d/%d.png", id.Z, id.X, id.Y)
}

// tilesFor enumerates the tiles covering a geographic box at one zoom.
// Pacific mosaics report bounds continuing past +-180, so the box is split
// at the antimeridian and both halves enumerated without duplicates.
func tilesFor(b geo.BBox, zoom int) []geo.TileID {
	seen := make(map[geo.TileID]bool)
	var tiles []geo.TileID
	for _, part := range geo.SplitAcross180(b) {
		for _, id := range geo.TilesCovering(part, zoom) {
			if seen[id] {
				continue
			}
			seen[id] = true
			tiles = append(tiles, id)
		}
	}
	return tiles
}
