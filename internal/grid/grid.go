// Package grid provides the area-of-interest grid: the static reference
// dataset mapping each tile key to the geographic footprint it should be
// processed over. The grid is loaded once at startup from a GeoPackage and
// is immutable afterward.
package grid

import (
	"fmt"

	"github.com/pacific-data/tilepress/internal/geo"
)

// TileKey identifies one grid cell. The grid is indexed by the acquisition
// system's path/row scheme.
type TileKey struct {
	Path int
	Row  int
}

// String renders the key with its components joined by an underscore, the
// form used in output artifact names.
func (k TileKey) String() string {
	return fmt.Sprintf("%d_%d", k.Path, k.Row)
}

// Tile is one grid cell: a key plus the land footprint inside it.
type Tile struct {
	Key      TileKey
	Geometry geo.Geometry
}

// Bounds returns the tile footprint's bounding box.
func (t Tile) Bounds() geo.BBox {
	return t.Geometry.Bounds()
}

// AreaGrid is an ordered, immutable collection of tiles.
type AreaGrid struct {
	tiles []Tile
	byKey map[TileKey]int
}

// New builds a grid from tiles, validating key uniqueness. Order is
// preserved.
func New(tiles []Tile) (*AreaGrid, error) {
	g := &AreaGrid{
		tiles: append([]Tile(nil), tiles...),
		byKey: make(map[TileKey]int, len(tiles)),
	}
	for i, t := range g.tiles {
		if _, dup := g.byKey[t.Key]; dup {
			return nil, fmt.Errorf("duplicate tile key %s in area grid", t.Key)
		}
		g.byKey[t.Key] = i
	}
	return g, nil
}

// Len returns the number of tiles.
func (g *AreaGrid) Len() int { return len(g.tiles) }

// Tiles returns the tiles in load order. Callers must not mutate the result.
func (g *AreaGrid) Tiles() []Tile { return g.tiles }

// Lookup returns the tile for a key.
func (g *AreaGrid) Lookup(key TileKey) (Tile, bool) {
	i, ok := g.byKey[key]
	if !ok {
		return Tile{}, false
	}
	return g.tiles[i], true
}

// Bounds returns the union of all tile bounds. Useful as the mosaic extent.
func (g *AreaGrid) Bounds() geo.BBox {
	var b geo.BBox
	for i, t := range g.tiles {
		if i == 0 {
			b = t.Bounds()
			continue
		}
		b = b.Union(t.Bounds())
	}
	return b
}
