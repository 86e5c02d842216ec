package geo

import "math"

// Web-mercator (EPSG:3857) tile addressing in the XYZ scheme: tile (0, 0)
// at a zoom level is the northwest corner, y grows southward. Used by the
// pyramid generator to enumerate the tiles a mosaic covers at each zoom.

const maxLatitude = 85.05112878

// TileID addresses one map tile.
type TileID struct {
	Z int
	X int
	Y int
}

// TileAt returns the tile containing the geographic point at the zoom level.
// Latitudes beyond the mercator limit clamp to the edge tiles.
func TileAt(lon, lat float64, zoom int) TileID {
	if lat > maxLatitude {
		lat = maxLatitude
	}
	if lat < -maxLatitude {
		lat = -maxLatitude
	}
	n := float64(int(1) << uint(zoom))
	x := int((lon + 180) / 360 * n)
	latRad := lat * math.Pi / 180
	y := int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	last := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > last {
		x = last
	}
	if y < 0 {
		y = 0
	}
	if y > last {
		y = last
	}
	return TileID{Z: zoom, X: x, Y: y}
}

// TileBounds returns the geographic bounds of a tile.
func TileBounds(t TileID) BBox {
	n := float64(int(1) << uint(t.Z))
	lonMin := float64(t.X)/n*360 - 180
	lonMax := float64(t.X+1)/n*360 - 180
	latMax := tileLat(float64(t.Y), n)
	latMin := tileLat(float64(t.Y+1), n)
	return BBox{XMin: lonMin, YMin: latMin, XMax: lonMax, YMax: latMax}
}

func tileLat(y, n float64) float64 {
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return latRad * 180 / math.Pi
}

// TilesCovering returns the tiles at the zoom level that intersect the
// geographic box, in row-major order (west to east, north to south). Boxes
// that cross the antimeridian should be split with SplitAcross180 first.
func TilesCovering(b BBox, zoom int) []TileID {
	nw := TileAt(b.XMin, b.YMax, zoom)
	se := TileAt(b.XMax, b.YMin, zoom)
	var tiles []TileID
	for y := nw.Y; y <= se.Y; y++ {
		for x := nw.X; x <= se.X; x++ {
			tiles = append(tiles, TileID{Z: zoom, X: x, Y: y})
		}
	}
	return tiles
}
