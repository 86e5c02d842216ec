// Package geo provides the small set of planar geometry primitives the
// pipeline needs: bounding boxes, polygon footprints, coverage masks for
// clipping, web-mercator tile addressing, and the working-frame projections.
// It is deliberately not a GIS library; raster warping belongs to the codec
// collaborator, only the analytic frame math lives here.
package geo

import (
	"fmt"
	"math"
)

// BBox is an axis-aligned bounding box in the coordinate system of its
// producer (geographic boxes are lon/lat, EPSG:4326).
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b.YMax - b.YMin }

// IsEmpty reports whether the box has zero or negative area.
func (b BBox) IsEmpty() bool { return b.XMax <= b.XMin || b.YMax <= b.YMin }

// Contains reports whether the point (x, y) lies inside or on the box.
func (b BBox) Contains(x, y float64) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// Intersects reports whether two boxes share any area (touching edges count).
func (b BBox) Intersects(o BBox) bool {
	return b.XMin <= o.XMax && b.XMax >= o.XMin && b.YMin <= o.YMax && b.YMax >= o.YMin
}

// Union returns the smallest box covering both b and o.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		XMin: math.Min(b.XMin, o.XMin),
		YMin: math.Min(b.YMin, o.YMin),
		XMax: math.Max(b.XMax, o.XMax),
		YMax: math.Max(b.YMax, o.YMax),
	}
}

func (b BBox) String() string {
	return fmt.Sprintf("[%g %g %g %g]", b.XMin, b.YMin, b.XMax, b.YMax)
}

// Point is a 2-D coordinate.
type Point struct {
	X float64
	Y float64
}

// Ring is a closed sequence of points. The first and last point may or may
// not coincide; ring tests treat the sequence as implicitly closed.
type Ring []Point

// Polygon is an outer ring plus zero or more holes.
type Polygon struct {
	Rings []Ring
}

// Geometry is a multi-polygon footprint. A single polygon is a Geometry with
// one element.
type Geometry struct {
	Polygons []Polygon
}

// IsEmpty reports whether the geometry has no rings.
func (g Geometry) IsEmpty() bool {
	for _, p := range g.Polygons {
		if len(p.Rings) > 0 && len(p.Rings[0]) > 0 {
			return false
		}
	}
	return true
}

// Bounds returns the bounding box of the geometry. Empty geometries return
// an inverted box for which IsEmpty is true.
func (g Geometry) Bounds() BBox {
	b := BBox{XMin: math.Inf(1), YMin: math.Inf(1), XMax: math.Inf(-1), YMax: math.Inf(-1)}
	for _, poly := range g.Polygons {
		for _, ring := range poly.Rings {
			for _, pt := range ring {
				b.XMin = math.Min(b.XMin, pt.X)
				b.YMin = math.Min(b.YMin, pt.Y)
				b.XMax = math.Max(b.XMax, pt.X)
				b.YMax = math.Max(b.YMax, pt.Y)
			}
		}
	}
	return b
}

// ContainsPoint reports whether (x, y) is inside the geometry, using the
// even-odd rule across all rings (so holes subtract).
func (g Geometry) ContainsPoint(x, y float64) bool {
	inside := false
	for _, poly := range g.Polygons {
		for _, ring := range poly.Rings {
			if ringCrossings(ring, x, y)%2 == 1 {
				inside = !inside
			}
		}
	}
	return inside
}

// ringCrossings counts edges of the (implicitly closed) ring crossed by a
// ray from (x, y) toward +X.
func ringCrossings(ring Ring, x, y float64) int {
	n := len(ring)
	if n < 3 {
		return 0
	}
	count := 0
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		if (a.Y > y) == (b.Y > y) {
			continue
		}
		xCross := a.X + (y-a.Y)/(b.Y-a.Y)*(b.X-a.X)
		if xCross > x {
			count++
		}
	}
	return count
}

// segmentsIntersect reports whether segments p1-p2 and p3-p4 intersect.
func segmentsIntersect(p1, p2, p3, p4 Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func onSegment(a, b, c Point) bool {
	return math.Min(a.X, b.X) <= c.X && c.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= c.Y && c.Y <= math.Max(a.Y, b.Y)
}

// intersectsRect reports whether the geometry touches the axis-aligned
// rectangle r: any rectangle corner inside the geometry, any geometry vertex
// inside the rectangle, or any edge crossing.
func (g Geometry) intersectsRect(r BBox) bool {
	if !g.Bounds().Intersects(r) {
		return false
	}
	corners := []Point{
		{r.XMin, r.YMin}, {r.XMax, r.YMin}, {r.XMax, r.YMax}, {r.XMin, r.YMax},
	}
	for _, c := range corners {
		if g.ContainsPoint(c.X, c.Y) {
			return true
		}
	}
	for _, poly := range g.Polygons {
		for _, ring := range poly.Rings {
			n := len(ring)
			for i := 0; i < n; i++ {
				p := ring[i]
				if r.Contains(p.X, p.Y) {
					return true
				}
				q := ring[(i+1)%n]
				for j := 0; j < 4; j++ {
					if segmentsIntersect(p, q, corners[j], corners[(j+1)%4]) {
						return true
					}
				}
			}
		}
	}
	return false
}

// Transform maps pixel coordinates to world coordinates: the world position
// of the upper-left corner of pixel (col, row) is
// (OriginX + col*PixelWidth, OriginY - row*PixelHeight).
type Transform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// TransformFor returns the Transform placing a w x h pixel grid over bounds.
func TransformFor(bounds BBox, w, h int) Transform {
	return Transform{
		OriginX:     bounds.XMin,
		OriginY:     bounds.YMax,
		PixelWidth:  bounds.Width() / float64(w),
		PixelHeight: bounds.Height() / float64(h),
	}
}

// PixelBounds returns the world-coordinate rectangle of pixel (col, row).
func (t Transform) PixelBounds(col, row int) BBox {
	x := t.OriginX + float64(col)*t.PixelWidth
	y := t.OriginY - float64(row)*t.PixelHeight
	return BBox{XMin: x, YMin: y - t.PixelHeight, XMax: x + t.PixelWidth, YMax: y}
}

// CoverageMask rasterizes the geometry onto a w x h grid under the given
// transform. With allTouched true, a pixel is covered if its cell rectangle
// touches the geometry at all (partial-boundary pixels included); otherwise
// only pixels whose centers fall inside are covered. The mask is row-major.
func CoverageMask(g Geometry, t Transform, w, h int, allTouched bool) []bool {
	mask := make([]bool, w*h)
	gb := g.Bounds()
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			cell := t.PixelBounds(col, row)
			if !gb.Intersects(cell) {
				continue
			}
			if allTouched {
				mask[row*w+col] = g.intersectsRect(cell)
			} else {
				cx := cell.XMin + cell.Width()/2
				cy := cell.YMin + cell.Height()/2
				mask[row*w+col] = g.ContainsPoint(cx, cy)
			}
		}
	}
	return mask
}

// RectGeometry returns a single-polygon geometry covering the box. Useful
// for tests and for scene footprints reported only as bounds.
func RectGeometry(b BBox) Geometry {
	return Geometry{Polygons: []Polygon{{Rings: []Ring{{
		{b.XMin, b.YMin}, {b.XMax, b.YMin}, {b.XMax, b.YMax}, {b.XMin, b.YMax},
	}}}}}
}
