package geo

import (
	"fmt"
	"math"
)

// Projector converts between geographic lon/lat (EPSG:4326, degrees) and a
// projected plane in metres. Forward and Inverse are exact inverses up to
// floating point.
type Projector interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
}

// ProjectorFor returns the projector for a working CRS. Frame placement and
// clipping happen through it; full raster warping stays with the codec.
func ProjectorFor(crs string) (Projector, error) {
	switch crs {
	case "", "EPSG:4326":
		return geographic{}, nil
	case "EPSG:8857":
		return &EqualEarth{}, nil
	case "EPSG:8859":
		return &EqualEarth{CentralMeridian: 150}, nil
	}
	return nil, fmt.Errorf("no projector for CRS %q", crs)
}

// geographic is the identity projector.
type geographic struct{}

func (geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (geographic) Inverse(x, y float64) (float64, float64)     { return x, y }

// Equal Earth polynomial coefficients (Savric, Patterson and Jenny, 2018).
const (
	eeA1 = 1.340264
	eeA2 = -0.081106
	eeA3 = 0.000893
	eeA4 = 0.003796
	// Spherical form on the WGS84 authalic radius, metres.
	eeRadius = 6371007.1809
)

var eeM = math.Sqrt(3) / 2

// EqualEarth is the equal-area working projection. The Pacific variant
// (EPSG:8859) centers on 150 degrees east so the grid stays contiguous
// across the antimeridian.
type EqualEarth struct {
	CentralMeridian float64
}

// Forward implements Projector.
func (p *EqualEarth) Forward(lon, lat float64) (x, y float64) {
	lam := wrapDegrees(lon-p.CentralMeridian) * math.Pi / 180
	phi := lat * math.Pi / 180
	theta := math.Asin(eeM * math.Sin(phi))
	t2 := theta * theta
	t6 := t2 * t2 * t2
	x = eeRadius * lam * math.Cos(theta) / (eeM * (eeA1 + 3*eeA2*t2 + t6*(7*eeA3+9*eeA4*t2)))
	y = eeRadius * theta * (eeA1 + eeA2*t2 + t6*(eeA3+eeA4*t2))
	return x, y
}

// Inverse implements Projector, recovering the parametric latitude by Newton
// iteration. Longitudes come back continuous around the central meridian and
// may exceed +-180; wrap with SplitAcross180 when a geographic box is needed.
func (p *EqualEarth) Inverse(x, y float64) (lon, lat float64) {
	theta := y / (eeRadius * eeA1)
	for i := 0; i < 12; i++ {
		t2 := theta * theta
		t6 := t2 * t2 * t2
		f := theta*(eeA1+eeA2*t2+t6*(eeA3+eeA4*t2)) - y/eeRadius
		df := eeA1 + 3*eeA2*t2 + t6*(7*eeA3+9*eeA4*t2)
		delta := f / df
		theta -= delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}
	t2 := theta * theta
	t6 := t2 * t2 * t2
	lam := x * eeM * (eeA1 + 3*eeA2*t2 + t6*(7*eeA3+9*eeA4*t2)) / (eeRadius * math.Cos(theta))
	lat = math.Asin(math.Sin(theta)/eeM) * 180 / math.Pi
	lon = p.CentralMeridian + lam*180/math.Pi
	return lon, lat
}

// wrapDegrees maps a longitude offset into (-180, 180].
func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}

// ProjectGeometry maps every vertex of a geographic geometry through the
// projector. Edges are not densified.
func ProjectGeometry(g Geometry, p Projector) Geometry {
	out := Geometry{Polygons: make([]Polygon, len(g.Polygons))}
	for i, poly := range g.Polygons {
		rings := make([]Ring, len(poly.Rings))
		for j, ring := range poly.Rings {
			pts := make(Ring, len(ring))
			for k, pt := range ring {
				x, y := p.Forward(pt.X, pt.Y)
				pts[k] = Point{X: x, Y: y}
			}
			rings[j] = pts
		}
		out.Polygons[i] = Polygon{Rings: rings}
	}
	return out
}

// InverseGeographicBounds returns the geographic bounding box of a projected
// box by inverse-projecting samples along its perimeter. The result keeps
// the projector's continuous longitudes, so it may extend past +-180; split
// it with SplitAcross180 before tile enumeration.
func InverseGeographicBounds(p Projector, b BBox) BBox {
	const steps = 32
	out := BBox{XMin: math.Inf(1), YMin: math.Inf(1), XMax: math.Inf(-1), YMax: math.Inf(-1)}
	grow := func(x, y float64) {
		lon, lat := p.Inverse(x, y)
		out.XMin = math.Min(out.XMin, lon)
		out.XMax = math.Max(out.XMax, lon)
		out.YMin = math.Min(out.YMin, lat)
		out.YMax = math.Max(out.YMax, lat)
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / steps
		x := b.XMin + t*b.Width()
		y := b.YMin + t*b.Height()
		grow(x, b.YMin)
		grow(x, b.YMax)
		grow(b.XMin, y)
		grow(b.XMax, y)
	}
	return out
}
