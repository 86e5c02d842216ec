package geo

// The grid covers the Pacific, so geographic bounding boxes routinely span
// the antimeridian. A naive min/max over longitudes then covers nearly the
// whole globe, and downstream scene searches return garbage. The functions
// here normalize and, when needed, split boxes at +-180.

// GeographicBounds returns the lon/lat bounding box of a geometry already in
// EPSG:4326. When the raw box crosses the antimeridian (west edge positive,
// east edge negative after a min/max sweep) the box is widened to just short
// of the full longitude range, matching the behavior the scene search
// tolerates.
func GeographicBounds(g Geometry) BBox {
	b := g.Bounds()
	if b.XMin < 0 && b.XMax > 0 && b.Width() > 180 {
		b.XMin = -179.9999999999
		b.XMax = 179.9999999999
	}
	return b
}

// SplitAcross180 normalizes a geographic box that may use 0..360 longitudes
// and splits it at the antimeridian when it crosses. It returns one box for
// ordinary extents and two (west-of-180, east-of-180) for crossing extents.
func SplitAcross180(b BBox) []BBox {
	// Shift a box expressed in 0..360 longitudes back into -180..180.
	if b.XMin > 180 {
		b.XMin -= 360
		if b.XMax > 180 {
			b.XMax -= 360
		}
	}

	crosses := (b.XMin > 0 && b.XMax < 0) || (b.XMin < 180 && b.XMax > 180)
	if !crosses {
		return []BBox{b}
	}

	xmax := b.XMax
	if xmax > 180 {
		xmax -= 360
	}
	return []BBox{
		{XMin: b.XMin, YMin: b.YMin, XMax: 180, YMax: b.YMax},
		{XMin: -180, YMin: b.YMin, XMax: xmax, YMax: b.YMax},
	}
}
