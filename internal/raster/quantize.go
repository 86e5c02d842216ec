package raster

import "math"

// ScaleOffset applies a linear rescale (v*scale + offset) in place to every
// non-nodata sample. The radiometric constants vary by source and are passed
// in rather than fixed here.
func ScaleOffset(g *Grid, scale, offset float64) {
	for i, v := range g.Data {
		if g.IsNodata(v) {
			continue
		}
		g.Data[i] = v*scale + offset
	}
}

// QuantizeInt16 converts a float grid to int16 semantics: samples are
// multiplied, rounded, and clamped to the int16 range; nodata and NaN map to
// the sentinel, as does any rounded value that would collide with it. The
// result decodes back to within 1/multiplier of the original value.
func QuantizeInt16(g *Grid, multiplier float64, nodata int16) *Grid {
	out := g.Clone()
	sentinel := float64(nodata)
	for i, v := range out.Data {
		if g.IsNodata(v) || math.IsNaN(v) {
			out.Data[i] = sentinel
			continue
		}
		q := math.Round(v * multiplier)
		if q > math.MaxInt16 {
			q = math.MaxInt16
		}
		if q < math.MinInt16 {
			q = math.MinInt16
		}
		if q == sentinel {
			// The sentinel must never be a decodable value; nudge collisions
			// to the nearest representable neighbor.
			if sentinel < 0 {
				q = sentinel + 1
			} else {
				q = sentinel - 1
			}
		}
		out.Data[i] = q
	}
	out.DType = DTypeInt16
	out.Nodata = sentinel
	return out
}

// DequantizeInt16 is the approximate inverse of QuantizeInt16: sentinel
// samples become NaN, everything else divides by the multiplier.
func DequantizeInt16(g *Grid, multiplier float64) *Grid {
	out := g.Clone()
	for i, v := range out.Data {
		if v == g.Nodata {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = v / multiplier
	}
	out.DType = DTypeFloat32
	out.Nodata = math.NaN()
	return out
}
