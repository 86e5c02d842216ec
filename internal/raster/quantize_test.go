package raster

import (
	"math"
	"testing"

	"github.com/pacific-data/tilepress/internal/geo"
)

func testGrid(vals ...float64) *Grid {
	g := NewGrid(len(vals), 1, geo.BBox{XMin: 0, YMin: 0, XMax: float64(len(vals)), YMax: 1}, "EPSG:8859")
	copy(g.Data, vals)
	return g
}

func TestQuantizeRoundTrip(t *testing.T) {
	const mult = 10000.0
	const sentinel = int16(-32767)

	in := testGrid(0.5, -0.25, 0.99995, 1.0)
	q := QuantizeInt16(in, mult, sentinel)

	if q.DType != DTypeInt16 {
		t.Fatalf("dtype = %q, want int16", q.DType)
	}
	if q.Nodata != float64(sentinel) {
		t.Fatalf("nodata = %v, want %d", q.Nodata, sentinel)
	}

	back := DequantizeInt16(q, mult)
	for i, want := range in.Data {
		got := back.Data[i]
		if math.Abs(got-want) > 1.0/mult {
			t.Errorf("sample %d: round trip %v -> %v exceeds 1/multiplier", i, want, got)
		}
	}
}

func TestQuantizeNodataAndNaN(t *testing.T) {
	const sentinel = int16(-32767)
	in := testGrid(math.NaN(), 0.5)
	q := QuantizeInt16(in, 10000, sentinel)

	if q.Data[0] != float64(sentinel) {
		t.Errorf("NaN quantized to %v, want sentinel", q.Data[0])
	}
	if q.Data[1] == float64(sentinel) {
		t.Error("real value must not quantize to the sentinel")
	}

	back := DequantizeInt16(q, 10000)
	if !math.IsNaN(back.Data[0]) {
		t.Errorf("sentinel should dequantize to NaN, got %v", back.Data[0])
	}
}

func TestQuantizeSentinelCollision(t *testing.T) {
	const sentinel = int16(-32767)
	// -3.2767 * 10000 rounds exactly onto the sentinel.
	in := testGrid(-3.2767)
	q := QuantizeInt16(in, 10000, sentinel)

	if q.Data[0] == float64(sentinel) {
		t.Fatal("colliding value mapped to sentinel")
	}
	if got, want := q.Data[0], float64(-32766); got != want {
		t.Errorf("collision nudged to %v, want %v", got, want)
	}
}

func TestQuantizeClamps(t *testing.T) {
	in := testGrid(10.0, -10.0) // 100000 and -100000 before clamping
	q := QuantizeInt16(in, 10000, -32767)
	if q.Data[0] != math.MaxInt16 {
		t.Errorf("overflow clamped to %v, want %d", q.Data[0], math.MaxInt16)
	}
	if q.Data[1] != math.MinInt16 {
		t.Errorf("underflow clamped to %v, want %d", q.Data[1], math.MinInt16)
	}
}

func TestScaleOffset(t *testing.T) {
	g := testGrid(10000, 20000, math.NaN())
	ScaleOffset(g, 0.0000275, -0.2)

	if math.Abs(g.Data[0]-0.075) > 1e-9 {
		t.Errorf("got %v, want 0.075", g.Data[0])
	}
	if math.Abs(g.Data[1]-0.35) > 1e-9 {
		t.Errorf("got %v, want 0.35", g.Data[1])
	}
	if !math.IsNaN(g.Data[2]) {
		t.Error("nodata must pass through scale/offset untouched")
	}
}
