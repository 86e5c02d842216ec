package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/scene"
)

// BuiltinTransform returns one of the stock per-pixel temporal reducers:
// "mean", "median", or "count". The reducer runs over every band except the
// quality band and labels one output variable per band, so split-by-variable
// runs write one artifact per band. Science products with real transforms
// pass their own Transform instead.
func BuiltinTransform(name string) (Transform, error) {
	switch name {
	case "mean":
		return reducerTransform(name, reduceMean), nil
	case "median":
		return reducerTransform(name, reduceMedian), nil
	case "count":
		return reducerTransform(name, reduceCount), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

type reducer func(samples []float64) (float64, bool)

func reducerTransform(name string, reduce reducer) Transform {
	return TransformFunc(func(ctx context.Context, in Input) (*Result, error) {
		s := in.Stack
		bands := make([]string, 0, len(s.Bands))
		for _, b := range s.Bands {
			if b != scene.QABand {
				bands = append(bands, b)
			}
		}
		sort.Strings(bands)
		if len(bands) == 0 {
			return nil, fmt.Errorf("transform %s: stack has no data bands", name)
		}

		grids := make([]*raster.Grid, 0, len(bands))
		labels := make([]string, 0, len(bands))
		samples := make([]float64, 0, s.NumTimes())
		for _, band := range bands {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out := raster.NewGrid(s.Width, s.Height, s.Bounds, s.CRS)
			for row := 0; row < s.Height; row++ {
				for col := 0; col < s.Width; col++ {
					samples = samples[:0]
					for ti := 0; ti < s.NumTimes(); ti++ {
						v := s.Grid(band, ti).At(row, col)
						if math.IsNaN(v) {
							continue
						}
						samples = append(samples, v)
					}
					if v, ok := reduce(samples); ok {
						out.Set(row, col, v)
					}
				}
			}
			grids = append(grids, out)
			labels = append(labels, band+"_"+name)
		}
		return NewResult(nil, labels, grids)
	})
}

func reduceMean(samples []float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples)), true
}

func reduceMedian(samples []float64) (float64, bool) {
	n := len(samples)
	if n == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}

// reduceCount is the clear-observation count; it is defined even for pixels
// with no observations.
func reduceCount(samples []float64) (float64, bool) {
	return float64(len(samples)), true
}
