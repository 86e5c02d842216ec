package stack

import (
	"fmt"
	"math"

	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/scene"
)

// QA bits flagging pixels unusable for surface measurements: dilated cloud,
// cirrus, cloud, and cloud shadow.
const qaMaskBits = 1<<1 | 1<<2 | 1<<3 | 1<<4

// MaskOptions tune cloud masking.
type MaskOptions struct {
	// Dilate grows the flagged set by this many pixels in every direction
	// before applying, catching thin cloud edges the QA band misses.
	Dilate int
}

// MaskClouds replaces pixels flagged by the quality band with nodata across
// every band at that time and pixel. The stack must carry the QA band. The
// QA band itself is left untouched.
func MaskClouds(s *Stack, opts MaskOptions) error {
	if !s.HasBand(scene.QABand) {
		return fmt.Errorf("stack has no %s band, cannot mask clouds", scene.QABand)
	}
	for ti := range s.Times {
		qa := s.Grid(scene.QABand, ti)
		flagged := make([]bool, s.Width*s.Height)
		for i, v := range qa.Data {
			if math.IsNaN(v) {
				continue
			}
			if int(v)&qaMaskBits != 0 {
				flagged[i] = true
			}
		}
		if opts.Dilate > 0 {
			flagged = dilate(flagged, s.Width, s.Height, opts.Dilate)
		}
		for row := 0; row < s.Height; row++ {
			for col := 0; col < s.Width; col++ {
				if !flagged[row*s.Width+col] {
					continue
				}
				for _, band := range s.Bands {
					if band == scene.QABand {
						continue
					}
					s.grids[band][ti].Set(row, col, math.NaN())
				}
			}
		}
	}
	return nil
}

// dilate grows a mask by n pixels using chessboard distance.
func dilate(mask []bool, w, h, n int) []bool {
	out := make([]bool, len(mask))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			if !mask[row*w+col] {
				continue
			}
			for dr := -n; dr <= n; dr++ {
				for dc := -n; dc <= n; dc++ {
					r, c := row+dr, col+dc
					if r < 0 || r >= h || c < 0 || c >= w {
						continue
					}
					out[r*w+c] = true
				}
			}
		}
	}
	return out
}

// Rescale applies a linear scale and offset to every band except the quality
// band, in place. Nodata samples are preserved.
func Rescale(s *Stack, scale, offset float64) {
	for _, band := range s.Bands {
		if band == scene.QABand {
			continue
		}
		for ti := range s.Times {
			raster.ScaleOffset(s.grids[band][ti], scale, offset)
		}
	}
}
