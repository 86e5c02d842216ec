// Package mosaic assembles the per-tile artifacts of a dataset into one
// physical raster. A virtual mosaic is only a list of source references
// derived from artifact metadata; no pixel data moves until materialization,
// and materialization itself fetches source pixels chunk by chunk.
// Chunks stream into a scratch file under a file lock so concurrent writers
// of the same destination cannot interleave corrupt ranges.
package mosaic

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/monitoring"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/storage"
)

// Source is one per-tile artifact referenced by a virtual mosaic.
type Source struct {
	Path   string
	Bounds geo.BBox
}

// Virtual is a mosaic reference: source list plus the derived frame. No
// pixel data is held.
type Virtual struct {
	Sources    []Source
	Bounds     geo.BBox
	CRS        string
	DType      string
	Nodata     float64
	Resolution float64
	// ScaleFactor carried by the sources, recorded in the mosaic's metadata.
	ScaleFactor float64
}

// probeWorkers bounds the concurrent metadata reads during a virtual build.
const probeWorkers = 8

// BuildVirtual lists the artifacts under prefix, keeps those intersecting
// bbox (an empty bbox keeps all), and derives the mosaic frame from their
// union. Only metadata is read; pixels stay in storage until the mosaic
// materializes. Sources must agree on CRS and resolution.
func BuildVirtual(ctx context.Context, store storage.ObjectStore, codec raster.Codec, prefix string, bbox geo.BBox) (*Virtual, error) {
	names, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var paths []string
	for _, n := range names {
		if strings.HasSuffix(n, ".tif") {
			paths = append(paths, n)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no artifacts under %s", prefix)
	}

	infos := make([]raster.Info, len(paths))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(probeWorkers)
	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			data, err := store.Read(ectx, path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			info, err := codec.DecodeInfo(data)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", path, err)
			}
			infos[i] = info
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	v := &Virtual{}
	for i, info := range infos {
		if !bbox.IsEmpty() && !info.Bounds.Intersects(bbox) {
			continue
		}
		res := info.Resolution()
		if len(v.Sources) == 0 {
			v.Bounds = info.Bounds
			v.CRS = info.CRS
			v.DType = info.DType
			v.Nodata = info.Nodata
			v.Resolution = res
			v.ScaleFactor = info.ScaleFactor
		} else {
			if info.CRS != v.CRS {
				return nil, fmt.Errorf("artifact %s has CRS %s, mosaic is %s", paths[i], info.CRS, v.CRS)
			}
			if res != v.Resolution {
				return nil, fmt.Errorf("artifact %s has resolution %g, mosaic is %g", paths[i], res, v.Resolution)
			}
			v.Bounds = v.Bounds.Union(info.Bounds)
		}
		v.Sources = append(v.Sources, Source{Path: paths[i], Bounds: info.Bounds})
	}
	if len(v.Sources) == 0 {
		return nil, fmt.Errorf("no artifacts under %s intersect %v", prefix, bbox)
	}
	monitoring.Logf("[mosaic] virtual mosaic over %d source(s), frame %v", len(v.Sources), v.Bounds)
	return v, nil
}

// Shape returns the pixel dimensions of the mosaic frame.
func (v *Virtual) Shape() (w, h int) {
	w = int(v.Bounds.Width()/v.Resolution + 0.5)
	h = int(v.Bounds.Height()/v.Resolution + 0.5)
	return w, h
}
