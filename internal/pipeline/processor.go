// Package pipeline drives per-tile processing: scene discovery, stack build,
// masking, the user transform, quantization, decomposition, and artifact
// writes. Tiles are independent; one tile's failure never stops the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pacific-data/tilepress/internal/cluster"
	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/grid"
	"github.com/pacific-data/tilepress/internal/monitoring"
	"github.com/pacific-data/tilepress/internal/naming"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/scene"
	"github.com/pacific-data/tilepress/internal/stack"
	"github.com/pacific-data/tilepress/internal/storage"
)

// Status is a tile's terminal processing state.
type Status string

const (
	// StatusWritten means every artifact reached storage.
	StatusWritten Status = "written"
	// StatusSkippedNoCoverage means no scenes exist for the tile and period.
	StatusSkippedNoCoverage Status = "skipped_no_coverage"
	// StatusSkippedNoResult means the transform declined to produce output.
	StatusSkippedNoResult Status = "skipped_no_result"
	// StatusFailed means the tile errored; Err carries the cause.
	StatusFailed Status = "failed"
)

// TileResult records one tile's outcome.
type TileResult struct {
	Tile   grid.TileKey
	Status Status
	Paths  []string
	Err    error
}

// Options configure a processing run.
type Options struct {
	// Resolver names output artifacts.
	Resolver naming.Resolver

	// Start and End bound the scene search period.
	Start time.Time
	End   time.Time
	// Collections restrict the scene search.
	Collections []string

	// StackOptions shape the per-tile frame and chunking.
	StackOptions stack.BuildOptions

	// CloudMask applies quality-band masking after the stack builds.
	CloudMask bool
	// MaskOptions tune the cloud mask.
	MaskOptions stack.MaskOptions

	// Rescale applies Scale and Offset to every band before the transform.
	Rescale bool
	Scale   float64
	Offset  float64

	// Quantize converts transform output to int16 with the multiplier and
	// sentinel below.
	Quantize   bool
	Multiplier float64
	Nodata     int16

	// Split selects dimensional decomposition of the transform output.
	Split SplitOptions

	// Overwrite controls whether existing artifacts are replaced.
	Overwrite bool

	// ItemPath, when set, enables the catalog shortcut: a tile whose catalog
	// sidecar already exists is reported Written without recomputation.
	ItemPath *naming.ItemPath
}

// Processor runs the per-tile state machine against its collaborators.
type Processor struct {
	searcher  scene.Searcher
	builder   *stack.Builder
	codec     raster.Codec
	store     storage.ObjectStore
	transform Transform
	opts      Options
}

// NewProcessor wires a processor. The searcher should already carry retry
// and deny-list behavior (see scene.NewTileSearcher).
func NewProcessor(searcher scene.Searcher, codec raster.Codec, store storage.ObjectStore, transform Transform, opts Options) *Processor {
	return &Processor{
		searcher:  searcher,
		builder:   stack.NewBuilder(codec),
		codec:     codec,
		store:     store,
		transform: transform,
		opts:      opts,
	}
}

// Run processes every tile of the grid on the cluster and returns one result
// per tile, in grid order. Tiles run concurrently; only context cancellation
// aborts the sweep.
func (p *Processor) Run(ctx context.Context, cl cluster.Cluster, g *grid.AreaGrid) ([]TileResult, error) {
	tiles := g.Tiles()
	results := make([]TileResult, len(tiles))

	pool := cl.NewPool()
	for i, tile := range tiles {
		i, tile := i, tile
		pool.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = p.ProcessTile(ctx, cl, tile)
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ProcessTile runs one tile to a terminal state. Errors are contained: they
// come back inside the TileResult with the tile id attached, never as a
// bare error.
func (p *Processor) ProcessTile(ctx context.Context, cl cluster.Cluster, tile grid.Tile) TileResult {
	res := TileResult{Tile: tile.Key}

	if p.opts.ItemPath != nil {
		done, paths, err := p.alreadyCataloged(ctx, tile.Key)
		if err != nil {
			return p.fail(res, err)
		}
		if done {
			monitoring.Logf("[pipeline] tile %s already cataloged, skipping", tile.Key)
			res.Status = StatusWritten
			res.Paths = paths
			return res
		}
	}

	scenes, err := p.searcher.Search(ctx, scene.Query{
		BBox:        geo.GeographicBounds(tile.Geometry),
		Start:       p.opts.Start,
		End:         p.opts.End,
		Collections: p.opts.Collections,
	})
	if err != nil {
		return p.fail(res, err)
	}
	if len(scenes) == 0 {
		monitoring.Logf("[pipeline] tile %s has no coverage for the period", tile.Key)
		res.Status = StatusSkippedNoCoverage
		return res
	}

	plan, err := p.builder.Plan(scenes, tile.Geometry, p.opts.StackOptions)
	if errors.Is(err, stack.ErrNoCoverage) {
		res.Status = StatusSkippedNoCoverage
		return res
	}
	if err != nil {
		return p.fail(res, err)
	}
	st, err := plan.Materialize(ctx, cl.NewPool())
	if err != nil {
		return p.fail(res, err)
	}

	if p.opts.CloudMask {
		if err := stack.MaskClouds(st, p.opts.MaskOptions); err != nil {
			return p.fail(res, err)
		}
	}
	if p.opts.Rescale {
		stack.Rescale(st, p.opts.Scale, p.opts.Offset)
	}

	result, err := p.transform.Transform(ctx, Input{Stack: st, Tile: tile})
	if err != nil {
		return p.fail(res, err)
	}
	if result == nil {
		monitoring.Logf("[pipeline] tile %s produced no result", tile.Key)
		res.Status = StatusSkippedNoResult
		return res
	}
	result.Squeeze()

	if p.opts.Quantize {
		for i, g := range result.grids {
			q := raster.QuantizeInt16(g, p.opts.Multiplier, p.opts.Nodata)
			q.ScaleFactor = 1 / p.opts.Multiplier
			result.grids[i] = q
		}
	}

	artifacts := Decompose(result, p.opts.Split)
	if len(artifacts) == 0 {
		res.Status = StatusSkippedNoResult
		return res
	}

	// A failed artifact write does not stop its siblings; the tile fails
	// afterwards with every write error attached.
	var writeErrs []error
	for _, a := range artifacts {
		path := p.opts.Resolver.Path(tile.Key, a.Year, a.Variable)
		data, err := p.codec.Encode(a.Grid, raster.DefaultWriteOptions())
		if err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("encode %s: %w", path, err))
			continue
		}
		if err := p.store.Write(ctx, path, data, p.opts.Overwrite); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("write %s: %w", path, err))
			continue
		}
		res.Paths = append(res.Paths, path)
	}
	if len(writeErrs) > 0 {
		return p.fail(res, errors.Join(writeErrs...))
	}

	monitoring.Logf("[pipeline] tile %s written: %d artifact(s)", tile.Key, len(res.Paths))
	res.Status = StatusWritten
	return res
}

func (p *Processor) fail(res TileResult, err error) TileResult {
	res.Status = StatusFailed
	res.Err = fmt.Errorf("tile %s: %w", res.Tile, err)
	monitoring.Logf("[pipeline] %v", res.Err)
	return res
}

// alreadyCataloged checks for the tile's catalog sidecar and, when present,
// returns the artifact paths that the sidecar vouches for.
func (p *Processor) alreadyCataloged(ctx context.Context, key grid.TileKey) (bool, []string, error) {
	id := naming.TileID(key)
	ok, err := p.store.Exists(ctx, p.opts.ItemPath.StacPath(id...))
	if err != nil || !ok {
		return false, nil, err
	}
	return true, []string{p.opts.ItemPath.Path("", id...)}, nil
}

// Failed reports how many results ended in StatusFailed. The process exit
// status is derived from it.
func Failed(results []TileResult) int {
	n := 0
	for _, r := range results {
		if r.Status == StatusFailed {
			n++
		}
	}
	return n
}
