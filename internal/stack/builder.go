package stack

import (
	"context"
	"fmt"
	"time"

	"github.com/pacific-data/tilepress/internal/cluster"
	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/monitoring"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/scene"
)

// Working-frame defaults. Every tile is stacked on the same equal-area CRS at
// the source's native ground resolution.
const (
	DefaultCRS        = "EPSG:8859"
	DefaultResolution = 30
	DefaultChunkSize  = 4096
)

// BuildOptions shape the stack frame and its chunking. Larger chunks mean
// fewer scheduling units but more memory per read.
type BuildOptions struct {
	Resolution float64
	CRS        string
	ChunkSize  int
	// Bands to load; every scene is expected to carry assets for them.
	Bands []string
}

func (o *BuildOptions) withDefaults() {
	if o.Resolution <= 0 {
		o.Resolution = DefaultResolution
	}
	if o.CRS == "" {
		o.CRS = DefaultCRS
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
}

// Builder plans stacks against a raster codec.
type Builder struct {
	codec raster.Codec
}

// NewBuilder returns a builder reading through codec.
func NewBuilder(codec raster.Codec) *Builder {
	return &Builder{codec: codec}
}

// chunkTask is one independent read: a window of one band of one scene,
// destined for a fixed rectangle of the stack frame. Tasks never overlap in
// their destination, so they run without coordination.
type chunkTask struct {
	band    string
	timeIdx int
	href    string
	spec    raster.WindowSpec
	col0    int
	row0    int
}

// Plan is a prepared stack: an allocated (all-nodata) frame plus the read
// tasks that fill it. Nothing is read until Materialize runs.
type Plan struct {
	codec raster.Codec
	stack *Stack
	mask  []bool
	tasks []chunkTask
}

// Plan derives the tile frame from the geometry, allocates the stack, and
// enumerates one read task per (scene, band, chunk). The geometry is
// geographic (EPSG:4326, as the area grid stores it) and is projected into
// opts.CRS before framing, so the frame and the read windows are in working
// metres. Scenes missing an asset for a requested band contribute nodata for
// that band.
func (b *Builder) Plan(scenes scene.Collection, tileGeom geo.Geometry, opts BuildOptions) (*Plan, error) {
	opts.withDefaults()
	if len(scenes) == 0 {
		return nil, ErrNoCoverage
	}
	if len(opts.Bands) == 0 {
		return nil, fmt.Errorf("stack plan needs at least one band")
	}

	proj, err := geo.ProjectorFor(opts.CRS)
	if err != nil {
		return nil, fmt.Errorf("stack frame: %w", err)
	}
	workGeom := geo.ProjectGeometry(tileGeom, proj)

	bounds, w, h, err := frameFor(workGeom.Bounds(), opts.Resolution)
	if err != nil {
		return nil, err
	}

	// Boundary pixels partially covered by the tile geometry are kept.
	mask := geo.CoverageMask(workGeom, geo.TransformFor(bounds, w, h), w, h, true)
	covered := false
	for _, m := range mask {
		if m {
			covered = true
			break
		}
	}
	if !covered {
		return nil, ErrNoCoverage
	}

	info := sceneInfo{ids: make([]string, len(scenes)), times: make([]time.Time, len(scenes))}
	for i, s := range scenes {
		info.ids[i] = s.ID
		info.times[i] = s.Datetime
	}
	st := newStack(info, opts.Bands, w, h, bounds, opts.CRS)

	p := &Plan{codec: b.codec, stack: st, mask: mask}
	frame := st.Frame()
	for ti, s := range scenes {
		// The scene's reported (repaired) EPSG overrides whatever the
		// asset file claims about itself.
		srcCRS := ""
		if s.EPSG > 0 {
			srcCRS = fmt.Sprintf("EPSG:%d", s.EPSG)
		}
		for _, band := range opts.Bands {
			href, ok := s.Assets[band]
			if !ok {
				monitoring.Logf("[stack] scene %s has no %s asset, band left as nodata", s.ID, band)
				continue
			}
			for row0 := 0; row0 < h; row0 += opts.ChunkSize {
				ch := min(opts.ChunkSize, h-row0)
				for col0 := 0; col0 < w; col0 += opts.ChunkSize {
					cw := min(opts.ChunkSize, w-col0)
					p.tasks = append(p.tasks, chunkTask{
						band:    band,
						timeIdx: ti,
						href:    href,
						spec: raster.WindowSpec{
							Bounds:    windowBounds(frame, col0, row0, cw, ch),
							Width:     cw,
							Height:    ch,
							CRS:       opts.CRS,
							SourceCRS: srcCRS,
						},
						col0: col0,
						row0: row0,
					})
				}
			}
		}
	}
	return p, nil
}

// Stack returns the (possibly not yet materialized) stack frame.
func (p *Plan) Stack() *Stack { return p.stack }

// Tasks returns the number of scheduled chunk reads.
func (p *Plan) Tasks() int { return len(p.tasks) }

// Materialize executes the plan on the pool and returns the filled stack.
// A failed asset read masks its chunk as nodata instead of failing the tile;
// only context cancellation aborts. After all reads land, pixels outside the
// tile geometry are cleared on every band and time.
func (p *Plan) Materialize(ctx context.Context, pool cluster.Pool) (*Stack, error) {
	for _, t := range p.tasks {
		t := t
		pool.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			g, err := p.codec.ReadWindow(ctx, t.href, t.spec)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("[stack] read %s (%s): %v, chunk masked as nodata", t.href, t.band, err)
				return nil
			}
			dst := p.stack.grids[t.band][t.timeIdx]
			for r := 0; r < t.spec.Height; r++ {
				for c := 0; c < t.spec.Width; c++ {
					v := g.At(r, c)
					if g.IsNodata(v) {
						continue
					}
					dst.Set(t.row0+r, t.col0+c, v)
				}
			}
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return nil, err
	}

	for row := 0; row < p.stack.Height; row++ {
		for col := 0; col < p.stack.Width; col++ {
			if p.mask[row*p.stack.Width+col] {
				continue
			}
			for ti := range p.stack.Times {
				p.stack.setNodataAt(ti, row, col)
			}
		}
	}
	return p.stack, nil
}

func windowBounds(t geo.Transform, col0, row0, w, h int) geo.BBox {
	return geo.BBox{
		XMin: t.OriginX + float64(col0)*t.PixelWidth,
		YMax: t.OriginY - float64(row0)*t.PixelHeight,
		XMax: t.OriginX + float64(col0+w)*t.PixelWidth,
		YMin: t.OriginY - float64(row0+h)*t.PixelHeight,
	}
}
