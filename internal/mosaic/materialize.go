package mosaic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/pacific-data/tilepress/internal/cluster"
	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/monitoring"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/storage"
)

// MaterializeOptions tune mosaic materialization.
type MaterializeOptions struct {
	// ChunkSize is the chunk edge in pixels; defaults to 1024.
	ChunkSize int
	// Overwrite replaces an existing destination; when false an existing
	// destination makes the whole build a no-op.
	Overwrite bool
	// ScratchDir holds the scratch file and its lock; defaults to the OS
	// temp directory.
	ScratchDir string
	// CachedSources bounds how many decoded source rasters stay in memory
	// at once; defaults to 16. Evicted sources are re-fetched on demand.
	CachedSources int
}

// Materialize renders the virtual mosaic into one physical raster at dst.
// Chunks are computed concurrently on the pool, each fetching only the
// sources it intersects, and written to a shared scratch file at their byte
// offsets; a file lock plus a process-local mutex serialize the writes, so
// concurrent materializations of the same destination cannot corrupt it.
// The finished raster is encoded through the codec and uploaded.
func Materialize(ctx context.Context, v *Virtual, store storage.ObjectStore, codec raster.Codec, pool cluster.Pool, dst string, opts MaterializeOptions) error {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1024
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}

	if !opts.Overwrite {
		exists, err := store.Exists(ctx, dst)
		if err != nil {
			return fmt.Errorf("check %s: %w", dst, err)
		}
		if exists {
			monitoring.Logf("[mosaic] %s exists, skipping build", dst)
			return nil
		}
	}

	cache := newSourceCache(store, codec, opts.CachedSources)

	w, h := v.Shape()
	scratch := filepath.Join(opts.ScratchDir, scratchName(dst))
	lock := flock.New(scratch + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", scratch, err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(scratch, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open scratch: %w", err)
	}
	defer os.Remove(scratch)
	defer f.Close()
	if err := f.Truncate(int64(w * h * 8)); err != nil {
		return fmt.Errorf("size scratch: %w", err)
	}

	// One writer at a time within the process; the flock covers siblings.
	var writeMu sync.Mutex
	frame := geo.TransformFor(v.Bounds, w, h)
	for row0 := 0; row0 < h; row0 += opts.ChunkSize {
		for col0 := 0; col0 < w; col0 += opts.ChunkSize {
			row0, col0 := row0, col0
			pool.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				ch := min(opts.ChunkSize, h-row0)
				cw := min(opts.ChunkSize, w-col0)
				chunk, err := renderChunk(ctx, v, cache, frame, col0, row0, cw, ch)
				if err != nil {
					return err
				}

				writeMu.Lock()
				defer writeMu.Unlock()
				buf := make([]byte, cw*8)
				for r := 0; r < ch; r++ {
					for c := 0; c < cw; c++ {
						binary.LittleEndian.PutUint64(buf[c*8:], math.Float64bits(chunk[r*cw+c]))
					}
					off := int64(((row0+r)*w + col0) * 8)
					if _, err := f.WriteAt(buf, off); err != nil {
						return fmt.Errorf("write chunk at %d: %w", off, err)
					}
				}
				return nil
			})
		}
	}
	if err := pool.Wait(); err != nil {
		return err
	}

	out, err := assemble(f, v, w, h)
	if err != nil {
		return err
	}
	data, err := codec.Encode(out, raster.DefaultWriteOptions())
	if err != nil {
		return fmt.Errorf("encode mosaic: %w", err)
	}
	if err := store.Write(ctx, dst, data, true); err != nil {
		return fmt.Errorf("upload mosaic: %w", err)
	}
	monitoring.Logf("[mosaic] wrote %s (%dx%d)", dst, w, h)
	return nil
}

// sourceCache hands out decoded source rasters, holding at most max of them
// at once. Eviction drops the oldest entry; chunks already borrowing a grid
// keep their reference.
type sourceCache struct {
	store storage.ObjectStore
	codec raster.Codec
	max   int

	mu    sync.Mutex
	grids map[string]*raster.Grid
	order []string
}

func newSourceCache(store storage.ObjectStore, codec raster.Codec, max int) *sourceCache {
	if max <= 0 {
		max = 16
	}
	return &sourceCache{store: store, codec: codec, max: max, grids: make(map[string]*raster.Grid)}
}

func (c *sourceCache) get(ctx context.Context, path string) (*raster.Grid, error) {
	c.mu.Lock()
	if g, ok := c.grids[path]; ok {
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	// Concurrent misses may fetch the same source twice; the second decode
	// is discarded below.
	data, err := c.store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g, err := c.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.grids[path]; ok {
		return cached, nil
	}
	c.grids[path] = g
	c.order = append(c.order, path)
	for len(c.order) > c.max {
		delete(c.grids, c.order[0])
		c.order = c.order[1:]
	}
	return g, nil
}

// renderChunk samples each pixel center from the first source covering it.
// Later sources fill pixels earlier ones report as nodata, so overlapping
// tile margins resolve to whichever artifact has data. Only the sources
// intersecting the chunk are fetched.
func renderChunk(ctx context.Context, v *Virtual, cache *sourceCache, frame geo.Transform, col0, row0, cw, ch int) ([]float64, error) {
	cb := chunkBounds(frame, col0, row0, cw, ch)
	var grids []*raster.Grid
	for _, s := range v.Sources {
		if !s.Bounds.Intersects(cb) {
			continue
		}
		g, err := cache.get(ctx, s.Path)
		if err != nil {
			return nil, err
		}
		grids = append(grids, g)
	}

	out := make([]float64, cw*ch)
	for r := 0; r < ch; r++ {
		for c := 0; c < cw; c++ {
			cell := frame.PixelBounds(col0+c, row0+r)
			cx := cell.XMin + cell.Width()/2
			cy := cell.YMin + cell.Height()/2
			v64 := v.Nodata
			for _, g := range grids {
				if !g.Bounds.Contains(cx, cy) {
					continue
				}
				sample := g.SampleAt(cx, cy)
				if g.IsNodata(sample) {
					continue
				}
				v64 = sample
				break
			}
			out[r*cw+c] = v64
		}
	}
	return out, nil
}

func chunkBounds(frame geo.Transform, col0, row0, cw, ch int) geo.BBox {
	return geo.BBox{
		XMin: frame.OriginX + float64(col0)*frame.PixelWidth,
		YMax: frame.OriginY - float64(row0)*frame.PixelHeight,
		XMax: frame.OriginX + float64(col0+cw)*frame.PixelWidth,
		YMin: frame.OriginY - float64(row0+ch)*frame.PixelHeight,
	}
}

func assemble(f *os.File, v *Virtual, w, h int) (*raster.Grid, error) {
	raw := make([]byte, w*h*8)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("read scratch: %w", err)
	}
	out := raster.NewGrid(w, h, v.Bounds, v.CRS)
	out.DType = v.DType
	out.Nodata = v.Nodata
	out.ScaleFactor = v.ScaleFactor
	for i := range out.Data {
		out.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// scratchName flattens a storage path into a file name stable across
// concurrent builders of the same destination.
func scratchName(dst string) string {
	name := make([]byte, 0, len(dst))
	for i := 0; i < len(dst); i++ {
		if dst[i] == '/' || dst[i] == '\\' {
			name = append(name, '_')
		} else {
			name = append(name, dst[i])
		}
	}
	return string(name) + ".scratch"
}
