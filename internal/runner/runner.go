// Package runner wires configuration and collaborators into a complete run:
// per-tile scene processing, then optionally the mosaic build and the tile
// pyramid, with every tile outcome recorded in the run ledger.
package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/pacific-data/tilepress/internal/cluster"
	"github.com/pacific-data/tilepress/internal/config"
	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/grid"
	"github.com/pacific-data/tilepress/internal/monitoring"
	"github.com/pacific-data/tilepress/internal/mosaic"
	"github.com/pacific-data/tilepress/internal/naming"
	"github.com/pacific-data/tilepress/internal/pipeline"
	"github.com/pacific-data/tilepress/internal/pyramid"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/report"
	"github.com/pacific-data/tilepress/internal/runlog"
	"github.com/pacific-data/tilepress/internal/scene"
	"github.com/pacific-data/tilepress/internal/stack"
	"github.com/pacific-data/tilepress/internal/storage"
)

// Deps are the external collaborators a run needs. Gateway and Renderer may
// be nil: the run then uses the local pool and the software renderer.
type Deps struct {
	Searcher  scene.Searcher
	Codec     raster.Codec
	Store     storage.ObjectStore
	Transform pipeline.Transform
	Gateway   cluster.Gateway
	Renderer  pyramid.Renderer
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID   string
	Results []pipeline.TileResult
	Failed  int
}

// Runner executes configured runs.
type Runner struct {
	cfg  *config.PipelineConfig
	deps Deps
}

// New wires a runner.
func New(cfg *config.PipelineConfig, deps Deps) *Runner {
	return &Runner{cfg: cfg, deps: deps}
}

// Run executes the configured stages in order. Per-tile failures are
// contained and counted in the outcome; only infrastructure failures (bad
// config, unreadable grid, ledger errors) return an error.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	cfg := r.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cl, err := cluster.Connect(ctx, r.deps.Gateway, cfg.GetWorkers())
	if err != nil {
		return nil, fmt.Errorf("acquire cluster: %w", err)
	}
	defer cl.Close()
	if url := cl.DashboardURL(); url != "" {
		monitoring.Logf("[runner] cluster dashboard: %s", url)
	}

	ledger, err := runlog.Open(cfg.GetLedgerPath(), cfg.GetMigrationsDir())
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	defer ledger.Close()

	runID, err := ledger.StartRun(cfg.Dataset, cfg.GetYear())
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[runner] run %s: dataset=%s year=%s", runID, cfg.Dataset, cfg.GetYear())

	out := &Outcome{RunID: runID}
	if cfg.GetRunScenes() {
		if err := r.runScenes(ctx, cl, ledger, runID, out); err != nil {
			return nil, err
		}
	}
	if cfg.GetRunMosaic() {
		if err := r.runMosaic(ctx, cl); err != nil {
			return nil, err
		}
	}
	if cfg.GetRunTiles() {
		if err := r.runTiles(ctx); err != nil {
			return nil, err
		}
	}

	if err := ledger.FinishRun(runID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) runScenes(ctx context.Context, cl cluster.Cluster, ledger *runlog.Ledger, runID string, out *Outcome) error {
	cfg := r.cfg
	areaGrid, err := grid.LoadGeoPackage(*cfg.GridPath, cfg.GetGridLayer(), cfg.GetGridPathColumn(), cfg.GetGridRowColumn())
	if err != nil {
		return fmt.Errorf("load area grid: %w", err)
	}
	monitoring.Logf("[runner] area grid: %d tile(s)", areaGrid.Len())

	searcher := scene.NewTileSearcher(r.deps.Searcher, scene.SearchOptions{
		Tries: cfg.GetSearchTries(),
		Delay: cfg.GetSearchDelay(),
	})

	// The catalog shortcut only applies to versioned products.
	var itemPath *naming.ItemPath
	if cfg.Version != nil {
		itemPath = &naming.ItemPath{
			Prefix:         cfg.GetItemPrefix(),
			Sensor:         cfg.GetSensor(),
			Dataset:        cfg.Dataset,
			Version:        cfg.GetVersion(),
			Time:           cfg.GetYear(),
			ZeroPadNumbers: true,
		}
	}

	start, end := cfg.GetPeriod()
	proc := pipeline.NewProcessor(searcher, r.deps.Codec, r.deps.Store, r.deps.Transform, pipeline.Options{
		Resolver:    naming.Resolver{Dataset: cfg.Dataset, Year: cfg.GetYear()},
		Start:       start,
		End:         end,
		Collections: cfg.GetCollections(),
		StackOptions: stack.BuildOptions{
			Resolution: cfg.GetResolution(),
			CRS:        cfg.GetCRS(),
			ChunkSize:  cfg.GetChunkSize(),
			Bands:      cfg.GetBands(),
		},
		CloudMask:   cfg.GetCloudMask(),
		MaskOptions: stack.MaskOptions{Dilate: cfg.GetMaskDilation()},
		Rescale:     cfg.GetRescale(),
		Scale:       cfg.GetScale(),
		Offset:      cfg.GetOffset(),
		Quantize:    cfg.GetQuantize(),
		Multiplier:  cfg.GetMultiplier(),
		Nodata:      cfg.GetNodata(),
		Split: pipeline.SplitOptions{
			ByTime:     cfg.GetSplitByYear(),
			ByVariable: cfg.GetSplitByVariable(),
		},
		Overwrite: cfg.GetOverwrite(),
		ItemPath:  itemPath,
	})

	results, err := proc.Run(ctx, cl, areaGrid)
	if err != nil {
		return err
	}
	out.Results = results
	out.Failed = pipeline.Failed(results)

	if err := ledger.RecordAll(runID, results); err != nil {
		return err
	}

	recs, err := ledger.TileResults(runID)
	if err != nil {
		return err
	}
	writer, err := report.NewWriter(cfg.GetReportDir())
	if err != nil {
		return err
	}
	if _, err := writer.Write(runID, recs); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}

func (r *Runner) runMosaic(ctx context.Context, cl cluster.Cluster) error {
	cfg := r.cfg
	resolver := naming.Resolver{Dataset: cfg.Dataset, Year: cfg.GetYear()}
	v, err := mosaic.BuildVirtual(ctx, r.deps.Store, r.deps.Codec, resolver.Prefix(""), geo.BBox{})
	if err != nil {
		return fmt.Errorf("build virtual mosaic: %w", err)
	}
	return mosaic.Materialize(ctx, v, r.deps.Store, r.deps.Codec, cl.NewPool(), r.mosaicPath(), mosaic.MaterializeOptions{
		Overwrite: cfg.GetOverwrite(),
	})
}

func (r *Runner) runTiles(ctx context.Context) error {
	cfg := r.cfg
	data, err := r.deps.Store.Read(ctx, r.mosaicPath())
	if err != nil {
		return fmt.Errorf("read mosaic %s: %w", r.mosaicPath(), err)
	}
	src, err := r.deps.Codec.Decode(data)
	if err != nil {
		return fmt.Errorf("decode mosaic: %w", err)
	}

	f, err := os.Open(*cfg.RampFile)
	if err != nil {
		return fmt.Errorf("open ramp file: %w", err)
	}
	defer f.Close()
	ramp, err := pyramid.ParseRamp(f)
	if err != nil {
		return err
	}

	renderer := r.deps.Renderer
	if renderer == nil {
		renderer = pyramid.SoftwareRenderer{}
	}
	gen := pyramid.NewGenerator(renderer, r.deps.Store)
	n, err := gen.Run(ctx, src, ramp, pyramid.Options{
		MinZoom:    cfg.GetMinZoom(),
		MaxZoom:    cfg.GetMaxZoom(),
		TileSize:   cfg.GetTileSize(),
		DestPrefix: cfg.GetTilePrefix(),
	})
	if err != nil {
		return err
	}
	monitoring.Logf("[runner] pyramid: %d tile(s) uploaded", n)
	return nil
}

// mosaicPath is the mosaic's storage destination for this dataset and year.
func (r *Runner) mosaicPath() string {
	year := r.cfg.GetYear()
	if year == "" {
		return fmt.Sprintf("%s/%s_mosaic.tif", r.cfg.Dataset, r.cfg.Dataset)
	}
	return fmt.Sprintf("%s/%s_%s_mosaic.tif", r.cfg.Dataset, r.cfg.Dataset, year)
}
