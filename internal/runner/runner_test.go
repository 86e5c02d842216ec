package runner

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pacific-data/tilepress/internal/config"
	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/pipeline"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/runlog"
	"github.com/pacific-data/tilepress/internal/scene"
	"github.com/pacific-data/tilepress/internal/storage"
)

const migrationsDir = "../../migrations"

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// writeFixtureGPKG builds a two-tile area grid covering (0,0)-(120,60).
func writeFixtureGPKG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aoi.gpkg")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL
		);
		CREATE TABLE aoi (
			fid INTEGER PRIMARY KEY,
			"PATH" INTEGER,
			"ROW" INTEGER,
			geometry BLOB
		);
		INSERT INTO gpkg_geometry_columns VALUES ('aoi', 'geometry', 'MULTIPOLYGON', 4326, 0, 0);
	`)
	if err != nil {
		t.Fatalf("create fixture schema: %v", err)
	}
	insert := func(p, r int, b geo.BBox) {
		blob := geo.EncodeGPKG(geo.RectGeometry(b), 4326)
		if _, err := db.Exec(
			`INSERT INTO aoi ("PATH", "ROW", geometry) VALUES (?, ?, ?)`, p, r, blob,
		); err != nil {
			t.Fatalf("insert tile: %v", err)
		}
	}
	insert(12, 60, geo.BBox{XMin: 0, YMin: 0, XMax: 60, YMax: 60})
	insert(13, 60, geo.BBox{XMin: 60, YMin: 0, XMax: 120, YMax: 60})
	return path
}

func writeRampFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ramp.txt")
	body := "0 0 0 255\n1 255 0 0\nnv 0 0 0 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fixtureScene registers one red asset spanning both grid tiles.
func fixtureScene(codec *raster.MemCodec, value float64) scene.Scene {
	src := raster.NewGrid(4, 2, geo.BBox{XMin: 0, YMin: 0, XMax: 120, YMax: 60}, "EPSG:4326")
	for i := range src.Data {
		src.Data[i] = value
	}
	codec.AddSource("mem://s1/red", src)
	return scene.Scene{
		ID:       "s1",
		Datetime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		Assets:   map[string]string{"red": "mem://s1/red"},
	}
}

var meanTransform = pipeline.TransformFunc(func(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	s := in.Stack
	out := raster.NewGrid(s.Width, s.Height, s.Bounds, s.CRS)
	for row := 0; row < s.Height; row++ {
		for col := 0; col < s.Width; col++ {
			sum, n := 0.0, 0
			for ti := 0; ti < s.NumTimes(); ti++ {
				v := s.Grid("red", ti).At(row, col)
				if math.IsNaN(v) {
					continue
				}
				sum += v
				n++
			}
			if n > 0 {
				out.Set(row, col, sum/float64(n))
			}
		}
	}
	return pipeline.NewResult2D(out), nil
})

func testConfig(t *testing.T) *config.PipelineConfig {
	t.Helper()
	return &config.PipelineConfig{
		Dataset:       "wofs",
		Year:          ptrString("2023"),
		StartDate:     ptrString("2023-01-01"),
		EndDate:       ptrString("2023-12-31"),
		GridPath:      ptrString(writeFixtureGPKG(t)),
		GridLayer:     ptrString("aoi"),
		CRS:           ptrString("EPSG:4326"),
		Bands:         []string{"red"},
		ChunkSize:     ptrInt(2),
		CloudMask:     ptrBool(false),
		Rescale:       ptrBool(false),
		Quantize:      ptrBool(false),
		Overwrite:     ptrBool(true),
		Workers:       ptrInt(2),
		LedgerPath:    ptrString(filepath.Join(t.TempDir(), "runs.db")),
		MigrationsDir: ptrString(migrationsDir),
		ReportDir:     ptrString(t.TempDir()),
	}
}

func testDeps(codec *raster.MemCodec, store *storage.MemStore, searcher scene.Searcher) Deps {
	return Deps{
		Searcher:  searcher,
		Codec:     codec,
		Store:     store,
		Transform: meanTransform,
	}
}

func staticSearch(scenes ...scene.Scene) scene.Searcher {
	return scene.SearchFunc(func(ctx context.Context, q scene.Query) (scene.Collection, error) {
		return scenes, nil
	})
}

func TestRunAllStages(t *testing.T) {
	codec := raster.NewMemCodec()
	store := storage.NewMemStore()
	sc := fixtureScene(codec, 0.5)

	cfg := testConfig(t)
	cfg.RunMosaic = ptrBool(true)
	cfg.RunTiles = ptrBool(true)
	cfg.RampFile = ptrString(writeRampFile(t))
	cfg.MaxZoom = ptrInt(1)
	cfg.TileSize = ptrInt(8)
	cfg.TilePrefix = ptrString("t/")

	out, err := New(cfg, testDeps(codec, store, staticSearch(sc))).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed != 0 {
		t.Fatalf("failed tiles = %d, results %+v", out.Failed, out.Results)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(out.Results))
	}

	ctx := context.Background()
	for _, path := range []string{
		"wofs/2023/wofs_2023_12_60.tif",
		"wofs/2023/wofs_2023_13_60.tif",
		"wofs/wofs_2023_mosaic.tif",
	} {
		ok, err := store.Exists(ctx, path)
		if err != nil || !ok {
			t.Errorf("missing artifact %s (err %v)", path, err)
		}
	}

	tiles, err := store.List(ctx, "t/")
	if err != nil {
		t.Fatalf("list pyramid: %v", err)
	}
	if len(tiles) == 0 {
		t.Error("pyramid produced no tiles")
	}

	reportPNG := filepath.Join(cfg.GetReportDir(), "tile_status_"+out.RunID+".png")
	if _, err := os.Stat(reportPNG); err != nil {
		t.Errorf("report plot missing: %v", err)
	}

	ledger, err := runlog.Open(cfg.GetLedgerPath(), migrationsDir)
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}
	defer ledger.Close()
	sum, err := ledger.Summarize(out.RunID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Counts[pipeline.StatusWritten] != 2 {
		t.Errorf("ledger written count = %d, want 2", sum.Counts[pipeline.StatusWritten])
	}
}

func TestRunScenesOnlyByDefault(t *testing.T) {
	codec := raster.NewMemCodec()
	store := storage.NewMemStore()
	sc := fixtureScene(codec, 0.5)

	out, err := New(testConfig(t), testDeps(codec, store, staticSearch(sc))).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed != 0 {
		t.Fatalf("failed tiles = %d", out.Failed)
	}

	ok, err := store.Exists(context.Background(), "wofs/wofs_2023_mosaic.tif")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("mosaic written without run_mosaic")
	}
}

func TestRunCountsFailedTiles(t *testing.T) {
	codec := raster.NewMemCodec()
	store := storage.NewMemStore()
	sc := fixtureScene(codec, 0.5)

	tf := pipeline.TransformFunc(func(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
		if in.Tile.Key.Path == 13 {
			return nil, errors.New("bad pixels")
		}
		return meanTransform(ctx, in)
	})

	cfg := testConfig(t)
	deps := testDeps(codec, store, staticSearch(sc))
	deps.Transform = tf

	out, err := New(cfg, deps).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed != 1 {
		t.Errorf("failed = %d, want 1", out.Failed)
	}

	ledger, err := runlog.Open(cfg.GetLedgerPath(), migrationsDir)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()
	failed, err := ledger.FailedTiles(out.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0] != "13_60" {
		t.Errorf("ledger failed tiles = %v, want [13_60]", failed)
	}
}

func TestRunTilesRequiresMosaic(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunScenes = ptrBool(false)
	cfg.RunTiles = ptrBool(true)
	cfg.RampFile = ptrString(writeRampFile(t))

	_, err := New(cfg, testDeps(raster.NewMemCodec(), storage.NewMemStore(), staticSearch())).Run(context.Background())
	if err == nil {
		t.Error("pyramid stage ran without a mosaic")
	}
}

func TestMosaicPath(t *testing.T) {
	r := New(&config.PipelineConfig{Dataset: "wofs", Year: ptrString("2023")}, Deps{})
	if got := r.mosaicPath(); got != "wofs/wofs_2023_mosaic.tif" {
		t.Errorf("mosaicPath = %q", got)
	}
	r = New(&config.PipelineConfig{Dataset: "wofs"}, Deps{})
	if got := r.mosaicPath(); got != "wofs/wofs_mosaic.tif" {
		t.Errorf("year-less mosaicPath = %q", got)
	}
}
