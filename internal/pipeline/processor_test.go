package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pacific-data/tilepress/internal/cluster"
	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/grid"
	"github.com/pacific-data/tilepress/internal/naming"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/scene"
	"github.com/pacific-data/tilepress/internal/stack"
	"github.com/pacific-data/tilepress/internal/storage"
)

var testTile = grid.Tile{
	Key:      grid.TileKey{Path: 12, Row: 60},
	Geometry: geo.RectGeometry(geo.BBox{XMin: 0, YMin: 0, XMax: 60, YMax: 60}),
}

func testOptions() Options {
	return Options{
		Resolver: naming.Resolver{Dataset: "wofs", Year: "2023"},
		Start:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		StackOptions: stack.BuildOptions{
			CRS:        "EPSG:4326",
			Resolution: 30,
			ChunkSize:  2,
			Bands:      []string{"red"},
		},
		Overwrite: true,
	}
}

// fixtureScene registers a constant-valued red asset with the codec.
func fixtureScene(codec *raster.MemCodec, id string, value float64) scene.Scene {
	src := raster.NewGrid(2, 2, geo.BBox{XMin: 0, YMin: 0, XMax: 60, YMax: 60}, "EPSG:4326")
	for i := range src.Data {
		src.Data[i] = value
	}
	href := "mem://" + id + "/red"
	codec.AddSource(href, src)
	return scene.Scene{
		ID:       id,
		Datetime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		Assets:   map[string]string{"red": href},
	}
}

// meanTransform averages the red band over time into a single grid.
var meanTransform = TransformFunc(func(ctx context.Context, in Input) (*Result, error) {
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
	return NewResult2D(out), nil
})

func staticSearch(scenes ...scene.Scene) scene.Searcher {
	return scene.SearchFunc(func(ctx context.Context, q scene.Query) (scene.Collection, error) {
		return scenes, nil
	})
}

func TestProcessTileWritten(t *testing.T) {
	codec := raster.NewMemCodec()
	store := storage.NewMemStore()
	sc := fixtureScene(codec, "s1", 0.5)

	p := NewProcessor(staticSearch(sc), codec, store, meanTransform, testOptions())
	res := p.ProcessTile(context.Background(), cluster.NewLocal(2), testTile)

	if res.Status != StatusWritten {
		t.Fatalf("status = %s (err %v), want written", res.Status, res.Err)
	}
	wantPath := "wofs/2023/wofs_2023_12_60.tif"
	if len(res.Paths) != 1 || res.Paths[0] != wantPath {
		t.Fatalf("paths = %v, want [%s]", res.Paths, wantPath)
	}

	data, err := store.Read(context.Background(), wantPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	g, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if g.At(0, 0) != 0.5 {
		t.Errorf("artifact value = %v, want 0.5", g.At(0, 0))
	}
}

func TestProcessTileNoCoverage(t *testing.T) {
	p := NewProcessor(staticSearch(), raster.NewMemCodec(), storage.NewMemStore(), meanTransform, testOptions())
	res := p.ProcessTile(context.Background(), cluster.NewLocal(1), testTile)
	if res.Status != StatusSkippedNoCoverage {
		t.Errorf("status = %s, want skipped_no_coverage", res.Status)
	}
	if res.Err != nil {
		t.Errorf("no-coverage skip carried error %v", res.Err)
	}
}

func TestProcessTileNoResult(t *testing.T) {
	codec := raster.NewMemCodec()
	sc := fixtureScene(codec, "s1", 0.5)
	decline := TransformFunc(func(ctx context.Context, in Input) (*Result, error) {
		return nil, nil
	})
	p := NewProcessor(staticSearch(sc), codec, storage.NewMemStore(), decline, testOptions())
	res := p.ProcessTile(context.Background(), cluster.NewLocal(1), testTile)
	if res.Status != StatusSkippedNoResult {
		t.Errorf("status = %s, want skipped_no_result", res.Status)
	}
}

func TestProcessTileFailureCarriesTileID(t *testing.T) {
	codec := raster.NewMemCodec()
	sc := fixtureScene(codec, "s1", 0.5)
	boom := TransformFunc(func(ctx context.Context, in Input) (*Result, error) {
		return nil, errors.New("singular matrix")
	})
	p := NewProcessor(staticSearch(sc), codec, storage.NewMemStore(), boom, testOptions())
	res := p.ProcessTile(context.Background(), cluster.NewLocal(1), testTile)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "12_60") {
		t.Errorf("failure lost the tile id: %v", res.Err)
	}
}

func TestProcessTileHonorsOverwriteFalse(t *testing.T) {
	codec := raster.NewMemCodec()
	store := storage.NewMemStore()
	sc := fixtureScene(codec, "s1", 0.5)

	opts := testOptions()
	opts.Overwrite = false
	p := NewProcessor(staticSearch(sc), codec, store, meanTransform, opts)

	for i := 0; i < 2; i++ {
		res := p.ProcessTile(context.Background(), cluster.NewLocal(1), testTile)
		if res.Status != StatusWritten {
			t.Fatalf("run %d: status = %s (err %v)", i, res.Status, res.Err)
		}
	}
	if store.WriteCount() != 1 {
		t.Errorf("write count = %d, want 1 (second run must be a no-op)", store.WriteCount())
	}
}

func TestProcessTileQuantizes(t *testing.T) {
	codec := raster.NewMemCodec()
	store := storage.NewMemStore()
	sc := fixtureScene(codec, "s1", 0.075)

	opts := testOptions()
	opts.Quantize = true
	opts.Multiplier = 10000
	opts.Nodata = -32767
	p := NewProcessor(staticSearch(sc), codec, store, meanTransform, opts)
	res := p.ProcessTile(context.Background(), cluster.NewLocal(1), testTile)
	if res.Status != StatusWritten {
		t.Fatalf("status = %s (err %v)", res.Status, res.Err)
	}

	data, _ := store.Read(context.Background(), res.Paths[0])
	g, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if g.DType != raster.DTypeInt16 {
		t.Errorf("dtype = %s, want int16", g.DType)
	}
	if g.At(0, 0) != 750 {
		t.Errorf("quantized value = %v, want 750", g.At(0, 0))
	}
	if g.ScaleFactor != 1.0/10000 {
		t.Errorf("scale factor = %v", g.ScaleFactor)
	}
}

func TestProcessTileSkipsCataloged(t *testing.T) {
	store := storage.NewMemStore()
	item := &naming.ItemPath{Prefix: "dep", Sensor: "ls", Dataset: "wofs", Version: "1.0", Time: "2023"}
	sidecar := item.StacPath(naming.TileID(testTile.Key)...)
	if err := store.Write(context.Background(), sidecar, []byte("{}"), true); err != nil {
		t.Fatal(err)
	}

	searched := false
	searcher := scene.SearchFunc(func(ctx context.Context, q scene.Query) (scene.Collection, error) {
		searched = true
		return nil, nil
	})

	opts := testOptions()
	opts.ItemPath = item
	p := NewProcessor(searcher, raster.NewMemCodec(), store, meanTransform, opts)
	res := p.ProcessTile(context.Background(), cluster.NewLocal(1), testTile)

	if res.Status != StatusWritten {
		t.Fatalf("status = %s, want written", res.Status)
	}
	if searched {
		t.Error("cataloged tile still triggered a scene search")
	}
	if len(res.Paths) != 1 {
		t.Errorf("paths = %v", res.Paths)
	}
}

func TestRunContainsPerTileFailures(t *testing.T) {
	codec := raster.NewMemCodec()
	store := storage.NewMemStore()
	sc := fixtureScene(codec, "s1", 0.5)

	tiles := []grid.Tile{
		testTile,
		{Key: grid.TileKey{Path: 13, Row: 60}, Geometry: geo.RectGeometry(geo.BBox{XMin: 60, YMin: 0, XMax: 120, YMax: 60})},
	}
	g, err := grid.New(tiles)
	if err != nil {
		t.Fatal(err)
	}

	// Second tile fails in the transform; first succeeds.
	tf := TransformFunc(func(ctx context.Context, in Input) (*Result, error) {
		if in.Tile.Key.Path == 13 {
			return nil, errors.New("bad pixels")
		}
		return meanTransform(ctx, in)
	})
	searcher := scene.SearchFunc(func(ctx context.Context, q scene.Query) (scene.Collection, error) {
		return scene.Collection{sc}, nil
	})

	p := NewProcessor(searcher, codec, store, tf, testOptions())
	results, err := p.Run(context.Background(), cluster.NewLocal(2), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Status != StatusWritten {
		t.Errorf("tile 12_60 = %s (err %v)", results[0].Status, results[0].Err)
	}
	if results[1].Status != StatusFailed {
		t.Errorf("tile 13_60 = %s, want failed", results[1].Status)
	}
	if Failed(results) != 1 {
		t.Errorf("Failed = %d, want 1", Failed(results))
	}
}
