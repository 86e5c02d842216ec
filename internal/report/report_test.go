package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pacific-data/tilepress/internal/pipeline"
	"github.com/pacific-data/tilepress/internal/runlog"
)

func testRecords() []runlog.TileRecord {
	return []runlog.TileRecord{
		{Tile: "10_50", Status: pipeline.StatusWritten, Paths: []string{"a.tif", "b.tif"}},
		{Tile: "11_50", Status: pipeline.StatusWritten, Paths: []string{"c.tif", "d.tif"}},
		{Tile: "12_60", Status: pipeline.StatusFailed, Error: "tile 12_60: bad pixels"},
		{Tile: "13_60", Status: pipeline.StatusSkippedNoCoverage},
	}
}

func TestCompute(t *testing.T) {
	s := Compute(testRecords())
	if s.Total != 4 {
		t.Errorf("total = %d", s.Total)
	}
	if s.Counts[pipeline.StatusWritten] != 2 || s.Counts[pipeline.StatusFailed] != 1 {
		t.Errorf("counts = %v", s.Counts)
	}
	if s.WrittenFraction != 0.5 {
		t.Errorf("written fraction = %v, want 0.5", s.WrittenFraction)
	}
	if s.MeanArtifacts != 2 {
		t.Errorf("mean artifacts = %v, want 2", s.MeanArtifacts)
	}
	if s.StdDevArtifacts != 0 {
		t.Errorf("stddev artifacts = %v, want 0", s.StdDevArtifacts)
	}
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil)
	if s.Total != 0 || s.WrittenFraction != 0 {
		t.Errorf("empty stats = %+v", s)
	}
}

func TestWriteProducesPlotAndChart(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := w.Write("run-1", testRecords())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("stats total = %d", stats.Total)
	}

	png, err := os.ReadFile(filepath.Join(dir, "tile_status_run-1.png"))
	if err != nil {
		t.Fatalf("read plot: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("status plot is not a PNG")
	}

	html, err := os.ReadFile(filepath.Join(dir, "tile_status_run-1.html"))
	if err != nil {
		t.Fatalf("read chart: %v", err)
	}
	if !bytes.Contains(html, []byte("echarts")) {
		t.Error("status chart does not embed echarts")
	}
	if !bytes.Contains(html, []byte("written")) {
		t.Error("status chart lost the written series")
	}
}

func TestWriteRejectsMalformedTileIDs(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = w.Write("run-1", []runlog.TileRecord{{Tile: "oops", Status: pipeline.StatusWritten}})
	if err == nil {
		t.Error("malformed tile id accepted")
	}
}

func TestSplitTile(t *testing.T) {
	p, r, err := splitTile("12_60")
	if err != nil || p != 12 || r != 60 {
		t.Errorf("splitTile = %d, %d, %v", p, r, err)
	}
	if _, _, err := splitTile("12-60"); err == nil {
		t.Error("bad separator accepted")
	}
}
