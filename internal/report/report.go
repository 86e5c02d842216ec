// Package report renders post-run summaries: aggregate statistics, a PNG
// scatter of tile outcomes across the grid plane, and an HTML chart for
// browsing.
package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/pacific-data/tilepress/internal/monitoring"
	"github.com/pacific-data/tilepress/internal/pipeline"
	"github.com/pacific-data/tilepress/internal/runlog"
)

// Stats aggregates one run's outcomes.
type Stats struct {
	Total           int
	Counts          map[pipeline.Status]int
	WrittenFraction float64
	// Artifact count distribution over written tiles.
	MeanArtifacts   float64
	StdDevArtifacts float64
}

// Compute derives run statistics from the ledger records.
func Compute(recs []runlog.TileRecord) Stats {
	s := Stats{Total: len(recs), Counts: make(map[pipeline.Status]int)}
	var artifactCounts []float64
	for _, r := range recs {
		s.Counts[r.Status]++
		if r.Status == pipeline.StatusWritten {
			artifactCounts = append(artifactCounts, float64(len(r.Paths)))
		}
	}
	if s.Total > 0 {
		s.WrittenFraction = float64(s.Counts[pipeline.StatusWritten]) / float64(s.Total)
	}
	if len(artifactCounts) > 0 {
		s.MeanArtifacts, s.StdDevArtifacts = stat.MeanStdDev(artifactCounts, nil)
	}
	return s
}

// Writer renders report files into one directory.
type Writer struct {
	outputDir string
}

// NewWriter creates the output directory if needed.
func NewWriter(outputDir string) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &Writer{outputDir: outputDir}, nil
}

// Write renders the full report for a run and returns its statistics.
func (w *Writer) Write(runID string, recs []runlog.TileRecord) (Stats, error) {
	stats := Compute(recs)
	if err := w.writeStatusPlot(runID, recs); err != nil {
		return stats, err
	}
	if err := w.writeStatusChart(runID, recs, stats); err != nil {
		return stats, err
	}
	monitoring.Logf("[report] run %s: %d tiles, %.0f%% written",
		runID, stats.Total, stats.WrittenFraction*100)
	return stats, nil
}

var statusOrder = []pipeline.Status{
	pipeline.StatusWritten,
	pipeline.StatusSkippedNoCoverage,
	pipeline.StatusSkippedNoResult,
	pipeline.StatusFailed,
}

var statusColors = map[pipeline.Status]color.RGBA{
	pipeline.StatusWritten:           {R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	pipeline.StatusSkippedNoCoverage: {R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff},
	pipeline.StatusSkippedNoResult:   {R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	pipeline.StatusFailed:            {R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
}

// writeStatusPlot renders tile outcomes as a scatter over the (path, row)
// plane, one colored series per terminal state.
func (w *Writer) writeStatusPlot(runID string, recs []runlog.TileRecord) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tile status (run %s)", runID)
	p.X.Label.Text = "path"
	p.Y.Label.Text = "row"

	for _, status := range statusOrder {
		pts := make(plotter.XYs, 0, len(recs))
		for _, r := range recs {
			if r.Status != status {
				continue
			}
			path, row, err := splitTile(r.Tile)
			if err != nil {
				return err
			}
			pts = append(pts, plotter.XY{X: float64(path), Y: float64(row)})
		}
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("scatter for %s: %w", status, err)
		}
		s.GlyphStyle.Color = statusColors[status]
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add(string(status), s)
	}

	file := filepath.Join(w.outputDir, fmt.Sprintf("tile_status_%s.png", runID))
	if err := p.Save(8*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save status plot: %w", err)
	}
	return nil
}

// writeStatusChart renders the same view as a browsable HTML scatter.
func (w *Writer) writeStatusChart(runID string, recs []runlog.TileRecord, stats Stats) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Tile status", Width: "900px", Height: "700px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Tile status",
			Subtitle: fmt.Sprintf("run=%s tiles=%d written=%.0f%% failed=%d",
				runID, stats.Total, stats.WrittenFraction*100, stats.Counts[pipeline.StatusFailed]),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "path"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "row"}),
	)

	for _, status := range statusOrder {
		data := make([]opts.ScatterData, 0, len(recs))
		for _, r := range recs {
			if r.Status != status {
				continue
			}
			path, row, err := splitTile(r.Tile)
			if err != nil {
				return err
			}
			data = append(data, opts.ScatterData{Value: []interface{}{path, row}})
		}
		if len(data) == 0 {
			continue
		}
		scatter.AddSeries(string(status), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	}

	file := filepath.Join(w.outputDir, fmt.Sprintf("tile_status_%s.html", runID))
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create status chart: %w", err)
	}
	defer f.Close()
	if err := scatter.Render(f); err != nil {
		return fmt.Errorf("render status chart: %w", err)
	}
	return nil
}

func splitTile(tile string) (path, row int, err error) {
	parts := strings.SplitN(tile, "_", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed tile id %q", tile)
	}
	path, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed tile id %q", tile)
	}
	row, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed tile id %q", tile)
	}
	return path, row, nil
}
