package raster

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pacific-data/tilepress/internal/geo"
)

// floatSentinel is the nodata value written for float grids, whose in-memory
// nodata is NaN.
const floatSentinel = -9999.0

// GDALCodec is the production Codec. It shells out to the GDAL command line
// tools (no pure-Go raster engine exists, and the cgo bindings tie the build
// to a system libgdal). Pixel data crosses the boundary as Arc/Info ASCII
// grids, which both sides can produce and parse; compressed COG output and
// windowed reprojected reads are GDAL's side of the contract.
type GDALCodec struct {
	// Warp, Translate, and Info are the tool names, overridable for tests.
	Warp      string
	Translate string
	Info      string
	// TempDir defaults to the system temp directory.
	TempDir string
}

// NewGDALCodec returns a codec using the gdal tools from PATH.
func NewGDALCodec() *GDALCodec {
	return &GDALCodec{Warp: "gdalwarp", Translate: "gdal_translate", Info: "gdalinfo"}
}

// Available reports whether the GDAL tools can be found.
func (c *GDALCodec) Available() bool {
	for _, tool := range []string{c.Warp, c.Translate, c.Info} {
		if _, err := exec.LookPath(tool); err != nil {
			return false
		}
	}
	return true
}

// ReadWindow implements Codec: one gdalwarp into the requested frame, then a
// decode of the warped file.
func (c *GDALCodec) ReadWindow(ctx context.Context, href string, spec WindowSpec) (*Grid, error) {
	dir, err := os.MkdirTemp(c.TempDir, "tilepress-read-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	warped := filepath.Join(dir, "window.tif")
	if err := runTool(ctx, c.Warp, warpArgs(spec, vsiPath(href), warped)...); err != nil {
		return nil, fmt.Errorf("read %s: %w", href, err)
	}

	g, err := c.decodeFile(ctx, warped)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", href, err)
	}
	// The warp frame is authoritative; gdalinfo round-trips it with less
	// precision than the caller asked for.
	g.Bounds = spec.Bounds
	if spec.CRS != "" {
		g.CRS = spec.CRS
	}
	return g, nil
}

// Encode implements Codec.
func (c *GDALCodec) Encode(g *Grid, opts WriteOptions) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(c.TempDir, "tilepress-enc-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	asc := filepath.Join(dir, "grid.asc")
	if err := os.WriteFile(asc, []byte(formatAAIGrid(g)), 0o644); err != nil {
		return nil, err
	}

	driver := opts.Driver
	if driver == "" {
		driver = "COG"
	}
	args := []string{"-q", "-of", driver}
	if opts.Compress != "" {
		args = append(args, "-co", "COMPRESS="+opts.Compress)
	}
	if opts.Predictor > 0 {
		args = append(args, "-co", fmt.Sprintf("PREDICTOR=%d", opts.Predictor))
	}
	if g.DType == DTypeInt16 {
		args = append(args, "-ot", "Int16")
	} else {
		args = append(args, "-ot", "Float32")
	}
	args = append(args, "-a_nodata", formatFloat(encodedNodata(g)))
	if g.CRS != "" {
		args = append(args, "-a_srs", g.CRS)
	}
	if g.ScaleFactor != 0 {
		args = append(args, "-a_scale", formatFloat(g.ScaleFactor))
	}
	out := filepath.Join(dir, "grid.tif")
	args = append(args, asc, out)
	if err := runTool(context.Background(), c.Translate, args...); err != nil {
		return nil, fmt.Errorf("encode grid: %w", err)
	}
	return os.ReadFile(out)
}

// warpArgs builds the gdalwarp invocation for a window read.
func warpArgs(spec WindowSpec, src, dst string) []string {
	args := []string{
		"-q", "-overwrite", "-of", "GTiff", "-r", "nearest",
		"-te", formatFloat(spec.Bounds.XMin), formatFloat(spec.Bounds.YMin),
		formatFloat(spec.Bounds.XMax), formatFloat(spec.Bounds.YMax),
		"-ts", strconv.Itoa(spec.Width), strconv.Itoa(spec.Height),
	}
	if spec.SourceCRS != "" {
		args = append(args, "-s_srs", spec.SourceCRS)
	}
	if spec.CRS != "" {
		args = append(args, "-t_srs", spec.CRS)
	}
	return append(args, src, dst)
}

// Decode implements Codec.
func (c *GDALCodec) Decode(data []byte) (*Grid, error) {
	dir, err := os.MkdirTemp(c.TempDir, "tilepress-dec-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "grid.tif")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		return nil, err
	}
	return c.decodeFile(context.Background(), in)
}

// DecodeInfo implements Codec: one gdalinfo call, no pixel transfer.
func (c *GDALCodec) DecodeInfo(data []byte) (Info, error) {
	dir, err := os.MkdirTemp(c.TempDir, "tilepress-info-")
	if err != nil {
		return Info{}, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "grid.tif")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		return Info{}, err
	}
	meta, err := c.info(context.Background(), in)
	if err != nil {
		return Info{}, err
	}

	out := Info{
		Width:  meta.width(),
		Height: meta.height(),
		Bounds: meta.bounds(),
		CRS:    epsgFromWKT(meta.CoordinateSystem.WKT),
		DType:  DTypeFloat32,
		Nodata: math.NaN(),
	}
	if len(meta.Bands) > 0 {
		b := meta.Bands[0]
		if b.Type == "Int16" {
			out.DType = DTypeInt16
			if b.NoDataValue != nil {
				out.Nodata = *b.NoDataValue
			}
		}
		if b.Scale != nil {
			out.ScaleFactor = *b.Scale
		}
	}
	return out, nil
}

func (c *GDALCodec) decodeFile(ctx context.Context, path string) (*Grid, error) {
	meta, err := c.info(ctx, path)
	if err != nil {
		return nil, err
	}

	asc := filepath.Join(filepath.Dir(path), "decode.asc")
	if err := runTool(ctx, c.Translate, "-q", "-of", "AAIGrid", path, asc); err != nil {
		return nil, err
	}
	text, err := os.ReadFile(asc)
	if err != nil {
		return nil, err
	}
	data, w, h, err := parseAAIGrid(string(text))
	if err != nil {
		return nil, err
	}
	if w != meta.width() || h != meta.height() {
		return nil, fmt.Errorf("decoded shape %dx%d does not match metadata %dx%d", w, h, meta.width(), meta.height())
	}

	g := &Grid{
		Width:  w,
		Height: h,
		Bounds: meta.bounds(),
		CRS:    epsgFromWKT(meta.CoordinateSystem.WKT),
		DType:  DTypeFloat32,
		Nodata: math.NaN(),
		Data:   data,
	}
	if len(meta.Bands) > 0 {
		b := meta.Bands[0]
		if b.Type == "Int16" {
			g.DType = DTypeInt16
		}
		if b.Scale != nil {
			g.ScaleFactor = *b.Scale
		}
		if b.NoDataValue != nil {
			if g.DType == DTypeInt16 {
				g.Nodata = *b.NoDataValue
			} else {
				// Float nodata comes back as NaN; map the sentinel.
				for i, v := range data {
					if v == *b.NoDataValue {
						data[i] = math.NaN()
					}
				}
			}
		}
	}
	return g, nil
}

type gdalInfo struct {
	Size         []int     `json:"size"`
	GeoTransform []float64 `json:"geoTransform"`
	Bands        []struct {
		Type        string   `json:"type"`
		NoDataValue *float64 `json:"noDataValue"`
		Scale       *float64 `json:"scale"`
	} `json:"bands"`
	CoordinateSystem struct {
		WKT string `json:"wkt"`
	} `json:"coordinateSystem"`
}

func (m *gdalInfo) width() int {
	if len(m.Size) == 2 {
		return m.Size[0]
	}
	return 0
}

func (m *gdalInfo) height() int {
	if len(m.Size) == 2 {
		return m.Size[1]
	}
	return 0
}

func (m *gdalInfo) bounds() geo.BBox {
	if len(m.GeoTransform) < 6 {
		return geo.BBox{}
	}
	gt := m.GeoTransform
	return geo.BBox{
		XMin: gt[0],
		YMax: gt[3],
		XMax: gt[0] + gt[1]*float64(m.width()),
		YMin: gt[3] + gt[5]*float64(m.height()),
	}
}

func (c *GDALCodec) info(ctx context.Context, path string) (*gdalInfo, error) {
	out, err := exec.CommandContext(ctx, c.Info, "-json", path).Output()
	if err != nil {
		return nil, toolError(c.Info, err)
	}
	var meta gdalInfo
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, fmt.Errorf("parse gdalinfo output: %w", err)
	}
	return &meta, nil
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return toolError(name, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}

func toolError(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}

// vsiPath maps remote hrefs onto GDAL virtual filesystem paths.
func vsiPath(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return "/vsicurl/" + href
	}
	return href
}

// formatAAIGrid serializes a grid as an Arc/Info ASCII grid, rows north to
// south. Requires square pixels.
func formatAAIGrid(g *Grid) string {
	var b strings.Builder
	cell := g.Bounds.Width() / float64(g.Width)
	nodata := encodedNodata(g)
	fmt.Fprintf(&b, "ncols %d\n", g.Width)
	fmt.Fprintf(&b, "nrows %d\n", g.Height)
	fmt.Fprintf(&b, "xllcorner %s\n", formatFloat(g.Bounds.XMin))
	fmt.Fprintf(&b, "yllcorner %s\n", formatFloat(g.Bounds.YMin))
	fmt.Fprintf(&b, "cellsize %s\n", formatFloat(cell))
	fmt.Fprintf(&b, "NODATA_value %s\n", formatFloat(nodata))
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			if col > 0 {
				b.WriteByte(' ')
			}
			v := g.At(row, col)
			if g.IsNodata(v) {
				v = nodata
			}
			b.WriteString(formatFloat(v))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// parseAAIGrid reads an Arc/Info ASCII grid. Nodata values come back as
// written; the caller maps them.
func parseAAIGrid(text string) (data []float64, w, h int, err error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)

	headers := map[string]float64{}
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		key := strings.ToLower(fields[0])
		if len(fields) == 2 && isHeaderKey(key) {
			v, perr := strconv.ParseFloat(fields[1], 64)
			if perr != nil {
				return nil, 0, 0, fmt.Errorf("ascii grid header %s: %w", key, perr)
			}
			headers[key] = v
			continue
		}
		// First data row.
		for _, f := range fields {
			v, perr := strconv.ParseFloat(f, 64)
			if perr != nil {
				return nil, 0, 0, fmt.Errorf("ascii grid sample %q: %w", f, perr)
			}
			data = append(data, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, 0, err
	}

	w = int(headers["ncols"])
	h = int(headers["nrows"])
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("ascii grid missing ncols/nrows")
	}
	if len(data) != w*h {
		return nil, 0, 0, fmt.Errorf("ascii grid has %d samples, want %d", len(data), w*h)
	}
	return data, w, h, nil
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value", "dx", "dy":
		return true
	}
	return false
}

func encodedNodata(g *Grid) float64 {
	if math.IsNaN(g.Nodata) {
		return floatSentinel
	}
	return g.Nodata
}

// epsgFromWKT pulls the last EPSG authority code out of a WKT string; both
// WKT1 AUTHORITY and WKT2 ID forms occur depending on the GDAL version.
func epsgFromWKT(wkt string) string {
	code := ""
	for _, marker := range []string{`AUTHORITY["EPSG","`, `ID["EPSG",`} {
		idx := strings.LastIndex(wkt, marker)
		if idx < 0 {
			continue
		}
		rest := wkt[idx+len(marker):]
		end := strings.IndexAny(rest, `"]`)
		if end <= 0 {
			continue
		}
		code = rest[:end]
	}
	if code == "" {
		return ""
	}
	return "EPSG:" + code
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
