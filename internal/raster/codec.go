package raster

import (
	"context"

	"github.com/pacific-data/tilepress/internal/geo"
)

// WriteOptions select the output driver and compression for encoded rasters.
// The pipeline always writes cloud-optimized LZW output; the options exist so
// the choice is visible at call sites and parameterizable for other sources.
type WriteOptions struct {
	Driver    string // e.g. "COG"
	Compress  string // e.g. "LZW"
	Predictor int    // LZW predictor; 0 means codec default
}

// DefaultWriteOptions are the options used for all per-tile artifacts.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Driver: "COG", Compress: "LZW"}
}

// WindowSpec describes a read request: the codec resolves the source to the
// requested bounds, shape, and CRS (reprojecting and resampling as needed).
type WindowSpec struct {
	Bounds geo.BBox
	Width  int
	Height int
	CRS    string
	// SourceCRS, when set, overrides the CRS the source file reports about
	// itself. Some scenes carry truncated EPSG codes in their assets; the
	// catalog's repaired code wins.
	SourceCRS string
}

// Info is a raster's metadata without its pixels.
type Info struct {
	Width       int
	Height      int
	Bounds      geo.BBox
	CRS         string
	DType       string
	Nodata      float64
	ScaleFactor float64
}

// Resolution returns the pixel edge implied by the bounds and width.
func (i Info) Resolution() float64 {
	if i.Width == 0 {
		return 0
	}
	return i.Bounds.Width() / float64(i.Width)
}

// Codec is the raster-format collaborator. Implementations wrap whatever
// raster engine the deployment uses; the pipeline treats reads and writes as
// black boxes. All methods must be safe for concurrent use.
type Codec interface {
	// ReadWindow reads one band of the asset at href into the requested
	// window. Samples outside the asset's footprint are nodata.
	ReadWindow(ctx context.Context, href string, spec WindowSpec) (*Grid, error)

	// Encode serializes a grid with the given options.
	Encode(g *Grid, opts WriteOptions) ([]byte, error)

	// Decode deserializes a grid previously produced by Encode.
	Decode(data []byte) (*Grid, error)

	// DecodeInfo reads the metadata of an encoded grid without its pixel
	// data. Mosaic planning runs on it.
	DecodeInfo(data []byte) (Info, error)
}
