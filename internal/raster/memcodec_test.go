package raster

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pacific-data/tilepress/internal/geo"
)

func TestMemCodecEncodeDecode(t *testing.T) {
	c := NewMemCodec()
	g := NewGrid(3, 2, geo.BBox{XMin: 0, YMin: 0, XMax: 3, YMax: 2}, "EPSG:8859")
	g.Set(0, 0, 1.5)
	g.Set(1, 2, -4)

	data, err := c.Encode(g, DefaultWriteOptions())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, opts, err := c.DecodeWithOptions(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if opts.Driver != "COG" || opts.Compress != "LZW" {
		t.Errorf("write options not preserved: %+v", opts)
	}
	if got.At(0, 0) != 1.5 || got.At(1, 2) != -4 {
		t.Error("samples not preserved")
	}
	if !math.IsNaN(got.At(0, 1)) {
		t.Error("nodata not preserved")
	}
}

func TestMemCodecReadWindow(t *testing.T) {
	c := NewMemCodec()
	src := NewGrid(4, 4, geo.BBox{XMin: 0, YMin: 0, XMax: 4, YMax: 4}, "EPSG:8859")
	for i := range src.Data {
		src.Data[i] = float64(i)
	}
	c.AddSource("scene/red.tif", src)

	// Read the eastern half at the same resolution.
	win, err := c.ReadWindow(context.Background(), "scene/red.tif", WindowSpec{
		Bounds: geo.BBox{XMin: 2, YMin: 0, XMax: 4, YMax: 4}, Width: 2, Height: 4, CRS: "EPSG:8859",
	})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if got, want := win.At(0, 0), src.At(0, 2); got != want {
		t.Errorf("window (0,0) = %v, want source (0,2) = %v", got, want)
	}

	// Reads outside the source footprint come back nodata, not error.
	far, err := c.ReadWindow(context.Background(), "scene/red.tif", WindowSpec{
		Bounds: geo.BBox{XMin: 100, YMin: 100, XMax: 102, YMax: 102}, Width: 2, Height: 2, CRS: "EPSG:8859",
	})
	if err != nil {
		t.Fatalf("ReadWindow outside footprint: %v", err)
	}
	for _, v := range far.Data {
		if !math.IsNaN(v) {
			t.Fatal("out-of-footprint read should be all nodata")
		}
	}
}

func TestMemCodecFailRead(t *testing.T) {
	c := NewMemCodec()
	want := errors.New("asset unreadable")
	c.FailRead("scene/bad.tif", want)

	_, err := c.ReadWindow(context.Background(), "scene/bad.tif", WindowSpec{
		Bounds: geo.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1}, Width: 1, Height: 1, CRS: "EPSG:8859",
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want injected failure", err)
	}

	if _, err := c.ReadWindow(context.Background(), "scene/missing.tif", WindowSpec{
		Bounds: geo.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1}, Width: 1, Height: 1, CRS: "EPSG:8859",
	}); err == nil {
		t.Error("unknown asset should error")
	}
}
