package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/pacific-data/tilepress/internal/cluster"
	"github.com/pacific-data/tilepress/internal/geo"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/scene"
	"github.com/pacific-data/tilepress/internal/stack"
)

func TestBuiltinTransformUnknown(t *testing.T) {
	if _, err := BuiltinTransform("p95"); err == nil {
		t.Error("unknown transform accepted")
	}
}

func TestReducers(t *testing.T) {
	cases := []struct {
		name    string
		reduce  reducer
		samples []float64
		want    float64
		ok      bool
	}{
		{"mean", reduceMean, []float64{1, 2, 3}, 2, true},
		{"mean empty", reduceMean, nil, 0, false},
		{"median odd", reduceMedian, []float64{3, 1, 2}, 2, true},
		{"median even", reduceMedian, []float64{4, 1, 2, 3}, 2.5, true},
		{"median empty", reduceMedian, nil, 0, false},
		{"count", reduceCount, []float64{5, 5}, 2, true},
		{"count empty", reduceCount, nil, 0, true},
	}
	for _, tc := range cases {
		got, ok := tc.reduce(tc.samples)
		if got != tc.want || ok != tc.ok {
			t.Errorf("%s = (%v, %v), want (%v, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

// buildTestStack materializes a two-time red stack with values 1 and 3.
func buildTestStack(t *testing.T) *stack.Stack {
	t.Helper()
	codec := raster.NewMemCodec()
	bounds := geo.BBox{XMin: 0, YMin: 0, XMax: 60, YMax: 60}

	var scenes scene.Collection
	for i, value := range []float64{1, 3} {
		src := raster.NewGrid(2, 2, bounds, "EPSG:4326")
		for j := range src.Data {
			src.Data[j] = value
		}
		href := "mem://" + string(rune('a'+i)) + "/red"
		codec.AddSource(href, src)
		scenes = append(scenes, scene.Scene{
			ID:       href,
			Datetime: time.Date(2023, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC),
			Assets:   map[string]string{"red": href},
		})
	}

	plan, err := stack.NewBuilder(codec).Plan(scenes, geo.RectGeometry(bounds), stack.BuildOptions{
		CRS:        "EPSG:4326",
		Resolution: 30,
		Bands:      []string{"red"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	st, err := plan.Materialize(context.Background(), cluster.NewLocal(2).NewPool())
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	return st
}

func TestBuiltinTransformMean(t *testing.T) {
	tf, err := BuiltinTransform("mean")
	if err != nil {
		t.Fatal(err)
	}
	res, err := tf.Transform(context.Background(), Input{Stack: buildTestStack(t)})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(res.VariableLabels) != 1 || res.VariableLabels[0] != "red_mean" {
		t.Fatalf("labels = %v", res.VariableLabels)
	}
	if v := res.Grid(0, 0).At(0, 0); v != 2 {
		t.Errorf("mean = %v, want 2", v)
	}
}

func TestBuiltinTransformCount(t *testing.T) {
	tf, err := BuiltinTransform("count")
	if err != nil {
		t.Fatal(err)
	}
	res, err := tf.Transform(context.Background(), Input{Stack: buildTestStack(t)})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if v := res.Grid(0, 0).At(1, 1); v != 2 {
		t.Errorf("count = %v, want 2", v)
	}
}
