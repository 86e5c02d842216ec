// Command tilepress runs the scene-to-product pipeline: per-tile processing
// over an area grid, optional mosaic assembly, and an optional web tile
// pyramid, as selected by the config file's stage flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pacific-data/tilepress/internal/config"
	"github.com/pacific-data/tilepress/internal/pipeline"
	"github.com/pacific-data/tilepress/internal/raster"
	"github.com/pacific-data/tilepress/internal/runner"
	"github.com/pacific-data/tilepress/internal/scene"
	"github.com/pacific-data/tilepress/internal/storage"
	"github.com/pacific-data/tilepress/internal/version"
)

var (
	configPath  = flag.String("config", "pipeline.json", "Pipeline config file")
	overwrite   = flag.Bool("overwrite", false, "Replace existing artifacts")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *overwrite {
		cfg.Overwrite = overwrite
	}

	codec := raster.NewGDALCodec()
	if !codec.Available() {
		log.Fatal("gdal tools (gdalwarp, gdal_translate, gdalinfo) not found on PATH")
	}

	transform, err := pipeline.BuiltinTransform(cfg.GetTransform())
	if err != nil {
		log.Fatalf("failed to resolve transform: %v", err)
	}

	store, err := storage.NewLocalStore(cfg.GetStorageRoot())
	if err != nil {
		log.Fatalf("failed to open storage root: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := runner.New(cfg, runner.Deps{
		Searcher:  scene.NewSTACSearcher(cfg.GetStacAPI()),
		Codec:     codec,
		Store:     store,
		Transform: transform,
	}).Run(ctx)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	log.Printf("run %s complete: %d tile(s), %d failed", out.RunID, len(out.Results), out.Failed)
	if out.Failed > 0 {
		os.Exit(1)
	}
}
