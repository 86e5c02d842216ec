// Package config holds the pipeline run configuration. Configs load from
// JSON with every field optional: omitted fields fall back to defaults via
// the Get* accessors, so partial configs are safe. The pipeline never reads
// the environment; the binary resolves everything once into this struct.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PipelineConfig is the root run configuration.
type PipelineConfig struct {
	// Product identity.
	Dataset string  `json:"dataset"`
	Year    *string `json:"year,omitempty"`
	Version *string `json:"version,omitempty"`
	Sensor  *string `json:"sensor,omitempty"`
	// ItemPrefix is the catalog naming prefix (e.g. an organisation tag).
	ItemPrefix *string `json:"item_prefix,omitempty"`

	// Scene search. StacAPI is the catalog root URL.
	StacAPI     *string  `json:"stac_api,omitempty"`
	StartDate   *string  `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate     *string  `json:"end_date,omitempty"`
	Collections []string `json:"collections,omitempty"`
	SearchTries *int     `json:"search_tries,omitempty"`
	SearchDelay *string  `json:"search_delay,omitempty"` // duration string like "1s"

	// Area grid source.
	GridPath       *string `json:"grid_path,omitempty"`
	GridLayer      *string `json:"grid_layer,omitempty"`
	GridPathColumn *string `json:"grid_path_column,omitempty"`
	GridRowColumn  *string `json:"grid_row_column,omitempty"`

	// Stack shape.
	Bands      []string `json:"bands,omitempty"`
	Resolution *float64 `json:"resolution,omitempty"`
	CRS        *string  `json:"crs,omitempty"`
	ChunkSize  *int     `json:"chunk_size,omitempty"`

	// Masking and radiometry.
	CloudMask    *bool    `json:"cloud_mask,omitempty"`
	MaskDilation *int     `json:"mask_dilation,omitempty"`
	Rescale      *bool    `json:"rescale,omitempty"`
	Scale        *float64 `json:"scale,omitempty"`
	Offset       *float64 `json:"offset,omitempty"`

	// Quantization.
	Quantize   *bool    `json:"quantize,omitempty"`
	Multiplier *float64 `json:"multiplier,omitempty"`
	Nodata     *int     `json:"nodata,omitempty"`

	// Transform selects a built-in reducer when no custom transform is wired.
	Transform *string `json:"transform,omitempty"`

	// Output layout.
	Overwrite       *bool `json:"overwrite,omitempty"`
	SplitByYear     *bool `json:"split_by_year,omitempty"`
	SplitByVariable *bool `json:"split_by_variable,omitempty"`

	// Stage selection.
	RunScenes *bool `json:"run_scenes,omitempty"`
	RunMosaic *bool `json:"run_mosaic,omitempty"`
	RunTiles  *bool `json:"run_tiles,omitempty"`

	// Execution.
	Workers *int `json:"workers,omitempty"`

	// Storage and bookkeeping.
	StorageRoot   *string `json:"storage_root,omitempty"`
	LedgerPath    *string `json:"ledger_path,omitempty"`
	MigrationsDir *string `json:"migrations_dir,omitempty"`
	ReportDir     *string `json:"report_dir,omitempty"`

	// Pyramid rendering.
	RampFile   *string `json:"ramp_file,omitempty"`
	TilePrefix *string `json:"tile_prefix,omitempty"`
	MinZoom    *int    `json:"min_zoom,omitempty"`
	MaxZoom    *int    `json:"max_zoom,omitempty"`
	TileSize   *int    `json:"tile_size,omitempty"`
}

// Load reads and validates a config file. Fields omitted from the JSON keep
// their defaults.
func Load(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := &PipelineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are usable. A run must not start on a
// config that fails here.
func (c *PipelineConfig) Validate() error {
	if c.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"start_date", c.StartDate},
		{"end_date", c.EndDate},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.Parse("2006-01-02", *field.value); err != nil {
				return fmt.Errorf("invalid %s %q: %w", field.name, *field.value, err)
			}
		}
	}
	if c.SearchDelay != nil && *c.SearchDelay != "" {
		if _, err := time.ParseDuration(*c.SearchDelay); err != nil {
			return fmt.Errorf("invalid search_delay %q: %w", *c.SearchDelay, err)
		}
	}
	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}
	if c.Resolution != nil && *c.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %g", *c.Resolution)
	}
	if c.Multiplier != nil && *c.Multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive, got %g", *c.Multiplier)
	}
	if c.Nodata != nil && (*c.Nodata < -32768 || *c.Nodata > 32767) {
		return fmt.Errorf("nodata %d does not fit int16", *c.Nodata)
	}
	if c.Workers != nil && *c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", *c.Workers)
	}
	if c.MinZoom != nil && *c.MinZoom < 0 {
		return fmt.Errorf("min_zoom must be non-negative, got %d", *c.MinZoom)
	}
	if c.MaxZoom != nil && c.MinZoom != nil && *c.MaxZoom < *c.MinZoom {
		return fmt.Errorf("max_zoom %d below min_zoom %d", *c.MaxZoom, *c.MinZoom)
	}
	if c.GetRunScenes() && (c.GridPath == nil || *c.GridPath == "") {
		return fmt.Errorf("grid_path is required to process scenes")
	}
	if c.GetRunTiles() && (c.RampFile == nil || *c.RampFile == "") {
		return fmt.Errorf("ramp_file is required to render tiles")
	}
	return nil
}

// GetYear returns the run's year label, defaulting to the year of StartDate
// and falling back to empty (year-less naming).
func (c *PipelineConfig) GetYear() string {
	if c.Year != nil {
		return *c.Year
	}
	if c.StartDate != nil && len(*c.StartDate) >= 4 {
		return (*c.StartDate)[:4]
	}
	return ""
}

// GetVersion returns the product version, default "0.0.0".
func (c *PipelineConfig) GetVersion() string {
	if c.Version == nil {
		return "0.0.0"
	}
	return *c.Version
}

// GetSensor returns the sensor tag, default "ls".
func (c *PipelineConfig) GetSensor() string {
	if c.Sensor == nil {
		return "ls"
	}
	return *c.Sensor
}

// GetItemPrefix returns the catalog naming prefix, default "dep".
func (c *PipelineConfig) GetItemPrefix() string {
	if c.ItemPrefix == nil {
		return "dep"
	}
	return *c.ItemPrefix
}

// GetPeriod returns the search period. Zero times mean unbounded ends.
func (c *PipelineConfig) GetPeriod() (start, end time.Time) {
	if c.StartDate != nil && *c.StartDate != "" {
		start, _ = time.Parse("2006-01-02", *c.StartDate)
	}
	if c.EndDate != nil && *c.EndDate != "" {
		end, _ = time.Parse("2006-01-02", *c.EndDate)
	}
	return start, end
}

// GetStacAPI returns the catalog root URL, defaulting to the Planetary
// Computer public catalog the grid's scenes live in.
func (c *PipelineConfig) GetStacAPI() string {
	if c.StacAPI == nil || *c.StacAPI == "" {
		return "https://planetarycomputer.microsoft.com/api/stac/v1"
	}
	return *c.StacAPI
}

// GetTransform names the built-in reducer, default "mean".
func (c *PipelineConfig) GetTransform() string {
	if c.Transform == nil || *c.Transform == "" {
		return "mean"
	}
	return *c.Transform
}

// GetCollections returns the search collections, default landsat-c2-l2.
func (c *PipelineConfig) GetCollections() []string {
	if len(c.Collections) == 0 {
		return []string{"landsat-c2-l2"}
	}
	return c.Collections
}

// GetSearchTries returns the search attempt bound, default 5.
func (c *PipelineConfig) GetSearchTries() int {
	if c.SearchTries == nil {
		return 5
	}
	return *c.SearchTries
}

// GetSearchDelay returns the delay between search attempts, default 1s.
func (c *PipelineConfig) GetSearchDelay() time.Duration {
	if c.SearchDelay == nil || *c.SearchDelay == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.SearchDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetGridLayer returns the grid layer name, default "grid".
func (c *PipelineConfig) GetGridLayer() string {
	if c.GridLayer == nil {
		return "grid"
	}
	return *c.GridLayer
}

// GetGridPathColumn returns the tile path column, default "PATH".
func (c *PipelineConfig) GetGridPathColumn() string {
	if c.GridPathColumn == nil {
		return "PATH"
	}
	return *c.GridPathColumn
}

// GetGridRowColumn returns the tile row column, default "ROW".
func (c *PipelineConfig) GetGridRowColumn() string {
	if c.GridRowColumn == nil {
		return "ROW"
	}
	return *c.GridRowColumn
}

// GetBands returns the bands to stack, default red/green/blue plus the
// quality band.
func (c *PipelineConfig) GetBands() []string {
	if len(c.Bands) == 0 {
		return []string{"red", "green", "blue", "qa_pixel"}
	}
	return c.Bands
}

// GetResolution returns the working ground resolution, default 30.
func (c *PipelineConfig) GetResolution() float64 {
	if c.Resolution == nil {
		return 30
	}
	return *c.Resolution
}

// GetCRS returns the working CRS, default EPSG:8859.
func (c *PipelineConfig) GetCRS() string {
	if c.CRS == nil {
		return "EPSG:8859"
	}
	return *c.CRS
}

// GetChunkSize returns the stack chunk edge, default 4096.
func (c *PipelineConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 4096
	}
	return *c.ChunkSize
}

// GetCloudMask reports whether quality masking runs, default true.
func (c *PipelineConfig) GetCloudMask() bool {
	if c.CloudMask == nil {
		return true
	}
	return *c.CloudMask
}

// GetMaskDilation returns the cloud mask dilation radius, default 0.
func (c *PipelineConfig) GetMaskDilation() int {
	if c.MaskDilation == nil {
		return 0
	}
	return *c.MaskDilation
}

// GetRescale reports whether radiometric rescaling runs, default true.
func (c *PipelineConfig) GetRescale() bool {
	if c.Rescale == nil {
		return true
	}
	return *c.Rescale
}

// GetScale returns the radiometric scale, default 0.0000275.
func (c *PipelineConfig) GetScale() float64 {
	if c.Scale == nil {
		return 0.0000275
	}
	return *c.Scale
}

// GetOffset returns the radiometric offset, default -0.2.
func (c *PipelineConfig) GetOffset() float64 {
	if c.Offset == nil {
		return -0.2
	}
	return *c.Offset
}

// GetQuantize reports whether int16 quantization runs, default true.
func (c *PipelineConfig) GetQuantize() bool {
	if c.Quantize == nil {
		return true
	}
	return *c.Quantize
}

// GetMultiplier returns the quantization multiplier, default 10000.
func (c *PipelineConfig) GetMultiplier() float64 {
	if c.Multiplier == nil {
		return 10000
	}
	return *c.Multiplier
}

// GetNodata returns the int16 nodata sentinel, default -32767.
func (c *PipelineConfig) GetNodata() int16 {
	if c.Nodata == nil {
		return -32767
	}
	return int16(*c.Nodata)
}

// GetOverwrite reports whether existing artifacts are replaced, default
// false.
func (c *PipelineConfig) GetOverwrite() bool {
	if c.Overwrite == nil {
		return false
	}
	return *c.Overwrite
}

// GetSplitByYear reports year decomposition, default false.
func (c *PipelineConfig) GetSplitByYear() bool {
	if c.SplitByYear == nil {
		return false
	}
	return *c.SplitByYear
}

// GetSplitByVariable reports variable decomposition, default false.
func (c *PipelineConfig) GetSplitByVariable() bool {
	if c.SplitByVariable == nil {
		return false
	}
	return *c.SplitByVariable
}

// GetRunScenes reports whether the per-tile stage runs, default true.
func (c *PipelineConfig) GetRunScenes() bool {
	if c.RunScenes == nil {
		return true
	}
	return *c.RunScenes
}

// GetRunMosaic reports whether the mosaic stage runs, default false.
func (c *PipelineConfig) GetRunMosaic() bool {
	if c.RunMosaic == nil {
		return false
	}
	return *c.RunMosaic
}

// GetRunTiles reports whether the pyramid stage runs, default false.
func (c *PipelineConfig) GetRunTiles() bool {
	if c.RunTiles == nil {
		return false
	}
	return *c.RunTiles
}

// GetWorkers returns the worker bound, default 16.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 16
	}
	return *c.Workers
}

// GetStorageRoot returns the artifact store root, default "artifacts".
func (c *PipelineConfig) GetStorageRoot() string {
	if c.StorageRoot == nil {
		return "artifacts"
	}
	return *c.StorageRoot
}

// GetLedgerPath returns the run ledger location, default "runs.db".
func (c *PipelineConfig) GetLedgerPath() string {
	if c.LedgerPath == nil {
		return "runs.db"
	}
	return *c.LedgerPath
}

// GetMigrationsDir returns the ledger migrations directory, default
// "migrations".
func (c *PipelineConfig) GetMigrationsDir() string {
	if c.MigrationsDir == nil {
		return "migrations"
	}
	return *c.MigrationsDir
}

// GetReportDir returns the report output directory, default "reports".
func (c *PipelineConfig) GetReportDir() string {
	if c.ReportDir == nil {
		return "reports"
	}
	return *c.ReportDir
}

// GetTilePrefix returns the pyramid upload prefix, default
// "tiles/{dataset}/".
func (c *PipelineConfig) GetTilePrefix() string {
	if c.TilePrefix == nil {
		return "tiles/" + c.Dataset + "/"
	}
	return *c.TilePrefix
}

// GetMinZoom returns the lowest pyramid zoom, default 0.
func (c *PipelineConfig) GetMinZoom() int {
	if c.MinZoom == nil {
		return 0
	}
	return *c.MinZoom
}

// GetMaxZoom returns the highest pyramid zoom, default 11.
func (c *PipelineConfig) GetMaxZoom() int {
	if c.MaxZoom == nil {
		return 11
	}
	return *c.MaxZoom
}

// GetTileSize returns the pyramid tile edge in pixels, default 512.
func (c *PipelineConfig) GetTileSize() int {
	if c.TileSize == nil {
		return 512
	}
	return *c.TileSize
}
