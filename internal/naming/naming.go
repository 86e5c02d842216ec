// Package naming computes deterministic object-storage paths for per-tile
// artifacts. Two schemes exist: the flat dataset/year layout used for mosaic
// inputs, and the versioned catalog layout used for published products.
package naming

import (
	"fmt"
	"strings"

	"github.com/pacific-data/tilepress/internal/grid"
)

// Resolver maps (tile, year, variable) to the flat artifact layout:
// {dataset}/{year}/{variable}_{year}_{path}_{row}.tif, or the year-less form
// {dataset}/{variable}_{path}_{row}.tif. Paths are unique per (tile, year,
// variable) because the tile key components are part of the name.
type Resolver struct {
	// Dataset is the dataset id and the default variable name.
	Dataset string
	// Year is the default year label; empty selects the year-less form.
	Year string
}

// Path resolves one artifact path. Empty year and variable fall back to the
// resolver's defaults.
func (r Resolver) Path(tile grid.TileKey, year, variable string) string {
	if variable == "" {
		variable = r.Dataset
	}
	if year == "" {
		year = r.Year
	}
	if year == "" {
		return fmt.Sprintf("%s/%s_%s.tif", r.Dataset, variable, tile)
	}
	return fmt.Sprintf("%s/%s/%s_%s_%s.tif", r.Dataset, year, variable, year, tile)
}

// Prefix returns the listing prefix under which all of the resolver's
// artifacts for a year live.
func (r Resolver) Prefix(year string) string {
	if year == "" {
		year = r.Year
	}
	if year == "" {
		return r.Dataset + "/"
	}
	return fmt.Sprintf("%s/%s/", r.Dataset, year)
}

// ItemPath is the versioned catalog layout:
// {prefix}_{sensor}_{dataset}/{version}/{id.../}/{time}/{basename}[_{asset}]{ext}
// with version dots turned into dashes. Numeric id components are optionally
// zero-padded to three characters.
type ItemPath struct {
	Prefix  string
	Sensor  string
	Dataset string
	Version string
	Time    string
	// ZeroPadNumbers pads numeric id components to width 3.
	ZeroPadNumbers bool
}

func (p ItemPath) version() string {
	return strings.ReplaceAll(p.Version, ".", "-")
}

// ItemPrefix is the basename stem shared by all of this product's items.
// Dataset slashes become underscores so the stem stays path-free.
func (p ItemPath) ItemPrefix() string {
	return fmt.Sprintf("%s_%s_%s", p.Prefix, p.Sensor, strings.ReplaceAll(p.Dataset, "/", "_"))
}

func (p ItemPath) folderPrefix() string {
	return fmt.Sprintf("%s_%s_%s/%s", p.Prefix, p.Sensor, p.Dataset, p.version())
}

func (p ItemPath) formatID(sep string, id []string) string {
	parts := make([]string, len(id))
	for i, part := range id {
		if p.ZeroPadNumbers && isNumeric(part) {
			for len(part) < 3 {
				part = "0" + part
			}
		}
		parts[i] = part
	}
	return strings.Join(parts, sep)
}

// Folder returns the directory an item's assets live in.
func (p ItemPath) Folder(id ...string) string {
	return fmt.Sprintf("%s/%s/%s", p.folderPrefix(), p.formatID("/", id), p.Time)
}

// Basename returns the item's file stem without extension.
func (p ItemPath) Basename(id ...string) string {
	return fmt.Sprintf("%s_%s_%s", p.ItemPrefix(), p.formatID("_", id), p.Time)
}

// Path returns the full path of one asset. An empty asset name yields the
// bare item path.
func (p ItemPath) Path(asset string, id ...string) string {
	if asset == "" {
		return fmt.Sprintf("%s/%s.tif", p.Folder(id...), p.Basename(id...))
	}
	return fmt.Sprintf("%s/%s_%s.tif", p.Folder(id...), p.Basename(id...), asset)
}

// StacPath returns the catalog sidecar path for an item. Its presence marks
// the item as already published.
func (p ItemPath) StacPath(id ...string) string {
	return fmt.Sprintf("%s/%s.stac-item.json", p.Folder(id...), p.Basename(id...))
}

// LogPath returns the run-log location for this product and time.
func (p ItemPath) LogPath() string {
	return fmt.Sprintf("%s/logs/%s_%s_log.csv", p.folderPrefix(), p.ItemPrefix(), p.Time)
}

// TileID converts a grid key to item id components.
func TileID(k grid.TileKey) []string {
	return []string{fmt.Sprintf("%d", k.Path), fmt.Sprintf("%d", k.Row)}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
