package grid

import (
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/pacific-data/tilepress/internal/geo"
)

// A GeoPackage is a SQLite database with a registered feature table per
// layer; gpkg_geometry_columns names each layer's geometry column. The area
// grid ships as one polygon layer keyed by integer PATH and ROW columns.

// LoadGeoPackage reads the named layer into an AreaGrid. Tiles come back
// ordered by (path, row) so runs enumerate the grid deterministically.
func LoadGeoPackage(dbPath, layer, pathCol, rowCol string) (*AreaGrid, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open geopackage %s: %w", dbPath, err)
	}
	defer db.Close()

	geomCol, err := geometryColumn(db, layer)
	if err != nil {
		return nil, err
	}

	// Identifiers can't be bound as parameters; they come from config, not
	// user input, but quote them anyway.
	query := fmt.Sprintf(`SELECT %q, %q, %q FROM %q`, pathCol, rowCol, geomCol, layer)
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("read layer %s: %w", layer, err)
	}
	defer rows.Close()

	var tiles []Tile
	for rows.Next() {
		var path, row int
		var blob []byte
		if err := rows.Scan(&path, &row, &blob); err != nil {
			return nil, fmt.Errorf("scan layer %s: %w", layer, err)
		}
		g, _, err := geo.DecodeGPKG(blob)
		if err != nil {
			return nil, fmt.Errorf("tile %d_%d: %w", path, row, err)
		}
		tiles = append(tiles, Tile{Key: TileKey{Path: path, Row: row}, Geometry: g})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tiles) == 0 {
		return nil, fmt.Errorf("layer %s of %s contains no tiles", layer, dbPath)
	}

	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Key.Path != tiles[j].Key.Path {
			return tiles[i].Key.Path < tiles[j].Key.Path
		}
		return tiles[i].Key.Row < tiles[j].Key.Row
	})
	return New(tiles)
}

func geometryColumn(db *sql.DB, layer string) (string, error) {
	var col string
	err := db.QueryRow(
		`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, layer,
	).Scan(&col)
	if err == sql.ErrNoRows {
		// Not a registered layer; fall back to the conventional column name
		// so hand-built fixtures load too.
		return "geom", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup geometry column for %s: %w", layer, err)
	}
	return col, nil
}
