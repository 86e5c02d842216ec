// Package scene models satellite acquisitions and the search collaborator
// that discovers them. The search protocol itself is external; this package
// defines the contract plus the fixes every collection needs before
// stacking: antimeridian-aware queries, retry, EPSG repair, and removal of
// known-bad scenes.
package scene

import (
	"context"
	"strconv"
	"time"

	"github.com/pacific-data/tilepress/internal/geo"
)

// LandsatCollection is the collection id of the source this pipeline was
// built against. The EPSG repair below applies only to it.
const LandsatCollection = "landsat-c2-l2"

// QABand is the quality band name used for cloud masking.
const QABand = "qa_pixel"

// Scene is one acquisition: a footprint, a timestamp, and per-band asset
// references.
type Scene struct {
	ID         string
	Collection string
	Datetime   time.Time
	Footprint  geo.Geometry
	EPSG       int
	// Assets maps band name to asset href.
	Assets map[string]string
}

// Collection is an ordered set of scenes for one tile and period.
type Collection []Scene

// IDs returns the scene ids in collection order.
func (c Collection) IDs() []string {
	ids := make([]string, len(c))
	for i, s := range c {
		ids[i] = s.ID
	}
	return ids
}

// Query describes one scene search: a geographic box and a closed date
// range, optionally restricted to collections.
type Query struct {
	BBox        geo.BBox
	Start       time.Time
	End         time.Time
	Collections []string
}

// Searcher is the item-search collaborator. Empty results are not an error.
type Searcher interface {
	Search(ctx context.Context, q Query) (Collection, error)
}

// SearchFunc adapts a function to the Searcher interface.
type SearchFunc func(ctx context.Context, q Query) (Collection, error)

// Search implements Searcher.
func (f SearchFunc) Search(ctx context.Context, q Query) (Collection, error) {
	return f(ctx, q)
}

// FixEPSG repairs truncated UTM EPSG codes reported by some landsat scenes
// (e.g. 3261 for 32601: the zone lost its zero padding upstream). Scenes
// from other collections pass through untouched.
func FixEPSG(c Collection) Collection {
	for i, s := range c {
		if s.Collection != LandsatCollection {
			continue
		}
		c[i].EPSG = repairUTMCode(s.EPSG)
	}
	return c
}

func repairUTMCode(code int) int {
	s := strconv.Itoa(code)
	if len(s) < 4 || len(s) > 5 {
		return code
	}
	prefix := s[:3]
	if prefix != "326" && prefix != "327" {
		return code
	}
	zone, err := strconv.Atoi(s[3:])
	if err != nil || zone < 1 || zone > 60 {
		return code
	}
	p, _ := strconv.Atoi(prefix)
	return p*100 + zone
}

// badSceneIDs are upstream assets known to be corrupt (for example an HTML
// error page stored as a raster); they break stacking even with read errors
// masked, so they are dropped outright.
var badSceneIDs = map[string]bool{
	"LC08_L2SR_081074_20220514_02_T1": true,
	"LC08_L2SP_101055_20220612_02_T2": true,
	"LC08_L2SR_074072_20221105_02_T1": true,
	"LC09_L2SR_074071_20220708_02_T1": true,
	"LC08_L2SR_078075_20220712_02_T1": true,
	"LC08_L2SR_080076_20220726_02_T1": true,
	"LC08_L2SR_082074_20220724_02_T1": true,
	"LC09_L2SR_083075_20220402_02_T1": true,
	"LC08_L2SR_083073_20220917_02_T1": true,
	"LC08_L2SR_089064_20201007_02_T2": true,
	"LC08_L2SR_074073_20221105_02_T1": true,
	"LC09_L2SR_073073_20231109_02_T2": true,
	"LC08_L2SR_075066_20231030_02_T1": true,
	"S2B_MSIL2A_20230214T001719_R116_T56MMB_20230214T095023": true,
	"LC09_L2SR_100050_20231107_02_T1": true,
	"LC09_L2SR_100051_20231107_02_T1": true,
	"LE07_L2SP_097065_20221029_02_T1": true,
}

// RemoveBadScenes drops scenes on the deny list. Extra IDs extend the
// built-in list for the duration of the call.
func RemoveBadScenes(c Collection, extra ...string) Collection {
	deny := badSceneIDs
	if len(extra) > 0 {
		deny = make(map[string]bool, len(badSceneIDs)+len(extra))
		for id := range badSceneIDs {
			deny[id] = true
		}
		for _, id := range extra {
			deny[id] = true
		}
	}
	out := make(Collection, 0, len(c))
	for _, s := range c {
		if !deny[s.ID] {
			out = append(out, s)
		}
	}
	return out
}
