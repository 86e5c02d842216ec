package scene

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pacific-data/tilepress/internal/geo"
)

// SearchOptions tune the tile-facing search wrapper.
type SearchOptions struct {
	// Tries is the number of attempts per query; search timeouts are
	// routine against remote catalogs.
	Tries int
	// Delay between attempts.
	Delay time.Duration
	// ExtraBadIDs extends the built-in deny list.
	ExtraBadIDs []string
}

// DefaultSearchOptions matches the behavior tuned against the production
// catalog.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Tries: 5, Delay: time.Second}
}

// TileSearcher wraps a raw Searcher with everything a tile query needs:
// the bounding box is split at the antimeridian and both halves queried,
// results are merged and de-duplicated, transient failures retried, EPSG
// codes repaired, and known-bad scenes removed.
type TileSearcher struct {
	inner Searcher
	opts  SearchOptions
}

// NewTileSearcher wraps inner.
func NewTileSearcher(inner Searcher, opts SearchOptions) *TileSearcher {
	if opts.Tries <= 0 {
		opts.Tries = 1
	}
	return &TileSearcher{inner: inner, opts: opts}
}

// Search implements Searcher.
func (t *TileSearcher) Search(ctx context.Context, q Query) (Collection, error) {
	boxes := geo.SplitAcross180(q.BBox)

	seen := make(map[string]bool)
	var merged Collection
	for _, box := range boxes {
		sub := q
		sub.BBox = box
		scenes, err := t.searchWithRetry(ctx, sub)
		if err != nil {
			return nil, err
		}
		for _, s := range scenes {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			merged = append(merged, s)
		}
	}

	// Keep result order stable across the two-box case.
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Datetime.Equal(merged[j].Datetime) {
			return merged[i].Datetime.Before(merged[j].Datetime)
		}
		return merged[i].ID < merged[j].ID
	})

	merged = FixEPSG(merged)
	merged = RemoveBadScenes(merged, t.opts.ExtraBadIDs...)
	return merged, nil
}

func (t *TileSearcher) searchWithRetry(ctx context.Context, q Query) (Collection, error) {
	var lastErr error
	for attempt := 0; attempt < t.opts.Tries; attempt++ {
		if attempt > 0 && t.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.opts.Delay):
			}
		}
		scenes, err := t.inner.Search(ctx, q)
		if err == nil {
			return scenes, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("scene search failed after %d tries: %w", t.opts.Tries, lastErr)
}
