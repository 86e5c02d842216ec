package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pacific-data/tilepress/internal/geo"
)

// STACSearcher implements Searcher against a STAC Item Search endpoint using
// GET requests and rel=next pagination. It is the production searcher; wrap
// it with NewTileSearcher for retry and deny-list handling.
type STACSearcher struct {
	// BaseURL is the catalog root, e.g. https://example.com/stac/v1.
	BaseURL string
	// PageSize is the per-request item limit; 0 means the server default.
	PageSize int
	// Client defaults to a 60 second timeout client.
	Client *http.Client
}

// NewSTACSearcher returns a searcher for the catalog root at baseURL.
func NewSTACSearcher(baseURL string) *STACSearcher {
	return &STACSearcher{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		PageSize: 250,
		Client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Search implements Searcher.
func (s *STACSearcher) Search(ctx context.Context, q Query) (Collection, error) {
	next := s.searchURL(q)
	var out Collection
	for next != "" {
		page, nextURL, err := s.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		next = nextURL
	}
	return out, nil
}

func (s *STACSearcher) searchURL(q Query) string {
	v := url.Values{}
	v.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", q.BBox.XMin, q.BBox.YMin, q.BBox.XMax, q.BBox.YMax))
	if !q.Start.IsZero() || !q.End.IsZero() {
		v.Set("datetime", formatInterval(q.Start, q.End))
	}
	if len(q.Collections) > 0 {
		v.Set("collections", strings.Join(q.Collections, ","))
	}
	if s.PageSize > 0 {
		v.Set("limit", strconv.Itoa(s.PageSize))
	}
	return s.BaseURL + "/search?" + v.Encode()
}

// formatInterval renders an RFC 3339 closed or half-open interval; a zero
// time leaves its end open.
func formatInterval(start, end time.Time) string {
	a, b := "..", ".."
	if !start.IsZero() {
		a = start.UTC().Format(time.RFC3339)
	}
	if !end.IsZero() {
		b = end.UTC().Format(time.RFC3339)
	}
	return a + "/" + b
}

func (s *STACSearcher) fetchPage(ctx context.Context, pageURL string) (Collection, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/geo+json")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("stac search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("stac search: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var page stacPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("stac search: decode response: %w", err)
	}

	scenes := make(Collection, 0, len(page.Features))
	for _, f := range page.Features {
		sc, err := f.toScene()
		if err != nil {
			return nil, "", fmt.Errorf("stac item %s: %w", f.ID, err)
		}
		scenes = append(scenes, sc)
	}

	next := ""
	for _, l := range page.Links {
		if l.Rel == "next" && (l.Method == "" || strings.EqualFold(l.Method, "GET")) {
			next = l.Href
			break
		}
	}
	return scenes, next, nil
}

type stacPage struct {
	Features []stacItem `json:"features"`
	Links    []stacLink `json:"links"`
}

type stacLink struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Method string `json:"method"`
}

type stacItem struct {
	ID         string        `json:"id"`
	Collection string        `json:"collection"`
	Geometry   *stacGeometry `json:"geometry"`
	Properties struct {
		Datetime time.Time `json:"datetime"`
		EPSG     int       `json:"proj:epsg"`
	} `json:"properties"`
	Assets map[string]struct {
		Href string `json:"href"`
	} `json:"assets"`
}

func (f stacItem) toScene() (Scene, error) {
	sc := Scene{
		ID:         f.ID,
		Collection: f.Collection,
		Datetime:   f.Properties.Datetime,
		EPSG:       f.Properties.EPSG,
		Assets:     make(map[string]string, len(f.Assets)),
	}
	for name, a := range f.Assets {
		sc.Assets[name] = a.Href
	}
	if f.Geometry != nil {
		g, err := f.Geometry.toGeometry()
		if err != nil {
			return Scene{}, err
		}
		sc.Footprint = g
	}
	return sc, nil
}

// stacGeometry is the GeoJSON footprint; only Polygon and MultiPolygon occur
// in scene catalogs.
type stacGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (g stacGeometry) toGeometry() (geo.Geometry, error) {
	switch g.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return geo.Geometry{}, fmt.Errorf("polygon coordinates: %w", err)
		}
		return geo.Geometry{Polygons: []geo.Polygon{toPolygon(rings)}}, nil
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil {
			return geo.Geometry{}, fmt.Errorf("multipolygon coordinates: %w", err)
		}
		out := geo.Geometry{Polygons: make([]geo.Polygon, 0, len(polys))}
		for _, p := range polys {
			out.Polygons = append(out.Polygons, toPolygon(p))
		}
		return out, nil
	default:
		return geo.Geometry{}, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func toPolygon(rings [][][]float64) geo.Polygon {
	p := geo.Polygon{Rings: make([]geo.Ring, 0, len(rings))}
	for _, ring := range rings {
		r := make(geo.Ring, 0, len(ring))
		for _, pt := range ring {
			if len(pt) < 2 {
				continue
			}
			r = append(r, geo.Point{X: pt[0], Y: pt[1]})
		}
		p.Rings = append(p.Rings, r)
	}
	return p
}
