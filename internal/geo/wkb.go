package geo

import (
	"encoding/binary"
	"fmt"
	"math"
)

// GeoPackage stores geometries as a small binary header followed by ISO WKB.
// Only the types the area grid actually contains are supported: Polygon and
// MultiPolygon, 2-D coordinates.

const (
	wkbPolygon      = 3
	wkbMultiPolygon = 6
)

// DecodeGPKG decodes a GeoPackage geometry blob (header + WKB) and returns
// the geometry and the SRS id recorded in the header.
func DecodeGPKG(blob []byte) (Geometry, int32, error) {
	if len(blob) < 8 {
		return Geometry{}, 0, fmt.Errorf("gpkg blob too short: %d bytes", len(blob))
	}
	if blob[0] != 'G' || blob[1] != 'P' {
		return Geometry{}, 0, fmt.Errorf("gpkg blob missing GP magic")
	}
	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}
	srsID := int32(order.Uint32(blob[4:8]))

	// Envelope size depends on the envelope indicator in bits 1-3.
	envSizes := []int{0, 32, 48, 48, 64}
	envType := int(flags >> 1 & 0x07)
	if envType >= len(envSizes) {
		return Geometry{}, 0, fmt.Errorf("gpkg blob has invalid envelope indicator %d", envType)
	}
	offset := 8 + envSizes[envType]
	if flags&0x10 != 0 { // empty geometry flag
		return Geometry{}, srsID, nil
	}
	if len(blob) < offset {
		return Geometry{}, 0, fmt.Errorf("gpkg blob truncated before wkb")
	}

	g, err := DecodeWKB(blob[offset:])
	if err != nil {
		return Geometry{}, 0, err
	}
	return g, srsID, nil
}

// DecodeWKB decodes a WKB Polygon or MultiPolygon.
func DecodeWKB(wkb []byte) (Geometry, error) {
	r := wkbReader{buf: wkb}
	g, err := r.geometry()
	if err != nil {
		return Geometry{}, fmt.Errorf("decode wkb: %w", err)
	}
	return g, nil
}

type wkbReader struct {
	buf []byte
	pos int
}

func (r *wkbReader) geometry() (Geometry, error) {
	typ, order, err := r.header()
	if err != nil {
		return Geometry{}, err
	}
	switch typ {
	case wkbPolygon:
		poly, err := r.polygon(order)
		if err != nil {
			return Geometry{}, err
		}
		return Geometry{Polygons: []Polygon{poly}}, nil
	case wkbMultiPolygon:
		n, err := r.uint32(order)
		if err != nil {
			return Geometry{}, err
		}
		g := Geometry{Polygons: make([]Polygon, 0, n)}
		for i := uint32(0); i < n; i++ {
			// Each member polygon carries its own byte-order/type header.
			memberType, memberOrder, err := r.header()
			if err != nil {
				return Geometry{}, err
			}
			if memberType != wkbPolygon {
				return Geometry{}, fmt.Errorf("multipolygon member has type %d", memberType)
			}
			poly, err := r.polygon(memberOrder)
			if err != nil {
				return Geometry{}, err
			}
			g.Polygons = append(g.Polygons, poly)
		}
		return g, nil
	default:
		return Geometry{}, fmt.Errorf("unsupported wkb geometry type %d", typ)
	}
}

func (r *wkbReader) header() (uint32, binary.ByteOrder, error) {
	if r.pos >= len(r.buf) {
		return 0, nil, fmt.Errorf("truncated at byte-order flag")
	}
	var order binary.ByteOrder = binary.BigEndian
	if r.buf[r.pos] == 1 {
		order = binary.LittleEndian
	}
	r.pos++
	typ, err := r.uint32(order)
	if err != nil {
		return 0, nil, err
	}
	// Only base 2-D ISO types are accepted: Z/M variants (1000+) and EWKB
	// flag bits mean a grid source we do not produce.
	if typ >= 1000 {
		return 0, nil, fmt.Errorf("geometry type %d has unsupported dimensions", typ)
	}
	return typ, order, nil
}

func (r *wkbReader) polygon(order binary.ByteOrder) (Polygon, error) {
	nRings, err := r.uint32(order)
	if err != nil {
		return Polygon{}, err
	}
	poly := Polygon{Rings: make([]Ring, 0, nRings)}
	for i := uint32(0); i < nRings; i++ {
		nPts, err := r.uint32(order)
		if err != nil {
			return Polygon{}, err
		}
		ring := make(Ring, 0, nPts)
		for j := uint32(0); j < nPts; j++ {
			x, err := r.float64(order)
			if err != nil {
				return Polygon{}, err
			}
			y, err := r.float64(order)
			if err != nil {
				return Polygon{}, err
			}
			ring = append(ring, Point{X: x, Y: y})
		}
		poly.Rings = append(poly.Rings, ring)
	}
	return poly, nil
}

func (r *wkbReader) uint32(order binary.ByteOrder) (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated at offset %d", r.pos)
	}
	v := order.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *wkbReader) float64(order binary.ByteOrder) (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("truncated at offset %d", r.pos)
	}
	v := math.Float64frombits(order.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

// EncodeGPKG encodes a geometry as a GeoPackage blob (little-endian, no
// envelope). Used by tests and grid-building tools.
func EncodeGPKG(g Geometry, srsID int32) []byte {
	header := []byte{'G', 'P', 0, 0x01, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(header[4:], uint32(srsID))
	return append(header, EncodeWKB(g)...)
}

// EncodeWKB encodes a geometry as little-endian WKB. Single-polygon
// geometries encode as Polygon, others as MultiPolygon.
func EncodeWKB(g Geometry) []byte {
	var out []byte
	if len(g.Polygons) == 1 {
		return appendPolygon(out, g.Polygons[0])
	}
	out = append(out, 1)
	out = binary.LittleEndian.AppendUint32(out, wkbMultiPolygon)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(g.Polygons)))
	for _, poly := range g.Polygons {
		out = appendPolygon(out, poly)
	}
	return out
}

func appendPolygon(out []byte, poly Polygon) []byte {
	out = append(out, 1)
	out = binary.LittleEndian.AppendUint32(out, wkbPolygon)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(poly.Rings)))
	for _, ring := range poly.Rings {
		// Close the ring on encode if the source left it open.
		closed := ring
		if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
			closed = append(append(Ring{}, ring...), ring[0])
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(len(closed)))
		for _, pt := range closed {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(pt.X))
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(pt.Y))
		}
	}
	return out
}
