// Package pyramid turns a mosaic into a web map: a color-relief rendering
// cut into slippy tiles for zoom levels 0..11, streamed to object storage
// one tile at a time.
package pyramid

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Color is an RGBA ramp stop color.
type Color struct {
	R, G, B, A uint8
}

// Entry maps a raster value to a color.
type Entry struct {
	Value float64
	Color Color
}

// Ramp is an ordered color-relief definition. How values between entries are
// colored (nearest or interpolated) is the renderer's contract; the ramp
// only carries the stops.
type Ramp struct {
	Entries []Entry
	// Nodata is the color for nodata samples; fully transparent when the
	// ramp file has no nv line.
	Nodata Color
}

// ParseRamp reads the text color-relief format: one `value R G B [A]` per
// line, `nv R G B [A]` for the nodata color, `#` comments and blank lines
// ignored. Entries are returned sorted by value. Alpha defaults to opaque.
func ParseRamp(r io.Reader) (*Ramp, error) {
	ramp := &Ramp{Nodata: Color{0, 0, 0, 0}}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 4 || len(fields) > 5 {
			return nil, fmt.Errorf("ramp line %d: want `value r g b [a]`, got %q", line, text)
		}
		c, err := parseColor(fields[1:])
		if err != nil {
			return nil, fmt.Errorf("ramp line %d: %w", line, err)
		}
		if fields[0] == "nv" {
			ramp.Nodata = c
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("ramp line %d: bad value %q", line, fields[0])
		}
		ramp.Entries = append(ramp.Entries, Entry{Value: v, Color: c})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ramp: %w", err)
	}
	if len(ramp.Entries) == 0 {
		return nil, fmt.Errorf("ramp has no color entries")
	}
	sort.Slice(ramp.Entries, func(i, j int) bool {
		return ramp.Entries[i].Value < ramp.Entries[j].Value
	})
	return ramp, nil
}

func parseColor(fields []string) (Color, error) {
	var ch [4]uint8
	ch[3] = 255
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > 255 {
			return Color{}, fmt.Errorf("bad channel %q", f)
		}
		ch[i] = uint8(n)
	}
	return Color{ch[0], ch[1], ch[2], ch[3]}, nil
}
