package grid

import (
	"fmt"
	"math"
	"sort"
	"time"

	"emberguide.ai/internal/sim/simerr"
)

// Point is a coordinate in the grid's CRS.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Seed is one detection marking a cell as burning at simulation start.
type Seed struct {
	Row int `json:"row"`
	Col int `json:"col"`
	// Coord, when set, locates the seed by CRS coordinate instead of Row/Col.
	Coord      *Point    `json:"coord,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
	Confidence float64   `json:"confidence"`

	// Cell is the resolved flat index, filled in by New.
	Cell int `json:"cell"`
}

// resolveSeeds maps seeds onto cells, drops unusable ones and merges
// duplicates. Detections on the same cell keep the highest confidence and
// the earliest detection time.
func (d *Domain) resolveSeeds(in []Seed, minConfidence float64) ([]Seed, error) {
	byCell := make(map[int]Seed, len(in))
	for _, s := range in {
		row, col := s.Row, s.Col
		if s.Coord != nil {
			idx, ok := d.IndexAt(s.Coord.X, s.Coord.Y)
			if !ok {
				continue
			}
			row, col = d.RowCol(idx)
		}
		if !d.InBounds(row, col) {
			continue
		}
		idx := d.Index(row, col)
		if d.nodata[idx] {
			continue
		}
		if !(s.Confidence >= minConfidence) {
			continue
		}
		s.Row, s.Col, s.Coord, s.Cell = row, col, nil, idx
		if prev, ok := byCell[idx]; ok {
			if prev.Confidence > s.Confidence {
				s.Confidence = prev.Confidence
			}
			if !prev.DetectedAt.IsZero() && (s.DetectedAt.IsZero() || prev.DetectedAt.Before(s.DetectedAt)) {
				s.DetectedAt = prev.DetectedAt
			}
		}
		byCell[idx] = s
	}
	if len(byCell) == 0 {
		return nil, simerr.New(simerr.CodeEmptySeeds, fmt.Sprintf("%d seeds supplied, none usable", len(in)))
	}
	out := make([]Seed, 0, len(byCell))
	for _, s := range byCell {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out, nil
}

// NearestSeed returns the index into Seeds of the seed closest to cell idx,
// measured in CRS units. Ties go to the lower seed index.
func (d *Domain) NearestSeed(idx int) int {
	row, col := d.RowCol(idx)
	best, bestDist := 0, math.Inf(1)
	for i, s := range d.seeds {
		dx := float64(col-s.Col) * d.transform.ResX
		dy := float64(row-s.Row) * d.transform.ResY
		if dist := dx*dx + dy*dy; dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}
