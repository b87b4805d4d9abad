package grid

import "emberguide.ai/internal/sim/logic/mathx"

// Offset is one neighborhood direction with its precomputed compass bearing.
type Offset struct {
	DRow    int
	DCol    int
	Bearing float64
}

// Clockwise from north.
var (
	dirs4 = [][2]int{{-1, 0}, {0, 1}, {1, 0}, {0, -1}}
	dirs8 = [][2]int{{-1, 0}, {-1, 1}, {0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}}
)

func offsetsFor(c Connectivity, tr GeoTransform) []Offset {
	dirs := dirs8
	if c == Connect4 {
		dirs = dirs4
	}
	out := make([]Offset, len(dirs))
	for i, dir := range dirs {
		dx := float64(dir[1]) * tr.ResX
		dy := float64(-dir[0]) * tr.ResY
		out[i] = Offset{DRow: dir[0], DCol: dir[1], Bearing: mathx.Bearing(dx, dy)}
	}
	return out
}

// Offsets returns the neighborhood in clockwise order starting at north.
func (d *Domain) Offsets() []Offset {
	out := make([]Offset, len(d.offsets))
	copy(out, d.offsets)
	return out
}

func (d *Domain) Connectivity() Connectivity { return Connectivity(len(d.offsets)) }

// Neighbor returns the cell in direction k of idx, or false when it is
// outside the grid or no-data.
func (d *Domain) Neighbor(idx, k int) (int, bool) {
	row, col := d.RowCol(idx)
	o := d.offsets[k]
	r, c := row+o.DRow, col+o.DCol
	if !d.InBounds(r, c) {
		return 0, false
	}
	n := d.Index(r, c)
	if d.nodata[n] {
		return 0, false
	}
	return n, true
}

// Neighbors appends the valid neighbors of idx to buf and returns it.
func (d *Domain) Neighbors(idx int, buf []int) []int {
	buf = buf[:0]
	for k := range d.offsets {
		if n, ok := d.Neighbor(idx, k); ok {
			buf = append(buf, n)
		}
	}
	return buf
}
