// Package grid holds the immutable simulation domain: aligned input layers,
// a no-data mask and the resolved seed set, stored as flat row-major arrays
// indexed by row*width+col.
package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"math"

	"emberguide.ai/internal/sim/io/digestcodec"
	"emberguide.ai/internal/sim/logic/mathx"
)

// Connectivity selects the neighborhood used for spread.
type Connectivity int

const (
	Connect4 Connectivity = 4
	Connect8 Connectivity = 8
)

type Options struct {
	Connectivity Connectivity
	// MaxNoDataFraction rejects domains with more no-data cells than this
	// fraction of the grid.
	MaxNoDataFraction float64
	// MinConfidence drops seeds below this detection confidence.
	MinConfidence float64
}

func DefaultOptions() Options {
	return Options{Connectivity: Connect8, MaxNoDataFraction: 0.5}
}

// Domain is read-only after New returns. It is safe to share between
// goroutines.
type Domain struct {
	width, height int
	transform     GeoTransform
	crs           string

	windU  []float64
	windV  []float64
	rh     []float64
	temp   []float64
	slope  []float64
	aspect []float64
	nodata []bool

	noDataCount int
	seeds       []Seed
	offsets     []Offset
}

var requiredLayers = []string{LayerWindU, LayerWindV, LayerSlope, LayerAspect}

// cellLayers names the per-cell arrays in the order New checks them.
var cellLayers = []string{LayerWindU, LayerWindV, LayerRH, LayerSlope, LayerAspect}

// New validates layers against each other and resolves seeds. mask may be nil;
// otherwise it must have one entry per cell, true meaning no-data.
func New(layers Layers, mask []bool, seeds []Seed, opts Options) (*Domain, error) {
	if opts.Connectivity == 0 {
		opts.Connectivity = Connect8
	}
	if opts.Connectivity != Connect4 && opts.Connectivity != Connect8 {
		return nil, mismatch("", "connectivity must be 4 or 8, got %d", opts.Connectivity)
	}

	for _, name := range requiredLayers {
		if !layers.has(name) {
			return nil, mismatch(name, "required layer missing")
		}
	}
	ref := layers[LayerWindU]
	if ref.Width <= 0 || ref.Height <= 0 {
		return nil, mismatch(LayerWindU, "invalid shape %dx%d", ref.Height, ref.Width)
	}
	if !(ref.Transform.ResX > 0) || !(ref.Transform.ResY > 0) {
		return nil, mismatch(LayerWindU, "resolution must be positive, got %vx%v", ref.Transform.ResX, ref.Transform.ResY)
	}
	for _, name := range layers.names() {
		if err := checkAligned(name, ref, layers[name]); err != nil {
			return nil, err
		}
	}

	rh, ok := layers[LayerRH]
	if !ok {
		temp, okT := layers[LayerTemperature]
		dew, okD := layers[LayerDewpoint]
		if !okT || !okD {
			return nil, mismatch(LayerRH, "required layer missing (supply rh or temperature_c and dewpoint_c)")
		}
		rh = humidityFrom(temp, dew)
	}

	n := ref.Width * ref.Height
	if mask != nil && len(mask) != n {
		return nil, mismatch("nodata", "mask has %d cells, grid has %d", len(mask), n)
	}

	d := &Domain{
		width:     ref.Width,
		height:    ref.Height,
		transform: ref.Transform,
		crs:       ref.CRS,
		windU:     clone(ref.Values),
		windV:     clone(layers[LayerWindV].Values),
		rh:        clone(rh.Values),
		slope:     clone(layers[LayerSlope].Values),
		aspect:    clone(layers[LayerAspect].Values),
		nodata:    make([]bool, n),
	}
	if t, ok := layers[LayerTemperature]; ok {
		d.temp = clone(t.Values)
	}

	for i := 0; i < n; i++ {
		// Masked cells are never read, so their values go unchecked.
		bad := mask != nil && mask[i]
		for li, vs := range [][]float64{d.windU, d.windV, d.rh, d.slope, d.aspect} {
			if bad {
				break
			}
			switch {
			case math.IsNaN(vs[i]):
				bad = true
			case math.IsInf(vs[i], 0):
				row, col := d.RowCol(i)
				return nil, mismatch(cellLayers[li], "infinite value at (%d,%d)", row, col)
			}
		}
		if bad {
			d.nodata[i] = true
			d.noDataCount++
			continue
		}
		d.rh[i] = mathx.Clamp(d.rh[i], 0, 100)
		if d.slope[i] < 0 || d.slope[i] > 90 {
			row, col := d.RowCol(i)
			return nil, mismatch(LayerSlope, "slope %v out of [0,90] at (%d,%d)", d.slope[i], row, col)
		}
	}
	if float64(d.noDataCount) > opts.MaxNoDataFraction*float64(n) {
		return nil, mismatch("nodata", "%d of %d cells are no-data (max fraction %v)", d.noDataCount, n, opts.MaxNoDataFraction)
	}

	d.offsets = offsetsFor(opts.Connectivity, d.transform)

	resolved, err := d.resolveSeeds(seeds, opts.MinConfidence)
	if err != nil {
		return nil, err
	}
	d.seeds = resolved
	return d, nil
}

func checkAligned(name string, ref, r Raster) error {
	if r.Width != ref.Width || r.Height != ref.Height {
		return mismatch(name, "shape %dx%d, want %dx%d", r.Height, r.Width, ref.Height, ref.Width)
	}
	if len(r.Values) != r.Width*r.Height {
		return mismatch(name, "%d values for %dx%d grid", len(r.Values), r.Height, r.Width)
	}
	if r.Transform.ResX != ref.Transform.ResX || r.Transform.ResY != ref.Transform.ResY {
		return mismatch(name, "resolution %vx%v, want %vx%v", r.Transform.ResX, r.Transform.ResY, ref.Transform.ResX, ref.Transform.ResY)
	}
	if r.Transform.OriginX != ref.Transform.OriginX || r.Transform.OriginY != ref.Transform.OriginY {
		return mismatch(name, "origin (%v,%v), want (%v,%v)", r.Transform.OriginX, r.Transform.OriginY, ref.Transform.OriginX, ref.Transform.OriginY)
	}
	if r.CRS != ref.CRS {
		return mismatch(name, "crs %q, want %q", r.CRS, ref.CRS)
	}
	return nil
}

func clone(vs []float64) []float64 {
	out := make([]float64, len(vs))
	copy(out, vs)
	return out
}

func (d *Domain) Width() int              { return d.width }
func (d *Domain) Height() int             { return d.height }
func (d *Domain) Len() int                { return d.width * d.height }
func (d *Domain) CRS() string             { return d.crs }
func (d *Domain) Transform() GeoTransform { return d.transform }
func (d *Domain) NoDataCount() int        { return d.noDataCount }
func (d *Domain) NoData(idx int) bool     { return d.nodata[idx] }
func (d *Domain) WindU(idx int) float64   { return d.windU[idx] }
func (d *Domain) WindV(idx int) float64   { return d.windV[idx] }
func (d *Domain) RH(idx int) float64      { return d.rh[idx] }
func (d *Domain) Slope(idx int) float64   { return d.slope[idx] }
func (d *Domain) Aspect(idx int) float64  { return d.aspect[idx] }
func (d *Domain) HasTemperature() bool    { return d.temp != nil }
func (d *Domain) CellAreaKm2() float64    { return d.transform.ResX * d.transform.ResY / 1e6 }

// Temperature returns NaN when no temperature layer was supplied.
func (d *Domain) Temperature(idx int) float64 {
	if d.temp == nil {
		return math.NaN()
	}
	return d.temp[idx]
}

// Seeds returns a copy of the resolved seeds, ordered by cell index.
func (d *Domain) Seeds() []Seed {
	out := make([]Seed, len(d.seeds))
	copy(out, d.seeds)
	return out
}

func (d *Domain) NumSeeds() int { return len(d.seeds) }

func (d *Domain) Seed(i int) Seed { return d.seeds[i] }

func (d *Domain) Index(row, col int) int { return row*d.width + col }

func (d *Domain) RowCol(idx int) (row, col int) { return idx / d.width, idx % d.width }

func (d *Domain) InBounds(row, col int) bool {
	return row >= 0 && row < d.height && col >= 0 && col < d.width
}

// CellCenter maps a cell index to the CRS coordinate of its center.
func (d *Domain) CellCenter(idx int) (x, y float64) {
	row, col := d.RowCol(idx)
	x = d.transform.OriginX + (float64(col)+0.5)*d.transform.ResX
	y = d.transform.OriginY - (float64(row)+0.5)*d.transform.ResY
	return x, y
}

// IndexAt maps a CRS coordinate to the cell containing it.
func (d *Domain) IndexAt(x, y float64) (int, bool) {
	col := int(math.Floor((x - d.transform.OriginX) / d.transform.ResX))
	row := int(math.Floor((d.transform.OriginY - y) / d.transform.ResY))
	if !d.InBounds(row, col) {
		return 0, false
	}
	return d.Index(row, col), true
}

// BearingBetween returns the compass bearing from cell a to cell b, accounting
// for anisotropic cells.
func (d *Domain) BearingBetween(a, b int) float64 {
	ra, ca := d.RowCol(a)
	rb, cb := d.RowCol(b)
	dx := float64(cb-ca) * d.transform.ResX
	dy := float64(ra-rb) * d.transform.ResY
	return mathx.Bearing(dx, dy)
}

// Digest fingerprints the domain contents (layers, mask, seeds, geometry).
func (d *Domain) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	digestcodec.WriteI64(h, &tmp, int64(d.width))
	digestcodec.WriteI64(h, &tmp, int64(d.height))
	digestcodec.WriteF64(h, &tmp, d.transform.OriginX)
	digestcodec.WriteF64(h, &tmp, d.transform.OriginY)
	digestcodec.WriteF64(h, &tmp, d.transform.ResX)
	digestcodec.WriteF64(h, &tmp, d.transform.ResY)
	digestcodec.WriteString(h, &tmp, d.crs)
	digestcodec.WriteI64(h, &tmp, int64(len(d.offsets)))
	for _, vs := range [][]float64{d.windU, d.windV, d.rh, d.slope, d.aspect} {
		digestcodec.WriteF64s(h, &tmp, vs)
	}
	digestcodec.WriteBools(h, &tmp, d.nodata)
	digestcodec.WriteU64(h, &tmp, uint64(len(d.seeds)))
	for _, s := range d.seeds {
		digestcodec.WriteI64(h, &tmp, int64(s.Cell))
		digestcodec.WriteF64(h, &tmp, s.Confidence)
		digestcodec.WriteI64(h, &tmp, s.DetectedAt.UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}
