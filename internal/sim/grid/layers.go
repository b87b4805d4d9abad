package grid

import "slices"

// Layer names accepted by New.
const (
	LayerWindU       = "wind_u"
	LayerWindV       = "wind_v"
	LayerRH          = "rh"
	LayerTemperature = "temperature_c"
	LayerDewpoint    = "dewpoint_c"
	LayerSlope       = "slope"
	LayerAspect      = "aspect"
)

// GeoTransform anchors a grid in its coordinate reference system. Origin is
// the upper-left corner; rows grow southward and columns eastward.
type GeoTransform struct {
	OriginX float64 `yaml:"origin_x" json:"origin_x"`
	OriginY float64 `yaml:"origin_y" json:"origin_y"`
	ResX    float64 `yaml:"res_x" json:"res_x"`
	ResY    float64 `yaml:"res_y" json:"res_y"`
}

// Raster is one aligned numeric layer. NaN values mark no-data cells.
type Raster struct {
	Width     int
	Height    int
	Transform GeoTransform
	CRS       string
	Values    []float64
}

// Uniform builds a raster where every cell holds v.
func Uniform(width, height int, tr GeoTransform, crs string, v float64) Raster {
	vals := make([]float64, width*height)
	for i := range vals {
		vals[i] = v
	}
	return Raster{Width: width, Height: height, Transform: tr, CRS: crs, Values: vals}
}

// Layers holds the named rasters of a simulation request.
type Layers map[string]Raster

func (l Layers) has(name string) bool {
	_, ok := l[name]
	return ok
}

var knownLayers = []string{LayerWindU, LayerWindV, LayerRH, LayerTemperature, LayerDewpoint, LayerSlope, LayerAspect}

// names returns the layer names present, known layers first in their
// canonical order, then any others sorted.
func (l Layers) names() []string {
	out := make([]string, 0, len(l))
	for _, name := range knownLayers {
		if l.has(name) {
			out = append(out, name)
		}
	}
	var extra []string
	for name := range l {
		if !slices.Contains(knownLayers, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}
