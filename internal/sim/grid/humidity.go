package grid

import (
	"math"

	"emberguide.ai/internal/sim/logic/mathx"
)

// Magnus coefficients over water.
const (
	magnusB = 17.27
	magnusC = 237.7
)

// RelativeHumidity derives relative humidity (percent) from air temperature
// and dewpoint in degrees Celsius using the Magnus approximation.
func RelativeHumidity(tempC, dewC float64) float64 {
	num := math.Exp(magnusB * dewC / (magnusC + dewC))
	den := math.Exp(magnusB * tempC / (magnusC + tempC))
	return mathx.Clamp(100*num/den, 0, 100)
}

func humidityFrom(temp, dew Raster) Raster {
	out := Raster{Width: temp.Width, Height: temp.Height, Transform: temp.Transform, CRS: temp.CRS}
	out.Values = make([]float64, len(temp.Values))
	for i := range temp.Values {
		t, d := temp.Values[i], dew.Values[i]
		if math.IsNaN(t) || math.IsNaN(d) {
			out.Values[i] = math.NaN()
			continue
		}
		out.Values[i] = RelativeHumidity(t, d)
	}
	return out
}
