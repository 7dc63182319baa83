package tombo

import (
	"fmt"
	"math"
	"sort"
)

// normalization modes
const (
	normIdentity = "identity"
	normMedian   = "median"
	normPA       = "pA"
)

// scaleValues records the normalization applied to one read so the
// persisted result is reproducible.
type scaleValues struct {
	Shift    float64 `json:"shift"`
	Scale    float64 `json:"scale"`
	LowerLim float64 `json:"lower_lim"`
	UpperLim float64 `json:"upper_lim"`
	Clamped  bool    `json:"clamped"`
}

// normalizeRawSignal rescales the read's raw samples to comparable
// units. Median mode shifts by the median and scales by the median
// absolute deviation; pA mode fits the basecaller's event means against
// pore model means by inverse-variance weighted least squares. Values
// beyond outlierThresh scale units are clamped afterward.
func normalizeRawSignal(
	rawSignal []int16, readStart, readLen int64, mode string,
	outlierThresh float64, eventMeans, modelMeans, modelInvVars []float64) (
	[]float64, scaleValues, error) {

	if readStart < 0 || readStart+readLen > int64(len(rawSignal)) {
		return nil, scaleValues{}, fmt.Errorf(
			"read window [%d, %d) outside raw signal of length %d",
			readStart, readStart+readLen, len(rawSignal))
	}

	signal := make([]float64, readLen)
	for i := range signal {
		signal[i] = float64(rawSignal[readStart+int64(i)])
	}

	var shift, scale float64
	switch mode {
	case normIdentity, "":
		shift, scale = 0, 1
	case normMedian:
		shift = median(signal)
		devs := make([]float64, len(signal))
		for i, v := range signal {
			devs[i] = math.Abs(v - shift)
		}
		scale = median(devs)
	case normPA:
		var err error
		shift, scale, err = fitScale(eventMeans, modelMeans, modelInvVars)
		if err != nil {
			return nil, scaleValues{}, err
		}
	default:
		return nil, scaleValues{}, fmt.Errorf("unsupported normalization type %q", mode)
	}
	if scale == 0 {
		return nil, scaleValues{}, fmt.Errorf("zero scale while normalizing signal")
	}

	for i, v := range signal {
		signal[i] = (v - shift) / scale
	}

	sv := scaleValues{Shift: shift, Scale: scale}
	if outlierThresh > 0 {
		sv.LowerLim, sv.UpperLim, sv.Clamped = -outlierThresh, outlierThresh, true
		for i, v := range signal {
			if v < sv.LowerLim {
				signal[i] = sv.LowerLim
			} else if v > sv.UpperLim {
				signal[i] = sv.UpperLim
			}
		}
	}

	return signal, sv, nil
}

// fitScale solves for the shift and scale mapping pore model means
// onto observed event means, weighting each event by the model's
// inverse variance for its k-mer.
func fitScale(eventMeans, modelMeans, modelInvVars []float64) (shift, scale float64, err error) {
	n := len(eventMeans)
	if n == 0 || n != len(modelMeans) || n != len(modelInvVars) {
		return 0, 0, fmt.Errorf(
			"event means (%d), model means (%d) and variances (%d) must align",
			len(eventMeans), len(modelMeans), len(modelInvVars))
	}

	// weighted least squares of event = shift + scale * model
	var sw, swx, swy, swxx, swxy float64
	for i := 0; i < n; i++ {
		w := modelInvVars[i]
		sw += w
		swx += w * modelMeans[i]
		swy += w * eventMeans[i]
		swxx += w * modelMeans[i] * modelMeans[i]
		swxy += w * modelMeans[i] * eventMeans[i]
	}
	det := sw*swxx - swx*swx
	if det == 0 {
		return 0, 0, fmt.Errorf("degenerate model fit while normalizing signal")
	}
	scale = (sw*swxy - swx*swy) / det
	shift = (swxx*swy - swx*swxy) / det
	return shift, scale, nil
}

func median(vals []float64) float64 {
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
