package waveform

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
)

// AxisInference guesses the axis mask of a transfer whose info header is
// missing or reports an illegal mask. Some firmware reports 0.
type AxisInference interface {
	// Infer returns the mask and a human-readable basis, or ok=false to
	// leave the mask unknown.
	Infer(d *codec.WaveformData) (mask codec.AxisSelection, reason string, ok bool)
}

// NoInference leaves the mask unknown.
type NoInference struct{}

func (NoInference) Infer(*codec.WaveformData) (codec.AxisSelection, string, bool) {
	return 0, "", false
}

// DefaultAxisPreference is the single-axis tie-break order.
var DefaultAxisPreference = []codec.AxisSelection{codec.Axis2, codec.Axis1, codec.Axis3}

// VarianceInference treats a segment as tri-axial when its samples split
// into triplets and at least two triplet components vary. Otherwise it picks
// the first single axis in Preference.
type VarianceInference struct {
	Preference []codec.AxisSelection
}

func (v VarianceInference) Infer(d *codec.WaveformData) (codec.AxisSelection, string, bool) {
	if trip, ok := d.Triplets(); ok && len(trip) > 0 {
		var cols [3][]float64
		for _, t := range trip {
			for axis := 0; axis < 3; axis++ {
				cols[axis] = append(cols[axis], float64(t[axis]))
			}
		}
		active := 0
		for axis := 0; axis < 3; axis++ {
			if stat.PopVariance(cols[axis], nil) > 0 {
				active++
			}
		}
		if active >= 2 {
			return codec.AxisTri, fmt.Sprintf(
				"AxisSelection unknown; inferred tri-axial (0x7) from triplet variance in segment %d (%d varying components)",
				d.SegmentIndex, active), true
		}
	}

	mask := v.singleAxis()
	basis := "flat signal"
	if len(d.Samples) > 0 && stat.PopVariance(toFloats(d.Samples), nil) > 0 {
		basis = "non-triplet variance"
	}
	return mask, fmt.Sprintf(
		"AxisSelection unknown; inferred single-axis 0x%x (%s) from %s in segment %d",
		uint8(mask), mask.Label(), basis, d.SegmentIndex), true
}

func (v VarianceInference) singleAxis() codec.AxisSelection {
	pref := v.Preference
	if len(pref) == 0 {
		pref = DefaultAxisPreference
	}
	for _, m := range pref {
		if m.SingleAxis() {
			return m
		}
	}
	return codec.Axis1
}

func toFloats(in []int16) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
