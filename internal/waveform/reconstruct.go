package waveform

import (
	"errors"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
)

// ErrNotReady is returned when the info header (segment count, sampling
// rate, samples per axis) is still unknown.
var ErrNotReady = errors.New("waveform not ready: waveform information not received")

// Span locates one segment within the reconstructed sample arrays.
type Span struct {
	Index int          `json:"index"`
	Start int          `json:"start"`
	End   int          `json:"end"`
	State SegmentState `json:"state"`
}

// Waveform is a gap-free reconstruction. Segments that never arrived are
// zero-filled on every axis for their expected length, so Axes always have
// TotalSamples entries.
type Waveform struct {
	Key            Key                 `json:"key"`
	AxisMask       codec.AxisSelection `json:"axis_selection"`
	SamplingRateHz int                 `json:"sampling_rate_hz"`
	Axes           [3][]int16          `json:"axes"`
	Spans          []Span              `json:"spans"`
	TotalSamples   int                 `json:"total_samples"`
}

// Time returns the timestamp of sample i in seconds.
func (w *Waveform) Time(i int) float64 {
	return float64(i) / float64(w.SamplingRateHz)
}

// Reconstruct walks segments in index order and lays out their samples per
// axis.
func (tx *Transaction) Reconstruct() (*Waveform, error) {
	if tx.Expected <= 0 || tx.SamplingRateHz <= 0 || tx.SamplesPerAxis <= 0 {
		return nil, ErrNotReady
	}
	states := tx.SegmentStates()
	tri := tx.AxisMask.TriAxial()
	w := &Waveform{
		Key:            tx.Key,
		AxisMask:       tx.AxisMask,
		SamplingRateHz: tx.SamplingRateHz,
	}

	for s := 0; s < tx.Expected; s++ {
		seg, have := tx.Segments[uint16(s)]
		n := tx.segmentLength(s, seg, tri)
		start := w.TotalSamples

		switch {
		case have && tri:
			trip, _ := seg.Triplets()
			if trip == nil {
				trip = completeTriplets(seg.Samples)
			}
			for k := 0; k < n; k++ {
				for axis := 0; axis < 3; axis++ {
					w.Axes[axis] = append(w.Axes[axis], trip[k][axis])
				}
			}
		case have:
			for k := 0; k < n; k++ {
				v := seg.Samples[k]
				for axis := 0; axis < 3; axis++ {
					if tx.AxisMask == codec.AxisSelection(1<<axis) {
						w.Axes[axis] = append(w.Axes[axis], v)
					} else {
						w.Axes[axis] = append(w.Axes[axis], 0)
					}
				}
			}
		default:
			for axis := 0; axis < 3; axis++ {
				w.Axes[axis] = append(w.Axes[axis], make([]int16, n)...)
			}
		}

		w.TotalSamples += n
		w.Spans = append(w.Spans, Span{Index: s, Start: start, End: w.TotalSamples, State: states[s]})
	}
	return w, nil
}

// segmentLength is the actual length of a received segment, or the
// capacity table entry for one that never arrived.
func (tx *Transaction) segmentLength(s int, seg *codec.WaveformData, tri bool) int {
	if seg != nil {
		if tri {
			return len(seg.Samples) / 3
		}
		return len(seg.Samples)
	}
	if s < len(tx.Capacity) {
		return tx.Capacity[s]
	}
	return SegmentCapacity(tx.AxisMask)
}

func completeTriplets(samples []int16) [][3]int16 {
	out := make([][3]int16, 0, len(samples)/3)
	for i := 0; i+2 < len(samples); i += 3 {
		out = append(out, [3]int16{samples[i], samples[i+1], samples[i+2]})
	}
	return out
}
