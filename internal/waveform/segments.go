package waveform

import (
	"fmt"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
)

// Per-segment capacity: triplets when tri-axial, scalar samples otherwise.
const (
	TriAxialCapacity   = 7
	SingleAxisCapacity = 21
)

// SegmentCapacity returns the nominal samples per axis in one segment.
func SegmentCapacity(mask codec.AxisSelection) int {
	if mask.TriAxial() {
		return TriAxialCapacity
	}
	return SingleAxisCapacity
}

// CapacityTable returns the expected samples per axis for each segment
// index. Every segment is full except the last, which holds the remainder
// of samplesPerAxis when it does not divide evenly.
func CapacityTable(expected, samplesPerAxis int, mask codec.AxisSelection) []int {
	if expected <= 0 {
		return nil
	}
	capacity := SegmentCapacity(mask)
	sizes := make([]int, expected)
	for i := range sizes {
		sizes[i] = capacity
	}
	if samplesPerAxis > 0 {
		if rem := samplesPerAxis % capacity; rem != 0 {
			sizes[expected-1] = rem
		}
	}
	return sizes
}

// SegmentState is the display state of one segment index.
type SegmentState uint8

const (
	// StateGrey: absent and above the highest index seen so far.
	StateGrey SegmentState = iota
	// StateGreen: present.
	StateGreen
	// StateRed: absent below the highest index seen.
	StateRed
	// StateYellow: requested from the device and still outstanding.
	StateYellow
)

var segmentStateNames = [...]string{"grey", "green", "red", "yellow"}

func (s SegmentState) String() string {
	if int(s) < len(segmentStateNames) {
		return segmentStateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s SegmentState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SegmentStates returns one state per index in [0, Expected). It is empty
// until the info header has arrived.
func (tx *Transaction) SegmentStates() []SegmentState {
	if tx.Expected <= 0 {
		return nil
	}
	out := make([]SegmentState, tx.Expected)
	for i := range out {
		_, have := tx.Segments[uint16(i)]
		switch {
		case have:
			out[i] = StateGreen
		case i <= tx.MaxSeen:
			out[i] = StateRed
		default:
			out[i] = StateGrey
		}
	}
	if tx.RequestedMissing {
		for _, idx := range tx.Missing {
			if _, have := tx.Segments[idx]; !have && int(idx) < len(out) {
				out[idx] = StateYellow
			}
		}
	}
	return out
}
