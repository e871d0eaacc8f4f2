// Package waveform reassembles raw vibration captures that arrive as
// unordered, lossy sequences of waveform info and data uplinks, and decides
// which acknowledgment or retransmission request to send next.
package waveform

import (
	"fmt"
	"sort"
	"time"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
)

// Key identifies a transaction. Transaction ids are reused by the device, so
// they are only unique per device and per capture session.
type Key struct {
	Device string `json:"device"`
	TxID   uint8  `json:"tx_id"`
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Device, k.TxID) }

// Action is a downlink the tracker suggests sending.
type Action struct {
	Reason   string
	Downlink codec.Downlink
}

// Frame encodes the suggested downlink. Tracker-generated downlinks always
// validate, so an error here means the caller built an invalid action.
func (a Action) Frame(opts ...codec.Option) (codec.Frame, error) {
	return codec.EncodeDownlink(a.Downlink, opts...)
}

// Transaction is the reassembly state for one waveform capture.
type Transaction struct {
	Key  Key
	Info *codec.WaveformInfo

	// Expected is the segment count from Info, or -1 before Info arrives.
	Expected       int
	AxisMask       codec.AxisSelection
	ReportedAxis   codec.AxisSelection
	AxisInferred   bool
	SamplingRateHz int
	SamplesPerAxis int
	Capacity       []int

	Segments map[uint16]*codec.WaveformData

	SawDataBeforeInfo bool
	RequestedInfo     bool
	RequestedMissing  bool
	LastSegmentSeen   bool

	// FinishPending is set when the final segment arrived before Info. The
	// next Info runs the completion check once and clears it.
	FinishPending bool

	// Derived after every fold.
	MaxSeen  int
	Missing  []uint16
	Complete bool

	Actions   []Action
	Warnings  []codec.Warning
	UpdatedAt time.Time
}

// NewTransaction returns an empty transaction for key.
func NewTransaction(key Key) *Transaction {
	return &Transaction{
		Key:      key,
		Expected: -1,
		MaxSeen:  -1,
		Segments: make(map[uint16]*codec.WaveformData),
	}
}

// HasInfo reports whether the waveform info header has been folded in.
func (tx *Transaction) HasInfo() bool { return tx.Info != nil }

// FoldOptions tunes Fold. The zero value uses variance inference and the
// wall clock.
type FoldOptions struct {
	Inference AxisInference
	Now       func() time.Time
}

func (o FoldOptions) inference() AxisInference {
	if o.Inference == nil {
		return VarianceInference{}
	}
	return o.Inference
}

func (o FoldOptions) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Fold applies one decoded record to tx and returns the downlinks it
// queued. Records other than waveform info and data are ignored. Fold never
// fails: anything surprising is recorded in tx.Warnings.
func Fold(tx *Transaction, rec codec.Record, opts FoldOptions) []Action {
	var queued []Action
	switch r := rec.(type) {
	case *codec.WaveformInfo:
		queued = tx.applyInfo(r)
		tx.recompute()
		if tx.FinishPending {
			tx.FinishPending = false
			queued = append(queued, tx.finish()...)
		}
	case *codec.WaveformData:
		queued = tx.applyData(r, opts.inference())
		tx.recompute()
		if r.Last {
			if tx.Expected < 0 {
				tx.FinishPending = true
			} else {
				queued = append(queued, tx.finish()...)
			}
		}
	default:
		return nil
	}
	tx.Actions = append(tx.Actions, queued...)
	tx.UpdatedAt = opts.now()
	return queued
}

func (tx *Transaction) applyInfo(info *codec.WaveformInfo) []Action {
	tx.Info = info
	tx.Expected = int(info.NumberOfSegments)
	tx.ReportedAxis = info.AxisSelection
	tx.SamplingRateHz = int(info.SamplingRateHz)
	tx.SamplesPerAxis = int(info.SamplesPerAxis)

	switch {
	case info.AxisSelection.Valid():
		tx.AxisMask = info.AxisSelection
		tx.AxisInferred = false
	case tx.AxisMask.Valid():
		tx.warn(codec.Warning(fmt.Sprintf("waveform info reports axis selection 0x%x; keeping inferred 0x%x",
			uint8(info.AxisSelection), uint8(tx.AxisMask))))
	default:
		tx.AxisMask = info.AxisSelection
	}
	tx.Capacity = nil
	if tx.AxisMask.Valid() {
		tx.Capacity = CapacityTable(tx.Expected, tx.SamplesPerAxis, tx.AxisMask)
	}

	return []Action{{
		Reason:   "acknowledge waveform information",
		Downlink: &codec.AckDownlink{Opcode: codec.AckWaveformInfo, TransactionID: tx.Key.TxID},
	}}
}

func (tx *Transaction) applyData(d *codec.WaveformData, inf AxisInference) []Action {
	var queued []Action
	if !tx.HasInfo() {
		tx.SawDataBeforeInfo = true
		if !tx.RequestedInfo {
			tx.RequestedInfo = true
			queued = append(queued, Action{
				Reason:   "request waveform information",
				Downlink: &codec.CommandDownlink{Command: codec.CommandRequestWaveformInfo},
			})
		}
	}

	if !tx.AxisMask.Valid() {
		if mask, reason, ok := inf.Infer(d); ok {
			tx.AxisMask = mask
			tx.AxisInferred = true
			tx.warn(codec.Warning(reason))
			if tx.Expected >= 0 {
				tx.Capacity = CapacityTable(tx.Expected, tx.SamplesPerAxis, tx.AxisMask)
			}
		}
	}
	if !tx.AxisMask.Valid() {
		tx.warn(codec.Warning(fmt.Sprintf("invalid AxisSelection 0x%x", uint8(tx.AxisMask))))
	}

	tx.Segments[d.SegmentIndex] = d
	if d.Last {
		tx.LastSegmentSeen = true
	}
	return queued
}

// recompute refreshes MaxSeen, Missing and Complete. Indices at or beyond
// Expected are stored but never counted.
func (tx *Transaction) recompute() {
	tx.MaxSeen = -1
	tx.Missing = nil
	tx.Complete = false
	if tx.Expected < 0 {
		return
	}
	present := 0
	for i := 0; i < tx.Expected; i++ {
		if _, ok := tx.Segments[uint16(i)]; ok {
			tx.MaxSeen = i
			present++
			continue
		}
		tx.Missing = append(tx.Missing, uint16(i))
	}
	tx.Complete = tx.Expected > 0 && len(tx.Missing) == 0 && present == tx.Expected
}

// finish runs once the device has sent its final segment and Info is known.
func (tx *Transaction) finish() []Action {
	if len(tx.Missing) > 0 {
		tx.RequestedMissing = true
		var out []Action
		for _, req := range codec.SplitMissingSegments(tx.Missing) {
			out = append(out, Action{
				Reason:   fmt.Sprintf("request missing segments %v", req.Segments),
				Downlink: req,
			})
		}
		return out
	}
	return []Action{{
		Reason:   "acknowledge waveform data",
		Downlink: &codec.AckDownlink{Opcode: codec.AckWaveformData, TransactionID: tx.Key.TxID},
	}}
}

func (tx *Transaction) warn(w codec.Warning) {
	for _, existing := range tx.Warnings {
		if existing == w {
			return
		}
	}
	tx.Warnings = append(tx.Warnings, w)
}

// SegmentIndices returns the stored segment indices in ascending order,
// including any beyond Expected.
func (tx *Transaction) SegmentIndices() []uint16 {
	out := make([]uint16, 0, len(tx.Segments))
	for idx := range tx.Segments {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a copy that shares segment payloads but not the maps or
// slices that Fold mutates.
func (tx *Transaction) Clone() *Transaction {
	c := *tx
	c.Segments = make(map[uint16]*codec.WaveformData, len(tx.Segments))
	for k, v := range tx.Segments {
		c.Segments[k] = v
	}
	c.Capacity = append([]int(nil), tx.Capacity...)
	c.Missing = append([]uint16(nil), tx.Missing...)
	c.Actions = append([]Action(nil), tx.Actions...)
	c.Warnings = append([]codec.Warning(nil), tx.Warnings...)
	return &c
}
