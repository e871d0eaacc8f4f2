package waveform

import (
	"sort"
	"sync"
	"time"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
)

// Store holds transactions for many devices. Updates to one key are
// serialised; different keys proceed in parallel.
type Store struct {
	opts FoldOptions

	mu      sync.Mutex
	entries map[Key]*entry
}

type entry struct {
	mu sync.Mutex
	tx *Transaction
}

// NewStore creates an empty store that folds with opts.
func NewStore(opts FoldOptions) *Store {
	return &Store{opts: opts, entries: make(map[Key]*entry)}
}

// KeyFor returns the transaction key for a waveform record, or ok=false for
// records the tracker does not consume.
func KeyFor(device string, rec codec.Record) (Key, bool) {
	switch r := rec.(type) {
	case *codec.WaveformInfo:
		return Key{Device: device, TxID: r.TransactionID}, true
	case *codec.WaveformData:
		return Key{Device: device, TxID: r.TransactionID}, true
	}
	return Key{}, false
}

// Ingest folds rec into the transaction it belongs to, creating it on first
// sight. It returns a snapshot of the updated transaction and the actions
// queued by this record. ok is false for non-waveform records.
func (s *Store) Ingest(device string, rec codec.Record) (tx *Transaction, actions []Action, ok bool) {
	key, ok := KeyFor(device, rec)
	if !ok {
		return nil, nil, false
	}
	e := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()
	actions = Fold(e.tx, rec, s.opts)
	return e.tx.Clone(), actions, true
}

func (s *Store) entry(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{tx: NewTransaction(key)}
		s.entries[key] = e
	}
	return e
}

func (s *Store) lookup(key Key) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

// Get returns a snapshot of one transaction.
func (s *Store) Get(key Key) (*Transaction, bool) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx.Clone(), true
}

// Delete drops one transaction. It reports whether the key existed.
func (s *Store) Delete(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Reset drops every transaction and returns how many there were.
func (s *Store) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[Key]*entry)
	return n
}

// Snapshot returns copies of every transaction.
func (s *Store) Snapshot() map[Key]*Transaction {
	s.mu.Lock()
	entries := make(map[Key]*entry, len(s.entries))
	for k, e := range s.entries {
		entries[k] = e
	}
	s.mu.Unlock()

	out := make(map[Key]*Transaction, len(entries))
	for k, e := range entries {
		e.mu.Lock()
		out[k] = e.tx.Clone()
		e.mu.Unlock()
	}
	return out
}

// List returns summaries ordered by device then transaction id.
func (s *Store) List() []Summary {
	snap := s.Snapshot()
	out := make([]Summary, 0, len(snap))
	for _, tx := range snap {
		out = append(out, tx.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Device != out[j].Key.Device {
			return out[i].Key.Device < out[j].Key.Device
		}
		return out[i].Key.TxID < out[j].Key.TxID
	})
	return out
}

// EvictIdle drops transactions not updated within maxIdle and returns how
// many were removed.
func (s *Store) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.opts.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		e.mu.Lock()
		idle := e.tx.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked transactions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Summary is the list view of a transaction.
type Summary struct {
	Key              Key                 `json:"key"`
	HasInfo          bool                `json:"has_info"`
	Expected         int                 `json:"expected"`
	Received         int                 `json:"received"`
	Missing          int                 `json:"missing"`
	AxisSelection    codec.AxisSelection `json:"axis_selection"`
	AxisInferred     bool                `json:"axis_inferred"`
	RequestedMissing bool                `json:"requested_missing"`
	Complete         bool                `json:"complete"`
	Warnings         int                 `json:"warnings"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (tx *Transaction) Summary() Summary {
	return Summary{
		Key:              tx.Key,
		HasInfo:          tx.HasInfo(),
		Expected:         tx.Expected,
		Received:         len(tx.Segments),
		Missing:          len(tx.Missing),
		AxisSelection:    tx.AxisMask,
		AxisInferred:     tx.AxisInferred,
		RequestedMissing: tx.RequestedMissing,
		Complete:         tx.Complete,
		Warnings:         len(tx.Warnings),
		UpdatedAt:        tx.UpdatedAt,
	}
}

// Detail is the full JSON view of a transaction.
type Detail struct {
	Summary
	Info            *codec.WaveformInfo `json:"info"`
	SamplingRateHz  int                 `json:"sampling_rate_hz"`
	SamplesPerAxis  int                 `json:"samples_per_axis"`
	Capacity        []int               `json:"capacity"`
	SegmentStates   []SegmentState      `json:"segment_states"`
	SegmentsPresent []uint16            `json:"segments_present"`
	MissingIndices  []uint16            `json:"missing_indices"`
	MaxSeen         int                 `json:"max_seen"`
	DataBeforeInfo  bool                `json:"saw_data_before_info"`
	LastSegmentSeen bool                `json:"last_segment_seen"`
	WarningText     []codec.Warning     `json:"warning_text"`
	Actions         []ActionView        `json:"actions"`
}

// ActionView is an encoded suggestion.
type ActionView struct {
	Reason string      `json:"reason"`
	Frame  codec.Frame `json:"frame"`
	Error  string      `json:"error,omitempty"`
}

func (tx *Transaction) Detail(opts ...codec.Option) Detail {
	d := Detail{
		Summary:         tx.Summary(),
		Info:            tx.Info,
		SamplingRateHz:  tx.SamplingRateHz,
		SamplesPerAxis:  tx.SamplesPerAxis,
		Capacity:        tx.Capacity,
		SegmentStates:   tx.SegmentStates(),
		SegmentsPresent: tx.SegmentIndices(),
		MissingIndices:  tx.Missing,
		MaxSeen:         tx.MaxSeen,
		DataBeforeInfo:  tx.SawDataBeforeInfo,
		LastSegmentSeen: tx.LastSegmentSeen,
		WarningText:     tx.Warnings,
	}
	d.Actions = ViewActions(tx.Actions, opts...)
	return d
}

// ViewActions encodes actions for display.
func ViewActions(actions []Action, opts ...codec.Option) []ActionView {
	out := make([]ActionView, 0, len(actions))
	for _, a := range actions {
		v := ActionView{Reason: a.Reason}
		f, err := a.Frame(opts...)
		if err != nil {
			v.Error = err.Error()
		} else {
			v.Frame = f
		}
		out = append(out, v)
	}
	return out
}
