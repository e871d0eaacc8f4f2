package waveform

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Metadata summarises a transaction for export headers.
type Metadata struct {
	TxID           uint8
	AxisLabel      string
	SamplingRateHz int
	Filter         string
	Segments       int
	SamplesPerAxis int
	TotalSamples   int
}

func (tx *Transaction) metadata(w *Waveform) Metadata {
	m := Metadata{
		TxID:           tx.Key.TxID,
		AxisLabel:      tx.AxisMask.Label(),
		SamplingRateHz: tx.SamplingRateHz,
		Segments:       tx.Expected,
		SamplesPerAxis: tx.SamplesPerAxis,
		TotalSamples:   w.TotalSamples,
	}
	if tx.Info != nil {
		m.Filter = tx.Info.HardwareFilter.String()
	}
	return m
}

// Comment renders the metadata as a single "# key=value, ..." line.
func (m Metadata) Comment() string {
	return fmt.Sprintf("# tx_id=%d, axis_selection=%s, sampling_rate_hz=%d, filter=%s, segments=%d, samples_per_axis=%d, total_samples=%d",
		m.TxID, m.AxisLabel, m.SamplingRateHz, m.Filter, m.Segments, m.SamplesPerAxis, m.TotalSamples)
}

var sampleHeader = []string{"sample_index", "time_s", "axis1", "axis2", "axis3"}

// WriteCSV writes the reconstructed waveform as CSV, preceded by a metadata
// comment line. Time is index divided by the sampling rate.
func WriteCSV(out io.Writer, tx *Transaction) error {
	w, err := tx.Reconstruct()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(out, tx.metadata(w).Comment()+"\n"); err != nil {
		return err
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(sampleHeader); err != nil {
		return err
	}
	row := make([]string, len(sampleHeader))
	for i := 0; i < w.TotalSamples; i++ {
		row[0] = strconv.Itoa(i)
		row[1] = strconv.FormatFloat(w.Time(i), 'g', -1, 64)
		for axis := 0; axis < 3; axis++ {
			row[2+axis] = strconv.Itoa(int(w.Axes[axis][i]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
