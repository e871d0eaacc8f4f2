package waveform

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	samplesSheet  = "Waveform"
	segmentsSheet = "Segments"
	infoSheet     = "Info"
)

// WriteXLSX writes a workbook with the samples, the per-segment spans and
// the transaction metadata on separate sheets.
func WriteXLSX(out io.Writer, tx *Transaction) error {
	w, err := tx.Reconstruct()
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(samplesSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	if err := writeSamplesSheet(f, w); err != nil {
		return err
	}
	if err := writeSegmentsSheet(f, w); err != nil {
		return err
	}
	if err := writeInfoSheet(f, tx.metadata(w), tx); err != nil {
		return err
	}

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSamplesSheet(f *excelize.File, w *Waveform) error {
	sw, err := f.NewStreamWriter(samplesSheet)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}
	header := make([]interface{}, len(sampleHeader))
	for i, h := range sampleHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := 0; i < w.TotalSamples; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := []interface{}{i, w.Time(i), w.Axes[0][i], w.Axes[1][i], w.Axes[2][i]}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	return sw.Flush()
}

func writeSegmentsSheet(f *excelize.File, w *Waveform) error {
	if _, err := f.NewSheet(segmentsSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.SetSheetRow(segmentsSheet, "A1", &[]interface{}{"segment", "start", "end", "state"}); err != nil {
		return err
	}
	for i, sp := range w.Spans {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(segmentsSheet, cell, &[]interface{}{sp.Index, sp.Start, sp.End, sp.State.String()}); err != nil {
			return fmt.Errorf("failed to write segment %d: %w", sp.Index, err)
		}
	}
	return nil
}

func writeInfoSheet(f *excelize.File, m Metadata, tx *Transaction) error {
	if _, err := f.NewSheet(infoSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	rows := [][]interface{}{
		{"device", tx.Key.Device},
		{"tx_id", int(m.TxID)},
		{"axis_selection", m.AxisLabel},
		{"axis_inferred", tx.AxisInferred},
		{"sampling_rate_hz", m.SamplingRateHz},
		{"filter", m.Filter},
		{"segments", m.Segments},
		{"samples_per_axis", m.SamplesPerAxis},
		{"total_samples", m.TotalSamples},
		{"complete", tx.Complete},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(infoSheet, cell, &r); err != nil {
			return err
		}
	}
	for i, w := range tx.Warnings {
		cell, err := excelize.CoordinatesToCellName(1, len(rows)+i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(infoSheet, cell, &[]interface{}{"warning", string(w)}); err != nil {
			return err
		}
	}
	return nil
}
