// Package export renders chunk documents and dataset summaries as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/afroash/lora-digest/internal/models"
)

const (
	ChunksSheet  = "Chunks"
	SummarySheet = "Summary"
)

// ChunkHeader is the column order of the Chunks sheet
var ChunkHeader = []string{
	"source",
	"chunk_id",
	"date",
	"time_start",
	"time_end",
	"reading_count",
	"temperature_mean",
	"humidity_mean",
	"pressure_mean",
	"battery_mean",
}

var chunkWidths = []float64{28, 10, 12, 20, 20, 14, 18, 16, 16, 14}

// WriteWorkbook writes a workbook with one Chunks row per document and a
// Summary sheet of key/value rows
func WriteWorkbook(w io.Writer, docs []models.ChunkDocument, summary models.DatasetSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ChunksSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeChunks(f, docs, headerStyle); err != nil {
		return err
	}
	if err := writeSummary(f, summary, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeChunks(f *excelize.File, docs []models.ChunkDocument, headerStyle int) error {
	header := make([]interface{}, len(ChunkHeader))
	for i, h := range ChunkHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(ChunksSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write chunk header: %w", err)
	}

	last, err := excelize.ColumnNumberToName(len(ChunkHeader))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(ChunksSheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, width := range chunkWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(ChunksSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, doc := range docs {
		m := doc.Metadata
		row := []interface{}{
			m.Source,
			m.ChunkID,
			m.Date,
			m.TimeStart,
			m.TimeEnd,
			m.ReadingCount,
			m.TemperatureMean,
			m.HumidityMean,
			m.PressureMean,
			m.BatteryMean,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(ChunksSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write chunk row %d: %w", i+2, err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, s models.DatasetSummary, headerStyle int) error {
	rows := [][]interface{}{
		{"key", "value"},
		{"total_chunks", s.TotalChunks},
		{"total_readings", s.TotalReadings},
		{"sources", strings.Join(s.Sources, ", ")},
		{"dates", strings.Join(s.Dates, ", ")},
		{"time_start", s.TimeStart},
		{"time_end", s.TimeEnd},
	}
	for _, metric := range []struct {
		name string
		r    models.Range
	}{
		{"temperature", s.Temperature},
		{"humidity", s.Humidity},
		{"pressure", s.Pressure},
		{"battery", s.Battery},
	} {
		rows = append(rows,
			[]interface{}{metric.name + "_min", metric.r.Min},
			[]interface{}{metric.name + "_max", metric.r.Max},
			[]interface{}{metric.name + "_mean", metric.r.Mean},
		)
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 20); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return f.SetColWidth(SummarySheet, "B", "B", 40)
}
