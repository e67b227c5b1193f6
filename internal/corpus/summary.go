package corpus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/afroash/lora-digest/internal/models"
)

// NoDataText is rendered for a summary without chunks.
const NoDataText = "No data chunks available"

// Summarize aggregates chunk documents: distinct dates, summed reading
// counts, and min/max/mean across the chunk-level means.
func Summarize(docs []models.ChunkDocument) models.DatasetSummary {
	summary := models.DatasetSummary{
		TotalChunks: len(docs),
		Dates:       []string{},
		Sources:     []string{},
	}
	if len(docs) == 0 {
		return summary
	}

	dates := make(map[string]bool)
	sources := make(map[string]bool)
	temp := make([]float64, 0, len(docs))
	humid := make([]float64, 0, len(docs))
	press := make([]float64, 0, len(docs))
	batt := make([]float64, 0, len(docs))

	for _, doc := range docs {
		m := doc.Metadata
		summary.TotalReadings += m.ReadingCount
		if m.Date != "" && !dates[m.Date] {
			dates[m.Date] = true
			summary.Dates = append(summary.Dates, m.Date)
		}
		if !sources[m.Source] {
			sources[m.Source] = true
			summary.Sources = append(summary.Sources, m.Source)
		}
		// formatted timestamps sort chronologically
		if m.TimeStart != "" && (summary.TimeStart == "" || m.TimeStart < summary.TimeStart) {
			summary.TimeStart = m.TimeStart
		}
		if m.TimeEnd > summary.TimeEnd {
			summary.TimeEnd = m.TimeEnd
		}
		temp = append(temp, m.TemperatureMean)
		humid = append(humid, m.HumidityMean)
		press = append(press, m.PressureMean)
		batt = append(batt, m.BatteryMean)
	}
	sort.Strings(summary.Dates)

	summary.Temperature = rangeOf(temp)
	summary.Humidity = rangeOf(humid)
	summary.Pressure = rangeOf(press)
	summary.Battery = rangeOf(batt)
	return summary
}

func rangeOf(values []float64) models.Range {
	r := models.Range{Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
		sum += v
	}
	r.Mean = sum / float64(len(values))
	return r
}

// RenderSummary renders a dataset summary as text.
func RenderSummary(s models.DatasetSummary) string {
	if s.IsEmpty() {
		return NoDataText
	}

	lines := []string{
		"=== DATA SUMMARY ===",
		fmt.Sprintf("Total Chunks: %d", s.TotalChunks),
		fmt.Sprintf("Total Readings: %d", s.TotalReadings),
		fmt.Sprintf("Sources: %d", len(s.Sources)),
		fmt.Sprintf("Dates: %s", strings.Join(s.Dates, ", ")),
		"",
		"=== OVERALL STATISTICS ===",
		fmt.Sprintf("Temperature: min=%.1f°C, max=%.1f°C, avg=%.1f°C", s.Temperature.Min, s.Temperature.Max, s.Temperature.Mean),
		fmt.Sprintf("Humidity: min=%.1f%%, max=%.1f%%, avg=%.1f%%", s.Humidity.Min, s.Humidity.Max, s.Humidity.Mean),
		fmt.Sprintf("Pressure: min=%.0fhPa, max=%.0fhPa, avg=%.0fhPa", s.Pressure.Min, s.Pressure.Max, s.Pressure.Mean),
		fmt.Sprintf("Battery: min=%.2fV, max=%.2fV, avg=%.2fV", s.Battery.Min, s.Battery.Max, s.Battery.Mean),
	}
	if s.TimeStart != "" && s.TimeEnd != "" {
		lines = append(lines, "", fmt.Sprintf("Time Range: %s to %s", s.TimeStart, s.TimeEnd))
	}
	return strings.Join(lines, "\n")
}
