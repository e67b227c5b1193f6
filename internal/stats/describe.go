package stats

import (
	"fmt"
	"strings"

	"github.com/afroash/lora-digest/internal/models"
)

// Describe renders the text report of a chunk. Solar and signal sections
// appear only when the statistics carry them.
func Describe(s models.ChunkStatistics) string {
	if s.Count == 0 {
		return "Empty data chunk"
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("=== TEMPORAL INFO ===")
	line("Date: %s", s.Start.Format(models.DateLayout))
	line("Month: %s", s.Start.Format("January 2006"))
	line("Time Period: %s to %s", s.Start.Format(models.TimestampLayout), s.End.Format(models.TimestampLayout))
	line("Number of Readings: %d", s.Count)
	line("")

	line("=== ENVIRONMENTAL CONDITIONS ===")
	line("Temperature: min=%.1f°C, max=%.1f°C, avg=%.1f°C, std=%.2f°C",
		s.Temperature.Min, s.Temperature.Max, s.Temperature.Mean, s.Temperature.StdDev)
	line("Humidity: min=%.1f%%, max=%.1f%%, avg=%.1f%%, std=%.2f%%",
		s.Humidity.Min, s.Humidity.Max, s.Humidity.Mean, s.Humidity.StdDev)
	line("Pressure: min=%.0fhPa, max=%.0fhPa, avg=%.0fhPa, std=%.2fhPa",
		s.Pressure.Min, s.Pressure.Max, s.Pressure.Mean, s.Pressure.StdDev)
	line("")
	line("Trends: Temperature %s, Humidity %s", s.TemperatureTrend, s.HumidityTrend)
	line("")

	line("=== SYSTEM STATUS ===")
	line("Battery Voltage: min=%.2fV, max=%.2fV, avg=%.2fV", s.Battery.Min, s.Battery.Max, s.Battery.Mean)
	line("Battery Health: %s", s.BatteryHealth)
	if len(s.PowerSources) > 0 {
		parts := make([]string, len(s.PowerSources))
		for i, p := range s.PowerSources {
			parts[i] = fmt.Sprintf("%s(%d)", p.Name, p.Count)
		}
		line("Power Sources: %s", strings.Join(parts, ", "))
	}
	line("")

	if s.Solar != nil {
		line("=== SOLAR SYSTEM INFO ===")
		line("☀️ Solar-powered sensor detected")
		line("Charging Status: Active %.1f%% of time", s.Solar.ChargingPercent)
		if s.Solar.MeanInterval > 0 {
			line("Average Transmission Interval: %.1f minutes", s.Solar.MeanInterval/60)
		}
		if s.Solar.MaxUptime > 0 {
			line("Maximum Uptime: %.2f hours", float64(s.Solar.MaxUptime)/3600)
		}
		line("Solar Performance: %s", s.SolarPerformance)
		line("")
	}

	if s.RSSI != nil {
		line("=== SIGNAL QUALITY ===")
		line("RSSI (Signal Strength): avg=%.0fdBm, min=%.0fdBm, max=%.0fdBm", s.RSSI.Mean, s.RSSI.Min, s.RSSI.Max)
		if s.SNR != nil {
			line("SNR (Signal-to-Noise): avg=%.1fdB, min=%.1fdB", s.SNR.Mean, s.SNR.Min)
		}
		line("Overall Signal Quality: %s", s.SignalQuality)
	}

	return strings.TrimRight(b.String(), "\n")
}

// Metadata flattens the statistics of a chunk into the retrieval record.
func Metadata(chunk *models.Chunk, s models.ChunkStatistics) models.ChunkMetadata {
	m := models.ChunkMetadata{
		ChunkID:         chunk.ID,
		Source:          chunk.Source,
		ReadingCount:    s.Count,
		TemperatureMean: s.Temperature.Mean,
		HumidityMean:    s.Humidity.Mean,
		PressureMean:    s.Pressure.Mean,
		BatteryMean:     s.Battery.Mean,
	}
	if s.Count > 0 {
		m.TimeStart = s.Start.Format(models.TimestampLayout)
		m.TimeEnd = s.End.Format(models.TimestampLayout)
		m.Date = s.Start.Format(models.DateLayout)
	}
	return m
}

// Document computes the statistics of a chunk and returns its report and
// metadata together.
func Document(chunk *models.Chunk) models.ChunkDocument {
	s := Compute(chunk)
	return models.ChunkDocument{
		Text:     Describe(s),
		Metadata: Metadata(chunk, s),
	}
}
