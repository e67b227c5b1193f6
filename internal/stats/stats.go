// Package stats computes per-chunk aggregates and renders chunk reports.
package stats

import (
	"math"
	"sort"

	"github.com/afroash/lora-digest/internal/models"
)

// Compute derives the statistics of a chunk. It reads the chunk only, so
// repeated calls on the same chunk return identical results.
func Compute(chunk *models.Chunk) models.ChunkStatistics {
	records := chunk.Records
	s := models.ChunkStatistics{Count: len(records)}
	if len(records) == 0 {
		return s
	}
	s.Start = chunk.Start()
	s.End = chunk.End()

	n := len(records)
	temp := make([]float64, n)
	humid := make([]float64, n)
	press := make([]float64, n)
	batt := make([]float64, n)
	rssi := make([]float64, n)
	snr := make([]float64, n)
	interval := make([]float64, n)
	uptime := make([]float64, n)

	var hasRSSI, hasSNR, hasSolar bool
	charging := 0
	maxUptime := 0
	for i, r := range records {
		temp[i] = r.Temperature
		humid[i] = r.Humidity
		press[i] = r.Pressure
		batt[i] = r.Battery
		rssi[i] = float64(r.RSSI)
		snr[i] = r.SNR
		interval[i] = float64(r.Interval)
		uptime[i] = float64(r.Uptime)

		hasRSSI = hasRSSI || r.RSSI != 0
		hasSNR = hasSNR || r.SNR != 0
		hasSolar = hasSolar || r.HasSolarSignal()
		if r.Charging {
			charging++
		}
		if r.Uptime > maxUptime {
			maxUptime = r.Uptime
		}
	}

	s.Temperature = metric(temp)
	s.Humidity = metric(humid)
	s.Pressure = metric(press)

	bmin, bmax := minMax(batt)
	s.Battery = models.BatteryStats{Min: bmin, Max: bmax, Mean: mean(batt)}
	s.BatteryHealth = BatteryHealth(s.Battery.Mean)

	s.TemperatureTrend = TrendOf(temp[0], temp[n-1])
	s.HumidityTrend = TrendOf(humid[0], humid[n-1])
	s.PowerSources = powerSources(records)

	if hasRSSI {
		rmin, rmax := minMax(rssi)
		s.RSSI = &models.RSSIStats{Mean: mean(rssi), Min: rmin, Max: rmax}
		s.SignalQuality = SignalQuality(s.RSSI.Mean)
	}
	if hasSNR {
		smin, _ := minMax(snr)
		s.SNR = &models.SNRStats{Mean: mean(snr), Min: smin}
	}
	if hasSolar {
		s.Solar = &models.SolarStats{
			ChargingPercent: float64(charging) / float64(n) * 100,
			MeanInterval:    mean(interval),
			MaxUptime:       maxUptime,
			MeanUptime:      mean(uptime),
		}
		s.SolarPerformance = SolarPerformance(s.Solar.ChargingPercent)
	}
	return s
}

// TrendOf compares the last value with the first. A tie is a decrease.
func TrendOf(first, last float64) models.Trend {
	if last > first {
		return models.TrendIncreasing
	}
	return models.TrendDecreasing
}

// BatteryHealth classifies a mean battery voltage.
func BatteryHealth(voltage float64) string {
	switch {
	case voltage > 3.8:
		return "Excellent"
	case voltage > 3.6:
		return "Good"
	case voltage > 3.3:
		return "Low"
	default:
		return "Critical"
	}
}

// SignalQuality classifies a mean RSSI in dBm.
func SignalQuality(rssi float64) string {
	switch {
	case rssi > -80:
		return "Excellent"
	case rssi > -100:
		return "Good"
	case rssi > -120:
		return "Fair"
	default:
		return "Poor"
	}
}

// SolarPerformance classifies the share of readings taken while charging.
func SolarPerformance(chargingPercent float64) string {
	switch {
	case chargingPercent > 50:
		return "Excellent - frequently charging"
	case chargingPercent > 25:
		return "Good - regular charging"
	case chargingPercent > 10:
		return "Fair - occasional charging"
	default:
		return "Poor - rarely charging"
	}
}

func metric(values []float64) models.MetricStats {
	lo, hi := minMax(values)
	return models.MetricStats{Min: lo, Max: hi, Mean: mean(values), StdDev: stdDev(values)}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation; NaN for fewer than two values.
func stdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return math.NaN()
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// powerSources counts power sources, most frequent first. Ties keep the
// order of first appearance.
func powerSources(records []models.SensorRecord) []models.PowerSourceCount {
	index := make(map[string]int)
	var counts []models.PowerSourceCount
	for _, r := range records {
		i, ok := index[r.PowerSource]
		if !ok {
			i = len(counts)
			index[r.PowerSource] = i
			counts = append(counts, models.PowerSourceCount{Name: r.PowerSource})
		}
		counts[i].Count++
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts
}
