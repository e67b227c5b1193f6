package models

import (
	"encoding/json"
	"time"
)

// Chunk is a contiguous, time-ordered, non-empty run of records from one source.
type Chunk struct {
	ID      int            `json:"chunk_id"`
	Source  string         `json:"source"`
	Records []SensorRecord `json:"records"`
}

// Start returns the timestamp of the first record.
func (c *Chunk) Start() time.Time {
	if len(c.Records) == 0 {
		return time.Time{}
	}
	return c.Records[0].Timestamp
}

// End returns the timestamp of the last record.
func (c *Chunk) End() time.Time {
	if len(c.Records) == 0 {
		return time.Time{}
	}
	return c.Records[len(c.Records)-1].Timestamp
}

// Len returns the number of readings in the chunk.
func (c *Chunk) Len() int {
	return len(c.Records)
}

// Trend is the direction a metric moved between the first and last record.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// MetricStats holds aggregates for an environmental metric.
// StdDev is the sample standard deviation and is NaN for a single reading.
type MetricStats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// BatteryStats holds battery voltage aggregates.
type BatteryStats struct {
	Min  float64
	Max  float64
	Mean float64
}

// RSSIStats is present only when a chunk contains a non-zero RSSI.
type RSSIStats struct {
	Mean float64
	Min  float64
	Max  float64
}

// SNRStats is present only when a chunk contains a non-zero SNR.
type SNRStats struct {
	Mean float64
	Min  float64
}

// SolarStats is present only when a chunk carries solar telemetry.
type SolarStats struct {
	ChargingPercent float64
	MeanInterval    float64
	MaxUptime       int
	MeanUptime      float64
}

// PowerSourceCount is one entry of the power source distribution.
type PowerSourceCount struct {
	Name  string
	Count int
}

// ChunkStatistics is derived from a chunk and never mutated.
type ChunkStatistics struct {
	Count            int
	Start            time.Time
	End              time.Time
	Temperature      MetricStats
	Humidity         MetricStats
	Pressure         MetricStats
	Battery          BatteryStats
	TemperatureTrend Trend
	HumidityTrend    Trend
	BatteryHealth    string
	PowerSources     []PowerSourceCount
	RSSI             *RSSIStats
	SNR              *SNRStats
	SignalQuality    string
	Solar            *SolarStats
	SolarPerformance string
}

// ChunkMetadata is the flat record handed to the indexing collaborator.
type ChunkMetadata struct {
	ChunkID         int     `json:"chunk_id"`
	Source          string  `json:"source"`
	TimeStart       string  `json:"time_start"`
	TimeEnd         string  `json:"time_end"`
	Date            string  `json:"date"`
	ReadingCount    int     `json:"reading_count"`
	TemperatureMean float64 `json:"temperature_mean"`
	HumidityMean    float64 `json:"humidity_mean"`
	PressureMean    float64 `json:"pressure_mean"`
	BatteryMean     float64 `json:"battery_mean"`
}

// Map returns the metadata with every key the retrieval layer expects,
// including the source_file, start_time/end_time and readings_count aliases.
func (m ChunkMetadata) Map() map[string]any {
	return map[string]any{
		"chunk_id":         m.ChunkID,
		"source_file":      m.Source,
		"source":           m.Source,
		"time_start":       m.TimeStart,
		"time_end":         m.TimeEnd,
		"start_time":       m.TimeStart,
		"end_time":         m.TimeEnd,
		"date":             m.Date,
		"reading_count":    m.ReadingCount,
		"readings_count":   m.ReadingCount,
		"temperature_mean": m.TemperatureMean,
		"humidity_mean":    m.HumidityMean,
		"pressure_mean":    m.PressureMean,
		"battery_mean":     m.BatteryMean,
	}
}

// MarshalJSON emits the aliased key set from Map.
func (m ChunkMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

// UnmarshalJSON accepts the aliased key set.
func (m *ChunkMetadata) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChunkID         int     `json:"chunk_id"`
		Source          string  `json:"source"`
		SourceFile      string  `json:"source_file"`
		TimeStart       string  `json:"time_start"`
		TimeEnd         string  `json:"time_end"`
		Date            string  `json:"date"`
		ReadingCount    int     `json:"reading_count"`
		TemperatureMean float64 `json:"temperature_mean"`
		HumidityMean    float64 `json:"humidity_mean"`
		PressureMean    float64 `json:"pressure_mean"`
		BatteryMean     float64 `json:"battery_mean"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	source := raw.Source
	if source == "" {
		source = raw.SourceFile
	}
	*m = ChunkMetadata{
		ChunkID:         raw.ChunkID,
		Source:          source,
		TimeStart:       raw.TimeStart,
		TimeEnd:         raw.TimeEnd,
		Date:            raw.Date,
		ReadingCount:    raw.ReadingCount,
		TemperatureMean: raw.TemperatureMean,
		HumidityMean:    raw.HumidityMean,
		PressureMean:    raw.PressureMean,
		BatteryMean:     raw.BatteryMean,
	}
	return nil
}

// ChunkDocument is a rendered chunk report plus its metadata.
type ChunkDocument struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Range holds min/max/mean across chunk-level means.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// DatasetSummary aggregates chunk documents from one or more sources.
type DatasetSummary struct {
	TotalChunks   int      `json:"total_chunks"`
	TotalReadings int      `json:"total_readings"`
	Dates         []string `json:"dates"`
	Sources       []string `json:"sources"`
	TimeStart     string   `json:"time_start,omitempty"`
	TimeEnd       string   `json:"time_end,omitempty"`
	Temperature   Range    `json:"temperature"`
	Humidity      Range    `json:"humidity"`
	Pressure      Range    `json:"pressure"`
	Battery       Range    `json:"battery"`
}

// IsEmpty reports whether the summary covers no chunks.
func (s *DatasetSummary) IsEmpty() bool {
	return s.TotalChunks == 0
}
