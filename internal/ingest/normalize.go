package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/afroash/lora-digest/internal/models"
)

// Column is a known sensor field.
type Column int

const (
	ColTimestamp Column = iota
	ColTemperature
	ColHumidity
	ColPressure
	ColBattery
	ColPowerSource
	ColCharging
	ColInterval
	ColUptime
	ColRSSI
	ColSNR
	numColumns
)

var columnNames = [numColumns]string{
	"timestamp",
	"temperature",
	"humidity",
	"pressure",
	"battery",
	"power_source",
	"charging",
	"interval",
	"uptime",
	"rssi",
	"snr",
}

func (c Column) String() string {
	if c < 0 || c >= numColumns {
		return "unknown"
	}
	return columnNames[c]
}

// requiredColumns must all be present for a file to be usable.
var requiredColumns = []Column{ColTimestamp, ColTemperature, ColHumidity, ColPressure, ColBattery}

// Schema records, once per file or layout, which fields are present and at
// which position. Absent fields take their documented defaults.
type Schema struct {
	index [numColumns]int
}

func emptySchema() Schema {
	var s Schema
	for i := range s.index {
		s.index[i] = -1
	}
	return s
}

func positional(cols ...Column) Schema {
	s := emptySchema()
	for i, c := range cols {
		s.index[c] = i
	}
	return s
}

var coreColumns = []Column{ColTimestamp, ColTemperature, ColHumidity, ColPressure, ColBattery}

var layoutSchemas = map[models.Layout]Schema{
	models.LayoutCore5: positional(coreColumns...),
	models.LayoutStandard8: positional(append(coreColumns[:5:5],
		ColPowerSource, ColRSSI, ColSNR)...),
	models.LayoutSolar9: positional(append(coreColumns[:5:5],
		ColCharging, ColInterval, ColRSSI, ColSNR)...),
	models.LayoutFullSolar: positional(append(coreColumns[:5:5],
		ColCharging, ColInterval, ColUptime, ColPowerSource, ColRSSI, ColSNR)...),
}

// fallbackSchema is the best-effort variant for rows with an unexpected
// field count: the five core fields, plus field 6 as power_source when the
// row has one. Every other optional field keeps its default
// (charging=false, interval=0, uptime=0, rssi=0, snr=0).
func fallbackSchema(fields int) Schema {
	if fields >= 6 {
		return positional(append(coreColumns[:5:5], ColPowerSource)...)
	}
	return positional(coreColumns...)
}

// SchemaForLayout returns the positional schema of a layout.
func SchemaForLayout(layout models.Layout, fields int) Schema {
	if s, ok := layoutSchemas[layout]; ok {
		return s
	}
	return fallbackSchema(fields)
}

// NewSchema maps header names (case-insensitive) onto known columns.
// Unknown header names are ignored.
func NewSchema(header []string) Schema {
	s := emptySchema()
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		for c := Column(0); c < numColumns; c++ {
			if columnNames[c] == name && s.index[c] < 0 {
				s.index[c] = i
			}
		}
	}
	return s
}

// Has reports whether the column is present.
func (s Schema) Has(c Column) bool {
	return s.index[c] >= 0
}

// Missing returns the names of absent required columns.
func (s Schema) Missing() []string {
	var missing []string
	for _, c := range requiredColumns {
		if !s.Has(c) {
			missing = append(missing, c.String())
		}
	}
	return missing
}

// DefaultPowerSource is "Solar" when the schema carries charging data.
func (s Schema) DefaultPowerSource() string {
	if s.Has(ColCharging) {
		return models.PowerSourceSolar
	}
	return models.PowerSourceUnknown
}

func (s Schema) value(fields []string, c Column) (string, bool) {
	i := s.index[c]
	if i < 0 || i >= len(fields) {
		return "", false
	}
	return fields[i], true
}

// RawReading is a normalized record whose time-of-day is not yet
// combined with a calendar date.
type RawReading struct {
	Line   int
	Clock  string
	Layout models.Layout
	Record models.SensorRecord
}

// NormalizeRow converts one row using the schema, filling optional fields
// with their defaults. A row whose core fields, or non-empty optional
// numeric fields, fail to convert is rejected.
func NormalizeRow(fields []string, schema Schema) (models.SensorRecord, string, error) {
	var rec models.SensorRecord

	clock, ok := schema.value(fields, ColTimestamp)
	if !ok {
		return rec, "", fmt.Errorf("missing %s field", ColTimestamp)
	}

	core := []struct {
		col Column
		dst *float64
	}{
		{ColTemperature, &rec.Temperature},
		{ColHumidity, &rec.Humidity},
		{ColPressure, &rec.Pressure},
		{ColBattery, &rec.Battery},
	}
	for _, f := range core {
		raw, ok := schema.value(fields, f.col)
		if !ok {
			return rec, "", fmt.Errorf("missing %s field", f.col)
		}
		v, err := parseFloat(raw)
		if err != nil {
			return rec, "", fmt.Errorf("invalid %s %q: %w", f.col, raw, err)
		}
		*f.dst = v
	}

	rec.PowerSource = schema.DefaultPowerSource()
	if v, ok := schema.value(fields, ColPowerSource); ok && v != "" {
		rec.PowerSource = v
	}
	if v, ok := schema.value(fields, ColCharging); ok {
		rec.Charging = models.ParseCharging(v)
	}

	ints := []struct {
		col Column
		dst *int
	}{
		{ColInterval, &rec.Interval},
		{ColUptime, &rec.Uptime},
		{ColRSSI, &rec.RSSI},
	}
	for _, f := range ints {
		raw, ok := schema.value(fields, f.col)
		if !ok || raw == "" {
			continue
		}
		v, err := parseInt(raw)
		if err != nil {
			return rec, "", fmt.Errorf("invalid %s %q: %w", f.col, raw, err)
		}
		*f.dst = v
	}

	if raw, ok := schema.value(fields, ColSNR); ok && raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			return rec, "", fmt.Errorf("invalid %s %q: %w", ColSNR, raw, err)
		}
		rec.SNR = v
	}

	return rec, clock, nil
}

// parseFloat rejects NaN and infinities, which strconv accepts.
func parseFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

// parseInt accepts integer text and decimal text such as "600.0".
func parseInt(raw string) (int, error) {
	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return int(f), nil
}
