package models

import (
	"fmt"
	"strings"
	"time"
)

// Default values for optional sensor fields.
const (
	PowerSourceUnknown = "Unknown"
	PowerSourceSolar   = "Solar"
)

// TimestampLayout is the layout used for every rendered timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the layout of calendar dates in file names and metadata.
const DateLayout = "2006-01-02"

// SensorRecord is one reading from a LoRa environmental sensor.
type SensorRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	Battery     float64   `json:"battery"`
	PowerSource string    `json:"power_source"`
	Charging    bool      `json:"charging"`
	Interval    int       `json:"interval"`
	Uptime      int       `json:"uptime"`
	RSSI        int       `json:"rssi"`
	SNR         float64   `json:"snr"`
}

// HasTimestamp reports whether the record survived timestamp reconciliation.
func (r *SensorRecord) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// HasSolarSignal reports whether the record carries solar telemetry.
func (r *SensorRecord) HasSolarSignal() bool {
	return r.Charging || r.Interval > 0 || r.Uptime > 0
}

// String returns the record as a single log-friendly line.
func (r *SensorRecord) String() string {
	return fmt.Sprintf("Timestamp: %s, Temperature: %.1f°C, Humidity: %.1f%%, Pressure: %.1fhPa, Battery: %.2fV",
		r.Timestamp.Format(TimestampLayout),
		r.Temperature,
		r.Humidity,
		r.Pressure,
		r.Battery)
}

// ParseCharging canonicalizes the truthy encodings used by the sensor
// firmware ("1", "Y", "yes", "true", any case) into a strict flag.
func ParseCharging(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true":
		return true
	default:
		return false
	}
}

// ChargingFlag renders the Y/N encoding used in exported tables.
func ChargingFlag(charging bool) string {
	if charging {
		return "Y"
	}
	return "N"
}

// Layout identifies the row schema a record was parsed from.
type Layout int

const (
	LayoutHeader    Layout = iota // columns mapped by header name
	LayoutCore5                   // core fields only
	LayoutStandard8               // core + power_source, rssi, snr
	LayoutSolar9                  // core + charging, interval, rssi, snr
	LayoutFullSolar               // core + charging, interval, uptime, power_source, rssi, snr
	LayoutOther                   // partial data, best effort
)

func (l Layout) String() string {
	switch l {
	case LayoutHeader:
		return "header"
	case LayoutCore5:
		return "core5"
	case LayoutStandard8:
		return "standard8"
	case LayoutSolar9:
		return "solar9"
	case LayoutFullSolar:
		return "full_solar11"
	case LayoutOther:
		return "other"
	default:
		return "unknown"
	}
}

// ClassifyLayout resolves a positional row layout from its field count.
func ClassifyLayout(fields int) Layout {
	switch {
	case fields == 5:
		return LayoutCore5
	case fields == 8:
		return LayoutStandard8
	case fields == 9:
		return LayoutSolar9
	case fields >= 11:
		return LayoutFullSolar
	default:
		return LayoutOther
	}
}
