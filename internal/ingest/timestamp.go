package ingest

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/afroash/lora-digest/internal/models"
)

// DateSource records where a file's calendar date came from.
type DateSource string

const (
	DateExplicit DateSource = "explicit"
	DateFilename DateSource = "filename"
	DateSystem   DateSource = "system"
	DateNone     DateSource = "none"
)

var filenameDate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// PlaceholderDate anchors time-only timestamps when no calendar date is
// known. Ordering within one day is preserved; the absolute date is not.
var PlaceholderDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

const clockLayout = "15:04:05"

// DateFromFilename extracts a YYYY-MM-DD substring from the base name.
func DateFromFilename(path string) (string, bool) {
	match := filenameDate.FindString(filepath.Base(path))
	return match, match != ""
}

// ResolveDate picks the calendar date for a source: an explicit date wins,
// then a date embedded in the file name, then the current date when allowed.
func ResolveDate(explicit, path string, now func() time.Time, allowSystem bool) (string, DateSource) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, DateExplicit
	}
	if date, ok := DateFromFilename(path); ok {
		return date, DateFilename
	}
	if allowSystem {
		if now == nil {
			now = time.Now
		}
		return now().Format(models.DateLayout), DateSystem
	}
	return "", DateNone
}

// ParseTimestamp combines a date and a time-of-day string. An empty date
// parses the clock alone, anchored to PlaceholderDate.
func ParseTimestamp(date, clock string) (time.Time, bool) {
	clock = strings.TrimSpace(clock)
	if date == "" {
		t, err := time.Parse(clockLayout, clock)
		if err != nil {
			return time.Time{}, false
		}
		return PlaceholderDate.Add(time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second), true
	}
	t, err := time.Parse(models.TimestampLayout, date+" "+clock)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Reconcile stamps every reading with an absolute timestamp. Readings whose
// timestamp cannot be parsed keep a zero Timestamp and are counted; they are
// dropped later by the chunker.
func Reconcile(readings []RawReading, date string) ([]models.SensorRecord, int) {
	records := make([]models.SensorRecord, 0, len(readings))
	invalid := 0
	for _, r := range readings {
		rec := r.Record
		ts, ok := ParseTimestamp(date, r.Clock)
		if ok {
			rec.Timestamp = ts
		} else {
			rec.Timestamp = time.Time{}
			invalid++
		}
		records = append(records, rec)
	}
	return records, invalid
}
