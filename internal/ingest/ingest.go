// Package ingest turns LoRa sensor CSV files into reconciled sensor records.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/models"
)

var (
	// ErrNoData signals a source without usable rows. It is an expected
	// outcome, not a fault.
	ErrNoData = errors.New("no usable data")

	// ErrMissingColumn signals a structurally wrong file: a required
	// column is absent from the header.
	ErrMissingColumn = errors.New("missing required column")
)

// IsEmpty reports whether err means "no usable data" rather than a fault.
func IsEmpty(err error) bool {
	return errors.Is(err, ErrNoData) || errors.Is(err, ErrMissingColumn)
}

// Options controls the date resolution of a Reader.
type Options struct {
	// Date overrides the file name date for every source (YYYY-MM-DD).
	Date string
	// DisableSystemDate leaves time-only timestamps anchored to the
	// placeholder date instead of today's date when no date is known.
	DisableSystemDate bool
	// Now is the clock used for the system date fallback.
	Now func() time.Time
}

// Report describes what happened to a source's rows.
type Report struct {
	Source          string         `json:"source"`
	Date            string         `json:"date"`
	DateSource      DateSource     `json:"date_source"`
	Mixed           bool           `json:"mixed"`
	RowsRead        int            `json:"rows_read"`
	RowsDropped     int            `json:"rows_dropped"`
	RowsInvalidTime int            `json:"rows_invalid_time"`
	Layouts         map[string]int `json:"layouts"`
}

// RowsValid returns the number of rows that reached the chunker with a timestamp.
func (r *Report) RowsValid() int {
	return r.RowsRead - r.RowsDropped - r.RowsInvalidTime
}

// Reader reads sensor files into records.
type Reader struct {
	opts   Options
	logger zerolog.Logger
}

// NewReader creates a Reader.
func NewReader(opts Options, logger zerolog.Logger) *Reader {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reader{opts: opts, logger: logger}
}

// ReadFile reads a sensor file from disk. The date is taken from the
// reader options or the file name.
func (r *Reader) ReadFile(path string) ([]models.SensorRecord, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return r.ReadSource(path, f, r.opts.Date)
}

// ReadSource reads sensor data from rd. source names the data for
// diagnostics and date inference; date, when set, overrides both.
func (r *Reader) ReadSource(source string, rd io.Reader, date string) ([]models.SensorRecord, *Report, error) {
	if date == "" {
		date = r.opts.Date
	}
	resolved, dateSource := ResolveDate(date, source, r.opts.Now, !r.opts.DisableSystemDate)
	report := &Report{
		Source:     source,
		Date:       resolved,
		DateSource: dateSource,
		Layouts:    make(map[string]int),
	}
	log := r.logger.With().Str("source", source).Logger()

	switch dateSource {
	case DateSystem:
		log.Warn().Str("date", resolved).Msg("No date in file name, falling back to current date")
	case DateNone:
		log.Warn().Msg("No date resolvable, timestamps anchored to placeholder date")
	}

	table, err := ReadTable(rd)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			log.Warn().Msg("No data rows found")
		}
		return nil, report, err
	}
	report.Mixed = table.Mixed
	report.RowsRead = len(table.Rows)

	readings, err := r.normalize(table, report, log)
	if err != nil {
		return nil, report, err
	}
	if len(readings) == 0 {
		log.Warn().Int("rows_read", report.RowsRead).Msg("No valid data rows found")
		return nil, report, ErrNoData
	}

	records, invalid := Reconcile(readings, resolved)
	report.RowsInvalidTime = invalid
	if invalid > 0 {
		log.Debug().Int("rows", invalid).Msg("Rows with unparsable timestamps")
	}

	return records, report, nil
}

func (r *Reader) normalize(table *Table, report *Report, log zerolog.Logger) ([]RawReading, error) {
	var header Schema
	if !table.Mixed {
		header = NewSchema(table.Header)
		if missing := header.Missing(); len(missing) > 0 {
			log.Warn().Strs("missing", missing).Msg("Missing required column")
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, missing[0])
		}
	} else {
		log.Warn().Msg("Mixed format detected, using robust parsing")
	}

	readings := make([]RawReading, 0, len(table.Rows))
	for _, row := range table.Rows {
		layout := models.LayoutHeader
		schema := header
		if table.Mixed {
			if len(row.Fields) < 5 {
				report.RowsDropped++
				log.Warn().Int("line", row.Line).Int("fields", len(row.Fields)).Msg("Skipping row with too few fields")
				continue
			}
			layout = models.ClassifyLayout(len(row.Fields))
			schema = SchemaForLayout(layout, len(row.Fields))
		}

		rec, clock, err := NormalizeRow(row.Fields, schema)
		if err != nil {
			report.RowsDropped++
			log.Warn().Int("line", row.Line).Err(err).Msg("Skipping malformed row")
			continue
		}
		report.Layouts[layout.String()]++
		readings = append(readings, RawReading{
			Line:   row.Line,
			Clock:  clock,
			Layout: layout,
			Record: rec,
		})
	}
	return readings, nil
}
