package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/models"
)

// Store defines the interface for chunk document storage
type Store interface {
	Close() error
	Migrate() error
	ReplaceSource(source string, docs []models.ChunkDocument) error
	ReplaceBatch(batches []SourceBatch) error
	GetDocumentsBySource(source string) ([]models.ChunkDocument, error)
	GetDocumentsByDate(date string, limit int) ([]models.ChunkDocument, error)
	GetDocumentsInRange(start, end time.Time, limit int) ([]models.ChunkDocument, error)
	GetDailyStats(start, end time.Time) ([]DailyStat, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
	GetSources() ([]string, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SourceBatch is the unit of persistence: every document of one source.
type SourceBatch struct {
	Source    string
	Documents []models.ChunkDocument
}

// SQLiteStore handles persistent storage of chunk documents
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// DailyStat aggregates the chunks of one calendar date.
// Temperature figures are taken over chunk means.
type DailyStat struct {
	Date           time.Time `json:"date"`
	Chunks         int       `json:"chunks"`
	ReadingCount   int       `json:"reading_count"`
	Sources        int       `json:"sources"`
	MinTemperature float64   `json:"min_temperature"`
	MaxTemperature float64   `json:"max_temperature"`
	AvgTemperature float64   `json:"avg_temperature"`
	AvgHumidity    float64   `json:"avg_humidity"`
	AvgPressure    float64   `json:"avg_pressure"`
	AvgBattery     float64   `json:"avg_battery"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalChunks    int64     `json:"total_chunks"`
	TotalReadings  int64     `json:"total_readings"`
	OldestChunk    time.Time `json:"oldest_chunk,omitempty"`
	NewestChunk    time.Time `json:"newest_chunk,omitempty"`
	UniqueSources  int       `json:"unique_sources"`
	UniqueDates    int       `json:"unique_dates"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist.
// Times are stored as "YYYY-MM-DD HH:MM:SS" text so they compare in order.
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		chunk_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		time_start TEXT NOT NULL,
		time_end TEXT NOT NULL,
		reading_count INTEGER NOT NULL,
		temperature_mean REAL NOT NULL,
		humidity_mean REAL NOT NULL,
		pressure_mean REAL NOT NULL,
		battery_mean REAL NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source, chunk_id)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_date ON chunks(date);
	CREATE INDEX IF NOT EXISTS idx_chunks_time ON chunks(time_start, time_end);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// ReplaceSource stores the documents of a source, removing any chunks
// previously stored for it.
func (s *SQLiteStore) ReplaceSource(source string, docs []models.ChunkDocument) error {
	return s.ReplaceBatch([]SourceBatch{{Source: source, Documents: docs}})
}

// ReplaceBatch replaces several sources in a single transaction
func (s *SQLiteStore) ReplaceBatch(batches []SourceBatch) error {
	if len(batches) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del, err := tx.Prepare(`DELETE FROM chunks WHERE source = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer del.Close()

	ins, err := tx.Prepare(`
		INSERT INTO chunks (source, chunk_id, date, time_start, time_end, reading_count,
			temperature_mean, humidity_mean, pressure_mean, battery_mean, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer ins.Close()

	count := 0
	for _, batch := range batches {
		if _, err := del.Exec(batch.Source); err != nil {
			return fmt.Errorf("failed to clear source %s: %w", batch.Source, err)
		}
		for _, doc := range batch.Documents {
			m := doc.Metadata
			_, err := ins.Exec(
				batch.Source,
				m.ChunkID,
				m.Date,
				m.TimeStart,
				m.TimeEnd,
				m.ReadingCount,
				m.TemperatureMean,
				m.HumidityMean,
				m.PressureMean,
				m.BatteryMean,
				doc.Text,
			)
			if err != nil {
				return fmt.Errorf("failed to insert chunk %d of %s: %w", m.ChunkID, batch.Source, err)
			}
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("sources", len(batches)).Int("chunks", count).Msg("Batch replace completed")
	return nil
}

const selectChunks = `
	SELECT source, chunk_id, date, time_start, time_end, reading_count,
		temperature_mean, humidity_mean, pressure_mean, battery_mean, content
	FROM chunks
`

// GetDocumentsBySource returns a source's documents ordered by chunk ID
func (s *SQLiteStore) GetDocumentsBySource(source string) ([]models.ChunkDocument, error) {
	rows, err := s.db.Query(selectChunks+`WHERE source = ? ORDER BY chunk_id`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// GetDocumentsByDate returns the documents of one calendar date
func (s *SQLiteStore) GetDocumentsByDate(date string, limit int) ([]models.ChunkDocument, error) {
	rows, err := s.db.Query(selectChunks+`
		WHERE date = ?
		ORDER BY time_start, source, chunk_id
		LIMIT ?
	`, date, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// GetDocumentsInRange returns documents whose time span overlaps [start, end]
func (s *SQLiteStore) GetDocumentsInRange(start, end time.Time, limit int) ([]models.ChunkDocument, error) {
	rows, err := s.db.Query(selectChunks+`
		WHERE time_end >= ? AND time_start <= ?
		ORDER BY time_start, source, chunk_id
		LIMIT ?
	`,
		start.Format(models.TimestampLayout),
		end.Format(models.TimestampLayout),
		limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// GetDailyStats returns per-date aggregates for dates within [start, end]
func (s *SQLiteStore) GetDailyStats(start, end time.Time) ([]DailyStat, error) {
	query := `
		SELECT
			date,
			COUNT(*) as chunks,
			SUM(reading_count) as readings,
			COUNT(DISTINCT source) as sources,
			MIN(temperature_mean) as min_temp,
			MAX(temperature_mean) as max_temp,
			AVG(temperature_mean) as avg_temp,
			AVG(humidity_mean) as avg_humidity,
			AVG(pressure_mean) as avg_pressure,
			AVG(battery_mean) as avg_battery
		FROM chunks
		WHERE date BETWEEN ? AND ?
		GROUP BY date
		ORDER BY date DESC
	`

	rows, err := s.db.Query(query,
		start.Format(models.DateLayout),
		end.Format(models.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var dateStr string

		err := rows.Scan(
			&dateStr,
			&stat.Chunks,
			&stat.ReadingCount,
			&stat.Sources,
			&stat.MinTemperature,
			&stat.MaxTemperature,
			&stat.AvgTemperature,
			&stat.AvgHumidity,
			&stat.AvgPressure,
			&stat.AvgBattery,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}

		stat.Date, err = time.Parse(models.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes chunks that ended more than days ago.
// Age is measured on the sensor time span, not on insert time.
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec(
		"DELETE FROM chunks WHERE time_end < ?",
		cutoff.Format(models.TimestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old chunks: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old chunks")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(reading_count), 0) FROM chunks").
		Scan(&stats.TotalChunks, &stats.TotalReadings)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	if stats.TotalChunks == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = s.db.QueryRow("SELECT MIN(time_start), MAX(time_end) FROM chunks").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get time range: %w", err)
	}
	stats.OldestChunk, _ = time.Parse(models.TimestampLayout, oldestStr)
	stats.NewestChunk, _ = time.Parse(models.TimestampLayout, newestStr)

	err = s.db.QueryRow("SELECT COUNT(DISTINCT source), COUNT(DISTINCT date) FROM chunks").
		Scan(&stats.UniqueSources, &stats.UniqueDates)
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetSources returns all stored sources in lexicographic order
func (s *SQLiteStore) GetSources() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT source FROM chunks ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sources, nil
}

// scanDocuments rebuilds documents from chunk rows
func scanDocuments(rows *sql.Rows) ([]models.ChunkDocument, error) {
	var docs []models.ChunkDocument

	for rows.Next() {
		var doc models.ChunkDocument
		m := &doc.Metadata

		err := rows.Scan(
			&m.Source,
			&m.ChunkID,
			&m.Date,
			&m.TimeStart,
			&m.TimeEnd,
			&m.ReadingCount,
			&m.TemperatureMean,
			&m.HumidityMean,
			&m.PressureMean,
			&m.BatteryMean,
			&doc.Text,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return docs, nil
}

// limitOrAll maps a non-positive limit to SQLite's "no limit"
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
