package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/lora-digest/internal/models"
)

// testLogger creates a logger for tests
func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

// setupTestDB opens a store in a temporary directory, closed when the test ends
func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// createTestDocument creates a document covering span from start
func createTestDocument(source string, chunkID int, start time.Time, span time.Duration, readings int, temp float64) models.ChunkDocument {
	end := start.Add(span)
	return models.ChunkDocument{
		Text: "Time Period: " + start.Format(models.TimestampLayout) + " to " + end.Format(models.TimestampLayout),
		Metadata: models.ChunkMetadata{
			ChunkID:         chunkID,
			Source:          source,
			TimeStart:       start.Format(models.TimestampLayout),
			TimeEnd:         end.Format(models.TimestampLayout),
			Date:            start.Format(models.DateLayout),
			ReadingCount:    readings,
			TemperatureMean: temp,
			HumidityMean:    55.0,
			PressureMean:    1013.2,
			BatteryMean:     3.9,
		},
	}
}

// createTestDocuments creates n consecutive 4 hour chunks for a source
func createTestDocuments(source string, start time.Time, n int) []models.ChunkDocument {
	docs := make([]models.ChunkDocument, 0, n)
	for i := 0; i < n; i++ {
		chunkStart := start.Add(time.Duration(i) * 4 * time.Hour)
		docs = append(docs, createTestDocument(source, i, chunkStart, 3*time.Hour, 4, 20.0+float64(i)))
	}
	return docs
}

func TestNewSQLiteStore(t *testing.T) {
	store := setupTestDB(t)
	assert.NotNil(t, store)
}

func TestNewSQLiteStore_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStore("/nonexistent/dir/test.db", testLogger())
	assert.Error(t, err)
}

func TestReplaceSource(t *testing.T) {
	store := setupTestDB(t)

	start := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	docs := createTestDocuments("lora_data_2025-09-16.csv", start, 3)
	require.NoError(t, store.ReplaceSource("lora_data_2025-09-16.csv", docs))

	got, err := store.GetDocumentsBySource("lora_data_2025-09-16.csv")
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, doc := range got {
		assert.Equal(t, i, doc.Metadata.ChunkID)
		assert.Equal(t, docs[i].Metadata, doc.Metadata)
		assert.Equal(t, docs[i].Text, doc.Text)
	}
}

// A re-ingested source replaces its old chunks
func TestReplaceSource_Overwrites(t *testing.T) {
	store := setupTestDB(t)

	start := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	source := "lora_data_2025-09-16.csv"

	require.NoError(t, store.ReplaceSource(source, createTestDocuments(source, start, 5)))
	require.NoError(t, store.ReplaceSource(source, createTestDocuments(source, start, 2)))

	got, err := store.GetDocumentsBySource(source)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReplaceBatch(t *testing.T) {
	store := setupTestDB(t)

	day1 := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	batches := []SourceBatch{
		{Source: "a.csv", Documents: createTestDocuments("a.csv", day1, 2)},
		{Source: "b.csv", Documents: createTestDocuments("b.csv", day2, 3)},
		{Source: "empty.csv"},
	}
	require.NoError(t, store.ReplaceBatch(batches))

	stats, err := store.GetStorageStats()
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalChunks)
	assert.Equal(t, int64(20), stats.TotalReadings)
	assert.Equal(t, 2, stats.UniqueSources)
	assert.Equal(t, 2, stats.UniqueDates)
}

func TestReplaceBatch_Empty(t *testing.T) {
	store := setupTestDB(t)
	assert.NoError(t, store.ReplaceBatch(nil))
}

// A failing batch leaves storage untouched
func TestReplaceBatch_DuplicateChunkRollsBack(t *testing.T) {
	store := setupTestDB(t)

	start := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.ReplaceSource("a.csv", createTestDocuments("a.csv", start, 2)))

	dup := createTestDocument("a.csv", 0, start, time.Hour, 1, 20)
	require.Error(t, store.ReplaceSource("a.csv", []models.ChunkDocument{dup, dup}))

	got, err := store.GetDocumentsBySource("a.csv")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGetDocumentsByDate(t *testing.T) {
	store := setupTestDB(t)

	day1 := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, store.ReplaceSource("a.csv", createTestDocuments("a.csv", day1, 4)))
	require.NoError(t, store.ReplaceSource("b.csv", createTestDocuments("b.csv", day2, 2)))

	tests := []struct {
		name  string
		date  string
		limit int
		want  int
	}{
		{"all of day one", "2025-09-16", 0, 4},
		{"limited", "2025-09-16", 2, 2},
		{"day two", "2025-09-17", 10, 2},
		{"no chunks", "2025-01-01", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.GetDocumentsByDate(tt.date, tt.limit)
			require.NoError(t, err)
			assert.Len(t, docs, tt.want)
			for _, doc := range docs {
				assert.Equal(t, tt.date, doc.Metadata.Date)
			}
		})
	}
}

func TestGetDocumentsInRange(t *testing.T) {
	store := setupTestDB(t)

	// Chunks span 00-03, 04-07, 08-11, 12-15
	start := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.ReplaceSource("a.csv", createTestDocuments("a.csv", start, 4)))

	// 06:00 to 09:00 overlaps chunk 1 and chunk 2
	docs, err := store.GetDocumentsInRange(start.Add(6*time.Hour), start.Add(9*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 1, docs[0].Metadata.ChunkID)
	assert.Equal(t, 2, docs[1].Metadata.ChunkID)

	// Gap between chunks matches nothing
	docs, err = store.GetDocumentsInRange(start.Add(3*time.Hour+time.Minute), start.Add(3*time.Hour+30*time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGetDailyStats(t *testing.T) {
	store := setupTestDB(t)

	day1 := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	// day1 means: 20, 21, 22
	require.NoError(t, store.ReplaceSource("a.csv", createTestDocuments("a.csv", day1, 3)))
	require.NoError(t, store.ReplaceSource("b.csv", createTestDocuments("b.csv", day2, 1)))
	require.NoError(t, store.ReplaceSource("c.csv", createTestDocuments("c.csv", day2, 1)))

	stats, err := store.GetDailyStats(day1, day2)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	// Newest first
	assert.True(t, stats[0].Date.Equal(day2), "first date = %v", stats[0].Date)
	assert.Equal(t, 2, stats[0].Sources)

	first := stats[1]
	assert.Equal(t, 3, first.Chunks)
	assert.Equal(t, 12, first.ReadingCount)
	assert.Equal(t, 20.0, first.MinTemperature)
	assert.Equal(t, 22.0, first.MaxTemperature)
	assert.Equal(t, 21.0, first.AvgTemperature)
}

// Chunks expire on time_end, not insert time
func TestDeleteOlderThan(t *testing.T) {
	store := setupTestDB(t)

	now := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.ReplaceSource("old.csv", createTestDocuments("old.csv", now.AddDate(0, 0, -40), 3)))
	require.NoError(t, store.ReplaceSource("recent.csv", createTestDocuments("recent.csv", now.AddDate(0, 0, -2), 2)))

	deleted, err := store.DeleteOlderThan(30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	sources, err := store.GetSources()
	require.NoError(t, err)
	assert.Equal(t, []string{"recent.csv"}, sources)
}

func TestGetStorageStats_Empty(t *testing.T) {
	store := setupTestDB(t)

	stats, err := store.GetStorageStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)
	assert.True(t, stats.OldestChunk.IsZero())
}

func TestGetStorageStats_TimeRange(t *testing.T) {
	store := setupTestDB(t)

	start := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.ReplaceSource("a.csv", createTestDocuments("a.csv", start, 2)))

	stats, err := store.GetStorageStats()
	require.NoError(t, err)
	assert.True(t, stats.OldestChunk.Equal(start), "oldest = %v", stats.OldestChunk)
	assert.True(t, stats.NewestChunk.Equal(start.Add(7*time.Hour)), "newest = %v", stats.NewestChunk)
	assert.Positive(t, stats.DatabaseSizeMB)
}

func TestGetSources(t *testing.T) {
	store := setupTestDB(t)

	start := time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.ReplaceSource("b.csv", createTestDocuments("b.csv", start, 2)))
	require.NoError(t, store.ReplaceSource("a.csv", createTestDocuments("a.csv", start, 1)))

	sources, err := store.GetSources()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, sources)
}
