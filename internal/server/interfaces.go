package server

import (
	"context"
	"time"

	"github.com/afroash/lora-digest/internal/models"
	"github.com/afroash/lora-digest/internal/storage"
)

// DocumentIndex defines the interface for the in-memory view of ingested chunks
// MemoryIndex implements this interface
type DocumentIndex interface {
	// Replace stores the documents of a source, dropping its previous ones
	Replace(source string, docs []models.ChunkDocument)

	// Query returns documents matching q ordered by start time
	Query(q Query) []models.ChunkDocument

	// All returns every indexed document
	All() []models.ChunkDocument

	// Sources returns the indexed sources in lexicographic order
	Sources() []string

	// Stats returns statistics about the index
	Stats() IndexStats
}

// HistoricalStore defines the interface for persistent chunk storage
// storage.SQLiteStore implements this interface
type HistoricalStore interface {
	GetDocumentsBySource(source string) ([]models.ChunkDocument, error)
	GetDocumentsByDate(date string, limit int) ([]models.ChunkDocument, error)
	GetSources() ([]string, error)
	GetDailyStats(start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// Persister queues source batches for storage
// storage.DBWriter implements this interface
type Persister interface {
	Write(batch storage.SourceBatch) bool
}

// Publisher hands documents to the indexing service
// storage.StreamPublisher implements this interface
type Publisher interface {
	Publish(ctx context.Context, docs []models.ChunkDocument) ([]string, error)
}

// Broadcaster pushes feed messages to subscribers
// FeedHandler implements this interface
type Broadcaster interface {
	Broadcast(msg *models.Message) int
	Subscribers() int
}

var (
	_ DocumentIndex   = (*MemoryIndex)(nil)
	_ HistoricalStore = (*storage.SQLiteStore)(nil)
	_ Persister       = (*storage.DBWriter)(nil)
	_ Publisher       = (*storage.StreamPublisher)(nil)
	_ Broadcaster     = (*FeedHandler)(nil)
)
