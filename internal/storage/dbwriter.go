package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DBWriter persists source batches asynchronously so ingestion never waits
// on the database
type DBWriter struct {
	store       Store
	logger      zerolog.Logger
	writeChan   chan SourceBatch
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Stats
	mu            sync.RWMutex
	totalSources  int64
	totalChunks   int64
	totalBatches  int64
	totalErrors   int64
	lastWriteTime time.Time
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // Sources per transaction (default: 10)
	FlushPeriod time.Duration // Max time between flushes (default: 5s)
	ChannelSize int           // Size of the write channel buffer (default: 100)
}

// DefaultDBWriterConfig returns sensible defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   10,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 100,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalSources  int64     `json:"total_sources"`
	TotalChunks   int64     `json:"total_chunks"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter creates a new async database writer
func NewDBWriter(store Store, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	defaults := DefaultDBWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = defaults.FlushPeriod
	}
	if config.ChannelSize < 0 {
		config.ChannelSize = defaults.ChannelSize
	}

	w := &DBWriter{
		store:       store,
		logger:      logger,
		writeChan:   make(chan SourceBatch, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")

	return w
}

// Write queues a source for async persistence.
// Returns true if queued, false if dropped (channel full)
func (w *DBWriter) Write(batch SourceBatch) bool {
	select {
	case w.writeChan <- batch:
		return true
	default:
		w.logger.Warn().Str("source", batch.Source).Msg("DBWriter channel full, dropping source")
		return false
	}
}

// writerLoop is the background goroutine that batches and writes sources
func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	pending := make([]SourceBatch, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case batch := <-w.writeChan:
			pending = append(pending, batch)
			if len(pending) >= w.batchSize {
				w.flush(pending)
				pending = make([]SourceBatch, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(pending) > 0 {
				w.flush(pending)
				pending = make([]SourceBatch, 0, w.batchSize)
			}

		case <-w.stopChan:
			draining := true
			for draining {
				select {
				case batch := <-w.writeChan:
					pending = append(pending, batch)
				default:
					draining = false
				}
			}
			if len(pending) > 0 {
				w.flush(pending)
			}
			w.logger.Info().Msg("DBWriter stopped")
			return
		}
	}
}

// flush writes pending sources to the database
func (w *DBWriter) flush(pending []SourceBatch) {
	if len(pending) == 0 {
		return
	}

	err := w.store.ReplaceBatch(pending)

	chunks := 0
	for _, b := range pending {
		chunks += len(b.Documents)
	}

	w.mu.Lock()
	if err != nil {
		w.totalErrors++
		w.logger.Error().Err(err).Int("sources", len(pending)).Msg("Failed to write batch")
	} else {
		w.totalSources += int64(len(pending))
		w.totalChunks += int64(chunks)
		w.totalBatches++
		w.lastWriteTime = time.Now()
		w.logger.Debug().Int("sources", len(pending)).Int("chunks", chunks).Msg("Flushed batch")
	}
	w.mu.Unlock()
}

// Stop gracefully stops the writer, flushing any remaining data
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return DBWriterStats{
		TotalSources:  w.totalSources,
		TotalChunks:   w.totalChunks,
		TotalBatches:  w.totalBatches,
		TotalErrors:   w.totalErrors,
		LastWriteTime: w.lastWriteTime,
		QueueLength:   len(w.writeChan),
	}
}
