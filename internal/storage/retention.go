package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ChunkPruner deletes chunks whose time_end lies more than days in the past.
type ChunkPruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// ExpiryConfig controls which chunks expire and how often the pass runs.
type ExpiryConfig struct {
	RetentionDays int           // Days of chunks to keep, by time_end
	Interval      time.Duration // Time between expiry passes
}

// DefaultExpiryConfig keeps 90 days and expires once a day.
func DefaultExpiryConfig() ExpiryConfig {
	return ExpiryConfig{
		RetentionDays: 90,
		Interval:      24 * time.Hour,
	}
}

// ExpiryStats describes the passes run so far.
type ExpiryStats struct {
	Passes        int64     `json:"passes"`
	Failures      int64     `json:"failures"`
	ChunksDeleted int64     `json:"chunks_deleted"`
	LastPass      time.Time `json:"last_pass,omitempty"`
	LastDeleted   int64     `json:"last_deleted"`
	RetentionDays int       `json:"retention_days"`
}

// ChunkExpirer drops stored chunks once their sensor time span ends
// before the retention window. Insert time plays no part.
type ChunkExpirer struct {
	pruner   ChunkPruner
	logger   zerolog.Logger
	days     int
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats ExpiryStats
}

// NewChunkExpirer starts the expiry loop. The first pass runs right away.
func NewChunkExpirer(pruner ChunkPruner, cfg ExpiryConfig, logger zerolog.Logger) *ChunkExpirer {
	def := DefaultExpiryConfig()
	if cfg.Interval <= 0 {
		logger.Warn().
			Dur("interval", cfg.Interval).
			Dur("fallback", def.Interval).
			Msg("Chunk expiry interval must be positive, using fallback")
		cfg.Interval = def.Interval
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}

	e := &ChunkExpirer{
		pruner:   pruner,
		logger:   logger.With().Str("component", "chunk_expiry").Logger(),
		days:     cfg.RetentionDays,
		interval: cfg.Interval,
		done:     make(chan struct{}),
	}
	e.stats.RetentionDays = cfg.RetentionDays

	e.wg.Add(1)
	go e.loop()

	e.logger.Info().
		Int("retention_days", e.days).
		Dur("interval", e.interval).
		Msg("Chunk expiry scheduled")
	return e
}

func (e *ChunkExpirer) loop() {
	defer e.wg.Done()

	e.expire()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.expire()
		}
	}
}

// expire runs one pass. Failures are counted and retried on the next tick.
func (e *ChunkExpirer) expire() {
	e.logger.Debug().
		Int("retention_days", e.days).
		Msg("Deleting expired chunks")

	deleted, err := e.pruner.DeleteOlderThan(e.days)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Passes++
	e.stats.LastPass = time.Now()
	if err != nil {
		e.stats.Failures++
		e.logger.Error().Err(err).Msg("Chunk retention pass failed")
		return
	}
	e.stats.ChunksDeleted += deleted
	e.stats.LastDeleted = deleted

	ev := e.logger.Debug()
	if deleted > 0 {
		ev = e.logger.Info()
	}
	ev.Int64("chunks_deleted", deleted).
		Int("retention_days", e.days).
		Msg("Chunk retention pass complete")
}

// ExpireNow runs a pass on the calling goroutine.
func (e *ChunkExpirer) ExpireNow() {
	e.expire()
}

// Stats returns a snapshot of the pass counters.
func (e *ChunkExpirer) Stats() ExpiryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Stop ends the loop and waits for a running pass. Safe to call twice.
func (e *ChunkExpirer) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}
