package corpus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/ingest"
	"github.com/afroash/lora-digest/internal/models"
)

// FileStatus is the outcome of one file in a run.
type FileStatus string

const (
	StatusProcessed FileStatus = "processed"
	StatusEmpty     FileStatus = "empty"
	StatusSkipped   FileStatus = "skipped"
)

// FileOutcome reports one file of a run.
type FileOutcome struct {
	Path   string         `json:"path"`
	Status FileStatus     `json:"status"`
	Chunks int            `json:"chunks"`
	Error  string         `json:"error,omitempty"`
	Report *ingest.Report `json:"report,omitempty"`
}

// RunResult is the output of an aggregator run. Documents are ordered by
// file, then by chunk ID within a file.
type RunResult struct {
	RunID     string                 `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
	Files     []FileOutcome          `json:"files"`
	Documents []models.ChunkDocument `json:"documents"`
	Processed int                    `json:"processed"`
	Empty     int                    `json:"empty"`
	Skipped   int                    `json:"skipped"`
}

// Summary summarizes the documents of the run.
func (r *RunResult) Summary() models.DatasetSummary {
	return Summarize(r.Documents)
}

// Aggregator applies a Pipeline to many files. A file that fails never
// aborts the run.
type Aggregator struct {
	pipeline *Pipeline
	workers  int
	logger   zerolog.Logger
}

// NewAggregator creates an aggregator. workers below 2 processes files
// sequentially; each file's records stay private to its own pipeline run.
func NewAggregator(pipeline *Pipeline, workers int, logger zerolog.Logger) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{pipeline: pipeline, workers: workers, logger: logger}
}

// RunDir discovers files in dir and runs them.
func (a *Aggregator) RunDir(ctx context.Context, dir, pattern string) (*RunResult, error) {
	files, err := Discover(dir, pattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		a.logger.Warn().Str("dir", dir).Str("pattern", pattern).Msg("No files found")
	}
	return a.Run(ctx, files)
}

type fileWork struct {
	result *FileResult
	err    error
}

// Run processes files in order. Cancelling ctx abandons the run and
// returns ctx.Err().
func (a *Aggregator) Run(ctx context.Context, files []string) (*RunResult, error) {
	run := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Files:     make([]FileOutcome, 0, len(files)),
	}
	log := a.logger.With().Str("run_id", run.RunID).Logger()

	work := make([]fileWork, len(files))
	if a.workers > 1 && len(files) > 1 {
		a.runParallel(ctx, files, work)
	} else {
		for i, path := range files {
			if ctx.Err() != nil {
				break
			}
			work[i].result, work[i].err = a.pipeline.ProcessFile(path)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, path := range files {
		outcome := FileOutcome{Path: path}
		res, err := work[i].result, work[i].err
		if res != nil {
			outcome.Report = res.Report
		}

		switch {
		case err == nil:
			outcome.Status = StatusProcessed
			outcome.Chunks = len(res.Documents)
			run.Processed++
			run.Documents = append(run.Documents, res.Documents...)
		case ingest.IsEmpty(err):
			outcome.Status = StatusEmpty
			outcome.Error = err.Error()
			run.Empty++
			log.Warn().Str("file", path).Err(err).Msg("No usable data")
		default:
			outcome.Status = StatusSkipped
			outcome.Error = err.Error()
			run.Skipped++
			log.Error().Str("file", path).Err(err).Msg("Skipping file")
		}
		run.Files = append(run.Files, outcome)
	}
	run.Duration = time.Since(run.StartedAt)

	log.Info().
		Int("files", len(files)).
		Int("processed", run.Processed).
		Int("empty", run.Empty).
		Int("skipped", run.Skipped).
		Int("chunks", len(run.Documents)).
		Dur("duration", run.Duration).
		Msg("Run complete")

	return run, nil
}

func (a *Aggregator) runParallel(ctx context.Context, files []string, work []fileWork) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < a.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				work[i].result, work[i].err = a.pipeline.ProcessFile(files[i])
			}
		}()
	}

feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}
