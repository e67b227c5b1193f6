// Package corpus runs the per-file pipeline over sets of sensor files.
package corpus

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/chunker"
	"github.com/afroash/lora-digest/internal/ingest"
	"github.com/afroash/lora-digest/internal/models"
	"github.com/afroash/lora-digest/internal/stats"
)

// FileResult holds everything one source produced in a run.
type FileResult struct {
	Source     string
	Chunks     []models.Chunk
	Statistics []models.ChunkStatistics
	Documents  []models.ChunkDocument
	Report     *ingest.Report
}

// Pipeline runs Reader, Chunker and the statistics engine for one source.
type Pipeline struct {
	reader *ingest.Reader
	policy chunker.Policy
	logger zerolog.Logger
}

// NewPipeline creates a pipeline. A nil policy means the default gap-window.
func NewPipeline(reader *ingest.Reader, policy chunker.Policy, logger zerolog.Logger) *Pipeline {
	if policy == nil {
		policy = chunker.GapWindow{Window: chunker.DefaultWindow, MaxGap: chunker.DefaultMaxGap}
	}
	return &Pipeline{reader: reader, policy: policy, logger: logger}
}

// Policy returns the chunking policy in use.
func (p *Pipeline) Policy() chunker.Policy {
	return p.policy
}

// WithPolicy returns a copy of the pipeline using another chunking policy.
func (p *Pipeline) WithPolicy(policy chunker.Policy) *Pipeline {
	cp := *p
	cp.policy = policy
	return &cp
}

// ProcessFile runs the pipeline on one file. An error satisfying
// ingest.IsEmpty means the file had no usable data.
func (p *Pipeline) ProcessFile(path string) (*FileResult, error) {
	records, report, err := p.reader.ReadFile(path)
	if err != nil {
		return &FileResult{Source: path, Report: report}, err
	}
	return p.finish(path, records, report)
}

// ProcessReader runs the pipeline on in-memory content. date, when set,
// overrides any date in source.
func (p *Pipeline) ProcessReader(source string, rd io.Reader, date string) (*FileResult, error) {
	records, report, err := p.reader.ReadSource(source, rd, date)
	if err != nil {
		return &FileResult{Source: source, Report: report}, err
	}
	return p.finish(source, records, report)
}

func (p *Pipeline) finish(source string, records []models.SensorRecord, report *ingest.Report) (*FileResult, error) {
	result := &FileResult{Source: source, Report: report}

	result.Chunks = chunker.Build(source, records, p.policy)
	if len(result.Chunks) == 0 {
		p.logger.Warn().Str("source", source).Msg("No chunks created")
		return result, fmt.Errorf("%w: no valid timestamps in %s", ingest.ErrNoData, source)
	}

	result.Statistics = make([]models.ChunkStatistics, len(result.Chunks))
	result.Documents = make([]models.ChunkDocument, len(result.Chunks))
	for i := range result.Chunks {
		chunk := &result.Chunks[i]
		s := stats.Compute(chunk)
		result.Statistics[i] = s
		result.Documents[i] = models.ChunkDocument{
			Text:     stats.Describe(s),
			Metadata: stats.Metadata(chunk, s),
		}
	}

	p.logger.Info().
		Str("source", source).
		Str("policy", p.policy.Name()).
		Int("records", len(records)).
		Int("chunks", len(result.Chunks)).
		Msg("Processed source")

	return result, nil
}
