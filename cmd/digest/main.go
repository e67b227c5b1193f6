package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/chunker"
	"github.com/afroash/lora-digest/internal/config"
	"github.com/afroash/lora-digest/internal/corpus"
	"github.com/afroash/lora-digest/internal/export"
	"github.com/afroash/lora-digest/internal/ingest"
	"github.com/afroash/lora-digest/internal/models"
	"github.com/afroash/lora-digest/internal/storage"
)

const version = "v0.1.0"

// options are the command line settings layered over the config file
type options struct {
	dir     string
	pattern string
	hours   int
	policy  string
	date    string
	workers int
	summary bool
	json    bool
	export  string
	persist bool
	publish bool
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "directory containing sensor CSV files")
	flag.StringVar(&opts.pattern, "pattern", "", "file name pattern (default lora_data_*.csv)")
	flag.IntVar(&opts.hours, "hours", 0, "hours per chunk")
	flag.StringVar(&opts.policy, "policy", "", "chunk policy: gap-window or hour-bucket")
	flag.StringVar(&opts.date, "date", "", "date (YYYY-MM-DD) for time-only timestamps")
	flag.IntVar(&opts.workers, "workers", 0, "files processed in parallel")
	flag.BoolVar(&opts.summary, "summary", false, "print the dataset summary")
	flag.BoolVar(&opts.json, "json", false, "print documents as JSON lines")
	flag.StringVar(&opts.export, "export", "", "write an XLSX workbook to this path")
	flag.BoolVar(&opts.persist, "persist", false, "store documents in SQLite")
	flag.BoolVar(&opts.publish, "publish", false, "publish documents to the Redis stream")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := opts.apply(cfg); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	logger, closer, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer closer.Close()

	logger.Info().
		Str("version", version).
		Str("dir", cfg.Pipeline.DataDir).
		Str("policy", cfg.Pipeline.Policy).
		Int("hours_per_chunk", cfg.Pipeline.HoursPerChunk).
		Msg("Starting LoRa digest")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("Digest failed")
		closer.Close()
		os.Exit(1)
	}
}

// apply layers the flags over cfg and revalidates
func (o options) apply(cfg *config.AppConfig) error {
	if o.dir != "" {
		cfg.Pipeline.DataDir = o.dir
	}
	if o.pattern != "" {
		cfg.Pipeline.Pattern = o.pattern
	}
	if o.hours != 0 {
		cfg.Pipeline.HoursPerChunk = o.hours
	}
	if o.policy != "" {
		cfg.Pipeline.Policy = o.policy
	}
	if o.date != "" {
		cfg.Pipeline.Date = o.date
	}
	if o.workers != 0 {
		cfg.Pipeline.Workers = o.workers
	}
	if o.persist {
		cfg.Storage.Enabled = true
	}
	if o.publish {
		cfg.Redis.Enabled = true
	}
	return cfg.Validate()
}

// run processes the data directory and emits the requested outputs
func run(ctx context.Context, cfg *config.AppConfig, opts options, out io.Writer, logger zerolog.Logger) error {
	p := cfg.Pipeline

	policy, err := chunker.NewPolicy(p.Policy, p.HoursPerChunk, p.MaxGap)
	if err != nil {
		return err
	}
	reader := ingest.NewReader(ingest.Options{
		Date:              p.Date,
		DisableSystemDate: p.DisableSystemDate,
	}, logger)
	pipeline := corpus.NewPipeline(reader, policy, logger)
	aggregator := corpus.NewAggregator(pipeline, p.Workers, logger)

	result, err := aggregator.RunDir(ctx, p.DataDir, p.Pattern)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	summary := result.Summary()

	if len(result.Documents) == 0 {
		fmt.Fprintln(out, corpus.NoDataText)
		return nil
	}

	switch {
	case opts.json:
		enc := json.NewEncoder(out)
		for _, doc := range result.Documents {
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode document: %w", err)
			}
		}
	case !opts.summary:
		for i, doc := range result.Documents {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "--- %s #%d ---\n%s\n", filepath.Base(doc.Metadata.Source), doc.Metadata.ChunkID, doc.Text)
		}
	}

	if opts.summary {
		fmt.Fprintln(out, corpus.RenderSummary(summary))
	}

	if opts.export != "" {
		if err := writeExport(opts.export, result.Documents, summary); err != nil {
			return err
		}
		logger.Info().Str("path", opts.export).Msg("Workbook exported")
	}

	if cfg.Storage.Enabled {
		if err := persist(cfg.Storage, result, logger); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled {
		if err := publish(ctx, cfg.Redis, result.Documents, logger); err != nil {
			return err
		}
	}

	return nil
}

func writeExport(path string, docs []models.ChunkDocument, summary models.DatasetSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := export.WriteWorkbook(f, docs, summary); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// sourceBatches groups run documents by source in file order
func sourceBatches(result *corpus.RunResult) []storage.SourceBatch {
	index := make(map[string]int)
	var batches []storage.SourceBatch
	for _, doc := range result.Documents {
		source := doc.Metadata.Source
		i, ok := index[source]
		if !ok {
			i = len(batches)
			index[source] = i
			batches = append(batches, storage.SourceBatch{Source: source})
		}
		batches[i].Documents = append(batches[i].Documents, doc)
	}
	return batches
}

func persist(cfg config.StorageSettings, result *corpus.RunResult, logger zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	batches := sourceBatches(result)
	if err := store.ReplaceBatch(batches); err != nil {
		return err
	}
	logger.Info().
		Str("db", cfg.DBPath).
		Int("sources", len(batches)).
		Int("chunks", len(result.Documents)).
		Msg("Documents persisted")
	return nil
}

func publish(ctx context.Context, cfg config.RedisSettings, docs []models.ChunkDocument, logger zerolog.Logger) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	publisher := storage.NewStreamPublisher(client, cfg.Stream, cfg.MaxLen, logger)
	ids, err := publisher.Publish(ctx, docs)
	if err != nil {
		return err
	}
	logger.Info().Str("stream", publisher.Stream()).Int("chunks", len(ids)).Msg("Documents published")
	return nil
}
