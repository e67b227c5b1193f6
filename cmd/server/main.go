package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afroash/lora-digest/internal/chunker"
	"github.com/afroash/lora-digest/internal/config"
	"github.com/afroash/lora-digest/internal/corpus"
	"github.com/afroash/lora-digest/internal/ingest"
	"github.com/afroash/lora-digest/internal/server"
	"github.com/afroash/lora-digest/internal/storage"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "configs/digest.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.AuthToken == "" {
		log.Fatal("server.auth_token (or SERVER_AUTH_TOKEN) is required")
	}

	logger, closer, err := config.NewLogger(cfg.Logging, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer closer.Close()

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Str("policy", cfg.Pipeline.Policy).
		Int("hours_per_chunk", cfg.Pipeline.InteractiveHoursPerChunk).
		Msg("Starting LoRa digest server")

	p := cfg.Pipeline
	policy, err := chunker.NewPolicy(p.Policy, p.InteractiveHoursPerChunk, p.MaxGap)
	if err != nil {
		log.Fatalf("Invalid chunk policy: %v", err)
	}
	reader := ingest.NewReader(ingest.Options{
		Date:              p.Date,
		DisableSystemDate: p.DisableSystemDate,
	}, logger)
	pipeline := corpus.NewPipeline(reader, policy, logger)
	index := server.NewMemoryIndex(cfg.Server.IndexSize)

	opts := server.APIOptions{
		Policy:         p.Policy,
		HoursPerChunk:  p.InteractiveHoursPerChunk,
		MaxGap:         p.MaxGap,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}

	var sqliteStore *storage.SQLiteStore
	var dbWriter *storage.DBWriter
	var expirer *storage.ChunkExpirer

	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
		if err != nil {
			log.Fatalf("Failed to create SQLite store: %v", err)
		}

		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Storage.BatchSize,
			FlushPeriod: cfg.Storage.FlushPeriod,
			ChannelSize: cfg.Storage.ChannelSize,
		}, logger)

		expirer = storage.NewChunkExpirer(sqliteStore, storage.ExpiryConfig{
			RetentionDays: cfg.Storage.RetentionDays,
			Interval:      cfg.Storage.CleanupPeriod,
		}, logger)
		logger.Info().
			Str("db", cfg.Storage.DBPath).
			Int("retention_days", cfg.Storage.RetentionDays).
			Dur("cleanup_period", cfg.Storage.CleanupPeriod).
			Msg("Persistence enabled")

		opts.History = sqliteStore
		opts.Persister = dbWriter
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not reachable, publishing will retry per ingest")
		}
		cancel()
		opts.Publisher = storage.NewStreamPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen, logger)
	}

	feed := server.NewFeedHandler(cfg.Server.AuthToken, logger, cfg.Server.AllowedOrigins...)
	feed.SetKeepalive(cfg.Server.PingInterval, cfg.Server.PongTimeout)
	opts.Feed = feed

	apiHandler := server.NewAPIHandler(pipeline, index, opts, logger)

	mux := http.NewServeMux()
	apiHandler.Routes(mux)
	mux.Handle("/feed", feed)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Heartbeats let dashboards show subscriber counts between ingests
	stopHeartbeat := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Server.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				feed.Heartbeat()
			case <-stopHeartbeat:
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")
	close(stopHeartbeat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}
	feed.Close()

	if dbWriter != nil {
		dbWriter.Stop()
		logger.Info().Msg("DBWriter stopped")
	}
	if expirer != nil {
		expirer.Stop()
		logger.Info().Msg("Chunk expiry stopped")
	}
	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("SQLiteStore closed")
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info().Msg("Server stopped")
}
