package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/client"
	"github.com/afroash/lora-digest/internal/config"
	"github.com/afroash/lora-digest/internal/models"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file")
	url := flag.String("url", "", "feed URL (default ws://<server.host>:<server.port>/feed)")
	token := flag.String("token", "", "bearer token (default server.auth_token)")
	asJSON := flag.Bool("json", false, "print documents as JSON lines")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *url == "" {
		*url = fmt.Sprintf("ws://%s:%d/feed", cfg.Server.Host, cfg.Server.Port)
	}
	if *token == "" {
		*token = cfg.Server.AuthToken
	}

	logger, closer, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer closer.Close()

	logger.Info().Str("version", version).Str("url", *url).Msg("Following chunk feed")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := client.NewConnection(
		client.DefaultConnectionConfig(*url, *token),
		nil,
		printer(os.Stdout, *asJSON, logger),
		logger,
	)
	if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Feed follower stopped")
		closer.Close()
		os.Exit(1)
	}
	logger.Info().Int64("messages", conn.Received()).Msg("Follower stopped")
}

// printer writes feed documents and summaries to out
func printer(out io.Writer, asJSON bool, logger zerolog.Logger) client.Handlers {
	enc := json.NewEncoder(out)
	return client.Handlers{
		OnChunk: func(doc models.ChunkDocument) {
			if asJSON {
				if err := enc.Encode(doc); err != nil {
					logger.Warn().Err(err).Msg("Failed to encode document")
				}
				return
			}
			fmt.Fprintf(out, "--- %s #%d ---\n%s\n\n", filepath.Base(doc.Metadata.Source), doc.Metadata.ChunkID, doc.Text)
		},
		OnSummary: func(s models.SummaryMessage) {
			if !asJSON {
				fmt.Fprintln(out, s.Text)
			}
		},
	}
}
