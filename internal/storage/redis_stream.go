package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/models"
)

// DefaultStream is the stream the indexing service consumes
const DefaultStream = "lora-digest:chunks"

// StreamPublisher hands chunk documents to the indexing service through a
// Redis stream. Each document becomes one entry with source, chunk_id,
// date and the JSON document.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger zerolog.Logger
}

// NewStreamPublisher creates a publisher. maxLen caps the stream length
// approximately; zero leaves it unbounded.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, logger zerolog.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Stream returns the stream name
func (p *StreamPublisher) Stream() string {
	return p.stream
}

// Publish appends docs to the stream in one pipeline and returns the
// entry IDs in document order
func (p *StreamPublisher) Publish(ctx context.Context, docs []models.ChunkDocument) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(docs))
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chunk %d of %s: %w", doc.Metadata.ChunkID, doc.Metadata.Source, err)
		}

		args := &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]interface{}{
				"source":   doc.Metadata.Source,
				"chunk_id": doc.Metadata.ChunkID,
				"date":     doc.Metadata.Date,
				"document": string(data),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		cmds = append(cmds, pipe.XAdd(ctx, args))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to publish chunks: %w", err)
	}

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}

	p.logger.Debug().
		Str("stream", p.stream).
		Int("chunks", len(docs)).
		Msg("Published chunks")

	return ids, nil
}

// Len returns the number of entries in the stream
func (p *StreamPublisher) Len(ctx context.Context) (int64, error) {
	n, err := p.client.XLen(ctx, p.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get stream length: %w", err)
	}
	return n, nil
}

// DecodeEntry rebuilds the document carried by a stream entry
func DecodeEntry(msg redis.XMessage) (models.ChunkDocument, error) {
	var doc models.ChunkDocument
	raw, ok := msg.Values["document"].(string)
	if !ok {
		return doc, fmt.Errorf("stream entry %s has no document", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return doc, fmt.Errorf("failed to decode stream entry %s: %w", msg.ID, err)
	}
	return doc, nil
}
