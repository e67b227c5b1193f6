package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/lora-digest/internal/models"
	"github.com/afroash/lora-digest/internal/server"
)

const testToken = "test-token-123"

func newTestFeed(t *testing.T) (*server.FeedHandler, string) {
	t.Helper()
	feed := server.NewFeedHandler(testToken, zerolog.Nop())
	srv := httptest.NewServer(feed)
	t.Cleanup(func() {
		feed.Close()
		srv.Close()
	})
	return feed, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func createTestConnection(url string, buffer *DocumentBuffer, handlers Handlers) *Connection {
	config := ConnectionConfig{
		URL:                  url,
		AuthToken:            testToken,
		ReconnectInterval:    50 * time.Millisecond,
		MaxReconnectInterval: 200 * time.Millisecond,
		PongTimeout:          time.Second,
	}
	return NewConnection(config, buffer, handlers, zerolog.Nop())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, "timed out waiting for %s", what)
}

func chunkMessage(t *testing.T, source string, id int) *models.Message {
	t.Helper()
	msg, err := models.NewMessage(models.MessageTypeChunk, models.ChunkDocument{
		Text:     "Time Period: 2025-09-16 00:00:00 to 2025-09-16 03:00:00",
		Metadata: models.ChunkMetadata{ChunkID: id, Source: source, Date: "2025-09-16", ReadingCount: 4},
	})
	require.NoError(t, err)
	return msg
}

func TestNewConnection(t *testing.T) {
	conn := createTestConnection("ws://localhost:1/feed", nil, Handlers{})
	assert.Equal(t, StateDisconnected, conn.State())
	assert.False(t, conn.IsConnected())

	defaults := NewConnection(ConnectionConfig{URL: "ws://x"}, nil, Handlers{}, zerolog.Nop())
	assert.Equal(t, time.Second, defaults.reconnectInterval)
	assert.Equal(t, 60*time.Second, defaults.pongTimeout)
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{ConnectionState(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestConnection_Connect_Success(t *testing.T) {
	feed, url := newTestFeed(t)
	conn := createTestConnection(url, nil, Handlers{})

	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	assert.Equal(t, StateConnected, conn.State())
	waitFor(t, "subscriber", func() bool { return feed.Subscribers() == 1 })
}

func TestConnection_Connect_Unauthorized(t *testing.T) {
	_, url := newTestFeed(t)
	conn := createTestConnection(url, nil, Handlers{})
	conn.AuthToken = "wrong"

	require.ErrorIs(t, conn.Connect(context.Background()), ErrUnauthorized)

	// Run gives up on a rejected token instead of retrying
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, conn.Run(ctx), ErrUnauthorized)
}

func TestConnection_Connect_Failure_InvalidURL(t *testing.T) {
	conn := createTestConnection("ws://127.0.0.1:1/feed", nil, Handlers{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, conn.Connect(ctx))
	assert.False(t, conn.IsConnected())
}

func TestConnection_Run_ReceivesFeed(t *testing.T) {
	feed, url := newTestFeed(t)

	var mu sync.Mutex
	var chunks []models.ChunkDocument
	var summaries []models.SummaryMessage
	var runs []models.RunMessage

	buffer := NewDocumentBuffer(10, true)
	conn := createTestConnection(url, buffer, Handlers{
		OnChunk: func(doc models.ChunkDocument) {
			mu.Lock()
			defer mu.Unlock()
			chunks = append(chunks, doc)
		},
		OnSummary: func(s models.SummaryMessage) {
			mu.Lock()
			defer mu.Unlock()
			summaries = append(summaries, s)
		},
		OnRun: func(r models.RunMessage) {
			mu.Lock()
			defer mu.Unlock()
			runs = append(runs, r)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	waitFor(t, "subscriber", func() bool { return feed.Subscribers() == 1 })

	runMsg, err := models.NewMessage(models.MessageTypeRun, models.RunMessage{RunID: "r1", Source: "a.csv", Chunks: 2})
	require.NoError(t, err)
	feed.Broadcast(runMsg)
	feed.Broadcast(chunkMessage(t, "a.csv", 0))
	feed.Broadcast(chunkMessage(t, "a.csv", 1))
	summaryMsg, err := models.NewMessage(models.MessageTypeSummary, models.SummaryMessage{
		Summary: models.DatasetSummary{TotalChunks: 2, TotalReadings: 8},
		Text:    "=== DATA SUMMARY ===",
	})
	require.NoError(t, err)
	feed.Broadcast(summaryMsg)
	feed.Heartbeat()

	waitFor(t, "messages", func() bool { return conn.Received() == 5 })

	mu.Lock()
	if assert.Len(t, runs, 1) {
		assert.Equal(t, "r1", runs[0].RunID)
	}
	if assert.Len(t, chunks, 2) {
		assert.Equal(t, 1, chunks[1].Metadata.ChunkID)
	}
	if assert.Len(t, summaries, 1) {
		assert.Equal(t, 8, summaries[0].Summary.TotalReadings)
	}
	mu.Unlock()

	assert.Equal(t, 2, buffer.Size())
	assert.Equal(t, 1, conn.LastHeartbeat().Subscribers)
	assert.LessOrEqual(t, conn.TimeSinceLastSeen(), time.Second)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.False(t, conn.IsConnected())
}

func TestConnection_Run_Reconnects(t *testing.T) {
	feed, url := newTestFeed(t)
	buffer := NewDocumentBuffer(10, true)
	conn := createTestConnection(url, buffer, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	waitFor(t, "first connection", func() bool { return feed.Subscribers() == 1 })

	// Server drops every subscriber; the follower should come back
	feed.Close()
	waitFor(t, "reconnect", func() bool { return feed.Subscribers() == 1 })

	feed.Broadcast(chunkMessage(t, "b.csv", 0))
	waitFor(t, "chunk after reconnect", func() bool { return buffer.Size() == 1 })

	assert.Equal(t, "b.csv", buffer.Peek(1)[0].Metadata.Source)
}

func TestConnection_IgnoresMalformedPayload(t *testing.T) {
	buffer := NewDocumentBuffer(10, true)
	conn := createTestConnection("ws://unused", buffer, Handlers{})

	conn.handleMessage(&models.Message{Type: models.MessageTypeChunk, Payload: []byte(`"not an object"`)})
	conn.handleMessage(&models.Message{Type: "bogus", Payload: []byte(`{}`)})

	assert.Zero(t, buffer.Size())
	assert.Equal(t, int64(2), conn.Received())
}
