package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/models"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrUnauthorized is returned when the feed rejects the token. Run does
// not retry it.
var ErrUnauthorized = errors.New("feed rejected auth token")

// Handlers receive decoded feed messages. Nil handlers are skipped.
type Handlers struct {
	OnChunk   func(doc models.ChunkDocument)
	OnSummary func(summary models.SummaryMessage)
	OnRun     func(run models.RunMessage)
}

// Connection follows the server chunk feed over a websocket
type Connection struct {
	URL       string
	AuthToken string

	conn       *websocket.Conn
	state      ConnectionState
	stateMutex sync.RWMutex
	writeMutex sync.Mutex

	logger   zerolog.Logger
	handlers Handlers
	buffer   *DocumentBuffer

	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	pongTimeout              time.Duration

	lastSeen      time.Time
	lastSeenMutex sync.RWMutex
	heartbeat     models.HeartbeatMessage
	received      int64
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	// PongTimeout is how long the connection may stay silent (no message
	// and no ping from the server) before it is considered dead.
	PongTimeout time.Duration
}

// DefaultConnectionConfig returns reconnect and liveness defaults for url
func DefaultConnectionConfig(url, token string) ConnectionConfig {
	return ConnectionConfig{
		URL:                  url,
		AuthToken:            token,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
		PongTimeout:          60 * time.Second,
	}
}

// NewConnection creates a feed follower. buffer may be nil.
func NewConnection(config ConnectionConfig, buffer *DocumentBuffer, handlers Handlers, logger zerolog.Logger) *Connection {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = config.ReconnectInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 60 * time.Second
	}
	return &Connection{
		URL:                      config.URL,
		AuthToken:                config.AuthToken,
		state:                    StateDisconnected,
		logger:                   logger,
		handlers:                 handlers,
		buffer:                   buffer,
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		pongTimeout:              config.PongTimeout,
	}
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.state = state
	c.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect dials the feed with the bearer token
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.URL).Msg("Connecting to feed...")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.AuthToken)

	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	resp.Body.Close()

	c.stateMutex.Lock()
	c.conn = conn
	c.stateMutex.Unlock()
	c.setState(StateConnected)
	c.currentReconnectInterval = c.reconnectInterval // reset backoff
	c.touch()
	c.logger.Info().Msg("Connected to feed")
	return nil
}

// Run follows the feed with auto-reconnect until ctx is cancelled or the
// token is rejected.
func (c *Connection) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.Connect(ctx); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.runReadLoop(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info().Msg("Connection lost, will reconnect")
		c.waitBeforeReconnect(ctx)
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Info().Dur("delay", c.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	c.currentReconnectInterval *= 2
	if c.currentReconnectInterval > c.maxReconnectInterval {
		c.currentReconnectInterval = c.maxReconnectInterval
	}
}

// runReadLoop reads until the connection fails or ctx is cancelled
func (c *Connection) runReadLoop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.closeConn()
		case <-done:
		}
	}()

	c.readLoop()
	close(done)
	c.disconnect()
}

func (c *Connection) readLoop() {
	c.logger.Debug().Msg("Starting read loop")
	defer c.logger.Debug().Msg("Read loop stopped")

	conn := c.currentConn()
	if conn == nil {
		return
	}
	conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	conn.SetPingHandler(func(data string) error {
		c.touch()
		conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		c.writeMutex.Lock()
		defer c.writeMutex.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		c.touch()
		conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		c.handleMessage(&msg)
	}
}

// handleMessage dispatches one feed message
func (c *Connection) handleMessage(msg *models.Message) {
	c.lastSeenMutex.Lock()
	c.received++
	c.lastSeenMutex.Unlock()

	switch msg.Type {
	case models.MessageTypeChunk:
		var doc models.ChunkDocument
		if err := msg.UnmarshalPayload(&doc); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed chunk message")
			return
		}
		if c.buffer != nil {
			c.buffer.Push(doc)
		}
		if c.handlers.OnChunk != nil {
			c.handlers.OnChunk(doc)
		}
	case models.MessageTypeSummary:
		var summary models.SummaryMessage
		if err := msg.UnmarshalPayload(&summary); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed summary message")
			return
		}
		if c.handlers.OnSummary != nil {
			c.handlers.OnSummary(summary)
		}
	case models.MessageTypeRun:
		var run models.RunMessage
		if err := msg.UnmarshalPayload(&run); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed run message")
			return
		}
		c.logger.Info().Str("run_id", run.RunID).Str("source", run.Source).Int("chunks", run.Chunks).Msg("Ingest run")
		if c.handlers.OnRun != nil {
			c.handlers.OnRun(run)
		}
	case models.MessageTypeHeartbeat:
		var hb models.HeartbeatMessage
		if err := msg.UnmarshalPayload(&hb); err == nil {
			c.lastSeenMutex.Lock()
			c.heartbeat = hb
			c.lastSeenMutex.Unlock()
		}
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Server error")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) currentConn() *websocket.Conn {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.conn
}

func (c *Connection) touch() {
	c.lastSeenMutex.Lock()
	defer c.lastSeenMutex.Unlock()
	c.lastSeen = time.Now()
}

// Received returns how many feed messages have been handled
func (c *Connection) Received() int64 {
	c.lastSeenMutex.RLock()
	defer c.lastSeenMutex.RUnlock()
	return c.received
}

// LastHeartbeat returns the most recent heartbeat payload
func (c *Connection) LastHeartbeat() models.HeartbeatMessage {
	c.lastSeenMutex.RLock()
	defer c.lastSeenMutex.RUnlock()
	return c.heartbeat
}

// TimeSinceLastSeen returns how long the feed has been silent
func (c *Connection) TimeSinceLastSeen() time.Duration {
	c.lastSeenMutex.RLock()
	defer c.lastSeenMutex.RUnlock()
	return time.Since(c.lastSeen)
}

func (c *Connection) closeConn() {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return
	}
	c.writeMutex.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMutex.Unlock()
	conn.Close()
}

// disconnect closes the websocket connection
func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connection disconnected")
}

// Close sends a close frame and shuts down the connection
func (c *Connection) Close() error {
	c.logger.Info().Msg("Closing connection")
	c.closeConn()
	c.disconnect()
	return nil
}
