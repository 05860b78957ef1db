// Package control connects the gateway to the mission control system: a
// websocket carries commands in and status out, and REST calls move files.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beeper/groundstation-gateway/internal/metrics"
	"github.com/beeper/groundstation-gateway/internal/protocol"
)

var ErrNotConnected = errors.New("control system not connected")

type Config struct {
	URL               string
	RESTURL           string
	ReconnectInterval time.Duration
	ChunkSize         int
	// WriteTimeout bounds a websocket write when the caller's context has no deadline.
	WriteTimeout time.Duration
}

// CommandHandler receives commands from the control system on the read goroutine.
type CommandHandler func(protocol.Command)

type inboundMessage struct {
	Type    string          `json:"type"`
	Command json.RawMessage `json:"command,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Client struct {
	log       zerolog.Logger
	cfg       Config
	dialer    *websocket.Dialer
	http      *http.Client
	onCommand CommandHandler

	// writeLock guards conn; gorilla connections allow a single writer.
	writeLock sync.Mutex
	conn      *websocket.Conn
}

func NewClient(cfg Config, onCommand CommandHandler) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		log:       log.With().Str("component", "control").Logger(),
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		http:      &http.Client{},
		onCommand: onCommand,
	}
}

// Run keeps a connection to the control system open until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).
			Dur("retry_in", c.cfg.ReconnectInterval).
			Msg("Control system connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial control system: %w", err)
	}
	c.setConn(conn)
	metrics.ControlConnected.Set(1)
	c.log.Info().Str("url", c.cfg.URL).Msg("Connected to control system")

	defer func() {
		c.setConn(nil)
		metrics.ControlConnected.Set(0)
		conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	return c.readLoop(conn)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.writeLock.Lock()
	c.conn = conn
	c.writeLock.Unlock()
}

// Connected reports whether the websocket is currently open.
func (c *Client) Connected() bool {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn != nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Err(err).Msg("Failed to decode websocket message")
			continue
		}

		switch msg.Type {
		case "command":
			var cmd protocol.Command
			if err := json.Unmarshal(msg.Command, &cmd); err != nil {
				c.log.Err(err).Msg("Failed to decode command")
				continue
			}
			c.onCommand(cmd)
		case "hello":
			c.log.Info().Msg("Control system said hello")
		case "error":
			c.log.Warn().Str("error", msg.Error).Msg("Control system reported an error")
		default:
			c.log.Warn().Str("type", msg.Type).Msg("Received unknown message")
		}
	}
}

func (c *Client) send(ctx context.Context, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, buf)
}

func (c *Client) TransmitCommandUpdate(ctx context.Context, status protocol.CommandStatus) error {
	return c.send(ctx, protocol.NewCommandUpdate(status))
}

func (c *Client) TransmitMetrics(ctx context.Context, measurements []protocol.Measurement) error {
	return c.send(ctx, protocol.NewMeasurementsUpdate(measurements))
}

func (c *Client) TransmitEvents(ctx context.Context, events ...protocol.Event) error {
	for _, event := range events {
		if err := c.send(ctx, protocol.NewEventUpdate(event)); err != nil {
			return err
		}
	}
	return nil
}

// Transmit forwards an already encoded message unchanged.
func (c *Client) Transmit(ctx context.Context, raw json.RawMessage) error {
	return c.send(ctx, raw)
}
