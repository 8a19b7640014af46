package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sanehaakhtar/localboard/internal/protocol"
)

const writeWait = 10 * time.Second

// Conn is a live connection to one room. Inbound frames are applied to the
// Reconciler in arrival order by a single reader goroutine.
type Conn struct {
	ws      *websocket.Conn
	rc      *Reconciler
	logger  zerolog.Logger
	observe func(protocol.Message)

	writeMu sync.Mutex

	hydrated     chan struct{}
	hydratedOnce sync.Once
	done         chan struct{}
	err          error
	closing      atomic.Bool
}

// ConnOption customises Dial.
type ConnOption func(*dialConfig)

type dialConfig struct {
	path    string
	observe func(protocol.Message)
}

// WithPath overrides the WebSocket path (default /ws).
func WithPath(path string) ConnOption {
	return func(c *dialConfig) { c.path = path }
}

// WithObserver is called with every inbound message after it was applied.
func WithObserver(fn func(protocol.Message)) ConnOption {
	return func(c *dialConfig) { c.observe = fn }
}

// Dial connects to link and joins rc's room.
func Dial(ctx context.Context, link Link, rc *Reconciler, logger zerolog.Logger, opts ...ConnOption) (*Conn, error) {
	cfg := dialConfig{path: "/ws"}
	for _, opt := range opts {
		opt(&cfg)
	}

	url := link.WebSocketURL(cfg.path)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:       ws,
		rc:       rc,
		logger:   logger.With().Str("component", "conn").Str("room", rc.RoomID()).Logger(),
		observe:  cfg.observe,
		hydrated: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()

	if err := c.Send(rc.Join()); err != nil {
		_ = ws.Close()
		return nil, err
	}
	c.logger.Info().Str("url", url).Msg("connected")
	return c, nil
}

// Send writes one message. It is safe for concurrent use.
func (c *Conn) Send(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// WaitHydrated blocks until the first snapshot has been applied.
func (c *Conn) WaitHydrated(ctx context.Context) error {
	select {
	case <-c.hydrated:
		return nil
	case <-c.done:
		if c.err != nil {
			return c.err
		}
		return errors.New("connection closed before snapshot")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the read loop exits.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the read loop exited. Valid after Done is closed.
func (c *Conn) Err() error { return c.err }

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.closing.Store(true)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("undecodable frame")
			continue
		}
		c.rc.Apply(msg)
		if msg.Type == protocol.TypeSnapshot && msg.RoomID == c.rc.RoomID() {
			c.hydratedOnce.Do(func() { close(c.hydrated) })
		}
		if c.observe != nil {
			c.observe(msg)
		}
	}
}
