package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxFrameSize = 64 << 10
)

var ErrConnClosed = errors.New("connection closed")

type writeRequest struct {
	event  *Event
	result chan error
}

// Conn wraps a websocket connection that exchanges Event frames.
// It is used on both ends of the stream: by StreamTransport on the client
// and by the reference backend's topic hub.
type Conn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	writes chan writeRequest
	ticker *time.Ticker
	logger *slog.Logger

	closeOnce sync.Once
	writeDone chan struct{}
}

func NewConn(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	return &Conn{
		conn:      ws,
		ctx:       ctx,
		cancel:    cancel,
		writes:    make(chan writeRequest),
		ticker:    time.NewTicker(pingPeriod),
		logger:    logger,
		writeDone: make(chan struct{}),
	}
}

// Run starts the write loop and runs the read loop until the connection ends.
// onEvent is called for every inbound frame in receipt order.
func (c *Conn) Run(onEvent func(*Event)) error {
	go c.writeLoop()
	err := c.readLoop(onEvent)
	c.Close()
	<-c.writeDone
	return err
}

// Close ends the connection with a normal closure. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(c.cancel)
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send writes the event and waits for the write to complete.
func (c *Conn) Send(ctx context.Context, e *Event) error {
	req := writeRequest{event: e, result: make(chan error, 1)}
	select {
	case c.writes <- req:
	case <-c.ctx.Done():
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) readLoop(onEvent func(*Event)) error {
	c.logger.Debug("read loop started")
	defer c.logger.Debug("read loop stopped")

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return fmt.Errorf("%w: %v", ErrConnClosed, err)
			}
			if c.ctx.Err() != nil {
				return ErrConnClosed
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Warn(fmt.Sprintf("unexpected close: %v", err))
			}
			return fmt.Errorf("next reader: %w", err)
		}

		if format != websocket.TextMessage {
			c.logger.Warn(fmt.Sprintf("unexpected frame format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Warn(err.Error())
			continue
		}
		c.logger.Debug(event.String())
		onEvent(&event)
	}
}

func (c *Conn) writeLoop() {
	c.logger.Debug("write loop started")
	defer func() {
		c.ticker.Stop()
		c.conn.Close()
		close(c.writeDone)
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case req := <-c.writes:
			req.result <- c.write(req.event)
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn(fmt.Sprintf("writing ping: %v", err))
				c.Close()
			}
		}
	}
}

func (c *Conn) write(e *Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.Close()
		return fmt.Errorf("next writer: %w", err)
	}
	if err := EncodeEvent(w, e); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		c.Close()
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}
