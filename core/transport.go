package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

var errSubscribeTimeout = errors.New("subscribe acknowledgement timed out")

// StreamTransport maintains at most one streaming connection, subscribed to the
// topic of a single room. Connection failures are retried after a fixed delay
// until Disconnect is called and are reported only as status changes.
type StreamTransport struct {
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         *slog.Logger
	metrics        *Metrics

	mu     sync.Mutex
	roomID string
	conn   *Conn
	status ConnStatus
	cancel context.CancelFunc
	done   chan struct{}

	onEvent        func(*Event)
	onStatusChange func(ConnStatus)
}

type TransportOption func(*StreamTransport)

func WithReconnectDelay(d time.Duration) TransportOption {
	return func(t *StreamTransport) {
		if d > 0 {
			t.reconnectDelay = d
		}
	}
}

func WithBearerToken(token string) TransportOption {
	return func(t *StreamTransport) {
		if token != "" {
			t.header.Set("Authorization", "Bearer "+token)
		}
	}
}

func WithDialer(d *websocket.Dialer) TransportOption {
	return func(t *StreamTransport) {
		t.dialer = d
	}
}

func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(t *StreamTransport) {
		t.logger = l
	}
}

func WithTransportMetrics(m *Metrics) TransportOption {
	return func(t *StreamTransport) {
		t.metrics = m
	}
}

func NewStreamTransport(url string, opts ...TransportOption) *StreamTransport {
	t := &StreamTransport{
		url:            url,
		header:         make(http.Header),
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		onEvent:        func(*Event) {},
		onStatusChange: func(ConnStatus) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnEvent sets the callback invoked for every inbound frame other than
// subscription acknowledgements. It is called from a single goroutine per
// connection, in receipt order.
func (t *StreamTransport) OnEvent(f func(*Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = f
}

// OnStatusChange sets the callback invoked on every status transition.
func (t *StreamTransport) OnStatusChange(f func(ConnStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatusChange = f
}

func (t *StreamTransport) Status() ConnStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsConnected reports whether the transport is subscribed to the room.
func (t *StreamTransport) IsConnected(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == Connected && t.conn != nil && t.roomID == roomID
}

// Connect starts the connection loop for the room. It returns immediately.
// Calling Connect again for the same room is a no-op; a different room
// replaces the current connection.
func (t *StreamTransport) Connect(roomID string) {
	t.mu.Lock()
	if t.cancel != nil && t.roomID == roomID {
		t.mu.Unlock()
		return
	}
	prevCancel, prevDone := t.cancel, t.done
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.roomID = roomID
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	go t.run(ctx, roomID, done)
}

// Disconnect closes the connection and cancels any pending reconnect.
// It is safe to call more than once.
func (t *StreamTransport) Disconnect() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.roomID = ""
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	t.setStatus(context.Background(), Disconnected)
}

// Publish sends the message to the application send destination.
// It fails with ErrTransport when the transport is not subscribed to the room.
func (t *StreamTransport) Publish(ctx context.Context, roomID string, msg OutgoingMessage) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.status == Connected && t.roomID == roomID
	t.mu.Unlock()
	if conn == nil || !connected {
		return fmt.Errorf("%w: not connected to room %s", ErrTransport, roomID)
	}

	e, err := NewEvent(PublishEvent, msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	e.Destination = SendDestination

	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Send(ctx, e); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrTransport, err)
	}
	return nil
}

func (t *StreamTransport) run(ctx context.Context, roomID string, done chan struct{}) {
	defer close(done)
	logger := t.logger.With(slog.String("room", roomID))

	attempt := 0
	retry.Do(ctx, retry.NewConstant(t.reconnectDelay), func(ctx context.Context) error {
		if attempt > 0 {
			t.metrics.IncReconnect()
			logger.Info(fmt.Sprintf("reconnecting: attempt %d", attempt))
		}
		attempt++

		err := t.session(ctx, roomID, logger)
		if ctx.Err() != nil {
			return nil
		}
		t.setStatus(ctx, Disconnected)
		logger.Warn(fmt.Sprintf("stream connection lost: %v", err))
		return retry.RetryableError(err)
	})
}

// session dials, subscribes and serves one connection until it ends.
func (t *StreamTransport) session(ctx context.Context, roomID string, logger *slog.Logger) error {
	t.setStatus(ctx, Connecting)

	ws, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	topic := RoomTopic(roomID)
	conn := NewConn(ctx, ws, logger)
	acked := make(chan error, 1)
	// handler runs on the read loop only, subscribed needs no lock
	subscribed := false
	handler := func(e *Event) {
		t.metrics.IncInbound(e.Type)
		switch {
		case e.Type == SubscribedEvent:
			if e.Topic == topic {
				subscribed = true
				select {
				case acked <- nil:
				default:
				}
			}
		case e.Type == ErrorEvent && !subscribed:
			var p ErrorEventPayload
			if err := decodePayload(e, &p); err == nil {
				select {
				case acked <- errors.New(p.Message):
				default:
				}
			}
			logger.Warn(fmt.Sprintf("error frame: %s", p.Message))
		default:
			// error frames after the subscription answer a publish
			t.emit(e)
		}
	}

	ended := make(chan error, 1)
	go func() {
		ended <- conn.Run(handler)
	}()

	stop := func(cause error) error {
		conn.Close()
		<-ended
		return cause
	}

	sub := &Event{Type: SubscribeEvent, Topic: topic}
	if err := conn.Send(ctx, sub); err != nil {
		return stop(fmt.Errorf("send subscribe: %w", err))
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case err := <-acked:
		if err != nil {
			return stop(fmt.Errorf("subscribe %s: %w", topic, err))
		}
	case err := <-ended:
		return fmt.Errorf("subscribe %s: %w", topic, err)
	case <-timer.C:
		return stop(errSubscribeTimeout)
	case <-ctx.Done():
		return stop(ctx.Err())
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
	}()

	t.setStatus(ctx, Connected)
	logger.Info(fmt.Sprintf("subscribed to %s", topic))

	select {
	case err := <-ended:
		return err
	case <-ctx.Done():
		return stop(ctx.Err())
	}
}

func (t *StreamTransport) emit(e *Event) {
	t.mu.Lock()
	f := t.onEvent
	t.mu.Unlock()
	f(e)
}

// setStatus records and reports a status transition. Transitions from a
// cancelled connection loop are ignored.
func (t *StreamTransport) setStatus(ctx context.Context, s ConnStatus) {
	if ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	if t.status == s {
		t.mu.Unlock()
		return
	}
	t.status = s
	f := t.onStatusChange
	t.mu.Unlock()

	t.metrics.SetStatus(s)
	f(s)
}
