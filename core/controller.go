package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Transport is the streaming side of the chat connection.
type Transport interface {
	Connect(roomID string)
	Disconnect()
	Publish(ctx context.Context, roomID string, msg OutgoingMessage) error
	IsConnected(roomID string) bool
	OnEvent(func(*Event))
	OnStatusChange(func(ConnStatus))
}

// ChatAPI is the request/response side of the chat connection.
type ChatAPI interface {
	FetchRoom(ctx context.Context, projectID string) (*Room, error)
	FetchMessages(ctx context.Context, roomID string, page PageParams) ([]Message, error)
	SendMessage(ctx context.Context, msg OutgoingMessage) (*Message, error)
	UpdateReadCursor(ctx context.Context, roomID, userID string, messageID int64) error
}

var (
	_ Transport = (*StreamTransport)(nil)
	_ ChatAPI   = (*HTTPClient)(nil)
)

type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "idle"
	}
}

const (
	pathStream = "stream"
	pathHTTP   = "http"
)

var errRoomChanged = errors.New("room changed while loading")

// Controller binds the chat of one project at a time. It is the only writer
// of the store: every mutation happens under mu, in arrival order.
type Controller struct {
	api       ChatAPI
	transport Transport
	store     *Store
	router    *EventRouter
	user      Identity
	logger    *slog.Logger
	metrics   *Metrics
	pageSize  int
	newNonce  func() string
	onError   func(error)

	mu         sync.Mutex
	phase      Phase
	projectID  string
	roomID     string
	visible    bool
	generation uint64
}

type ControllerOption func(*Controller)

func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = l
	}
}

func WithControllerMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithPageSize(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func WithNonceFunc(f func() string) ControllerOption {
	return func(c *Controller) {
		c.newNonce = f
	}
}

// WithVisible sets the initial visibility of the chat view.
func WithVisible(visible bool) ControllerOption {
	return func(c *Controller) {
		c.visible = visible
	}
}

func NewController(api ChatAPI, transport Transport, store *Store, user Identity, opts ...ControllerOption) *Controller {
	c := &Controller{
		api:       api,
		transport: transport,
		store:     store,
		user:      user,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		pageSize:  DefaultPageSize,
		newNonce:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.router = NewEventRouter(context.Background(), c.logger)
	c.router.On(MessageEvent, c.handleMessage)
	c.router.On(ReadCursorEvent, c.handleReadCursor)
	c.router.On(ErrorEvent, c.handleError)

	transport.OnEvent(c.router.Dispatch)
	transport.OnStatusChange(c.handleStatus)
	return c
}

// OnError registers f to receive delivery failures that surface after Send
// has returned, such as a published message the backend refused.
// f runs on the transport's goroutine.
func (c *Controller) OnError(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = f
}

func (c *Controller) Store() *Store {
	return c.store
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Enter binds the chat room of the project. Any current room is left first.
// Room and history fetch failures are returned and leave the controller Idle.
func (c *Controller) Enter(ctx context.Context, projectID string) error {
	c.Leave()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.phase = Loading
	c.projectID = projectID
	c.mu.Unlock()
	logger := c.logger.With(slog.String("project", projectID))

	room, err := c.api.FetchRoom(ctx, projectID)
	if err != nil {
		c.fail(gen)
		return err
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return errRoomChanged
	}
	c.roomID = room.ID
	c.store.Dispatch(RoomLoaded{Room: *room})
	c.mu.Unlock()

	messages, err := c.api.FetchMessages(ctx, room.ID, PageParams{Limit: c.pageSize})
	if err != nil {
		c.fail(gen)
		return err
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return errRoomChanged
	}
	c.store.Dispatch(MessagesLoaded{Messages: messages})
	c.phase = Ready
	c.mu.Unlock()

	logger.Info(fmt.Sprintf("room %s loaded with %d messages", room.ID, len(messages)))
	c.transport.Connect(room.ID)
	return nil
}

// Leave disconnects the stream and resets the store.
func (c *Controller) Leave() {
	c.transport.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.phase = Idle
	c.projectID = ""
	c.roomID = ""
	c.store.Dispatch(Reset{})
	c.metrics.SetUnread(0)
}

func (c *Controller) fail(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.phase = Idle
	c.roomID = ""
	c.store.Dispatch(Reset{})
}

// Send delivers the body to the current room. The stream is tried first when
// connected, HTTP otherwise; a failure is retried once on the other transport.
// A message sent over HTTP is appended from the response, a message published
// on the stream arrives through the topic echo.
func (c *Controller) Send(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrValidation
	}

	c.mu.Lock()
	if c.phase != Ready {
		c.mu.Unlock()
		return ErrNoRoom
	}
	gen := c.generation
	msg := OutgoingMessage{
		RoomID:      c.roomID,
		ProjectID:   c.projectID,
		UserID:      c.user.UserID,
		Body:        body,
		ClientNonce: c.newNonce(),
	}
	c.mu.Unlock()

	if err := msg.Validate(); err != nil {
		return err
	}

	if c.transport.IsConnected(msg.RoomID) {
		streamErr := c.publish(ctx, msg)
		if streamErr == nil {
			return nil
		}
		c.logger.Warn(fmt.Sprintf("publish failed, falling back to http: %v", streamErr))
		c.metrics.IncFallback(pathStream, pathHTTP)
		httpErr := c.sendHTTP(ctx, gen, msg)
		if httpErr == nil {
			return nil
		}
		return fmt.Errorf("%w: %w; %w", ErrNotSent, streamErr, httpErr)
	}

	httpErr := c.sendHTTP(ctx, gen, msg)
	if httpErr == nil {
		return nil
	}
	if !errors.Is(httpErr, ErrNetwork) {
		return fmt.Errorf("%w: %w", ErrNotSent, httpErr)
	}
	c.logger.Warn(fmt.Sprintf("http send failed, retrying on stream: %v", httpErr))
	c.metrics.IncFallback(pathHTTP, pathStream)
	streamErr := c.publish(ctx, msg)
	if streamErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w; %w", ErrNotSent, httpErr, streamErr)
}

func (c *Controller) publish(ctx context.Context, msg OutgoingMessage) error {
	err := c.transport.Publish(ctx, msg.RoomID, msg)
	c.metrics.IncSend(pathStream, err)
	return err
}

func (c *Controller) sendHTTP(ctx context.Context, gen uint64, msg OutgoingMessage) error {
	m, err := c.api.SendMessage(ctx, msg)
	c.metrics.IncSend(pathHTTP, err)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || (m.RoomID != "" && m.RoomID != c.roomID) {
		return nil
	}
	if m.RoomID == "" {
		m.RoomID = c.roomID
	}
	c.appendLocked(*m)
	return nil
}

// SetVisible records whether the chat view is visible. Becoming visible with
// unread messages advances the local user's read cursor to the latest message.
// A failed cursor update on the backend is logged and does not block the view.
func (c *Controller) SetVisible(ctx context.Context, visible bool) {
	c.mu.Lock()
	c.visible = visible
	if !visible || c.phase != Ready {
		c.mu.Unlock()
		return
	}
	s := c.store.Snapshot()
	if s.UnreadCount == 0 {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	roomID := c.roomID
	latest := s.LatestMessageID()
	read := s.UnreadCount
	c.mu.Unlock()

	if err := c.api.UpdateReadCursor(ctx, roomID, c.user.UserID, latest); err != nil {
		c.logger.Warn(fmt.Sprintf("update read cursor: %v", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.store.Dispatch(ReadCursorAdvanced{UserID: c.user.UserID, MessageID: latest})
	// Messages counted while the request was in flight are after latest and stay unread.
	s = c.store.Dispatch(UnreadReduced{By: read})
	c.metrics.SetUnread(s.UnreadCount)
}

// LoadOlder prepends the page of history before the oldest loaded message.
// It returns the number of messages added.
func (c *Controller) LoadOlder(ctx context.Context, limit int) (int, error) {
	c.mu.Lock()
	if c.phase != Ready {
		c.mu.Unlock()
		return 0, ErrNoRoom
	}
	gen := c.generation
	roomID := c.roomID
	oldest := c.store.Snapshot().OldestMessageID()
	c.mu.Unlock()

	if oldest == 0 {
		return 0, nil
	}
	if limit <= 0 {
		limit = c.pageSize
	}
	messages, err := c.api.FetchMessages(ctx, roomID, PageParams{Before: oldest, Limit: limit})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return 0, errRoomChanged
	}
	before := len(c.store.Snapshot().Messages)
	after := c.store.Dispatch(OlderMessagesLoaded{Messages: messages})
	return len(after.Messages) - before, nil
}

// appendLocked appends m and counts it as unread when the view is hidden.
// The local user's own messages are never unread. c.mu must be held.
func (c *Controller) appendLocked(m Message) bool {
	if c.store.HasMessage(m.ID) {
		return false
	}
	s := c.store.Dispatch(MessageAppended{Message: m})
	if !c.visible && m.UserID != c.user.UserID {
		s = c.store.Dispatch(UnreadIncremented{})
		c.metrics.SetUnread(s.UnreadCount)
	}
	return true
}

func (c *Controller) handleMessage(_ context.Context, e *Event) error {
	m, err := NormalizeMessage(e.Payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Ready || (m.RoomID != "" && m.RoomID != c.roomID) {
		c.logger.Debug(fmt.Sprintf("dropping message %d for room %q", m.ID, m.RoomID))
		return nil
	}
	if m.RoomID == "" {
		m.RoomID = c.roomID
	}
	c.appendLocked(m)
	return nil
}

func (c *Controller) handleReadCursor(_ context.Context, e *Event) error {
	rc, err := NormalizeReadCursor(e.Payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Ready || (rc.RoomID != "" && rc.RoomID != c.roomID) {
		return nil
	}
	c.store.Dispatch(ReadCursorAdvanced{UserID: rc.UserID, MessageID: rc.LastReadMessageID})
	return nil
}

func (c *Controller) handleError(_ context.Context, e *Event) error {
	var p ErrorEventPayload
	if err := decodePayload(e, &p); err != nil {
		return err
	}

	c.mu.Lock()
	current := c.phase == Ready && (e.Topic == "" || e.Topic == RoomTopic(c.roomID))
	onError := c.onError
	c.mu.Unlock()
	if !current {
		return nil
	}

	c.logger.Warn(fmt.Sprintf("stream rejected message: %s", p.Message))
	c.metrics.IncRejected(pathStream)
	if onError != nil {
		onError(fmt.Errorf("%w: rejected by server: %s", ErrNotSent, p.Message))
	}
	return nil
}

func (c *Controller) handleStatus(s ConnStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Dispatch(ConnectionStatusChanged{Status: s})
}
