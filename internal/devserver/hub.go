package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/projectchat/core"
)

const (
	topicPrefix = "/topic/rooms/"
	sendTimeout = 10 * time.Second
)

type client struct {
	id     int64
	userID string
	conn   *core.Conn
	logger *slog.Logger

	mu     sync.Mutex
	topics []string
}

// Hub accepts streaming connections, tracks topic subscriptions and
// broadcasts events to subscribers.
type Hub struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	store    *SQLiteChatStore
	topics   *SyncMap[string, []*client]
	upgrader websocket.Upgrader
	logger   *slog.Logger
	nextID   atomic.Int64

	onConnectionOpened func(userID string, id int64)
	onConnectionClosed func(userID string, id int64)
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type HubOption func(*Hub)

func WithCheckOrigin(f func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = f
	}
}

func NewHub(ctx context.Context, wg *sync.WaitGroup, store *SQLiteChatStore, logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		ctx:                ctx,
		wg:                 wg,
		store:              store,
		topics:             NewSyncMap[string, []*client](),
		upgrader:           defaultUpgrader,
		logger:             logger,
		onConnectionOpened: func(string, int64) {},
		onConnectionClosed: func(string, int64) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) OnConnectionOpened(f func(string, int64)) {
	h.onConnectionOpened = f
}

func (h *Hub) OnConnectionClosed(f func(string, int64)) {
	h.onConnectionClosed = f
}

// Connect upgrades the request and serves the connection in the background.
func (h *Hub) Connect(userID string, w http.ResponseWriter, r *http.Request) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}

	id := h.nextID.Add(1)
	logger := h.logger.With(slog.String("connection", fmt.Sprintf("%s:%d", userID, id)))
	c := &client{
		id:     id,
		userID: userID,
		conn:   core.NewConn(h.ctx, ws, logger),
		logger: logger,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := c.conn.Run(func(e *core.Event) { h.handle(c, e) }); err != nil && !errors.Is(err, core.ErrConnClosed) {
			logger.Warn(err.Error())
		}
		h.unsubscribeAll(c)
		h.onConnectionClosed(userID, id)
	}()
	h.onConnectionOpened(userID, id)
	return nil
}

func (h *Hub) handle(c *client, e *core.Event) {
	var err error
	switch e.Type {
	case core.SubscribeEvent:
		err = h.subscribe(c, e.Topic)
	case core.PublishEvent:
		err = h.publish(c, e)
	default:
		err = fmt.Errorf("unsupported event type %q", e.Type)
	}
	if err != nil {
		c.logger.Warn(fmt.Sprintf("%s: %v", e.Type, err))
		reply, _ := core.NewEvent(core.ErrorEvent, core.ErrorEventPayload{Message: err.Error()})
		reply.Topic = e.Topic
		h.send(c, reply)
	}
}

func (h *Hub) subscribe(c *client, topic string) error {
	roomID, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok || roomID == "" {
		return fmt.Errorf("unknown topic %q", topic)
	}
	ctx, cancel := context.WithTimeout(h.ctx, sendTimeout)
	defer cancel()
	if _, err := h.store.Member(ctx, roomID, c.userID); err != nil {
		return err
	}

	h.topics.Update(topic, func(subs []*client, _ bool) ([]*client, bool) {
		if slices.Contains(subs, c) {
			return subs, true
		}
		return append(slices.Clone(subs), c), true
	})
	c.mu.Lock()
	if !slices.Contains(c.topics, topic) {
		c.topics = append(c.topics, topic)
	}
	c.mu.Unlock()

	h.send(c, &core.Event{Type: core.SubscribedEvent, Topic: topic})
	return nil
}

func (h *Hub) publish(c *client, e *core.Event) error {
	if e.Destination != core.SendDestination {
		return fmt.Errorf("unknown destination %q", e.Destination)
	}
	var msg core.OutgoingMessage
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	msg.UserID = c.userID
	if err := msg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(h.ctx, sendTimeout)
	defer cancel()
	m, err := h.store.CreateMessage(ctx, msg)
	if err != nil {
		return err
	}
	return h.Broadcast(core.RoomTopic(m.RoomID), core.MessageEvent, m)
}

// Broadcast sends an event to every subscriber of the topic, the sender included.
func (h *Hub) Broadcast(topic, eventType string, payload interface{}) error {
	e, err := core.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	e.Topic = topic

	subs, _ := h.topics.Load(topic)
	for _, c := range subs {
		h.send(c, e)
	}
	return nil
}

func (h *Hub) send(c *client, e *core.Event) {
	ctx, cancel := context.WithTimeout(h.ctx, sendTimeout)
	defer cancel()
	if err := c.conn.Send(ctx, e); err != nil {
		c.logger.Warn(fmt.Sprintf("send %s: %v", e.Type, err))
	}
}

func (h *Hub) unsubscribeAll(c *client) {
	c.mu.Lock()
	topics := c.topics
	c.topics = nil
	c.mu.Unlock()

	for _, topic := range topics {
		h.topics.Update(topic, func(subs []*client, _ bool) ([]*client, bool) {
			subs = slices.DeleteFunc(slices.Clone(subs), func(s *client) bool { return s == c })
			return subs, len(subs) > 0
		})
	}
}

// Subscribers returns the number of connections subscribed to the topic.
func (h *Hub) Subscribers(topic string) int {
	subs, _ := h.topics.Load(topic)
	return len(subs)
}
