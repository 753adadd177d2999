package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Frame types exchanged over the streaming connection.
const (
	SubscribeEvent  = "subscribe"
	SubscribedEvent = "subscribed"
	PublishEvent    = "publish"
	MessageEvent    = "message"
	ReadCursorEvent = "read_cursor"
	ErrorEvent      = "error"
)

// SendDestination is the application destination outbound messages are published to.
const SendDestination = "/app/chat.send"

// RoomTopic returns the topic a room's messages are broadcast on.
func RoomTopic(roomID string) string {
	return "/topic/rooms/" + roomID
}

// Event is a frame sent or received over the streaming connection.
// The schema of Payload is determined by Type.
type Event struct {
	Type        string          `json:"type"`
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Topic: %s, Destination: %s, Payload.Size: %d}",
		e.Type, e.Topic, e.Destination, len(e.Payload))
}

// NewEvent creates an event with the payload encoded as JSON.
func NewEvent(t string, payload interface{}) (*Event, error) {
	e := &Event{Type: t}
	if payload == nil {
		return e, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	e.Payload = b
	return e, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

func decodePayload(e *Event, v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s event: decode payload: %w", e.Type, err)
	}
	return nil
}

// ErrorEventPayload is sent by the server when a frame cannot be processed.
type ErrorEventPayload struct {
	Message string `json:"message"`
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches inbound events to the handler registered for their type.
// Handlers run on the caller's goroutine so the receipt order is preserved.
type EventRouter struct {
	mu        sync.RWMutex
	listeners map[string]EventHandler
	ctx       context.Context
	logger    *slog.Logger
}

func NewEventRouter(ctx context.Context, logger *slog.Logger) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		ctx:       ctx,
		logger:    logger,
	}
}

func (em *EventRouter) On(eventName string, handler EventHandler) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.listeners[eventName] = handler
}

// Dispatch runs the handler registered for the event type.
// Events without a handler are logged and dropped.
func (em *EventRouter) Dispatch(e *Event) {
	em.mu.RLock()
	h, ok := em.listeners[e.Type]
	em.mu.RUnlock()
	if !ok {
		em.logger.Debug(fmt.Sprintf("no handler: %v", e))
		return
	}
	if err := h(em.ctx, e); err != nil {
		em.logger.Error(fmt.Sprintf("%s handler: %s", e.Type, err))
	}
}
