package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnStatus represents the state of the streaming connection.
type ConnStatus int

const (
	Disconnected ConnStatus = iota
	Connecting
	Connected
)

func (s ConnStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// RoomMember represents a user in a chat room.
// LastReadMessageID is the member's read cursor. It never decreases.
type RoomMember struct {
	UserID            string `json:"userId"`
	UserName          string `json:"userName"`
	LastReadMessageID int64  `json:"lastReadMessageId"`
}

// Room represents the chat room bound to a project.
// Rooms are assigned by the server and are never created by the client.
type Room struct {
	ID        string       `json:"roomId"`
	Name      string       `json:"roomName"`
	ProjectID string       `json:"projectId"`
	Members   []RoomMember `json:"members"`
}

// Member returns the member with the given user id.
func (r *Room) Member(userID string) (RoomMember, bool) {
	if r == nil {
		return RoomMember{}, false
	}
	for _, m := range r.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return RoomMember{}, false
}

// Message represents a chat message delivered to a room.
// ID is assigned by the server and increases monotonically within a room.
type Message struct {
	ID          int64     `json:"messageId"`
	RoomID      string    `json:"roomId"`
	ProjectID   string    `json:"projectId"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
	ClientNonce string    `json:"clientNonce,omitempty"`
}

// OutgoingMessage is the payload used to send a message over either transport.
type OutgoingMessage struct {
	RoomID      string `json:"roomId" validate:"required"`
	ProjectID   string `json:"projectId" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
	Body        string `json:"body" validate:"required,notblank"`
	ClientNonce string `json:"clientNonce,omitempty" validate:"omitempty,uuid"`
}

// Validate validates the outgoing message.
// A blank body is reported as ErrValidation.
func (m *OutgoingMessage) Validate() error {
	if strings.TrimSpace(m.Body) == "" {
		return ErrValidation
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// PageParams selects a page of room history.
// A zero Before selects the most recent page.
type PageParams struct {
	Before int64
	Limit  int
}

// ReadCursor is the payload used to advance a member's read cursor.
type ReadCursor struct {
	RoomID            string `json:"roomId"`
	UserID            string `json:"userId"`
	LastReadMessageID int64  `json:"lastReadMessageId"`
}

const DefaultPageSize = 50

var (
	// ErrNotFound is returned when no chat room exists for a project.
	ErrNotFound = errors.New("chat room not found")
	// ErrValidation is returned when a message body is empty or whitespace only.
	ErrValidation = errors.New("invalid message")
	// ErrNetwork is returned when an HTTP call fails or times out.
	ErrNetwork = errors.New("network error")
	// ErrTransport is returned when the stream is not connected or a publish fails.
	ErrTransport = errors.New("transport error")
	// ErrNotSent is returned when a message could not be delivered by any transport.
	ErrNotSent = errors.New("message not sent")
	// ErrNoRoom is returned when an operation requires a loaded room.
	ErrNoRoom = errors.New("no room loaded")
)
