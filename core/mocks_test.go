package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type TransportMock struct {
	mock.Mock

	mu             sync.Mutex
	onEvent        func(*Event)
	onStatusChange func(ConnStatus)
}

var _ Transport = (*TransportMock)(nil)

func (m *TransportMock) Connect(roomID string) {
	m.Called(roomID)
}

func (m *TransportMock) Disconnect() {
	m.Called()
}

func (m *TransportMock) Publish(ctx context.Context, roomID string, msg OutgoingMessage) error {
	args := m.Called(ctx, roomID, msg)
	return args.Error(0)
}

func (m *TransportMock) IsConnected(roomID string) bool {
	args := m.Called(roomID)
	return args.Bool(0)
}

func (m *TransportMock) OnEvent(f func(*Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = f
}

func (m *TransportMock) OnStatusChange(f func(ConnStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatusChange = f
}

// push delivers an inbound frame as the transport's read loop would.
func (m *TransportMock) push(t *testing.T, eventType string, payload interface{}) {
	e, err := NewEvent(eventType, payload)
	require.NoError(t, err)
	m.mu.Lock()
	f := m.onEvent
	m.mu.Unlock()
	f(e)
}

func (m *TransportMock) pushEvent(e *Event) {
	m.mu.Lock()
	f := m.onEvent
	m.mu.Unlock()
	f(e)
}

func (m *TransportMock) pushRaw(eventType string, payload string) {
	m.mu.Lock()
	f := m.onEvent
	m.mu.Unlock()
	f(&Event{Type: eventType, Payload: json.RawMessage(payload)})
}

func (m *TransportMock) setStatus(s ConnStatus) {
	m.mu.Lock()
	f := m.onStatusChange
	m.mu.Unlock()
	f(s)
}

type ChatAPIMock struct {
	mock.Mock
}

var _ ChatAPI = (*ChatAPIMock)(nil)

func (m *ChatAPIMock) FetchRoom(ctx context.Context, projectID string) (*Room, error) {
	args := m.Called(ctx, projectID)
	var room *Room
	if val := args.Get(0); val != nil {
		room = val.(*Room)
	}
	return room, args.Error(1)
}

func (m *ChatAPIMock) FetchMessages(ctx context.Context, roomID string, page PageParams) ([]Message, error) {
	args := m.Called(ctx, roomID, page)
	var list []Message
	if val := args.Get(0); val != nil {
		list = val.([]Message)
	}
	return list, args.Error(1)
}

func (m *ChatAPIMock) SendMessage(ctx context.Context, msg OutgoingMessage) (*Message, error) {
	args := m.Called(ctx, msg)
	var message *Message
	if val := args.Get(0); val != nil {
		message = val.(*Message)
	}
	return message, args.Error(1)
}

func (m *ChatAPIMock) UpdateReadCursor(ctx context.Context, roomID, userID string, messageID int64) error {
	args := m.Called(ctx, roomID, userID, messageID)
	return args.Error(0)
}
