package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessage(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	tcs := []struct {
		name string
		raw  string
		exp  Message
	}{
		{
			name: "canonical",
			raw:  `{"messageId":7,"roomId":"R1","projectId":"P1","userId":"U1","userName":"Alice","body":"hello","createdAt":"2024-05-01T10:30:00Z","clientNonce":"n-1"}`,
			exp: Message{ID: 7, RoomID: "R1", ProjectID: "P1", UserID: "U1", UserName: "Alice",
				Body: "hello", CreatedAt: created, ClientNonce: "n-1"},
		},
		{
			name: "variant names and string id",
			raw:  `{"id":"8","roomId":"R1","senderId":"U2","senderName":"Bob","content":"hi","sentAt":"2024-05-01T10:30:00"}`,
			exp:  Message{ID: 8, RoomID: "R1", UserID: "U2", UserName: "Bob", Body: "hi", CreatedAt: created},
		},
		{
			name: "epoch millis and sender",
			raw:  `{"messageId":9,"userId":"U3","sender":"Carol","message":"yo","createdAt":1714559400000}`,
			exp:  Message{ID: 9, UserID: "U3", UserName: "Carol", Body: "yo", CreatedAt: created},
		},
		{
			name: "missing name falls back to user id",
			raw:  `{"messageId":10,"userId":"U4","body":"x","createdAt":null}`,
			exp:  Message{ID: 10, UserID: "U4", UserName: "U4", Body: "x"},
		},
		{
			name: "numeric room and user ids",
			raw:  `{"messageId":11,"roomId":12,"userId":34,"body":"n"}`,
			exp:  Message{ID: 11, RoomID: "12", UserID: "34", UserName: "34", Body: "n"},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NormalizeMessage([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.exp, m)
		})
	}

	t.Run("missing id", func(t *testing.T) {
		_, err := NormalizeMessage([]byte(`{"body":"no id"}`))
		assert.Error(t, err)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := NormalizeMessage([]byte(`[1,2]`))
		assert.Error(t, err)
		_, err = NormalizeMessage([]byte(`null`))
		assert.Error(t, err)
	})
}

func TestNormalizeMessages(t *testing.T) {
	t.Run("bare array", func(t *testing.T) {
		messages, err := NormalizeMessages([]byte(`[{"messageId":1,"body":"a"},{"body":"skipped"},{"id":2,"content":"b"}]`))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, messageIDs(messages))
	})

	t.Run("wrapped page", func(t *testing.T) {
		messages, err := NormalizeMessages([]byte(`{"content":[{"messageId":3,"body":"c"}],"totalPages":1}`))
		require.NoError(t, err)
		assert.Equal(t, []int64{3}, messageIDs(messages))
	})

	t.Run("object without list", func(t *testing.T) {
		messages, err := NormalizeMessages([]byte(`{"total":0}`))
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NormalizeMessages([]byte(`"nope"`))
		assert.Error(t, err)
	})
}

func TestNormalizeRoom(t *testing.T) {
	t.Run("canonical", func(t *testing.T) {
		room, err := NormalizeRoom([]byte(`{"roomId":"R1","roomName":"General","projectId":"P1",
			"members":[{"userId":"U1","userName":"Alice","lastReadMessageId":4},{"userId":"U2"}]}`))
		require.NoError(t, err)
		assert.Equal(t, Room{
			ID:        "R1",
			Name:      "General",
			ProjectID: "P1",
			Members: []RoomMember{
				{UserID: "U1", UserName: "Alice", LastReadMessageID: 4},
				{UserID: "U2", UserName: "U2"},
			},
		}, room)
	})

	t.Run("variant names", func(t *testing.T) {
		room, err := NormalizeRoom([]byte(`{"id":5,"name":"Design","users":["U1",{"id":"U2","username":"Bob","lastReadId":"3"}]}`))
		require.NoError(t, err)
		assert.Equal(t, Room{
			ID:   "5",
			Name: "Design",
			Members: []RoomMember{
				{UserID: "U1", UserName: "U1"},
				{UserID: "U2", UserName: "Bob", LastReadMessageID: 3},
			},
		}, room)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := NormalizeRoom([]byte(`{"roomName":"x"}`))
		assert.Error(t, err)
	})
}

func TestNormalizeReadCursor(t *testing.T) {
	rc, err := NormalizeReadCursor([]byte(`{"roomId":"R1","userId":"U1","lastReadMessageId":12}`))
	require.NoError(t, err)
	assert.Equal(t, ReadCursor{RoomID: "R1", UserID: "U1", LastReadMessageID: 12}, rc)
}
