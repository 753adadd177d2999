package core

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	u1 = RoomMember{UserID: "U1", UserName: "Alice"}
	u2 = RoomMember{UserID: "U2", UserName: "Bob"}
)

func newTestRoom(id string) Room {
	return Room{ID: id, Name: "Room " + id, ProjectID: "P" + id, Members: []RoomMember{u1, u2}}
}

func newTestMessage(id int64, roomID, userID, body string) Message {
	return Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		UserName:  userID,
		Body:      body,
		CreatedAt: time.Unix(1700000000+id, 0).UTC(),
	}
}

func messageIDs(messages []Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestReduce_RoomLoaded(t *testing.T) {
	s := State{
		Messages:    []Message{newTestMessage(1, "R0", "U1", "a")},
		Status:      Connected,
		UnreadCount: 4,
	}

	next := Reduce(s, RoomLoaded{Room: newTestRoom("R1")})

	require.NotNil(t, next.Room)
	assert.Equal(t, "R1", next.Room.ID)
	assert.Empty(t, next.Messages)
	assert.Equal(t, 0, next.UnreadCount)
	assert.Equal(t, Connected, next.Status)
	// the input is untouched
	assert.Len(t, s.Messages, 1)
	assert.Nil(t, s.Room)
}

func TestReduce_MessagesLoaded(t *testing.T) {
	page := []Message{
		newTestMessage(5, "R1", "U1", "e"),
		newTestMessage(2, "R1", "U2", "b"),
		newTestMessage(5, "R1", "U1", "e"),
		newTestMessage(3, "R1", "U1", "c"),
	}
	s := Reduce(State{}, RoomLoaded{Room: newTestRoom("R1")})
	s = Reduce(s, MessageAppended{Message: newTestMessage(9, "R1", "U1", "old")})

	next := Reduce(s, MessagesLoaded{Messages: page})

	assert.Equal(t, []int64{2, 3, 5}, messageIDs(next.Messages))
}

func TestReduce_MessageAppended(t *testing.T) {
	t.Run("appends to the tail", func(t *testing.T) {
		s := Reduce(State{}, MessagesLoaded{Messages: []Message{newTestMessage(1, "R1", "U1", "a")}})
		next := Reduce(s, MessageAppended{Message: newTestMessage(2, "R1", "U2", "b")})
		assert.Equal(t, []int64{1, 2}, messageIDs(next.Messages))
	})

	t.Run("duplicate id is a no-op", func(t *testing.T) {
		s := Reduce(State{}, MessagesLoaded{Messages: []Message{
			newTestMessage(1, "R1", "U1", "a"),
			newTestMessage(2, "R1", "U1", "b"),
		}})
		dup := newTestMessage(2, "R1", "U1", "changed")
		next := Reduce(s, MessageAppended{Message: dup})
		assert.Equal(t, s.Messages, next.Messages)
	})

	t.Run("late message keeps ids ordered", func(t *testing.T) {
		s := Reduce(State{}, MessagesLoaded{Messages: []Message{
			newTestMessage(1, "R1", "U1", "a"),
			newTestMessage(3, "R1", "U1", "c"),
		}})
		next := Reduce(s, MessageAppended{Message: newTestMessage(2, "R1", "U2", "b")})
		assert.Equal(t, []int64{1, 2, 3}, messageIDs(next.Messages))
	})
}

func TestReduce_OlderMessagesLoaded(t *testing.T) {
	s := Reduce(State{}, MessagesLoaded{Messages: []Message{
		newTestMessage(10, "R1", "U1", "j"),
		newTestMessage(11, "R1", "U1", "k"),
	}})

	next := Reduce(s, OlderMessagesLoaded{Messages: []Message{
		newTestMessage(9, "R1", "U1", "i"),
		newTestMessage(7, "R1", "U1", "g"),
		newTestMessage(10, "R1", "U1", "j"),
		newTestMessage(8, "R1", "U1", "h"),
	}})

	assert.Equal(t, []int64{7, 8, 9, 10, 11}, messageIDs(next.Messages))
}

func TestReduce_ReadCursorAdvanced(t *testing.T) {
	tcs := []struct {
		name     string
		current  int64
		advance  int64
		expected int64
	}{
		{name: "forward", current: 3, advance: 7, expected: 7},
		{name: "backward", current: 7, advance: 3, expected: 7},
		{name: "same", current: 5, advance: 5, expected: 5},
		{name: "from zero", current: 0, advance: 1, expected: 1},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			room := newTestRoom("R1")
			room.Members[0].LastReadMessageID = tc.current
			s := Reduce(State{}, RoomLoaded{Room: room})

			next := Reduce(s, ReadCursorAdvanced{UserID: u1.UserID, MessageID: tc.advance})

			m, ok := next.Room.Member(u1.UserID)
			require.True(t, ok)
			assert.Equal(t, tc.expected, m.LastReadMessageID)
			other, _ := next.Room.Member(u2.UserID)
			assert.Equal(t, int64(0), other.LastReadMessageID)
		})
	}

	t.Run("without a room", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Reduce(State{}, ReadCursorAdvanced{UserID: "U1", MessageID: 1})
		})
	})
}

func TestReduce_Unread(t *testing.T) {
	s := State{}
	for i := 0; i < 5; i++ {
		s = Reduce(s, UnreadIncremented{})
	}
	assert.Equal(t, 5, s.UnreadCount)

	s = Reduce(s, UnreadReduced{By: 3})
	assert.Equal(t, 2, s.UnreadCount)

	s = Reduce(s, UnreadReduced{By: 3})
	assert.Equal(t, 0, s.UnreadCount)

	s = Reduce(Reduce(s, UnreadIncremented{}), UnreadCleared{})
	assert.Equal(t, 0, s.UnreadCount)
}

func TestReduce_ConnectionStatusChanged(t *testing.T) {
	s := Reduce(State{}, RoomLoaded{Room: newTestRoom("R1")})
	next := Reduce(s, ConnectionStatusChanged{Status: Connecting})
	assert.Equal(t, Connecting, next.Status)
	assert.Equal(t, s.Room, next.Room)
}

func TestReduce_Reset(t *testing.T) {
	s := Reduce(State{}, RoomLoaded{Room: newTestRoom("R1")})
	s = Reduce(s, ConnectionStatusChanged{Status: Connected})
	s = Reduce(s, MessageAppended{Message: newTestMessage(1, "R1", "U1", "a")})
	s = Reduce(s, UnreadIncremented{})

	next := Reduce(s, Reset{})

	assert.Equal(t, State{Status: Connected}, next)
}

func TestReduce_NilAction(t *testing.T) {
	s := Reduce(State{}, UnreadIncremented{})
	assert.Equal(t, s, Reduce(s, nil))
}

func TestReduce_DedupAndOrderingProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		s := Reduce(State{}, RoomLoaded{Room: newTestRoom("R1")})
		seen := make(map[int64]bool)
		for i := 0; i < 100; i++ {
			id := rng.Int63n(40) + 1
			var prev []Message
			if rng.Intn(10) == 0 {
				page := make([]Message, 0, 5)
				for j := 0; j < 5; j++ {
					page = append(page, newTestMessage(rng.Int63n(40)+1, "R1", "U1", "p"))
				}
				s = Reduce(s, MessagesLoaded{Messages: page})
				seen = make(map[int64]bool)
				for _, m := range s.Messages {
					seen[m.ID] = true
				}
				continue
			}
			prev = s.Messages
			s = Reduce(s, MessageAppended{Message: newTestMessage(id, "R1", "U1", "m")})
			if seen[id] {
				require.Equal(t, prev, s.Messages, "appending a known id must leave the log unchanged")
			}
			seen[id] = true

			for k := 1; k < len(s.Messages); k++ {
				require.LessOrEqual(t, s.Messages[k-1].ID, s.Messages[k].ID)
			}
		}
	}
}

func TestStore(t *testing.T) {
	t.Run("dispatch notifies listeners", func(t *testing.T) {
		store := NewStore()
		var got []State
		unsubscribe := store.Subscribe(func(s State) {
			got = append(got, s)
		})

		store.Dispatch(RoomLoaded{Room: newTestRoom("R1")})
		store.Dispatch(UnreadIncremented{})
		unsubscribe()
		store.Dispatch(UnreadIncremented{})

		require.Len(t, got, 2)
		assert.Equal(t, "R1", got[0].Room.ID)
		assert.Equal(t, 1, got[1].UnreadCount)
		assert.Equal(t, 2, store.Snapshot().UnreadCount)
	})

	t.Run("listeners run in subscription order", func(t *testing.T) {
		store := NewStore()
		var order []int
		for i := 0; i < 8; i++ {
			store.Subscribe(func(State) { order = append(order, i) })
		}
		unsubscribe := store.Subscribe(func(State) { order = append(order, -1) })
		store.Subscribe(func(State) { order = append(order, 8) })
		unsubscribe()

		store.Dispatch(UnreadIncremented{})
		store.Dispatch(UnreadIncremented{})

		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 0, 1, 2, 3, 4, 5, 6, 7, 8}, order)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		store := NewStore()
		store.Dispatch(RoomLoaded{Room: newTestRoom("R1")})
		store.Dispatch(MessageAppended{Message: newTestMessage(1, "R1", "U1", "a")})

		snap := store.Snapshot()
		snap.Messages[0].Body = "mutated"
		snap.Room.Members[0].LastReadMessageID = 99

		fresh := store.Snapshot()
		assert.Equal(t, "a", fresh.Messages[0].Body)
		assert.Equal(t, int64(0), fresh.Room.Members[0].LastReadMessageID)
		assert.True(t, store.HasMessage(1))
		assert.False(t, store.HasMessage(2))
	})
}
