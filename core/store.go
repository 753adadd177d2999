package core

import (
	"slices"
	"sync"
)

// State is the client-side snapshot of the active room's chat state.
type State struct {
	Room        *Room
	Messages    []Message
	Status      ConnStatus
	UnreadCount int
}

// LatestMessageID returns the id of the last message in the log or 0 if the log is empty.
func (s State) LatestMessageID() int64 {
	if len(s.Messages) == 0 {
		return 0
	}
	return s.Messages[len(s.Messages)-1].ID
}

// OldestMessageID returns the id of the first message in the log or 0 if the log is empty.
func (s State) OldestMessageID() int64 {
	if len(s.Messages) == 0 {
		return 0
	}
	return s.Messages[0].ID
}

// HasMessage reports whether a message with the given id is in the log.
func (s State) HasMessage(id int64) bool {
	_, found := slices.BinarySearchFunc(s.Messages, id, compareID)
	return found
}

func (s State) clone() State {
	c := s
	c.Messages = slices.Clone(s.Messages)
	if s.Room != nil {
		room := *s.Room
		room.Members = slices.Clone(s.Room.Members)
		c.Room = &room
	}
	return c
}

// Action is a state transition applied by Reduce.
type Action interface {
	apply(State) State
}

// RoomLoaded replaces the room and clears the message log.
type RoomLoaded struct{ Room Room }

// MessagesLoaded replaces the message log with a page of messages.
type MessagesLoaded struct{ Messages []Message }

// OlderMessagesLoaded prepends a page of older messages to the log.
type OlderMessagesLoaded struct{ Messages []Message }

// MessageAppended appends a message to the log unless its id is already present.
type MessageAppended struct{ Message Message }

// ConnectionStatusChanged mirrors the transport's status.
type ConnectionStatusChanged struct{ Status ConnStatus }

// UnreadIncremented increments the unread counter by one.
type UnreadIncremented struct{}

// UnreadCleared resets the unread counter.
type UnreadCleared struct{}

// UnreadReduced lowers the unread counter by By, never below zero.
type UnreadReduced struct{ By int }

// ReadCursorAdvanced moves a member's read cursor forward.
type ReadCursorAdvanced struct {
	UserID    string
	MessageID int64
}

// Reset returns the store to its initial state.
type Reset struct{}

// Reduce returns the state that results from applying the action to s.
// It never mutates s and never panics.
func Reduce(s State, a Action) State {
	if a == nil {
		return s
	}
	return a.apply(s.clone())
}

func (a RoomLoaded) apply(s State) State {
	room := a.Room
	room.Members = slices.Clone(a.Room.Members)
	s.Room = &room
	s.Messages = nil
	s.UnreadCount = 0
	return s
}

func (a MessagesLoaded) apply(s State) State {
	s.Messages = sortedUnique(a.Messages)
	return s
}

func (a OlderMessagesLoaded) apply(s State) State {
	oldest := s.OldestMessageID()
	older := make([]Message, 0, len(a.Messages))
	for _, m := range a.Messages {
		if len(s.Messages) == 0 || m.ID < oldest {
			older = append(older, m)
		}
	}
	s.Messages = append(sortedUnique(older), s.Messages...)
	return s
}

func (a MessageAppended) apply(s State) State {
	i, found := slices.BinarySearchFunc(s.Messages, a.Message.ID, compareID)
	if found {
		return s
	}
	// i is the tail unless a late response overtook a newer echo
	s.Messages = slices.Insert(s.Messages, i, a.Message)
	return s
}

func (a ConnectionStatusChanged) apply(s State) State {
	s.Status = a.Status
	return s
}

func (UnreadIncremented) apply(s State) State {
	s.UnreadCount++
	return s
}

func (UnreadCleared) apply(s State) State {
	s.UnreadCount = 0
	return s
}

func (a UnreadReduced) apply(s State) State {
	s.UnreadCount = max(0, s.UnreadCount-a.By)
	return s
}

func (a ReadCursorAdvanced) apply(s State) State {
	if s.Room == nil {
		return s
	}
	for i := range s.Room.Members {
		m := &s.Room.Members[i]
		if m.UserID == a.UserID && a.MessageID > m.LastReadMessageID {
			m.LastReadMessageID = a.MessageID
		}
	}
	return s
}

func (Reset) apply(s State) State {
	return State{Status: s.Status}
}

func compareID(m Message, id int64) int {
	switch {
	case m.ID < id:
		return -1
	case m.ID > id:
		return 1
	}
	return 0
}

// sortedUnique returns the messages in ascending id order without duplicate ids.
func sortedUnique(messages []Message) []Message {
	out := slices.Clone(messages)
	slices.SortStableFunc(out, func(a, b Message) int { return compareID(a, b.ID) })
	return slices.CompactFunc(out, func(a, b Message) bool { return a.ID == b.ID })
}

// Store holds the state of the active room and notifies listeners on change.
// It is written by a single owner, the Controller.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	f  func(State)
}

func NewStore() *Store {
	return &Store{}
}

// Dispatch applies the action and notifies listeners, in subscription order,
// with the new state. It returns the new state.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	next := s.state.clone()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.f(next.clone())
	}
	return next
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// HasMessage reports whether a message with the given id is in the log.
func (s *Store) HasMessage(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.HasMessage(id)
}

// Subscribe registers a listener that is called after every dispatch.
// The returned function removes the listener.
func (s *Store) Subscribe(f func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, f: f})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
	}
}
