package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Every payload that enters the client from the HTTP API or the stream goes through
// the functions in this file. Known field name variants are mapped onto the canonical
// Room and Message shapes, missing fields get their zero value.

var (
	errMissingMessageID = errors.New("missing message id")
	errMissingRoomID    = errors.New("missing room id")
)

var (
	messageIDKeys   = []string{"messageId", "id", "message_id"}
	roomIDKeys      = []string{"roomId", "chatRoomId", "room_id", "id"}
	projectIDKeys   = []string{"projectId", "project_id"}
	userIDKeys      = []string{"userId", "senderId", "user_id", "sender_id"}
	userNameKeys    = []string{"userName", "senderName", "sender", "username", "user_name", "name"}
	bodyKeys        = []string{"body", "content", "message", "data", "text"}
	createdAtKeys   = []string{"createdAt", "sentAt", "created_at", "sent_at", "timestamp"}
	roomNameKeys    = []string{"roomName", "name", "room_name"}
	membersKeys     = []string{"members", "users", "participants"}
	lastReadKeys    = []string{"lastReadMessageId", "lastReadId", "last_read_message_id", "lastMessageRead"}
	listWrapperKeys = []string{"messages", "content", "data", "items"}
	nonceKeys       = []string{"clientNonce", "nonce", "client_nonce"}
)

// localTimeLayout is an ISO-8601 timestamp without a zone, interpreted as UTC.
const localTimeLayout = "2006-01-02T15:04:05.999999999"

type fields map[string]json.RawMessage

func decodeFields(raw []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if f == nil {
		return nil, errors.New("decode object: null")
	}
	return f, nil
}

func (f fields) lookup(keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// str returns the first present key as a string. Numbers are formatted in base 10.
func (f fields) str(keys []string) string {
	v, ok := f.lookup(keys)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

// int returns the first present key as an integer. Numeric strings are parsed.
func (f fields) int(keys []string) int64 {
	v, ok := f.lookup(keys)
	if !ok {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if fl, err := n.Float64(); err == nil {
			return int64(fl)
		}
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// time returns the first present key as a time. RFC 3339 strings, zoneless ISO-8601
// strings and epoch milliseconds are accepted.
func (f fields) time(keys []string) time.Time {
	v, ok := f.lookup(keys)
	if !ok {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return parseTime(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		if ms, err := n.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(localTimeLayout, s); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// NormalizeMessage maps a message record into a Message.
func NormalizeMessage(raw []byte) (Message, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return Message{}, err
	}
	return messageFromFields(f)
}

func messageFromFields(f fields) (Message, error) {
	m := Message{
		ID:          f.int(messageIDKeys),
		RoomID:      f.str(roomIDKeys[:3]),
		ProjectID:   f.str(projectIDKeys),
		UserID:      f.str(userIDKeys),
		UserName:    f.str(userNameKeys),
		Body:        f.str(bodyKeys),
		CreatedAt:   f.time(createdAtKeys),
		ClientNonce: f.str(nonceKeys),
	}
	if m.ID == 0 {
		return Message{}, errMissingMessageID
	}
	if m.UserName == "" {
		m.UserName = m.UserID
	}
	return m, nil
}

// NormalizeMessages maps a page of message records. The page may be a bare array or
// an object wrapping the array. Records without an id are skipped.
func NormalizeMessages(raw []byte) ([]Message, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		f, ferr := decodeFields(raw)
		if ferr != nil {
			return nil, fmt.Errorf("decode message page: %w", err)
		}
		v, ok := f.lookup(listWrapperKeys)
		if !ok {
			return nil, nil
		}
		if err := json.Unmarshal(v, &items); err != nil {
			return nil, fmt.Errorf("decode message page: %w", err)
		}
	}

	messages := make([]Message, 0, len(items))
	for _, item := range items {
		m, err := NormalizeMessage(item)
		if err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// NormalizeRoom maps a room record into a Room.
func NormalizeRoom(raw []byte) (Room, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return Room{}, err
	}
	room := Room{
		ID:        f.str(roomIDKeys),
		Name:      f.str(roomNameKeys),
		ProjectID: f.str(projectIDKeys),
	}
	if room.ID == "" {
		return Room{}, errMissingRoomID
	}

	v, ok := f.lookup(membersKeys)
	if !ok {
		return room, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return room, nil
	}
	for _, item := range items {
		mf, err := decodeFields(item)
		if err != nil {
			// members given as bare ids
			var id string
			if json.Unmarshal(item, &id) == nil && id != "" {
				room.Members = append(room.Members, RoomMember{UserID: id, UserName: id})
			}
			continue
		}
		member := RoomMember{
			UserID:            mf.str(append(userIDKeys, "id")),
			UserName:          mf.str(userNameKeys),
			LastReadMessageID: mf.int(lastReadKeys),
		}
		if member.UserID == "" {
			continue
		}
		if member.UserName == "" {
			member.UserName = member.UserID
		}
		room.Members = append(room.Members, member)
	}
	return room, nil
}

// NormalizeReadCursor maps a read cursor record.
func NormalizeReadCursor(raw []byte) (ReadCursor, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return ReadCursor{}, err
	}
	return ReadCursor{
		RoomID:            f.str(roomIDKeys[:3]),
		UserID:            f.str(append(userIDKeys, "readBy", "read_by")),
		LastReadMessageID: f.int(append(lastReadKeys, "messageId")),
	}, nil
}
