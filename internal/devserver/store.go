package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/putto11262002/projectchat/core"
)

var (
	ErrRoomNotFound = errors.New("chat room not found")
	ErrNotMember    = errors.New("not a room member")
	ErrRoomExists   = errors.New("project already has a chat room")
)

// SQLiteChatStore persists rooms, members and messages.
type SQLiteChatStore struct {
	db *sql.DB
}

func NewSQLiteChatStore(db *sql.DB) *SQLiteChatStore {
	return &SQLiteChatStore{db: db}
}

// CreateRoom creates the chat room of a project with its initial members.
func (s *SQLiteChatStore) CreateRoom(ctx context.Context, projectID, name string, members []core.RoomMember) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	query := `INSERT INTO rooms (id, project_id, name, created_at)
	          VALUES (@id, @project_id, @name, @created_at)`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("id", id), sql.Named("project_id", projectID),
		sql.Named("name", name), sql.Named("created_at", time.Now().UTC()))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return "", ErrRoomExists
		}
		return "", fmt.Errorf("ExecContext(insert room): %w", err)
	}

	query = `INSERT INTO room_members (room_id, user_id, user_name, last_read_message_id)
	         VALUES (@room_id, @user_id, @user_name, 0)`
	for _, m := range members {
		name := m.UserName
		if name == "" {
			name = m.UserID
		}
		_, err = tx.ExecContext(ctx, query,
			sql.Named("room_id", id), sql.Named("user_id", m.UserID), sql.Named("user_name", name))
		if err != nil {
			return "", fmt.Errorf("ExecContext(insert room_members): %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("Commit: %w", err)
	}
	return id, nil
}

// RoomByProject returns the chat room of a project with its members.
func (s *SQLiteChatStore) RoomByProject(ctx context.Context, projectID string) (*core.Room, error) {
	room := &core.Room{}
	query := `SELECT id, name, project_id FROM rooms WHERE project_id = @project_id`
	err := s.db.QueryRowContext(ctx, query, sql.Named("project_id", projectID)).
		Scan(&room.ID, &room.Name, &room.ProjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("QueryRowContext(select room): %w", err)
	}

	members, err := s.members(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	room.Members = members
	return room, nil
}

func (s *SQLiteChatStore) members(ctx context.Context, roomID string) ([]core.RoomMember, error) {
	query := `SELECT user_id, user_name, last_read_message_id FROM room_members
	          WHERE room_id = @room_id ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext(select room_members): %w", err)
	}
	defer rows.Close()

	members := make([]core.RoomMember, 0)
	for rows.Next() {
		var m core.RoomMember
		if err := rows.Scan(&m.UserID, &m.UserName, &m.LastReadMessageID); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return members, nil
}

// Member returns the member of the room. It fails with ErrRoomNotFound if the
// room does not exist and ErrNotMember if the user is not in it.
func (s *SQLiteChatStore) Member(ctx context.Context, roomID, userID string) (*core.RoomMember, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = @room_id)`
	if err := s.db.QueryRowContext(ctx, query, sql.Named("room_id", roomID)).Scan(&exists); err != nil {
		return nil, fmt.Errorf("QueryRowContext(select room): %w", err)
	}
	if !exists {
		return nil, ErrRoomNotFound
	}

	m := &core.RoomMember{}
	query = `SELECT user_id, user_name, last_read_message_id FROM room_members
	         WHERE room_id = @room_id AND user_id = @user_id`
	err := s.db.QueryRowContext(ctx, query, sql.Named("room_id", roomID), sql.Named("user_id", userID)).
		Scan(&m.UserID, &m.UserName, &m.LastReadMessageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("QueryRowContext(select room_members): %w", err)
	}
	return m, nil
}

// Messages returns up to limit messages with an id below before, in ascending
// id order. A zero before selects the latest messages.
func (s *SQLiteChatStore) Messages(ctx context.Context, roomID string, before int64, limit int) ([]core.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = core.DefaultPageSize
	}
	query := `
		SELECT m.id, m.room_id, r.project_id, m.user_id, COALESCE(rm.user_name, m.user_id),
		       m.body, COALESCE(m.client_nonce, ''), m.created_at
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		LEFT JOIN room_members rm ON rm.room_id = m.room_id AND rm.user_id = m.user_id
		WHERE m.room_id = @room_id AND (@before = 0 OR m.id < @before)
		ORDER BY m.id DESC
		LIMIT @limit`
	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("room_id", roomID), sql.Named("before", before), sql.Named("limit", limit))
	if err != nil {
		return nil, fmt.Errorf("QueryContext(select messages): %w", err)
	}
	defer rows.Close()

	messages := make([]core.Message, 0, limit)
	for rows.Next() {
		var m core.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.ProjectID, &m.UserID, &m.UserName,
			&m.Body, &m.ClientNonce, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// CreateMessage persists a message from a room member. A repeated client
// nonce from the same user returns the message stored the first time.
func (s *SQLiteChatStore) CreateMessage(ctx context.Context, msg core.OutgoingMessage) (*core.Message, error) {
	member, err := s.Member(ctx, msg.RoomID, msg.UserID)
	if err != nil {
		return nil, err
	}

	if msg.ClientNonce != "" {
		existing, err := s.messageByNonce(ctx, msg)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	var nonce sql.NullString
	if msg.ClientNonce != "" {
		nonce = sql.NullString{String: msg.ClientNonce, Valid: true}
	}
	createdAt := time.Now().UTC()
	query := `INSERT INTO messages (room_id, user_id, body, client_nonce, created_at)
	          VALUES (@room_id, @user_id, @body, @client_nonce, @created_at)`
	res, err := s.db.ExecContext(ctx, query,
		sql.Named("room_id", msg.RoomID), sql.Named("user_id", msg.UserID),
		sql.Named("body", msg.Body), sql.Named("client_nonce", nonce),
		sql.Named("created_at", createdAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert message): %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}

	projectID := msg.ProjectID
	if err := s.db.QueryRowContext(ctx, `SELECT project_id FROM rooms WHERE id = @id`,
		sql.Named("id", msg.RoomID)).Scan(&projectID); err != nil {
		return nil, fmt.Errorf("QueryRowContext(select room): %w", err)
	}

	return &core.Message{
		ID:          id,
		RoomID:      msg.RoomID,
		ProjectID:   projectID,
		UserID:      msg.UserID,
		UserName:    member.UserName,
		Body:        msg.Body,
		CreatedAt:   createdAt,
		ClientNonce: msg.ClientNonce,
	}, nil
}

func (s *SQLiteChatStore) messageByNonce(ctx context.Context, msg core.OutgoingMessage) (*core.Message, error) {
	query := `
		SELECT m.id, m.room_id, r.project_id, m.user_id, COALESCE(rm.user_name, m.user_id),
		       m.body, m.client_nonce, m.created_at
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		LEFT JOIN room_members rm ON rm.room_id = m.room_id AND rm.user_id = m.user_id
		WHERE m.room_id = @room_id AND m.user_id = @user_id AND m.client_nonce = @client_nonce`
	var m core.Message
	err := s.db.QueryRowContext(ctx, query,
		sql.Named("room_id", msg.RoomID), sql.Named("user_id", msg.UserID),
		sql.Named("client_nonce", msg.ClientNonce)).
		Scan(&m.ID, &m.RoomID, &m.ProjectID, &m.UserID, &m.UserName, &m.Body, &m.ClientNonce, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("QueryRowContext(select message by nonce): %w", err)
	}
	return &m, nil
}

// AdvanceReadCursor moves the member's read cursor forward and returns the
// resulting cursor. The cursor never moves backwards.
func (s *SQLiteChatStore) AdvanceReadCursor(ctx context.Context, roomID, userID string, messageID int64) (int64, error) {
	if _, err := s.Member(ctx, roomID, userID); err != nil {
		return 0, err
	}

	query := `UPDATE room_members SET last_read_message_id = MAX(last_read_message_id, @message_id)
	          WHERE room_id = @room_id AND user_id = @user_id
	          RETURNING last_read_message_id`
	var cursor int64
	err := s.db.QueryRowContext(ctx, query,
		sql.Named("message_id", messageID), sql.Named("room_id", roomID), sql.Named("user_id", userID)).
		Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("QueryRowContext(update room_members): %w", err)
	}
	return cursor, nil
}
