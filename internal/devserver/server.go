// Package devserver is a small backend for the chat API. It serves the room,
// history, send and read-cursor endpoints over HTTP and the room topics over a
// websocket, backed by SQLite.
package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/cors"
	"github.com/putto11262002/projectchat/core"
	"github.com/putto11262002/projectchat/pkg/router"
)

type Server struct {
	store  *SQLiteChatStore
	hub    *Hub
	router *router.Router
	logger *slog.Logger
	secret []byte
}

type Option func(*serverOptions)

type serverOptions struct {
	allowedOrigins []string
}

func WithAllowedOrigins(origins ...string) Option {
	return func(o *serverOptions) {
		o.allowedOrigins = origins
	}
}

func New(ctx context.Context, wg *sync.WaitGroup, db *sql.DB, secret []byte, logger *slog.Logger, opts ...Option) *Server {
	o := serverOptions{allowedOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		store:  NewSQLiteChatStore(db),
		logger: logger,
		secret: secret,
	}
	s.hub = NewHub(ctx, wg, s.store, logger.With(slog.String("component", "hub")))
	s.hub.OnConnectionOpened(func(userID string, id int64) {
		logger.Info(fmt.Sprintf("stream connection opened: %s:%d", userID, id))
	})
	s.hub.OnConnectionClosed(func(userID string, id int64) {
		logger.Info(fmt.Sprintf("stream connection closed: %s:%d", userID, id))
	})

	s.router = router.New(router.WithLogger(logger))
	s.router.RegisterErrorMapper(ErrRoomNotFound, func(err error) router.Error {
		return router.NewJsonError(http.StatusNotFound, ErrRoomNotFound.Error())
	})
	s.router.RegisterErrorMapper(ErrNotMember, func(err error) router.Error {
		return router.NewJsonError(http.StatusForbidden, ErrNotMember.Error())
	})
	s.router.RegisterErrorMapper(core.ErrValidation, func(err error) router.Error {
		return router.WrapJsonError(http.StatusBadRequest, err)
	})

	s.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   o.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	s.router.Group(func(r *router.Router) {
		r.Use(BearerMiddleware(secret))
		r.Get("/ws", s.streamHandler)
		r.Get("/projects/{projectID}/chat-room", s.roomHandler)
		r.Get("/chat-rooms/{roomID}/messages", s.messagesHandler)
		r.Post("/chat-rooms/{roomID}/messages", s.sendHandler)
		r.Put("/chat-rooms/{roomID}/read-cursor", s.readCursorHandler)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Store() *SQLiteChatStore {
	return s.store
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) error {
	session := SessionFromRequest(r)
	if err := s.hub.Connect(session.UserID, w, r); err != nil {
		// the upgrader has already replied
		s.logger.Warn(err.Error())
	}
	return nil
}

func (s *Server) roomHandler(w http.ResponseWriter, r *http.Request) error {
	session := SessionFromRequest(r)
	room, err := s.store.RoomByProject(r.Context(), r.PathValue("projectID"))
	if err != nil {
		return err
	}
	if _, ok := room.Member(session.UserID); !ok {
		return ErrNotMember
	}
	return router.WriteJSON(w, http.StatusOK, room)
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := SessionFromRequest(r)
	roomID := r.PathValue("roomID")
	if _, err := s.store.Member(r.Context(), roomID, session.UserID); err != nil {
		return err
	}

	var before int64
	var limit int
	var err error
	if v := r.URL.Query().Get("before"); v != "" {
		if before, err = strconv.ParseInt(v, 10, 64); err != nil || before < 0 {
			return router.NewJsonError(http.StatusBadRequest, "invalid before")
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return router.NewJsonError(http.StatusBadRequest, "invalid limit")
		}
	}

	messages, err := s.store.Messages(r.Context(), roomID, before, limit)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, messages)
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) error {
	session := SessionFromRequest(r)
	var msg core.OutgoingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid payload")
	}
	r.Body.Close()

	msg.RoomID = r.PathValue("roomID")
	msg.UserID = session.UserID
	if err := msg.Validate(); err != nil {
		return err
	}

	m, err := s.store.CreateMessage(r.Context(), msg)
	if err != nil {
		return err
	}
	if err := s.hub.Broadcast(core.RoomTopic(m.RoomID), core.MessageEvent, m); err != nil {
		s.logger.Warn(fmt.Sprintf("broadcast message %d: %v", m.ID, err))
	}
	return router.WriteJSON(w, http.StatusCreated, m)
}

func (s *Server) readCursorHandler(w http.ResponseWriter, r *http.Request) error {
	session := SessionFromRequest(r)
	var payload core.ReadCursor
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid payload")
	}
	r.Body.Close()

	roomID := r.PathValue("roomID")
	cursor, err := s.store.AdvanceReadCursor(r.Context(), roomID, session.UserID, payload.LastReadMessageID)
	if err != nil {
		return err
	}

	rc := core.ReadCursor{RoomID: roomID, UserID: session.UserID, LastReadMessageID: cursor}
	if err := s.hub.Broadcast(core.RoomTopic(roomID), core.ReadCursorEvent, rc); err != nil {
		s.logger.Warn(fmt.Sprintf("broadcast read cursor: %v", err))
	}
	return router.WriteJSON(w, http.StatusOK, rc)
}
