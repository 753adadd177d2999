package devserver

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/projectchat/core"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type StoreFixture struct {
	ctx      context.Context
	db       *SQLiteDB
	store    *SQLiteChatStore
	t        *testing.T
	tearDown func()
}

func NewStoreFixture(t *testing.T) *StoreFixture {
	ctx, cancel := context.WithCancel(context.Background())

	// every test gets its own named in-memory database
	db, err := NewSQLiteDB(uuid.NewString(), &SQLiteDBOption{Mode: "memory", Cache: "shared"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	return &StoreFixture{
		ctx:   ctx,
		db:    db,
		store: NewSQLiteChatStore(db.DB),
		t:     t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

func (f *StoreFixture) createRoom(projectID string, members ...core.RoomMember) string {
	id, err := f.store.CreateRoom(f.ctx, projectID, "Project "+projectID, members)
	require.NoError(f.t, err)
	return id
}

func (f *StoreFixture) createMessages(roomID, userID string, n int) []core.Message {
	messages := make([]core.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := f.store.CreateMessage(f.ctx, core.OutgoingMessage{
			RoomID: roomID,
			UserID: userID,
			Body:   "message " + uuid.NewString()[:8],
		})
		require.NoError(f.t, err)
		messages = append(messages, *m)
	}
	return messages
}

var (
	alice = core.RoomMember{UserID: "u1", UserName: "Alice"}
	bob   = core.RoomMember{UserID: "u2", UserName: "Bob"}
	carol = core.RoomMember{UserID: "u3", UserName: "Carol"}
)

type ServerFixture struct {
	*StoreFixture
	server *Server
	http   *httptest.Server
	roomID string
}

// NewServerFixture serves a room for project "p1" with alice and bob as members.
func NewServerFixture(t *testing.T) *ServerFixture {
	base := NewStoreFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(base.ctx)
	wg := &sync.WaitGroup{}
	s := New(ctx, wg, base.db.DB, testSecret, logger)
	ts := httptest.NewServer(s.Handler())

	f := &ServerFixture{
		StoreFixture: base,
		server:       s,
		http:         ts,
	}
	f.roomID = f.createRoom("p1", alice, bob)

	storeTearDown := base.tearDown
	f.tearDown = func() {
		ts.CloseClientConnections()
		ts.Close()
		cancel()
		wg.Wait()
		storeTearDown()
	}
	return f
}

func (f *ServerFixture) token(m core.RoomMember) string {
	token, _, err := core.NewToken(m.UserID, m.UserName, time.Hour, testSecret)
	require.NoError(f.t, err)
	return token
}

func (f *ServerFixture) client(m core.RoomMember) *core.HTTPClient {
	return core.NewHTTPClient(f.http.URL, core.WithToken(f.token(m)))
}

func (f *ServerFixture) transport(m core.RoomMember) *core.StreamTransport {
	return core.NewStreamTransport("ws"+strings.TrimPrefix(f.http.URL, "http")+"/ws",
		core.WithBearerToken(f.token(m)), core.WithReconnectDelay(50*time.Millisecond))
}
