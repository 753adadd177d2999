package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	chatter "github.com/putto11262002/projectchat/app"
	"github.com/putto11262002/projectchat/core"
	"github.com/putto11262002/projectchat/internal/devserver"
	"github.com/putto11262002/projectchat/pkg/server"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dbFile := flag.String("db", "./projectchat.db", "SQLite database file")
	secret := flag.String("secret", "dev-secret", "token signing secret")
	project := flag.String("project", "", "seed a chat room for this project id")
	members := flag.String("members", "", "comma separated id:name members of the seeded room")
	mint := flag.String("mint", "", "print a token for this user id and exit")
	mintName := flag.String("name", "", "user name of the minted token")
	logLevel := flag.String("log", "info", "log level")
	certFile := flag.String("tls-cert", "", "TLS certificate file")
	keyFile := flag.String("tls-key", "", "TLS key file")
	flag.Parse()

	if *mint != "" {
		token, _, err := core.NewToken(*mint, *mintName, 24*time.Hour, []byte(*secret))
		if err != nil {
			failed(1, "mint token: %v\n", err)
		}
		fmt.Println(token)
		return
	}

	logger := chatter.NewLogger(os.Stdout, *logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	db, err := devserver.NewSQLiteDB(*dbFile, &devserver.SQLiteDBOption{
		Mode:        "rwc",
		JournalMode: "WAL",
	})
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	if err := db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	wg := &sync.WaitGroup{}
	s := devserver.New(ctx, wg, db.DB, []byte(*secret), logger)

	if *project != "" {
		id, err := s.Store().CreateRoom(ctx, *project, "Project "+*project, parseMembers(*members))
		switch {
		case errors.Is(err, devserver.ErrRoomExists):
			logger.Info(fmt.Sprintf("project %s already has a chat room", *project))
		case err != nil:
			failed(1, "seed room: %v\n", err)
		default:
			logger.Info(fmt.Sprintf("seeded room %s for project %s", id, *project))
		}
	}

	srv := server.New(*addr, s.Handler(), logger)
	srv.CertFile, srv.KeyFile = *certFile, *keyFile
	srv.CleanUpFuncs = append(srv.CleanUpFuncs, func(context.Context) {
		wg.Wait()
		db.Close()
	})
	if err := srv.Start(ctx); err != nil {
		failed(1, "%v\n", err)
	}
}

func parseMembers(s string) []core.RoomMember {
	var members []core.RoomMember
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, _ := strings.Cut(part, ":")
		members = append(members, core.RoomMember{UserID: id, UserName: name})
	}
	return members
}

func failed(code int, s string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, s, args...)
	os.Exit(code)
}
