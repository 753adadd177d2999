package chatter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/putto11262002/projectchat/core"
)

const (
	cmdOpen  = "/open"
	cmdClose = "/close"
	cmdOlder = "/older"
	cmdQuit  = "/quit"
)

var errQuit = errors.New("quit")

// Console renders the store to a writer and forwards lines read from a
// reader to the controller. Plain lines are sent as messages.
type Console struct {
	controller *core.Controller
	projectID  string
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger

	mu     sync.Mutex
	seen   map[int64]struct{}
	status core.ConnStatus
	unread int
}

func NewConsole(controller *core.Controller, projectID string, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		controller: controller,
		projectID:  projectID,
		in:         in,
		out:        out,
		logger:     logger,
		seen:       make(map[int64]struct{}),
	}
}

// Run enters the project's room and serves input until /quit, the end of
// input or ctx is done. The room is left on return.
func (c *Console) Run(ctx context.Context) error {
	unsubscribe := c.controller.Store().Subscribe(c.render)
	defer unsubscribe()
	c.controller.OnError(c.rejected)
	defer c.controller.OnError(nil)

	if err := c.controller.Enter(ctx, c.projectID); err != nil {
		if core.IsNotFound(err) {
			fmt.Fprintf(c.out, "no chat room for project %s\n", c.projectID)
			return nil
		}
		return fmt.Errorf("enter project %s: %w", c.projectID, err)
	}
	defer c.controller.Leave()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if err := c.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(c.out, "! %v\n", err)
			}
		}
	}
}

func (c *Console) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil
	case cmdQuit:
		return errQuit
	case cmdOpen:
		c.controller.SetVisible(ctx, true)
		return nil
	case cmdClose:
		c.controller.SetVisible(ctx, false)
		return nil
	case cmdOlder:
		n, err := c.controller.LoadOlder(ctx, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(c.out, "no older messages")
		}
		return nil
	}

	if err := c.controller.Send(ctx, line); err != nil {
		if errors.Is(err, core.ErrNotSent) {
			return fmt.Errorf("message not sent, try again")
		}
		return err
	}
	return nil
}

func (c *Console) rejected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "! %v\n", err)
}

// render prints what changed since the previous state. It runs inside a
// store dispatch and must not call back into the controller.
func (c *Console) render(s core.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Room == nil {
		clear(c.seen)
		c.unread = 0
	}

	if s.Status != c.status {
		c.status = s.Status
		fmt.Fprintf(c.out, "[%s]\n", s.Status)
	}

	for _, m := range s.Messages {
		if _, ok := c.seen[m.ID]; ok {
			continue
		}
		c.seen[m.ID] = struct{}{}
		fmt.Fprintf(c.out, "%s %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.UserName, m.Body)
	}

	if s.UnreadCount != c.unread {
		c.unread = s.UnreadCount
		if s.UnreadCount > 0 {
			fmt.Fprintf(c.out, "(%d unread)\n", s.UnreadCount)
		}
	}
}
