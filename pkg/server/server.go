package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const DefaultShutdownTimeout = 20 * time.Second

type Server struct {
	*http.Server
	// CleanUpFuncs is a list of functions that will be called when the server has successfully shutdown.
	CleanUpFuncs    []func(ctx context.Context)
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		Server:          &http.Server{Addr: addr, Handler: handler},
		ShutdownTimeout: DefaultShutdownTimeout,
		Logger:          logger,
	}
}

// Start serves until ctx is cancelled and then shuts down gracefully.
// The clean up functions run after the server has stopped accepting requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.Logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()

		err := s.Server.Shutdown(shutdownCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Warn("graceful shutdown timed out, closing connections")
			err = s.Server.Close()
		}

		for _, cf := range s.CleanUpFuncs {
			cf(shutdownCtx)
		}
		shutdownErr <- err
	}()

	s.Logger.Info(fmt.Sprintf("server started at %s", ln.Addr()))

	var err error
	if s.CertFile != "" && s.KeyFile != "" {
		s.Server.TLSConfig = DefaultTLSConfig.Clone()
		err = s.Server.ServeTLS(ln, s.CertFile, s.KeyFile)
	} else {
		err = s.Server.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
