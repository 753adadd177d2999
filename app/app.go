package chatter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/putto11262002/projectchat/core"
	"github.com/putto11262002/projectchat/pkg/server"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config     *Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *core.Metrics
	controller *core.Controller
	console    *Console
}

// New wires the chat client described by config. The console reads input
// from in and renders to out; logs go to logOut.
func New(config *Config, in io.Reader, out, logOut io.Writer) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", FormatValidationErrors(err))
	}
	identity, err := config.Identity()
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	app := &App{
		config:   config,
		logger:   NewLogger(logOut, config.Log.Level),
		registry: prometheus.NewRegistry(),
	}
	app.metrics = core.NewMetrics(app.registry)

	api := core.NewHTTPClient(config.API.BaseURL,
		core.WithHTTPTimeout(config.API.Timeout),
		core.WithToken(config.Auth.Token),
		core.WithHTTPLogger(app.logger.With(slog.String("component", "http"))),
	)
	transport := core.NewStreamTransport(config.Stream.URL,
		core.WithReconnectDelay(config.Stream.ReconnectDelay),
		core.WithBearerToken(config.Auth.Token),
		core.WithTransportLogger(app.logger.With(slog.String("component", "stream"))),
		core.WithTransportMetrics(app.metrics),
	)
	app.controller = core.NewController(api, transport, core.NewStore(), identity,
		core.WithControllerLogger(app.logger.With(slog.String("component", "controller"))),
		core.WithControllerMetrics(app.metrics),
		core.WithVisible(true),
	)
	app.console = NewConsole(app.controller, config.Project.ID, in, out, app.logger)
	return app, nil
}

// Run serves the console until it quits or ctx is done, along with the
// metrics endpoint when one is configured.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the metrics server stops with the console
		defer cancel()
		return app.console.Run(ctx)
	})

	if app.config.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
		srv := server.New(app.config.Metrics.Addr, mux, app.logger.With(slog.String("component", "metrics")))
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	return g.Wait()
}

// NewLogger returns a text logger with trimmed source paths.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}
