package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/remote"
	"github.com/roach88/rollcall/internal/store"
)

// App is everything a command needs, built from the loaded config.
type App struct {
	Config config.Config
	Store  *store.Store
	Engine *engine.Engine
}

// OpenApp loads config, configures logging and opens the local store.
func OpenApp(opts *RootOptions) (*App, error) {
	setupLogging(opts.Verbose)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	slog.Debug("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	client := remote.NewClient(cfg.APIBaseURL, cfg.Token, cfg.RemoteSettings())
	return &App{
		Config: cfg,
		Store:  st,
		Engine: engine.New(st, client),
	}, nil
}

// Close releases the store and ends the notification stream.
func (a *App) Close() {
	a.Engine.FanOut().Close()
	if err := a.Store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// AuthHeader is the handshake header for the live channel.
func (a *App) AuthHeader() http.Header {
	h := http.Header{}
	if a.Config.Token != "" {
		h.Set("Authorization", "Bearer "+a.Config.Token)
	}
	return h
}

// setupLogging configures slog based on the verbose flag.
func setupLogging(verbose bool) {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// Use command's context if available (for testing), otherwise create one.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
