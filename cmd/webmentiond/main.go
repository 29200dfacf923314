// Command webmentiond runs a full Webmention service: a chi-routed HTTP
// server accepting and serving mentions, and a filesystem watcher that
// dispatches outgoing notifications whenever local content changes.
//
// Configuration is read from a .env file (process working directory, or
// /etc/webmention/webmentiond.env as a fallback) or OS environment
// variables, reloaded on SIGHUP:
//
//   - LISTEN_ADDR: bind address (default :8080)
//   - ENDPOINT_PATH: path the receiver listens on (default /api/webmention)
//   - BASE_URL: this site's own origin, used to restrict which targets are
//     accepted (required)
//   - WATCH_ROOT: directory to recursively watch for outgoing mentions
//     (optional; outgoing processing is disabled if unset)
//   - STORAGE_DSN: "memory", or a filesystem path to a SQLite database
//     (default memory)
//   - HTTP_TIMEOUT_SECS, USER_AGENT, SHUTDOWN_SECS: see webmention.Config
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	webmention "github.com/cvanloo/gowebmention"
	"github.com/cvanloo/gowebmention/storage/sqlstore"
)

const configFallbackPath = "/etc/webmention/webmentiond.env"

const (
	exitFailure     = 1
	exitConfigError = 2
)

func openStorage(dsn string) (webmention.Storage, func(), error) {
	if dsn == "" || dsn == "memory" {
		return webmention.NewMemoryStorage(), func() {}, nil
	}
	store, err := sqlstore.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage %q: %w", dsn, err)
	}
	return store, func() { store.Close() }, nil
}

func buildRouter(cfg webmention.Config, server *webmention.Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle(cfg.EndpointPath, server)

	return r
}

func run(ctx context.Context, reload <-chan os.Signal) (code int, reloadRequested bool) {
	cfg, err := webmention.LoadConfig(configFallbackPath)
	if err != nil {
		slog.Error("configuration error", "error", err)
		return exitConfigError, false
	}

	storage, closeStorage, err := openStorage(cfg.StorageDSN)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		return exitConfigError, false
	}
	defer closeStorage()

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		slog.Error("BASE_URL is not a valid URL", "error", err)
		return exitConfigError, false
	}

	parser := webmention.NewParser(webmention.WithParserUserAgent(cfg.UserAgent), webmention.WithParserTimeout(cfg.HTTPTimeout()))
	incoming := webmention.NewIncomingProcessor(storage, parser)
	incoming.OnMentionProcessed = func(m webmention.Mention) {
		slog.Info("webmention received", "source", m.Source, "target", m.Target, "type", m.Type)
	}
	incoming.OnMentionDeleted = func(m webmention.Mention) {
		slog.Info("webmention retracted", "source", m.Source, "target", m.Target)
	}

	server := webmention.NewServer(incoming, storage, webmention.WithAcceptsFunc(func(source, target string) bool {
		t, err := url.Parse(target)
		return err == nil && t.Host == base.Host
	}))
	go server.ProcessMentions()

	outgoing := webmention.NewOutgoingProcessor(storage)
	outgoing.UserAgent = cfg.UserAgent
	outgoing.Timeout = cfg.HTTPTimeout()

	var monitor *webmention.Monitor
	if cfg.WatchRoot != "" {
		monitor = webmention.NewMonitor(outgoing, func(path string) (string, bool) {
			rel, err := filepath.Rel(cfg.WatchRoot, path)
			if err != nil {
				return "", false
			}
			return cfg.BaseURL + "/" + filepath.ToSlash(rel), true
		}, cfg.WatchRoot, nil, 0)
		if err := monitor.Start(); err != nil {
			slog.Error("failed to start filesystem watcher", "error", err)
			return exitConfigError, false
		}
		defer monitor.Stop()
	}

	mux := buildRouter(cfg, server)
	handler := webmention.LinkHeaderMiddleware(cfg.BaseURL+cfg.EndpointPath, mux)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
	case <-reload:
		slog.Info("sighup received, reloading configuration")
		reloadRequested = true
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			code = exitFailure
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	httpServer.SetKeepAlivesEnabled(false)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	server.Shutdown(shutdownCtx)
	return code, reloadRequested
}

func main() {
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	for {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		code, reloadRequested := run(ctx, reload)
		cancel()
		if code != 0 {
			os.Exit(code)
		}
		if !reloadRequested {
			return
		}
	}
}
