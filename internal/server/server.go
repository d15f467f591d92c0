// Package server hosts the rendered pages over HTTP for development
// and embedding. It exposes the page-render hook and the catch-all
// page handler, a websocket live-reload endpoint backed by the file
// watcher, a rendered-output cache, and a health endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/executor"
	"github.com/viewmill/viewmill/internal/logging"
	"github.com/viewmill/viewmill/internal/registry"
	"github.com/viewmill/viewmill/internal/version"
	"github.com/viewmill/viewmill/internal/watcher"
)

// watchDebounce batches bursts of file events before the cache is
// cleared and browsers are told to reload.
const watchDebounce = 300 * time.Millisecond

// Server serves registry pages with live reload.
type Server struct {
	cfg  *config.Config
	reg  *registry.Registry
	exec *executor.Executor
	log  logging.Logger

	hub   *hub
	cache *outputCache

	watcher *watcher.Watcher

	httpServer *http.Server
	serverMu   sync.RWMutex

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New assembles a server over an already-discovered registry.
func New(cfg *config.Config, reg *registry.Registry, exec *executor.Executor, log logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithComponent("server")

	s := &Server{
		cfg:  cfg,
		reg:  reg,
		exec: exec,
		log:  log,
		hub:  newHub(log),
	}

	if cfg.Cache.Enabled {
		cache, err := newOutputCache(cfg.Cache.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("output cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Handler returns the full HTTP handler: routes wrapped in the CORS
// and request-logging middleware. Useful for tests and for mounting
// the server inside a larger mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/", s.PageHandler(nil))
	return s.withMiddleware(mux)
}

// Start runs the hub, the file watcher when watching is enabled, and
// the HTTP listener. It blocks until the listener stops; cancelling
// ctx triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.hub.run(runCtx)

	if s.reg.Watching() {
		s.startWatcher(runCtx)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.serverMu.Lock()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	srv := s.httpServer
	s.serverMu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		s.Shutdown(shutdownCtx)
	}()

	s.log.Info(ctx, "server listening",
		"addr", addr,
		"watching", s.reg.Watching(),
		"cache", s.cache != nil)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) startWatcher(ctx context.Context) {
	fw, err := watcher.New(s.cfg.Source.Root, s.reg.Engines().Extensions(), watchDebounce, s.log)
	if err != nil {
		s.log.Warn(ctx, err, "file watcher unavailable, live reload disabled")
		return
	}
	fw.OnChange(s.handleSourceChange)
	if err := fw.Start(ctx); err != nil {
		s.log.Warn(ctx, err, "file watcher failed to start, live reload disabled")
		return
	}
	s.watcher = fw
}

// handleSourceChange reacts to a debounced batch of file events: the
// output cache is cleared wholesale and connected browsers reload.
// Recompilation itself stays lazy, the next render of each changed
// page picks the new source up.
func (s *Server) handleSourceChange(events []watcher.Event) {
	paths := make([]string, 0, len(events))
	for _, ev := range events {
		paths = append(paths, ev.Path)
	}

	s.log.Info(context.Background(), "sources changed", "paths", paths)

	if s.cache != nil {
		s.cache.invalidate()
	}
	s.hub.announce(paths)
}

// Shutdown stops the watcher, disconnects reload clients, and shuts
// the listener down gracefully. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.log.Info(ctx, "shutting down")

		if s.cancel != nil {
			s.cancel()
		}
		if s.watcher != nil {
			s.watcher.Stop()
		}
		s.hub.closeAll()
		if s.cache != nil {
			s.cache.close()
		}

		s.serverMu.RLock()
		srv := s.httpServer
		s.serverMu.RUnlock()

		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if s.cfg.Server.Environment == "development" {
			// Wildcard only in development.
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug(r.Context(), "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) allowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin validated above
	})
	if err != nil {
		s.log.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.hub,
	}

	go c.writePump()
	go c.readPump()

	s.hub.register <- c
}

// checkOrigin validates the Origin header of a websocket upgrade:
// same host as the request, a configured allowed origin, or the local
// development pairs.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if u.Host == r.Host {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	localHosts := []string{
		fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		fmt.Sprintf("localhost:%d", s.cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.Port),
	}
	for _, host := range localHosts {
		if u.Host == host {
			return true
		}
	}

	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"version":   version.GetVersion(),
		"watching":  s.reg.Watching(),
		"pages":     len(s.reg.Pages()),
		"clients":   s.hub.count(),
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.log.Warn(r.Context(), err, "health encode failed")
	}
}
