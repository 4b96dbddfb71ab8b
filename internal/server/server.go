// Package server exposes the campus map over HTTP: the REST API, the static
// web client and one WebSocket session per browser, each driving its own
// locator Engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/uttop/campusmap/internal/campus"
	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/logging"
	"github.com/uttop/campusmap/internal/position"
	"github.com/uttop/campusmap/internal/routing"
	"github.com/uttop/campusmap/internal/storage"
	"github.com/uttop/campusmap/internal/tracking"
)

const instrumentationName = "github.com/uttop/campusmap/internal/server"

// RouteFinder computes walking routes.
type RouteFinder interface {
	Route(ctx context.Context, from, to routing.Endpoint) (routing.Route, error)
}

// PositionRecorder stores committed positions as telemetry.
type PositionRecorder interface {
	WritePosition(session string, u position.Update) error
}

// Options are the collaborators of a Server.
type Options struct {
	Server   config.ServerConfig
	Tracking config.TrackingConfig
	// ShareURL is the base of route share links; empty disables them.
	ShareURL string

	Storage   storage.Backend
	Catalog   *campus.Catalog
	Routes    RouteFinder
	Telemetry PositionRecorder

	Logger           *slog.Logger
	DispatcherLogger *logging.DispatcherLogger
	// Clock drives retries and request deadlines; defaults to the wall clock.
	Clock tracking.Clock
}

// Server owns the HTTP router, the WebSocket hub and the live sessions.
type Server struct {
	cfg       config.ServerConfig
	tracking  config.TrackingConfig
	shareURL  string
	store     storage.Backend
	catalog   *campus.Catalog
	resolver  *routing.Resolver
	routes    RouteFinder
	telemetry PositionRecorder
	logger    *slog.Logger
	dlog      *logging.DispatcherLogger
	clock     tracking.Clock

	hub      *Hub
	upgrader ws.Upgrader
	router   *gin.Engine

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup

	activeSessions metric.Int64UpDownCounter
}

// New wires a Server. Storage and Catalog are required.
func New(opts Options) (*Server, error) {
	if opts.Storage == nil {
		return nil, errors.New("server: storage backend is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("server: campus catalog is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = tracking.SystemClock{}
	}
	cfg := opts.Server
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		tracking:  opts.Tracking,
		shareURL:  opts.ShareURL,
		store:     opts.Storage,
		catalog:   opts.Catalog,
		resolver:  routing.NewResolver(opts.Catalog),
		routes:    opts.Routes,
		telemetry: opts.Telemetry,
		logger:    logger,
		dlog:      opts.DispatcherLogger,
		clock:     clock,
		hub:       newHub(logger),
		sessions:  make(map[string]*session),
		upgrader: ws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	active, err := otel.Meter(instrumentationName).Int64UpDownCounter(
		"campusmap.sessions.active",
		metric.WithDescription("Connected browser sessions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session gauge: %w", err)
	}
	s.activeSessions = active

	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the HTTP handler serving the API, the client and /ws.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", s.cfg.Addr, "static", s.cfg.StaticDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	err := httpSrv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close disconnects every browser and waits for their sessions to end.
func (s *Server) Close() {
	s.hub.closeAll()
	s.wg.Wait()
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) session(id string) (*session, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) serveWS(c *gin.Context) {
	if limit := s.cfg.MaxSessions; limit > 0 && s.Sessions() >= limit {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many sessions"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	cl := newClient(id, conn, s.cfg.WriteTimeout, s.logger.With("session", id))

	// the session outlives the upgrade request
	sess, err := s.newSession(context.Background(), id, cl)
	if err != nil {
		s.logger.Error("Failed to create session", "error", err)
		_ = cl.close()
		return
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.hub.add(cl)
	s.activeSessions.Add(context.Background(), 1)
	s.logger.Info("New WebSocket connection", "session", id, "remote", c.Request.RemoteAddr)

	s.wg.Add(1)
	go cl.writeLoop()
	go func() {
		defer s.wg.Done()
		sess.run()

		s.hub.remove(cl)
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		_ = cl.close()
		s.activeSessions.Add(context.Background(), -1)
		s.logger.Info("WebSocket connection closed", "session", id)
	}()
}

func (s *Server) sendInitialPOIs(ctx context.Context, c *client) {
	pois, err := s.store.ListPOIs(ctx)
	if err != nil {
		s.logger.Error("Failed to load POIs for new client", "error", err)
		return
	}
	if len(pois) > 0 {
		c.sendJSON(poiListMessage{Type: msgInitialPOIs, Data: pois})
	}
}

// findRoute resolves both endpoints and asks the routing service for a path.
func (s *Server) findRoute(ctx context.Context, from, to string, current *geo.Position) (routeMessage, error) {
	if s.routes == nil {
		return routeMessage{}, errors.New("routing is not configured")
	}

	var cur geo.Position
	if current != nil {
		cur = *current
	}
	start, err := s.resolver.Resolve(from, cur, current != nil)
	if err != nil {
		return routeMessage{}, fmt.Errorf("origin: %w", err)
	}
	end, err := s.resolver.Resolve(to, cur, current != nil)
	if err != nil {
		return routeMessage{}, fmt.Errorf("destination: %w", err)
	}

	r, err := s.routes.Route(ctx, start, end)
	if err != nil {
		return routeMessage{}, err
	}

	msg := routeMessage{
		Type:    msgRoute,
		Route:   r,
		Path:    geo.LatLngPath(r.Path),
		Summary: r.Summary(),
	}
	if s.shareURL != "" {
		link, err := routing.ShareURL(s.shareURL, start, end, current)
		if err != nil {
			s.logger.Debug("No share link for route", "error", err)
		} else {
			msg.ShareURL = link
		}
	}
	return msg, nil
}
