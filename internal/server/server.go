package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	"github.com/HMasataka/chathub/internal/config"
	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/hub"
	"github.com/HMasataka/chathub/pkg/transport/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger reports whether a backing service answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the hub over HTTP
type Server struct {
	cfg    *config.Config
	hub    *hub.Hub
	pinger Pinger
	ws     *websocket.Server
	http   *http.Server
	logger *logging.Logger
}

// New builds the HTTP server. pinger may be nil.
func New(cfg *config.Config, h *hub.Hub, pinger Pinger, bus eventbus.Bus, logger *logging.Logger) *Server {
	logger = logger.WithFields(map[string]any{"component": "http"})

	s := &Server{
		cfg:    cfg,
		hub:    h,
		pinger: pinger,
		logger: logger,
	}

	s.ws = websocket.NewServer(
		websocket.WithSessionHandler(h.Sessions),
		websocket.WithLogger(logger),
		websocket.WithEventBus(bus),
		websocket.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		websocket.WithPrincipal(PrincipalFrom),
		websocket.WithClientOptions(websocket.ClientOptions{
			SendQueueSize:  cfg.Hub.SendQueueSize,
			WriteTimeout:   cfg.Hub.WriteTimeout,
			ReadTimeout:    cfg.Hub.ReadTimeout,
			PingInterval:   cfg.Hub.PingInterval,
			MaxMessageSize: cfg.Hub.MaxMessageSize,
		}),
	)

	s.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// Router returns the chi router serving every route
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.With(RequireToken(s.cfg.Auth.JWTSecret, s.logger)).Get("/ws", s.ws.ServeHTTP)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(RequireInternalToken(s.cfg.Auth.InternalToken))
		r.Post("/guilds/{guildID}/events", s.handleGuildEvent)
		r.Post("/users/{username}/events", s.handleUserEvent)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown
	s.hub.Stop()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
