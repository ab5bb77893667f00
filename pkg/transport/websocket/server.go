package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// SessionHandler owns the lifecycle of accepted connections
type SessionHandler interface {
	// Connect is called once the connection is upgraded, before any frame is read
	Connect(client domain.Client, principal string) error

	// Handle processes one inbound frame of the connection
	Handle(ctx context.Context, connID string, raw []byte) error

	// Disconnect is called after the connection is gone
	Disconnect(connID string)
}

// Server represents a WebSocket server
type Server struct {
	upgrader  websocket.Upgrader
	sessions  SessionHandler
	logger    *logging.Logger
	eventBus  eventbus.Bus
	options   ServerOptions
	origins   map[string]struct{}
	anyOrigin bool
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Client:          DefaultClientOptions(),
		Logger:          logging.Discard(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	s := &Server{
		sessions: options.Sessions,
		logger:   options.Logger,
		eventBus: options.EventBus,
		options:  options,
		origins:  make(map[string]struct{}),
	}

	for _, origin := range options.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			s.anyOrigin = true
			continue
		}
		if normalized, ok := normalizeOrigin(origin); ok {
			s.origins[normalized] = struct{}{}
		}
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  options.ReadBufferSize,
		WriteBufferSize: options.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connID := xid.New().String()
	client := NewClient(connID, conn, s.logger, s.options.Client)

	client.Receive(func(message []byte) error {
		return s.sessions.Handle(client.Context(), connID, message)
	})

	principal := ""
	if s.options.Principal != nil {
		principal = s.options.Principal(r)
	}

	if err := s.sessions.Connect(client, principal); err != nil {
		s.logger.Error("failed to accept connection",
			"error", err,
			"conn_id", connID,
		)
		client.Close()
		return
	}

	s.publish(eventbus.EventConnectionOpened, map[string]string{
		"conn_id":     connID,
		"remote_addr": r.RemoteAddr,
	})

	client.Start()

	s.logger.Info("connection opened",
		"conn_id", connID,
		"remote_addr", r.RemoteAddr,
	)

	<-client.Context().Done()
	client.Close()

	s.sessions.Disconnect(connID)

	s.publish(eventbus.EventConnectionClosed, map[string]string{
		"conn_id": connID,
	})

	s.logger.Info("connection closed", "conn_id", connID)
}

func (s *Server) publish(eventType eventbus.EventType, data map[string]string) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.PublishAsync(eventbus.NewEvent(eventType, "websocket-server", data))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.anyOrigin || len(s.origins) == 0 {
		return true
	}

	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}

	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}

	if _, allowed := s.origins[normalized]; allowed {
		return true
	}

	s.logger.Warn("blocked websocket connection from disallowed origin", "origin", header)
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
