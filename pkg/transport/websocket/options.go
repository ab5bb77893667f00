package websocket

import (
	"net/http"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
)

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string
	Client          ClientOptions
	Sessions        SessionHandler
	Principal       func(r *http.Request) string
	Logger          *logging.Logger
	EventBus        eventbus.Bus
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithSessionHandler sets the handler owning connection lifecycles
func WithSessionHandler(sessions SessionHandler) ServerOption {
	return func(o *ServerOptions) {
		o.Sessions = sessions
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus for the server
func WithEventBus(eventBus eventbus.Bus) ServerOption {
	return func(o *ServerOptions) {
		o.EventBus = eventBus
	}
}

// WithAllowedOrigins restricts upgrades to the given origins.
// An empty list or a "*" entry accepts every origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(o *ServerOptions) {
		o.AllowedOrigins = origins
	}
}

// WithClientOptions sets the options of every accepted connection
func WithClientOptions(options ClientOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Client = options
	}
}

// WithPrincipal sets the function extracting the authenticated principal
// from the upgrade request
func WithPrincipal(fn func(r *http.Request) string) ServerOption {
	return func(o *ServerOptions) {
		o.Principal = fn
	}
}
