package hub

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
)

// Config tunes the hub
type Config struct {
	TypingTimeout time.Duration
	DedupeWindow  int
	HistoryLimit  int
	RateLimit     RateLimit
	TypingLimit   RateLimit
}

// DefaultConfig returns the default hub configuration
func DefaultConfig() Config {
	return Config{
		TypingTimeout: 3 * time.Second,
		DedupeWindow:  256,
		HistoryLimit:  200,
		RateLimit: RateLimit{
			Burst:          10,
			RefillInterval: time.Second,
		},
		TypingLimit: RateLimit{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// Option customizes a Hub
type Option func(*Hub)

// WithClock replaces the clock used to stamp persisted messages
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.Gateway.now = now
	}
}

// Hub owns one instance of every component for the lifetime of a server
type Hub struct {
	Registry *ConnectionRegistry
	Router   *GroupRouter
	Typing   *TypingCoordinator
	Gateway  *MessageGateway
	Presence *PresenceBroadcaster
	Sessions *HubSessionController

	logger    *logging.Logger
	startTime time.Time

	stopOnce sync.Once
	stopped  atomic.Bool
}

// NewHub wires the components together
func NewHub(cfg Config, stores Stores, eventBus eventbus.Bus, logger *logging.Logger, opts ...Option) *Hub {
	logger = logger.WithFields(map[string]any{"component": "hub"})

	registry := NewConnectionRegistry()
	router := NewGroupRouter(cfg.DedupeWindow, logger)
	typing := NewTypingCoordinator(registry, router, cfg.TypingTimeout, logger)
	gateway := NewMessageGateway(stores, registry, router, eventBus, logger, cfg.HistoryLimit)
	presence := NewPresenceBroadcaster(registry, router)
	sessions := NewHubSessionController(registry, router, typing, gateway, presence, eventBus, logger, cfg.RateLimit, cfg.TypingLimit)

	h := &Hub{
		Registry:  registry,
		Router:    router,
		Typing:    typing,
		Gateway:   gateway,
		Presence:  presence,
		Sessions:  sessions,
		logger:    logger,
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Start starts the hub
func (h *Hub) Start(ctx context.Context) error {
	h.logger.Info("hub started")
	return nil
}

// Stop cancels typing expiries and closes every connection
func (h *Hub) Stop() error {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		h.logger.Info("stopping hub")
		h.Typing.Stop()
		h.Router.CloseAll()
		h.logger.Info("hub stopped")
	})
	return nil
}

// PublishGuildEvent routes a guild lifecycle event to the guild group
func (h *Hub) PublishGuildEvent(guildID int64, event domain.Event, payload json.RawMessage) (int, error) {
	if h.stopped.Load() {
		return 0, errors.Wrap(domain.ErrHubStopped, errors.ErrorTypeInternal, errors.CodeInternal, "hub is stopped")
	}
	if guildID <= 0 {
		return 0, invalidArgument("guildId is required")
	}
	if !domain.IsGuildEvent(event) {
		return 0, invalidArgument("not a guild event").WithDetails(string(event))
	}
	if err := validatePassthrough(payload); err != nil {
		return 0, err
	}

	delivered := h.Router.BroadcastToGroup(domain.GuildGroupKey(guildID), event, passthrough(payload))
	h.logger.Debug("guild event published",
		"guild_id", strconv.FormatInt(guildID, 10),
		"event", event,
		"delivered", delivered,
	)
	return delivered, nil
}

// NotifyUser pushes a user-addressed event to every connection of username
func (h *Hub) NotifyUser(username string, event domain.Event, payload json.RawMessage) (int, error) {
	if h.stopped.Load() {
		return 0, errors.Wrap(domain.ErrHubStopped, errors.ErrorTypeInternal, errors.CodeInternal, "hub is stopped")
	}
	if strings.TrimSpace(username) == "" {
		return 0, invalidArgument("username is required")
	}
	if !domain.IsUserEvent(event) {
		return 0, invalidArgument("not a user event").WithDetails(string(event))
	}
	if err := validatePassthrough(payload); err != nil {
		return 0, err
	}

	if !h.Registry.IsOnline(username) {
		h.logger.Debug("user event dropped, user offline", "username", username, "event", event)
		return 0, nil
	}

	return h.Router.BroadcastToConnections(h.Registry.ConnectionsFor(username), event, passthrough(payload)), nil
}

// Stats returns a snapshot of the hub counters
func (h *Hub) Stats() domain.HubStats {
	return domain.HubStats{
		Connections:          h.Router.ConnectionCount(),
		OnlineUsers:          len(h.Registry.OnlineUsers()),
		FramesSent:           h.Router.framesSent.Load(),
		DeliveryFailures:     h.Router.deliveryFailures.Load(),
		DuplicatesSuppressed: h.Router.Duplicates(),
		MessagesPersisted:    h.Gateway.persisted.Load(),
		MessagesDeleted:      h.Gateway.deleted.Load(),
		Uptime:               time.Since(h.startTime).Seconds(),
	}
}

func passthrough(payload json.RawMessage) any {
	if len(payload) == 0 {
		return json.RawMessage("{}")
	}
	return payload
}

// validatePassthrough rejects payloads that are not JSON
func validatePassthrough(payload json.RawMessage) error {
	if len(payload) > 0 && !json.Valid(payload) {
		return errors.New(errors.ErrorTypeValidation, errors.CodeInvalidArgument, "payload is not valid JSON")
	}
	return nil
}
