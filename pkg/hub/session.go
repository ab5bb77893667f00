package hub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
	"github.com/HMasataka/chathub/pkg/transport/protocol"
	"golang.org/x/time/rate"
)

// RateLimit bounds how many operations of one kind a session may issue
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

func (r RateLimit) limiter() *rate.Limiter {
	burst := r.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := r.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}

// session is the per-connection state. A session starts anonymous and
// becomes registered once RegisterUser succeeds.
type session struct {
	connID    string
	client    domain.Client
	principal string
	limiter   *rate.Limiter

	typingLimiter *rate.Limiter

	base *logging.Logger

	mu       sync.RWMutex
	username string
	logger   *logging.Logger
}

func (s *session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *session) Logger() *logging.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *session) bind(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.logger = s.base.WithFields(map[string]any{"username": username})
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// HubSessionController wires connection lifecycles to the hub components
type HubSessionController struct {
	sessions sync.Map // map[string]*session

	registry *ConnectionRegistry
	router   *GroupRouter
	typing   *TypingCoordinator
	gateway  *MessageGateway
	presence *PresenceBroadcaster
	handlers *protocol.DefaultHandlerRegistry
	errors   errors.Handler
	eventBus eventbus.Bus
	logger   *logging.Logger
	limit    RateLimit

	typingLimit RateLimit
}

// NewHubSessionController creates a controller and registers every operation handler
func NewHubSessionController(
	registry *ConnectionRegistry,
	router *GroupRouter,
	typing *TypingCoordinator,
	gateway *MessageGateway,
	presence *PresenceBroadcaster,
	eventBus eventbus.Bus,
	logger *logging.Logger,
	limit RateLimit,
	typingLimit RateLimit,
) *HubSessionController {
	logger = logger.WithFields(map[string]any{"component": "sessions"})

	c := &HubSessionController{
		registry: registry,
		router:   router,
		typing:   typing,
		gateway:  gateway,
		presence: presence,
		handlers: protocol.NewHandlerRegistry(),
		errors:   errors.NewDefaultHandler(logger.Logger),
		eventBus: eventBus,
		logger:   logger,
		limit:    limit,

		typingLimit: typingLimit,
	}
	c.registerHandlers()

	return c
}

// Connect admits an anonymous connection. principal, when not empty, is
// the only username the connection may register as.
func (c *HubSessionController) Connect(client domain.Client, principal string) error {
	logger := c.logger.WithFields(map[string]any{"conn_id": client.ID()})
	s := &session{
		connID:    client.ID(),
		client:    client,
		principal: principal,
		limiter:   c.limit.limiter(),

		typingLimiter: c.typingLimit.limiter(),
		base:          logger,
		logger:        logger,
	}

	if _, loaded := c.sessions.LoadOrStore(client.ID(), s); loaded {
		return errors.New(errors.ErrorTypeInternal, errors.CodeInternal, "connection already connected").
			WithDetails(client.ID())
	}

	c.router.Attach(client)
	s.logger.Debug("session connected")
	return nil
}

// Disconnect tears down the session of connID. Group memberships are
// dropped with it; a user's last connection also clears their typing
// states and announces them offline.
func (c *HubSessionController) Disconnect(connID string) {
	v, ok := c.sessions.LoadAndDelete(connID)
	if !ok {
		return
	}
	s := v.(*session)

	c.router.Detach(connID)

	username, offline, registered := c.registry.Unregister(connID)
	if !registered {
		s.logger.Debug("anonymous session disconnected")
		return
	}

	if offline {
		c.typing.ClearUser(username)
		c.presence.Announce(Transition{Offline: username})
		c.publish(eventbus.EventUserOffline, map[string]string{"username": username})
	}
	c.presence.Refresh()

	s.Logger().Info("session disconnected", "offline", offline)
}

// Handle dispatches one inbound frame. Every failure is reported to the
// invoking connection as an Error event.
func (c *HubSessionController) Handle(ctx context.Context, connID string, raw []byte) error {
	v, ok := c.sessions.Load(connID)
	if !ok {
		return domain.ErrConnectionClosed
	}
	s := v.(*session)

	ctx = logging.WithLogger(withSession(ctx, s), s.Logger())

	req, reply, err := c.handlers.Dispatch(ctx, raw)

	ref := ""
	if req != nil {
		ref = req.ID
	}

	if err != nil {
		c.reject(ctx, s, ref, err)
		return err
	}

	if reply != nil {
		c.reply(ctx, s, reply)
	}

	return nil
}

// Sessions returns the number of connected sessions
func (c *HubSessionController) Sessions() int {
	count := 0
	c.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (c *HubSessionController) reply(ctx context.Context, s *session, frame *protocol.Frame) {
	data, err := frame.Marshal()
	if err != nil {
		s.Logger().Error("failed to encode reply", "type", frame.Type, "error", err)
		return
	}

	if err := s.client.Send(ctx, data); err != nil {
		s.Logger().Debug("failed to send reply", "type", frame.Type, "error", err)
	}
}

func (c *HubSessionController) reject(ctx context.Context, s *session, ref string, err error) {
	c.errors.HandleWithLogger(ctx, err, s.Logger().Logger)

	payload := ErrorPayload{
		Code:    errors.CodeInternal,
		Type:    errors.ErrorTypeInternal.String(),
		Message: "internal error",
		Ref:     ref,
	}

	var e *errors.Error
	if errors.As(err, &e) {
		payload.Code = e.Code
		payload.Type = e.Type.String()
		payload.Message = e.Message
	}

	c.router.SendTo(s.connID, domain.EventError, payload)
	c.publish(eventbus.EventOperationRejected, map[string]string{
		"conn_id": s.connID,
		"code":    payload.Code,
	})
}

func (c *HubSessionController) publish(eventType eventbus.EventType, data map[string]string) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.PublishAsync(eventbus.NewEvent(eventType, "sessions", data))
}

func sameUser(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
