package hub

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
	"github.com/HMasataka/chathub/pkg/transport/protocol"
)

type operationFunc func(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error)

type registerRequest struct {
	Username string `json:"username"`
}

type channelRequest struct {
	ChannelID int64  `json:"channelId"`
	Text      string `json:"text"`
	MediaURL  string `json:"mediaUrl"`
}

type guildRequest struct {
	GuildID int64 `json:"guildId"`
}

type broadcastRequest struct {
	Text     string `json:"text"`
	MediaURL string `json:"mediaUrl"`
}

type directRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	MediaURL  string `json:"mediaUrl"`
	FileName  string `json:"fileName"`
}

type openDirectRequest struct {
	Peer string `json:"peer"`
}

type deleteRequest struct {
	MessageID int64 `json:"messageId"`
}

type typingRequest struct {
	Context json.RawMessage `json:"context"`
}

func (c *HubSessionController) registerHandlers() {
	c.handle(domain.OpRegisterUser, c.registerUser)

	c.handle(domain.OpJoinChannel, c.registered(c.joinChannel))
	c.handle(domain.OpLeaveChannel, c.registered(c.leaveChannel))
	c.handle(domain.OpJoinGuildGroup, c.registered(c.joinGuildGroup))

	c.handle(domain.OpSendMessage, c.registered(c.limited(c.sendMessage)))
	c.handle(domain.OpSendSticker, c.registered(c.limited(c.sendSticker)))
	c.handle(domain.OpSendChannelMessage, c.registered(c.limited(c.sendChannelMessage)))
	c.handle(domain.OpSendChannelSticker, c.registered(c.limited(c.sendChannelSticker)))
	c.handle(domain.OpSendDirectMessage, c.registered(c.limited(c.sendDirectMessage)))
	c.handle(domain.OpSendDirectAttachment, c.registered(c.limited(c.sendDirectAttachment)))
	c.handle(domain.OpDeleteMessage, c.registered(c.limited(c.deleteMessage)))

	c.handle(domain.OpOpenDirectChannel, c.registered(c.openDirectChannel))
	c.handle(domain.OpLoadChannelHistory, c.registered(c.loadChannelHistory))

	c.handle(domain.OpTyping, c.registered(c.throttled(c.typingSignal)))
	c.handle(domain.OpStopTyping, c.registered(c.throttled(c.stopTypingSignal)))
}

func (c *HubSessionController) handle(op domain.Operation, fn operationFunc) {
	c.handlers.Register(string(op), protocol.HandlerFunc(func(ctx context.Context, frame *protocol.Frame) (*protocol.Frame, error) {
		s := sessionFrom(ctx)
		if s == nil {
			return nil, errors.New(errors.ErrorTypeInternal, errors.CodeInternal, "no session in context")
		}
		return fn(ctx, s, frame)
	}))
}

// registered rejects operations of anonymous sessions
func (c *HubSessionController) registered(fn operationFunc) operationFunc {
	return func(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
		if s.Username() == "" {
			return nil, errors.New(errors.ErrorTypeForbidden, errors.CodeNotRegistered, "RegisterUser must be called first")
		}
		return fn(ctx, s, frame)
	}
}

// limited charges one token of the session's send budget
func (c *HubSessionController) limited(fn operationFunc) operationFunc {
	return func(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
		if !s.limiter.Allow() {
			return nil, errors.New(errors.ErrorTypeRateLimited, errors.CodeRateLimited, "too many messages, slow down")
		}
		return fn(ctx, s, frame)
	}
}

// throttled charges one token of the session's typing budget
func (c *HubSessionController) throttled(fn operationFunc) operationFunc {
	return func(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
		if !s.typingLimiter.Allow() {
			return nil, errors.New(errors.ErrorTypeRateLimited, errors.CodeRateLimited, "too many typing signals, slow down")
		}
		return fn(ctx, s, frame)
	}
}

func decode(frame *protocol.Frame, v any) error {
	if err := frame.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, errors.CodeInvalidArgument, "invalid payload").
			WithDetails(frame.Type)
	}
	return nil
}

func (c *HubSessionController) registerUser(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req registerRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, invalidArgument("username is required")
	}

	if s.principal != "" && !sameUser(s.principal, username) {
		return nil, errors.New(errors.ErrorTypeForbidden, errors.CodeForbiddenIdentity, "username does not match the authenticated identity")
	}

	previous := s.Username()
	t := c.registry.Register(s.connID, username)
	s.bind(username)

	// groups joined under another identity were authorized for that identity
	if previous != "" && !sameUser(previous, username) {
		c.leaveAll(s)
	}

	c.router.SendTo(s.connID, domain.EventRegistered, RegisteredPayload{
		Username:     username,
		ConnectionID: s.connID,
	})

	if t.Offline != "" {
		c.typing.ClearUser(t.Offline)
		c.publish(eventbus.EventUserOffline, map[string]string{"username": t.Offline})
	}
	if t.Online != "" {
		c.publish(eventbus.EventUserOnline, map[string]string{"username": t.Online})
	}
	c.presence.Announce(t, s.connID)
	c.presence.Refresh()

	s.Logger().Info("session registered", "online", t.Online != "")
	return nil, nil
}

func (c *HubSessionController) joinChannel(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req channelRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}
	if req.ChannelID <= 0 {
		return nil, invalidArgument("channelId is required")
	}

	if err := c.gateway.AuthorizeChannel(ctx, s.Username(), req.ChannelID); err != nil {
		return nil, err
	}

	c.router.Join(s.connID, domain.ChannelGroupKey(req.ChannelID))
	return nil, nil
}

func (c *HubSessionController) leaveChannel(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req channelRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}
	if req.ChannelID <= 0 {
		return nil, invalidArgument("channelId is required")
	}

	c.router.Leave(s.connID, domain.ChannelGroupKey(req.ChannelID))
	c.typing.Clear(s.Username(), domain.ChannelTyping{ChannelID: req.ChannelID})
	return nil, nil
}

func (c *HubSessionController) joinGuildGroup(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req guildRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}
	if req.GuildID <= 0 {
		return nil, invalidArgument("guildId is required")
	}

	if err := c.gateway.AuthorizeGuild(ctx, s.Username(), req.GuildID); err != nil {
		return nil, err
	}

	c.router.Join(s.connID, domain.GuildGroupKey(req.GuildID))
	return nil, nil
}

func (c *HubSessionController) sendMessage(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req broadcastRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	_, err := c.gateway.SendMessage(ctx, s.Username(), req.Text)
	return nil, err
}

func (c *HubSessionController) sendSticker(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req broadcastRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	_, err := c.gateway.SendSticker(ctx, s.Username(), req.MediaURL)
	return nil, err
}

func (c *HubSessionController) sendChannelMessage(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req channelRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	if _, err := c.gateway.SendChannelMessage(ctx, s.Username(), req.ChannelID, req.Text); err != nil {
		return nil, err
	}

	c.typing.Clear(s.Username(), domain.ChannelTyping{ChannelID: req.ChannelID})
	return nil, nil
}

func (c *HubSessionController) sendChannelSticker(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req channelRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	if _, err := c.gateway.SendChannelSticker(ctx, s.Username(), req.ChannelID, req.MediaURL); err != nil {
		return nil, err
	}

	c.typing.Clear(s.Username(), domain.ChannelTyping{ChannelID: req.ChannelID})
	return nil, nil
}

func (c *HubSessionController) sendDirectMessage(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req directRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	if _, err := c.gateway.SendDirectMessage(ctx, s.Username(), req.Recipient, req.Text); err != nil {
		return nil, err
	}

	c.typing.Clear(s.Username(), domain.DirectTyping{Recipient: req.Recipient})
	return nil, nil
}

func (c *HubSessionController) sendDirectAttachment(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req directRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	if _, err := c.gateway.SendDirectAttachment(ctx, s.Username(), req.Recipient, req.MediaURL, req.FileName); err != nil {
		return nil, err
	}

	c.typing.Clear(s.Username(), domain.DirectTyping{Recipient: req.Recipient})
	return nil, nil
}

func (c *HubSessionController) deleteMessage(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req deleteRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	return nil, c.gateway.DeleteMessage(ctx, s.Username(), req.MessageID)
}

func (c *HubSessionController) openDirectChannel(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req openDirectRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	peer, messages, err := c.gateway.DirectHistory(ctx, s.Username(), req.Peer)
	if err != nil {
		return nil, err
	}

	return newReply(domain.EventDirectHistory, DirectHistoryPayload{
		Peer:     peer,
		Messages: newMessagePayloads(messages),
	})
}

func (c *HubSessionController) loadChannelHistory(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	var req channelRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	messages, err := c.gateway.ChannelHistory(ctx, s.Username(), req.ChannelID)
	if err != nil {
		return nil, err
	}

	return newReply(domain.EventChannelHistory, ChannelHistoryPayload{
		ChannelID: req.ChannelID,
		Messages:  newMessagePayloads(messages),
	})
}

func (c *HubSessionController) typingSignal(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	tc, err := decodeTyping(frame)
	if err != nil {
		return nil, err
	}

	if err := c.authorizeTyping(ctx, s, tc); err != nil {
		return nil, err
	}

	c.typing.Typing(s.Username(), tc)
	return nil, nil
}

func (c *HubSessionController) stopTypingSignal(ctx context.Context, s *session, frame *protocol.Frame) (*protocol.Frame, error) {
	tc, err := decodeTyping(frame)
	if err != nil {
		return nil, err
	}

	if err := c.authorizeTyping(ctx, s, tc); err != nil {
		return nil, err
	}

	c.typing.StopTyping(s.Username(), tc)
	return nil, nil
}

// authorizeTyping admits channel signals from connections joined to the
// channel and direct signals between friends.
func (c *HubSessionController) authorizeTyping(ctx context.Context, s *session, tc domain.TypingContext) error {
	switch t := tc.(type) {
	case domain.ChannelTyping:
		if !slices.Contains(c.router.Groups(s.connID), domain.ChannelGroupKey(t.ChannelID)) {
			return errors.New(errors.ErrorTypeForbidden, errors.CodeForbiddenChannel, "join the channel before typing in it").
				WithDetails(strconv.FormatInt(t.ChannelID, 10))
		}
	case domain.DirectTyping:
		return c.gateway.AuthorizeDirect(ctx, s.Username(), t.Recipient)
	}
	return nil
}

func (c *HubSessionController) leaveAll(s *session) {
	for _, key := range c.router.Groups(s.connID) {
		c.router.Leave(s.connID, key)
	}
}

func decodeTyping(frame *protocol.Frame) (domain.TypingContext, error) {
	var req typingRequest
	if err := decode(frame, &req); err != nil {
		return nil, err
	}

	tc, err := domain.DecodeTypingContext(req.Context)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, errors.CodeInvalidArgument, "invalid typing context")
	}
	return tc, nil
}

func newReply(event domain.Event, payload any) (*protocol.Frame, error) {
	frame, err := protocol.NewFrame(string(event), payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, errors.CodeInternal, "failed to encode reply")
	}
	return frame, nil
}
