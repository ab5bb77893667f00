package hub

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
)

// Stores groups the collaborators the gateway consults
type Stores struct {
	Users    domain.UserStore
	Messages domain.MessageStore
	Channels domain.ChannelAccessPolicy
	Friends  domain.FriendshipPolicy
	Guilds   domain.GuildMembershipPolicy
}

// MessageGateway authorizes, persists and fans out messages.
// It is the only hub component that talks to the stores.
type MessageGateway struct {
	stores       Stores
	registry     *ConnectionRegistry
	router       *GroupRouter
	locks        *keyedMutex
	eventBus     eventbus.Bus
	logger       *logging.Logger
	historyLimit int
	now          func() time.Time

	persisted atomic.Int64
	deleted   atomic.Int64
}

// NewMessageGateway creates a gateway
func NewMessageGateway(stores Stores, registry *ConnectionRegistry, router *GroupRouter, eventBus eventbus.Bus, logger *logging.Logger, historyLimit int) *MessageGateway {
	if historyLimit <= 0 {
		historyLimit = 200
	}

	return &MessageGateway{
		stores:       stores,
		registry:     registry,
		router:       router,
		locks:        newKeyedMutex(),
		eventBus:     eventBus,
		logger:       logger.WithFields(map[string]any{"component": "gateway"}),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// SendChannelMessage posts a text message to a channel
func (g *MessageGateway) SendChannelMessage(ctx context.Context, sender string, channelID int64, body string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalidArgument("text is required")
	}

	return g.sendChannel(ctx, sender, channelID, domain.EventReceiveChannelMessage, &domain.Message{
		Kind: domain.MessageKindText,
		Body: body,
	})
}

// SendChannelSticker posts a media-only message to a channel
func (g *MessageGateway) SendChannelSticker(ctx context.Context, sender string, channelID int64, mediaURL string) (*domain.Message, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return nil, invalidArgument("mediaUrl is required")
	}

	return g.sendChannel(ctx, sender, channelID, domain.EventReceiveChannelSticker, &domain.Message{
		Kind:     domain.MessageKindSticker,
		MediaURL: mediaURL,
	})
}

func (g *MessageGateway) sendChannel(ctx context.Context, sender string, channelID int64, event domain.Event, msg *domain.Message) (*domain.Message, error) {
	if channelID <= 0 {
		return nil, invalidArgument("channelId is required")
	}

	user, err := g.resolveSender(ctx, sender)
	if err != nil {
		return nil, err
	}

	if err := g.AuthorizeChannel(ctx, user.Username, channelID); err != nil {
		return nil, err
	}

	msg.SenderID = user.ID
	msg.SenderUsername = user.Username
	msg.Context = domain.ChannelMessageContext(channelID)

	unlock := g.locks.Lock(msg.ConversationKey())
	defer unlock()

	if err := g.persist(ctx, msg); err != nil {
		return nil, err
	}

	g.router.BroadcastToGroup(domain.ChannelGroupKey(channelID), event, newMessagePayload(msg))
	return msg, nil
}

// SendDirectMessage sends a text DM between friends
func (g *MessageGateway) SendDirectMessage(ctx context.Context, sender, recipient, body string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalidArgument("text is required")
	}

	return g.sendDirect(ctx, sender, recipient, domain.EventReceiveDirectMessage, &domain.Message{
		Kind: domain.MessageKindText,
		Body: body,
	})
}

// SendDirectAttachment sends a file DM between friends
func (g *MessageGateway) SendDirectAttachment(ctx context.Context, sender, recipient, mediaURL, fileName string) (*domain.Message, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return nil, invalidArgument("mediaUrl is required")
	}

	return g.sendDirect(ctx, sender, recipient, domain.EventReceiveDirectAttachment, &domain.Message{
		Kind:     domain.MessageKindAttachment,
		MediaURL: mediaURL,
		FileName: strings.TrimSpace(fileName),
	})
}

func (g *MessageGateway) sendDirect(ctx context.Context, sender, recipient string, event domain.Event, msg *domain.Message) (*domain.Message, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, invalidArgument("recipient is required")
	}
	if strings.EqualFold(sender, recipient) {
		return nil, invalidArgument("cannot send a direct message to yourself")
	}

	from, err := g.resolveSender(ctx, sender)
	if err != nil {
		return nil, err
	}

	to, err := g.resolveRecipient(ctx, recipient)
	if err != nil {
		return nil, err
	}

	if err := g.AuthorizeDirect(ctx, from.Username, to.Username); err != nil {
		return nil, err
	}

	msg.SenderID = from.ID
	msg.SenderUsername = from.Username
	msg.RecipientID = to.ID
	msg.Context = domain.DirectMessageContext(to.Username)

	unlock := g.locks.Lock(msg.ConversationKey())
	defer unlock()

	if err := g.persist(ctx, msg); err != nil {
		return nil, err
	}

	g.router.BroadcastToConnections(g.directAudience(from.Username, to.Username), event, newMessagePayload(msg))
	return msg, nil
}

// SendMessage broadcasts a text message to every connection
func (g *MessageGateway) SendMessage(ctx context.Context, sender, body string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalidArgument("text is required")
	}

	return g.sendBroadcast(ctx, sender, domain.EventReceiveMessage, &domain.Message{
		Kind: domain.MessageKindText,
		Body: body,
	})
}

// SendSticker broadcasts a sticker to every connection
func (g *MessageGateway) SendSticker(ctx context.Context, sender, mediaURL string) (*domain.Message, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return nil, invalidArgument("mediaUrl is required")
	}

	return g.sendBroadcast(ctx, sender, domain.EventReceiveSticker, &domain.Message{
		Kind:     domain.MessageKindSticker,
		MediaURL: mediaURL,
	})
}

func (g *MessageGateway) sendBroadcast(ctx context.Context, sender string, event domain.Event, msg *domain.Message) (*domain.Message, error) {
	user, err := g.resolveSender(ctx, sender)
	if err != nil {
		return nil, err
	}

	msg.SenderID = user.ID
	msg.SenderUsername = user.Username
	msg.Context = domain.BroadcastMessageContext()

	unlock := g.locks.Lock(msg.ConversationKey())
	defer unlock()

	if err := g.persist(ctx, msg); err != nil {
		return nil, err
	}

	g.router.BroadcastAll(event, newMessagePayload(msg))
	return msg, nil
}

// DeleteMessage removes a message owned by requester and notifies the
// audience of the original message.
func (g *MessageGateway) DeleteMessage(ctx context.Context, requester string, messageID int64) error {
	if messageID <= 0 {
		return invalidArgument("messageId is required")
	}

	user, err := g.resolveSender(ctx, requester)
	if err != nil {
		return err
	}

	msg, err := g.stores.Messages.Find(ctx, messageID)
	if err != nil {
		if stderrors.Is(err, domain.ErrRecordNotFound) {
			return errors.New(errors.ErrorTypeNotFound, errors.CodeMessageNotFound, "message not found").
				WithDetails(strconv.FormatInt(messageID, 10))
		}
		return persistenceFailure(err, "failed to load message")
	}

	if msg.SenderID != user.ID {
		return errors.New(errors.ErrorTypeForbidden, errors.CodeForbiddenNotOwner, "only the sender may delete a message")
	}

	unlock := g.locks.Lock(msg.ConversationKey())
	defer unlock()

	if err := g.stores.Messages.Remove(context.WithoutCancel(ctx), messageID); err != nil {
		if stderrors.Is(err, domain.ErrRecordNotFound) {
			return errors.New(errors.ErrorTypeNotFound, errors.CodeMessageNotFound, "message not found")
		}
		return persistenceFailure(err, "failed to remove message")
	}

	g.deleted.Add(1)
	g.publish(eventbus.EventMessageDeleted, msg)

	payload := DeletedPayload{MessageID: msg.ID, Context: msg.Context, Sender: msg.SenderUsername}
	switch msg.Context.Kind {
	case domain.ContextChannel:
		g.router.BroadcastToGroup(domain.ChannelGroupKey(msg.Context.ChannelID), domain.EventMessageDeleted, payload)
	case domain.ContextDirect:
		g.router.BroadcastToConnections(g.directAudience(msg.SenderUsername, msg.Context.Recipient), domain.EventMessageDeleted, payload)
	default:
		g.router.BroadcastAll(domain.EventMessageDeleted, payload)
	}

	return nil
}

// DirectHistory loads the latest messages between requester and peer
func (g *MessageGateway) DirectHistory(ctx context.Context, requester, peer string) (string, []*domain.Message, error) {
	if strings.TrimSpace(peer) == "" {
		return "", nil, invalidArgument("peer is required")
	}

	user, err := g.resolveSender(ctx, requester)
	if err != nil {
		return "", nil, err
	}

	other, err := g.resolveRecipient(ctx, peer)
	if err != nil {
		return "", nil, err
	}

	messages, err := g.stores.Messages.ConversationBetween(ctx, user.Username, other.Username, g.historyLimit)
	if err != nil {
		return "", nil, persistenceFailure(err, "failed to load direct history")
	}

	return other.Username, messages, nil
}

// ChannelHistory loads the latest messages of a channel the requester may post to
func (g *MessageGateway) ChannelHistory(ctx context.Context, requester string, channelID int64) ([]*domain.Message, error) {
	if channelID <= 0 {
		return nil, invalidArgument("channelId is required")
	}

	if err := g.AuthorizeChannel(ctx, requester, channelID); err != nil {
		return nil, err
	}

	messages, err := g.stores.Messages.RecentForChannel(ctx, channelID, g.historyLimit)
	if err != nil {
		return nil, persistenceFailure(err, "failed to load channel history")
	}

	return messages, nil
}

// AuthorizeChannel checks that username may post to channelID
func (g *MessageGateway) AuthorizeChannel(ctx context.Context, username string, channelID int64) error {
	ok, err := g.stores.Channels.CanPost(ctx, username, channelID)
	if err != nil {
		if stderrors.Is(err, domain.ErrRecordNotFound) {
			return errors.New(errors.ErrorTypeNotFound, errors.CodeChannelNotFound, "channel not found").
				WithDetails(strconv.FormatInt(channelID, 10))
		}
		return persistenceFailure(err, "failed to check channel access")
	}
	if !ok {
		return errors.New(errors.ErrorTypeForbidden, errors.CodeForbiddenChannel, "not a member of this channel").
			WithDetails(strconv.FormatInt(channelID, 10))
	}
	return nil
}

// AuthorizeGuild checks that username belongs to guildID
func (g *MessageGateway) AuthorizeGuild(ctx context.Context, username string, guildID int64) error {
	ok, err := g.stores.Guilds.IsGuildMember(ctx, username, guildID)
	if err != nil {
		return persistenceFailure(err, "failed to check guild membership")
	}
	if !ok {
		return errors.New(errors.ErrorTypeForbidden, errors.CodeForbiddenGuild, "not a member of this guild").
			WithDetails(strconv.FormatInt(guildID, 10))
	}
	return nil
}

// AuthorizeDirect checks that username and peer are friends
func (g *MessageGateway) AuthorizeDirect(ctx context.Context, username, peer string) error {
	friends, err := g.stores.Friends.AreFriends(ctx, username, peer)
	if err != nil {
		return persistenceFailure(err, "failed to check friendship")
	}
	if !friends {
		return errors.New(errors.ErrorTypeForbidden, errors.CodeForbiddenNotFriend, "direct messages require friendship").
			WithDetails(peer)
	}
	return nil
}

// persist appends msg. A cancelled caller context does not abort the
// write: the sender disconnecting mid-send still saves the message.
func (g *MessageGateway) persist(ctx context.Context, msg *domain.Message) error {
	msg.Timestamp = g.now().UTC()

	id, err := g.stores.Messages.Append(context.WithoutCancel(ctx), msg)
	if err != nil {
		g.logger.Error("failed to persist message",
			"sender", msg.SenderUsername,
			"conversation", msg.ConversationKey(),
			"error", err,
		)
		return persistenceFailure(err, "failed to persist message")
	}

	msg.ID = id
	g.persisted.Add(1)
	g.publish(eventbus.EventMessagePersisted, msg)
	return nil
}

func (g *MessageGateway) directAudience(a, b string) []string {
	return append(g.registry.ConnectionsFor(b), g.registry.ConnectionsFor(a)...)
}

func (g *MessageGateway) resolveSender(ctx context.Context, username string) (*domain.User, error) {
	user, err := g.stores.Users.FindByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, domain.ErrRecordNotFound) {
			return nil, errors.New(errors.ErrorTypeUnknownSender, errors.CodeUnknownSender, "sender has no user record").
				WithDetails(username)
		}
		return nil, persistenceFailure(err, "failed to load sender")
	}
	return user, nil
}

func (g *MessageGateway) resolveRecipient(ctx context.Context, username string) (*domain.User, error) {
	user, err := g.stores.Users.FindByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, domain.ErrRecordNotFound) {
			return nil, errors.New(errors.ErrorTypeUnknownRecipient, errors.CodeUnknownRecipient, "recipient has no user record").
				WithDetails(username)
		}
		return nil, persistenceFailure(err, "failed to load recipient")
	}
	return user, nil
}

func (g *MessageGateway) publish(eventType eventbus.EventType, msg *domain.Message) {
	if g.eventBus == nil {
		return
	}

	event := eventbus.NewEvent(eventType, "gateway", map[string]any{
		"message_id":   msg.ID,
		"sender":       msg.SenderUsername,
		"conversation": msg.ConversationKey(),
	})
	g.eventBus.PublishAsync(event)
}

func invalidArgument(message string) *errors.Error {
	return errors.New(errors.ErrorTypeValidation, errors.CodeInvalidArgument, message)
}

func persistenceFailure(err error, message string) *errors.Error {
	return errors.Wrap(err, errors.ErrorTypePersistence, errors.CodePersistence, message)
}
