package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageKind distinguishes what a message carries
type MessageKind string

const (
	MessageKindText       MessageKind = "text"
	MessageKindSticker    MessageKind = "sticker"
	MessageKindAttachment MessageKind = "attachment"
)

// ContextKind identifies the conversation a message belongs to
type ContextKind string

const (
	// ContextNone is the legacy broadcast-to-everyone conversation
	ContextNone    ContextKind = "none"
	ContextChannel ContextKind = "channel"
	ContextDirect  ContextKind = "dm"
)

// MessageContext holds exactly one of a channel id or a DM recipient
type MessageContext struct {
	Kind      ContextKind `json:"kind"`
	ChannelID int64       `json:"channelId,omitempty"`
	Recipient string      `json:"recipient,omitempty"`
}

// ChannelMessageContext returns the context of a channel conversation
func ChannelMessageContext(channelID int64) MessageContext {
	return MessageContext{Kind: ContextChannel, ChannelID: channelID}
}

// DirectMessageContext returns the context of a DM addressed to recipient
func DirectMessageContext(recipient string) MessageContext {
	return MessageContext{Kind: ContextDirect, Recipient: recipient}
}

// BroadcastMessageContext returns the legacy broadcast context
func BroadcastMessageContext() MessageContext {
	return MessageContext{Kind: ContextNone}
}

// Message is the envelope persisted by the store and broadcast by the hub.
// It is never mutated after Append returns.
type Message struct {
	ID             int64          `json:"messageId"`
	SenderID       int64          `json:"-"`
	SenderUsername string         `json:"sender"`
	RecipientID    int64          `json:"-"`
	Kind           MessageKind    `json:"kind"`
	Body           string         `json:"text,omitempty"`
	MediaURL       string         `json:"mediaUrl,omitempty"`
	FileName       string         `json:"fileName,omitempty"`
	Context        MessageContext `json:"context"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ConversationKey returns the key that serializes sends within one conversation
func (m *Message) ConversationKey() string {
	switch m.Context.Kind {
	case ContextChannel:
		return ChannelGroupKey(m.Context.ChannelID)
	case ContextDirect:
		return DirectGroupKey(m.SenderUsername, m.Context.Recipient)
	default:
		return "broadcast"
	}
}

// ChannelGroupKey returns the group of a channel
func ChannelGroupKey(channelID int64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

// GuildGroupKey returns the group of a guild
func GuildGroupKey(guildID int64) string {
	return fmt.Sprintf("guild:%d", guildID)
}

// DirectGroupKey returns the canonical key of the DM pair, smaller name first.
// Names are compared case-insensitively so the key matches the registry lookups.
func DirectGroupKey(userA, userB string) string {
	a, b := strings.ToLower(userA), strings.ToLower(userB)
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}
