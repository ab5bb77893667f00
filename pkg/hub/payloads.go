package hub

import (
	"time"

	"github.com/HMasataka/chathub/pkg/domain"
)

// MessagePayload is the body of every Receive* event and of history entries
type MessagePayload struct {
	MessageID int64              `json:"messageId"`
	Kind      domain.MessageKind `json:"kind"`
	ChannelID int64              `json:"channelId,omitempty"`
	Sender    string             `json:"sender"`
	Recipient string             `json:"recipient,omitempty"`
	Text      string             `json:"text,omitempty"`
	MediaURL  string             `json:"mediaUrl,omitempty"`
	FileName  string             `json:"fileName,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// DeliveryID makes message events idempotent per connection
func (p MessagePayload) DeliveryID() int64 {
	return p.MessageID
}

func newMessagePayload(m *domain.Message) MessagePayload {
	return MessagePayload{
		MessageID: m.ID,
		Kind:      m.Kind,
		ChannelID: m.Context.ChannelID,
		Sender:    m.SenderUsername,
		Recipient: m.Context.Recipient,
		Text:      m.Body,
		MediaURL:  m.MediaURL,
		FileName:  m.FileName,
		Timestamp: m.Timestamp,
	}
}

func newMessagePayloads(messages []*domain.Message) []MessagePayload {
	out := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		out = append(out, newMessagePayload(m))
	}
	return out
}

// DeletedPayload is the body of MessageDeleted
type DeletedPayload struct {
	MessageID int64                 `json:"messageId"`
	Context   domain.MessageContext `json:"context"`
	Sender    string                `json:"sender"`
}

// TypingPayload is the body of UserTyping and UserStopTyping
type TypingPayload struct {
	Username  string             `json:"username"`
	Kind      domain.ContextKind `json:"kind"`
	ChannelID int64              `json:"channelId,omitempty"`
	Recipient string             `json:"recipient,omitempty"`
}

// PresencePayload is the body of UserConnected and UserDisconnected
type PresencePayload struct {
	Username string `json:"username"`
}

// UserListPayload is the body of UserList
type UserListPayload struct {
	Users []string `json:"users"`
}

// RegisteredPayload acknowledges RegisterUser
type RegisteredPayload struct {
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

// DirectHistoryPayload answers OpenDirectChannel
type DirectHistoryPayload struct {
	Peer     string           `json:"peer"`
	Messages []MessagePayload `json:"messages"`
}

// ChannelHistoryPayload answers LoadChannelHistory
type ChannelHistoryPayload struct {
	ChannelID int64            `json:"channelId"`
	Messages  []MessagePayload `json:"messages"`
}

// ErrorPayload is the body of Error, sent to the invoking connection only
type ErrorPayload struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}
