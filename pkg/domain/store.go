package domain

import (
	"context"
	"time"
)

// User is the identity record the hub resolves usernames against
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserStore looks up users. Both methods return ErrRecordNotFound when absent.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
}

// MessageStore persists message envelopes
type MessageStore interface {
	// Append stores msg and returns the id assigned to it
	Append(ctx context.Context, msg *Message) (int64, error)

	// Find loads a stored message or returns ErrRecordNotFound
	Find(ctx context.Context, id int64) (*Message, error)

	// Remove deletes a stored message
	Remove(ctx context.Context, id int64) error

	// RecentForChannel returns up to limit latest channel messages, oldest first
	RecentForChannel(ctx context.Context, channelID int64, limit int) ([]*Message, error)

	// ConversationBetween returns up to limit latest DMs between two users, oldest first
	ConversationBetween(ctx context.Context, userA, userB string, limit int) ([]*Message, error)
}

// ChannelAccessPolicy decides channel posting rights. It returns
// ErrRecordNotFound when the channel does not exist.
type ChannelAccessPolicy interface {
	CanPost(ctx context.Context, username string, channelID int64) (bool, error)
}

// FriendshipPolicy decides whether two users may exchange direct messages
type FriendshipPolicy interface {
	AreFriends(ctx context.Context, usernameA, usernameB string) (bool, error)
}

// GuildMembershipPolicy decides whether a user may follow a guild's lifecycle events
type GuildMembershipPolicy interface {
	IsGuildMember(ctx context.Context, username string, guildID int64) (bool, error)
}
