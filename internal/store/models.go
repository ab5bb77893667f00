package store

import "time"

// User is a registered account. UsernameKey is the lowercased username
// and carries the uniqueness constraint.
type User struct {
	ID          int64     `gorm:"primaryKey"`
	Username    string    `gorm:"size:64;not null"`
	UsernameKey string    `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"not null"`
}

type Guild struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"size:100;not null"`
	OwnerID   int64     `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type GuildMember struct {
	GuildID  int64     `gorm:"primaryKey"`
	UserID   int64     `gorm:"primaryKey;index"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

type Channel struct {
	ID        int64     `gorm:"primaryKey"`
	GuildID   int64     `gorm:"not null;index"`
	Name      string    `gorm:"size:100;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type ChannelMember struct {
	ChannelID int64     `gorm:"primaryKey"`
	UserID    int64     `gorm:"primaryKey;index"`
	JoinedAt  time.Time `gorm:"autoCreateTime"`
}

// Friendship statuses
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship is directional: RequesterID asked AddresseeID
type Friendship struct {
	RequesterID int64     `gorm:"primaryKey"`
	AddresseeID int64     `gorm:"primaryKey;index"`
	Status      string    `gorm:"size:16;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

// Message holds exactly one of ChannelID or RecipientID, or neither for
// a broadcast message.
type Message struct {
	ID          int64     `gorm:"primaryKey"`
	SenderID    int64     `gorm:"not null;index"`
	RecipientID *int64    `gorm:"index"`
	ChannelID   *int64    `gorm:"index"`
	Kind        string    `gorm:"size:16;not null"`
	Body        string    `gorm:"type:text"`
	MediaURL    string    `gorm:"size:2048"`
	FileName    string    `gorm:"size:255"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

func models() []any {
	return []any{
		&User{},
		&Guild{},
		&GuildMember{},
		&Channel{},
		&ChannelMember{},
		&Friendship{},
		&Message{},
	}
}
