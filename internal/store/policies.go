package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/HMasataka/chathub/pkg/domain"
	"gorm.io/gorm/clause"
)

// CanPost implements domain.ChannelAccessPolicy. Channel members and the
// owner of the channel's guild may post.
func (s *Store) CanPost(ctx context.Context, username string, channelID int64) (bool, error) {
	var ch Channel
	if err := s.db.WithContext(ctx).First(&ch, channelID).Error; err != nil {
		return false, notFound(err)
	}

	user, err := s.FindByUsername(ctx, username)
	if stderrors.Is(err, domain.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var members int64
	err = s.db.WithContext(ctx).Model(&ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, user.ID).
		Count(&members).Error
	if err != nil {
		return false, err
	}
	if members > 0 {
		return true, nil
	}

	var owners int64
	err = s.db.WithContext(ctx).Model(&Guild{}).
		Where("id = ? AND owner_id = ?", ch.GuildID, user.ID).
		Count(&owners).Error
	return owners > 0, err
}

// AreFriends implements domain.FriendshipPolicy. An accepted friendship
// in either direction counts.
func (s *Store) AreFriends(ctx context.Context, usernameA, usernameB string) (bool, error) {
	a, err := s.FindByUsername(ctx, usernameA)
	if stderrors.Is(err, domain.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	b, err := s.FindByUsername(ctx, usernameB)
	if stderrors.Is(err, domain.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&Friendship{}).
		Where("status = ?", FriendshipAccepted).
		Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)", a.ID, b.ID, b.ID, a.ID).
		Count(&count).Error
	return count > 0, err
}

// IsGuildMember implements domain.GuildMembershipPolicy. The owner is a member.
func (s *Store) IsGuildMember(ctx context.Context, username string, guildID int64) (bool, error) {
	user, err := s.FindByUsername(ctx, username)
	if stderrors.Is(err, domain.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var g Guild
	if err := s.db.WithContext(ctx).First(&g, guildID).Error; err != nil {
		if stderrors.Is(notFound(err), domain.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if g.OwnerID == user.ID {
		return true, nil
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&GuildMember{}).
		Where("guild_id = ? AND user_id = ?", guildID, user.ID).
		Count(&count).Error
	return count > 0, err
}

// CreateGuild inserts a guild owned by owner
func (s *Store) CreateGuild(ctx context.Context, id int64, name, owner string) error {
	u, err := s.FindByUsername(ctx, owner)
	if err != nil {
		return err
	}

	g := Guild{ID: id, Name: name, OwnerID: u.ID, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&g).Error
}

// AddGuildMember adds username to guildID
func (s *Store) AddGuildMember(ctx context.Context, guildID int64, username string) error {
	u, err := s.FindByUsername(ctx, username)
	if err != nil {
		return err
	}

	m := GuildMember{GuildID: guildID, UserID: u.ID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

// CreateChannel inserts a channel of guildID
func (s *Store) CreateChannel(ctx context.Context, id, guildID int64, name string) error {
	ch := Channel{ID: id, GuildID: guildID, Name: name, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ch).Error
}

// AddChannelMember grants username posting rights in channelID
func (s *Store) AddChannelMember(ctx context.Context, channelID int64, username string) error {
	u, err := s.FindByUsername(ctx, username)
	if err != nil {
		return err
	}

	m := ChannelMember{ChannelID: channelID, UserID: u.ID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

// AddFriendship records a friendship request from requester to addressee
func (s *Store) AddFriendship(ctx context.Context, requester, addressee, status string) error {
	r, err := s.FindByUsername(ctx, requester)
	if err != nil {
		return err
	}
	a, err := s.FindByUsername(ctx, addressee)
	if err != nil {
		return err
	}

	f := Friendship{RequesterID: r.ID, AddresseeID: a.ID, Status: status, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "requester_id"}, {Name: "addressee_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status"}),
		}).
		Create(&f).Error
}
