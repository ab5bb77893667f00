package store

import (
	"context"
	"strings"
	"time"

	"github.com/HMasataka/chathub/pkg/domain"
	"gorm.io/gorm/clause"
)

// FindByUsername implements domain.UserStore
func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u User
	if err := s.db.WithContext(ctx).Where("username_key = ?", usernameKey(username)).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return u.toDomain(), nil
}

// FindByID implements domain.UserStore
func (s *Store) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return u.toDomain(), nil
}

// CreateUser inserts username, or returns the existing user of that name
func (s *Store) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	u := User{
		Username:    strings.TrimSpace(username),
		UsernameKey: usernameKey(username),
		CreatedAt:   time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username_key"}}, DoNothing: true}).
		Create(&u).Error
	if err != nil {
		return nil, err
	}

	return s.FindByUsername(ctx, username)
}

// usernames maps user ids to usernames
func (s *Store) usernames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var users []User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

func (u *User) toDomain() *domain.User {
	return &domain.User{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}
