package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/HMasataka/chathub/internal/config"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the gorm backed persistence of users, guilds, channels,
// friendships and messages. It implements every store and policy
// interface the hub consumes.
type Store struct {
	db     *gorm.DB
	logger *logging.Logger
}

var (
	_ domain.UserStore             = (*Store)(nil)
	_ domain.MessageStore          = (*Store)(nil)
	_ domain.ChannelAccessPolicy   = (*Store)(nil)
	_ domain.FriendshipPolicy      = (*Store)(nil)
	_ domain.GuildMembershipPolicy = (*Store)(nil)
)

// Open connects to the configured database and migrates the schema when
// AutoMigrate is set.
func Open(cfg config.StoreConfig, logger *logging.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if strings.Contains(cfg.DSN, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// every pooled connection would get its own empty in-memory database
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Store{
		db:     db,
		logger: logger.WithFields(map[string]any{"component": "store", "driver": cfg.Driver}),
	}

	if cfg.AutoMigrate {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}

	s.logger.Info("store opened")
	return s, nil
}

func dialectorFor(cfg config.StoreConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		sqlDB, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open pgx: %w", err)
		}
		return postgres.New(postgres.Config{Conn: sqlDB}), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Migrate creates or updates the schema
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notFound translates gorm's sentinel into the domain one
func notFound(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrRecordNotFound
	}
	return err
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
