package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed describes fixture data loaded at startup
type Seed struct {
	Users       []string         `yaml:"users"`
	Guilds      []SeedGuild      `yaml:"guilds"`
	Friendships []SeedFriendship `yaml:"friendships"`
}

type SeedGuild struct {
	ID       int64         `yaml:"id"`
	Name     string        `yaml:"name"`
	Owner    string        `yaml:"owner"`
	Members  []string      `yaml:"members"`
	Channels []SeedChannel `yaml:"channels"`
}

type SeedChannel struct {
	ID      int64    `yaml:"id"`
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type SeedFriendship struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Status string `yaml:"status"`
}

// LoadSeed reads a YAML seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &seed, nil
}

// Apply inserts the seed. Applying the same seed twice is a no-op.
func (s *Store) Apply(ctx context.Context, seed *Seed) error {
	for _, name := range seed.Users {
		if _, err := s.CreateUser(ctx, name); err != nil {
			return fmt.Errorf("seed user %s: %w", name, err)
		}
	}

	for _, g := range seed.Guilds {
		if err := s.CreateGuild(ctx, g.ID, g.Name, g.Owner); err != nil {
			return fmt.Errorf("seed guild %d: %w", g.ID, err)
		}
		for _, member := range g.Members {
			if err := s.AddGuildMember(ctx, g.ID, member); err != nil {
				return fmt.Errorf("seed guild %d member %s: %w", g.ID, member, err)
			}
		}
		for _, ch := range g.Channels {
			if err := s.CreateChannel(ctx, ch.ID, g.ID, ch.Name); err != nil {
				return fmt.Errorf("seed channel %d: %w", ch.ID, err)
			}
			for _, member := range ch.Members {
				if err := s.AddChannelMember(ctx, ch.ID, member); err != nil {
					return fmt.Errorf("seed channel %d member %s: %w", ch.ID, member, err)
				}
			}
		}
	}

	for _, f := range seed.Friendships {
		status := f.Status
		if status == "" {
			status = FriendshipAccepted
		}
		if err := s.AddFriendship(ctx, f.From, f.To, status); err != nil {
			return fmt.Errorf("seed friendship %s->%s: %w", f.From, f.To, err)
		}
	}

	s.logger.Info("seed applied",
		"users", len(seed.Users),
		"guilds", len(seed.Guilds),
		"friendships", len(seed.Friendships),
	)
	return nil
}
