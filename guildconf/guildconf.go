package guildconf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chatwarden/warden/kvstore"
)

const configNamespace = "guild-config"

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
)

// Moderation settings for one guild.
type Config struct {
	GuildID      string   `json:"guild_id"`
	LogChannelID string   `json:"log_channel_id,omitempty"`
	ModRoleIDs   []string `json:"mod_role_ids"`
}

func (c *Config) IsModRole(roleID string) bool {
	return slices.Contains(c.ModRoleIDs, roleID)
}

// Guild settings persisted in a kvstore namespace, one JSON document per guild.
type Store struct {
	KV        kvstore.Store
	Namespace string

	// serializes read-modify-write cycles
	lk sync.Mutex
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{
		KV:        kv,
		Namespace: configNamespace,
	}
}

// Returns an empty config (not an error) for guilds never configured.
func (s *Store) Get(ctx context.Context, guildID string) (*Config, error) {
	raw, err := s.KV.Get(ctx, s.Namespace, guildID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return &Config{GuildID: guildID, ModRoleIDs: []string{}}, nil
	} else if err != nil {
		return nil, fmt.Errorf("loading guild config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding guild config for %s: %w", guildID, err)
	}
	c.GuildID = guildID
	if c.ModRoleIDs == nil {
		c.ModRoleIDs = []string{}
	}
	return &c, nil
}

func (s *Store) update(ctx context.Context, guildID string, fn func(c *Config) error) (*Config, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	c, err := s.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	if err := s.KV.Put(ctx, s.Namespace, guildID, raw); err != nil {
		return nil, fmt.Errorf("saving guild config: %w", err)
	}
	return c, nil
}

func (s *Store) SetLogChannel(ctx context.Context, guildID, channelID string) (*Config, error) {
	return s.update(ctx, guildID, func(c *Config) error {
		c.LogChannelID = channelID
		return nil
	})
}

func (s *Store) AddModRole(ctx context.Context, guildID, roleID string) (*Config, error) {
	return s.update(ctx, guildID, func(c *Config) error {
		if c.IsModRole(roleID) {
			return ErrAlreadyExists
		}
		c.ModRoleIDs = append(c.ModRoleIDs, roleID)
		return nil
	})
}

func (s *Store) RemoveModRole(ctx context.Context, guildID, roleID string) (*Config, error) {
	return s.update(ctx, guildID, func(c *Config) error {
		idx := slices.Index(c.ModRoleIDs, roleID)
		if idx < 0 {
			return ErrNotFound
		}
		c.ModRoleIDs = slices.Delete(c.ModRoleIDs, idx, idx+1)
		return nil
	})
}

// Reports whether a member holding memberRoles counts as a moderator in the
// guild. Administrator rights are checked by the caller.
func (s *Store) IsModerator(ctx context.Context, guildID string, memberRoles []string) (bool, error) {
	c, err := s.Get(ctx, guildID)
	if err != nil {
		return false, err
	}
	for _, r := range memberRoles {
		if c.IsModRole(r) {
			return true, nil
		}
	}
	return false, nil
}
