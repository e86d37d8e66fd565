package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chatwarden/warden/punish"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v3"
)

// Role lookups per guild, on top of the REST client. Implements the
// capabilities the punishment executor needs.
type RoleManager struct {
	Client *Client
	Logger *slog.Logger

	handles *expirable.LRU[string, punish.RoleHandle]
	locks   *xsync.MapOf[string, *sync.Mutex]
}

var _ punish.Roles = (*RoleManager)(nil)

func NewRoleManager(c *Client, logger *slog.Logger) *RoleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleManager{
		Client:  c,
		Logger:  logger.With("component", "roles"),
		handles: expirable.NewLRU[string, punish.RoleHandle](1000, nil, 10*time.Minute),
		locks:   xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// Finds the role by exact name, creating it (and its channel overwrites) if
// the guild has none.
func (m *RoleManager) EnsureRole(ctx context.Context, scope, name string, attrs punish.RoleAttrs) (punish.RoleHandle, error) {
	cacheKey := scope + "/" + name
	if h, ok := m.handles.Get(cacheKey); ok {
		return h, nil
	}

	mu, _ := m.locks.LoadOrCompute(scope, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()
	defer mu.Unlock()

	roles, err := m.Client.GetGuildRoles(ctx, scope)
	if err != nil {
		return punish.RoleHandle{}, fmt.Errorf("listing roles: %w", err)
	}
	for _, r := range roles {
		if r.Name == name {
			h := punish.RoleHandle{ID: r.ID, Name: r.Name}
			m.handles.Add(cacheKey, h)
			return h, nil
		}
	}

	role, err := m.Client.CreateGuildRole(ctx, scope, RoleCreate{Name: name, Color: attrs.Color}, attrs.Reason)
	if err != nil {
		return punish.RoleHandle{}, fmt.Errorf("creating role: %w", err)
	}
	m.Logger.Info("created role", "scope", scope, "role", role.ID, "name", name)

	if attrs.DenySendMessages {
		if err := m.denySend(ctx, scope, role.ID, attrs.Reason); err != nil {
			return punish.RoleHandle{}, err
		}
	}
	h := punish.RoleHandle{ID: role.ID, Name: role.Name}
	m.handles.Add(cacheKey, h)
	return h, nil
}

// Overwrites every channel so the role cannot post. Individual channel
// failures are logged and skipped.
func (m *RoleManager) denySend(ctx context.Context, scope, roleID, reason string) error {
	channels, err := m.Client.GetGuildChannels(ctx, scope)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	failed := 0
	for _, ch := range channels {
		ow := PermissionOverwrite{
			ID:   roleID,
			Type: OverwriteTypeRole,
			Deny: Permissions(PermSendMessages | PermSendMessagesInThreads | PermAddReactions),
		}
		if err := m.Client.EditChannelPermissions(ctx, ch.ID, ow, reason); err != nil {
			failed++
			m.Logger.Warn("failed to set channel overwrite", "scope", scope, "channel", ch.ID, "err", err)
		}
	}
	if failed > 0 {
		m.Logger.Warn("some channel overwrites failed", "scope", scope, "failed", failed, "channels", len(channels))
	}
	return nil
}

// A 404 may mean the role itself was deleted, so the cached handle is dropped
// and the next EnsureRole looks it up again.
func (m *RoleManager) GrantRole(ctx context.Context, scope, subject, roleID, reason string) error {
	err := m.Client.AddMemberRole(ctx, scope, subject, roleID, reason)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.IsNotFound() {
		m.forgetRole(scope, roleID)
	}
	return err
}

func (m *RoleManager) RevokeRole(ctx context.Context, scope, subject, roleID, reason string) error {
	return m.Client.RemoveMemberRole(ctx, scope, subject, roleID, reason)
}

func (m *RoleManager) forgetRole(scope, roleID string) {
	for _, k := range m.handles.Keys() {
		if h, ok := m.handles.Peek(k); ok && h.ID == roleID && strings.HasPrefix(k, scope+"/") {
			m.handles.Remove(k)
		}
	}
}
