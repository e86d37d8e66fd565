package commands

import (
	"context"
	"fmt"

	"github.com/chatwarden/warden/discord"
	"github.com/chatwarden/warden/ledger"
)

func intPtr(n int) *int { return &n }

func boolPtr(b bool) *bool { return &b }

func userOption(desc string) discord.ApplicationCommandOption {
	return discord.ApplicationCommandOption{Type: discord.OptionTypeUser, Name: "user", Description: desc, Required: true}
}

// The slash commands handled by Handler.
func Definitions() []discord.ApplicationCommand {
	guildOnly := boolPtr(false)
	return []discord.ApplicationCommand{
		{
			Name:        "warn",
			Description: "Warn a member",
			Options: []discord.ApplicationCommandOption{
				userOption("Member to warn"),
				{Type: discord.OptionTypeString, Name: "reason", Description: "Reason for the warning", Required: true},
				{Type: discord.OptionTypeInteger, Name: "level", Description: "Severity (1-3)", MinValue: intPtr(ledger.MinSeverity), MaxValue: intPtr(ledger.MaxSeverity)},
			},
			DMPermission: guildOnly,
		},
		{
			Name:         "warnings",
			Description:  "Show a member's warnings",
			Options:      []discord.ApplicationCommandOption{userOption("Member to check")},
			DMPermission: guildOnly,
		},
		{
			Name:        "unwarn",
			Description: "Remove a warning",
			Options: []discord.ApplicationCommandOption{
				userOption("Member"),
				{Type: discord.OptionTypeString, Name: "id", Description: "Warning number, or 'all'", Required: true},
			},
			DMPermission: guildOnly,
		},
		{
			Name:         "unmute",
			Description:  "Lift an automatic mute",
			Options:      []discord.ApplicationCommandOption{userOption("Member to unmute")},
			DMPermission: guildOnly,
		},
		{
			Name:        "logchannel",
			Description: "Set the moderation log channel",
			Options: []discord.ApplicationCommandOption{
				{Type: discord.OptionTypeChannel, Name: "channel", Description: "Channel for moderation logs", Required: true},
			},
			DMPermission: guildOnly,
		},
		{
			Name:        "modrole",
			Description: "Add a moderator role",
			Options: []discord.ApplicationCommandOption{
				{Type: discord.OptionTypeRole, Name: "role", Description: "Moderator role", Required: true},
			},
			DMPermission: guildOnly,
		},
		{
			Name:        "ticket",
			Description: "Open a ticket with the moderators",
			Options: []discord.ApplicationCommandOption{
				{Type: discord.OptionTypeString, Name: "topic", Description: "Ticket topic", Required: true},
				{Type: discord.OptionTypeString, Name: "description", Description: "Describe the problem", Required: true},
			},
			DMPermission: guildOnly,
		},
		{
			Name:         "stats",
			Description:  "Server and bot statistics",
			DMPermission: guildOnly,
		},
		{
			Name:        "verification",
			Description: "Set up member verification",
			Options: []discord.ApplicationCommandOption{
				{Type: discord.OptionTypeChannel, Name: "channel", Description: "Channel for the verification prompt", Required: true},
				{Type: discord.OptionTypeRole, Name: "role", Description: "Role granted after verification", Required: true},
			},
			DMPermission: guildOnly,
		},
		{
			Name:        "help",
			Description: "Show all bot commands",
		},
		{
			Name:         "backup",
			Description:  "Download a backup of this server's warnings",
			DMPermission: guildOnly,
		},
	}
}

// Replaces the application's global commands with Definitions.
func (h *Handler) Register(ctx context.Context, applicationID string) error {
	out, err := h.API.BulkOverwriteGlobalCommands(ctx, applicationID, Definitions())
	if err != nil {
		return fmt.Errorf("registering commands: %w", err)
	}
	h.Logger.Info("registered slash commands", "count", len(out))
	return nil
}
