package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chatwarden/warden/discord"
)

const (
	CustomIDTicketClose = "ticket:close"
	CustomIDTicketAdd   = "ticket:add"

	colorTicket = 0x2ecc71
)

var channelNameUnsafe = regexp.MustCompile(`[^a-z0-9_-]+`)

// Channel names are lower-case without spaces or punctuation.
func ticketChannelName(username string) string {
	name := channelNameUnsafe.ReplaceAllString(strings.ToLower(username), "")
	if name == "" {
		name = "member"
	}
	return "ticket-" + name
}

// Finds the ticket category by name, creating it if missing.
func (h *Handler) ticketCategory(ctx context.Context, guildID string) (string, error) {
	channels, err := h.API.GetGuildChannels(ctx, guildID)
	if err != nil {
		return "", fmt.Errorf("listing channels: %w", err)
	}
	for _, c := range channels {
		if c.Type == discord.ChannelTypeGuildCategory && c.Name == h.TicketCategory {
			return c.ID, nil
		}
	}
	cat, err := h.API.CreateGuildChannel(ctx, guildID, discord.ChannelCreate{
		Name: h.TicketCategory,
		Type: discord.ChannelTypeGuildCategory,
	}, "ticket category")
	if err != nil {
		return "", fmt.Errorf("creating ticket category: %w", err)
	}
	h.Logger.Info("created ticket category", "guild", guildID, "category", cat.ID)
	return cat.ID, nil
}

// Opens a private channel between the invoker and the guild's moderators.
func (h *Handler) openTicket(ctx context.Context, ic *discord.Interaction) error {
	author := ic.Invoker()
	topic := optionString(ic, "topic")
	description := optionString(ic, "description")
	if topic == "" {
		return userErrorf("❌ A ticket needs a topic.")
	}

	categoryID, err := h.ticketCategory(ctx, ic.GuildID)
	if err != nil {
		return err
	}
	conf, err := h.Config.Get(ctx, ic.GuildID)
	if err != nil {
		return err
	}

	access := discord.Permissions(discord.PermViewChannel | discord.PermSendMessages)
	overwrites := []discord.PermissionOverwrite{
		// the @everyone role shares the guild's id
		{ID: ic.GuildID, Type: discord.OverwriteTypeRole, Deny: discord.Permissions(discord.PermViewChannel)},
		{ID: author.ID, Type: discord.OverwriteTypeMember, Allow: access},
	}
	for _, roleID := range conf.ModRoleIDs {
		overwrites = append(overwrites, discord.PermissionOverwrite{ID: roleID, Type: discord.OverwriteTypeRole, Allow: access})
	}

	ch, err := h.API.CreateGuildChannel(ctx, ic.GuildID, discord.ChannelCreate{
		Name:                 ticketChannelName(author.Username),
		Type:                 discord.ChannelTypeGuildText,
		Topic:                fmt.Sprintf("Ticket from %s | Topic: %s", author.Username, topic),
		ParentID:             categoryID,
		PermissionOverwrites: overwrites,
	}, "ticket opened by "+author.Username)
	if err != nil {
		return fmt.Errorf("creating ticket channel: %w", err)
	}
	ticketsOpened.Inc()
	h.Logger.Info("ticket opened", "guild", ic.GuildID, "channel", ch.ID, "author", author.ID)

	_, err = h.API.CreateMessage(ctx, ch.ID, &discord.MessageSend{
		Content: author.Mention(),
		Embeds: []discord.Embed{{
			Title:       "🎫 Ticket: " + topic,
			Description: description,
			Color:       colorTicket,
			Timestamp:   h.now().UTC().Format(time.RFC3339),
			Fields: []discord.EmbedField{
				{Name: "Author", Value: author.Mention(), Inline: true},
				{Name: "Status", Value: "🔓 Open", Inline: true},
			},
			Footer: &discord.EmbedFooter{Text: "Ticket ID: " + ch.ID},
		}},
		AllowedMentions: &discord.AllowedMentions{Parse: []string{}, Users: []string{author.ID}},
	})
	if err != nil {
		return fmt.Errorf("posting ticket intro: %w", err)
	}
	_, err = h.API.CreateMessage(ctx, ch.ID, &discord.MessageSend{
		Content: "Ticket controls:",
		Components: []discord.Component{discord.ActionRow(
			discord.Button(discord.ButtonStyleDanger, "🔒 Close", CustomIDTicketClose),
			discord.Button(discord.ButtonStyleSuccess, "📋 Add member", CustomIDTicketAdd),
		)},
	})
	if err != nil {
		return fmt.Errorf("posting ticket controls: %w", err)
	}

	return h.replyEphemeral(ctx, ic, "✅ Ticket created: "+channelMention(ch.ID))
}

func (h *Handler) closeTicket(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireModerator(ctx, ic); err != nil {
		return err
	}
	if err := h.ack(ctx, ic); err != nil {
		return err
	}
	if err := h.API.DeleteChannel(ctx, ic.ChannelID, "ticket closed by "+ic.Invoker().Username); err != nil {
		return fmt.Errorf("deleting ticket channel: %w", err)
	}
	ticketsClosed.Inc()
	h.Logger.Info("ticket closed", "guild", ic.GuildID, "channel", ic.ChannelID, "moderator", ic.Invoker().ID)
	return nil
}
