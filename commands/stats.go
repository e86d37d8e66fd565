package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/chatwarden/warden/automod"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/discord"
)

const colorStats = 0x9b59b6

// Snapshot of a guild for the stats command.
type GuildStats struct {
	GuildID string
	Name    string
	OwnerID string
	Created time.Time
	Members int
	Online  int

	// counted over the first page of members only
	Bots int

	Text       int
	Voice      int
	Categories int

	// warnings are counted over the whole ledger
	WarningsTotal  int
	WarningsActive int
	MutesPending   int

	AutomodSpam       int
	AutomodBannedWord int
}

func (h *Handler) CollectStats(ctx context.Context, guildID string) (*GuildStats, error) {
	g, err := h.API.GetGuild(ctx, guildID, true)
	if err != nil {
		return nil, fmt.Errorf("fetching guild: %w", err)
	}
	s := GuildStats{
		GuildID: g.ID,
		Name:    g.Name,
		OwnerID: g.OwnerID,
		Created: discord.SnowflakeTime(g.ID),
		Members: g.ApproximateMemberCount,
		Online:  g.ApproximatePresenceCount,
	}

	members, err := h.API.ListMembers(ctx, guildID, 1000)
	if err != nil {
		// needs the privileged members intent; carry on without
		h.Logger.Warn("could not list guild members", "guild", guildID, "err", err)
	}
	for _, m := range members {
		if m.User != nil && m.User.Bot {
			s.Bots++
		}
	}

	channels, err := h.API.GetGuildChannels(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	for _, c := range channels {
		switch c.Type {
		case discord.ChannelTypeGuildText, discord.ChannelTypeGuildNews, discord.ChannelTypeGuildForum:
			s.Text++
		case discord.ChannelTypeGuildVoice, discord.ChannelTypeGuildStage:
			s.Voice++
		case discord.ChannelTypeGuildCategory:
			s.Categories++
		}
	}

	totals, err := h.Ledger.Totals(ctx)
	if err != nil {
		return nil, err
	}
	s.WarningsTotal = totals.Total
	s.WarningsActive = totals.Active
	s.MutesPending = len(h.Mutes.Pending(guildID))

	if h.Counters != nil {
		if s.AutomodSpam, err = h.Counters.GetCount(ctx, automod.CounterSpam, guildID, countstore.PeriodTotal); err != nil {
			return nil, err
		}
		if s.AutomodBannedWord, err = h.Counters.GetCount(ctx, automod.CounterBannedWord, guildID, countstore.PeriodTotal); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func statsEmbed(s *GuildStats, now time.Time) discord.Embed {
	embed := discord.Embed{
		Title:     "📊 Server statistics",
		Color:     colorStats,
		Timestamp: now.UTC().Format(time.RFC3339),
		Fields: []discord.EmbedField{
			{Name: "👥 Members", Value: fmt.Sprintf("Total: %d\nOnline: %d\nBots: %d", s.Members, s.Online, s.Bots), Inline: true},
			{Name: "📁 Channels", Value: fmt.Sprintf("Text: %d\nVoice: %d\nCategories: %d", s.Text, s.Voice, s.Categories), Inline: true},
			{Name: "⚠️ Warnings", Value: fmt.Sprintf("Total: %d\nActive: %d\nMuted now: %d", s.WarningsTotal, s.WarningsActive, s.MutesPending), Inline: true},
			{Name: "🤖 Automod", Value: fmt.Sprintf("Spam removed: %d\nBanned words removed: %d", s.AutomodSpam, s.AutomodBannedWord), Inline: true},
		},
		Footer: &discord.EmbedFooter{Text: "Server ID: " + s.GuildID},
	}
	if !s.Created.IsZero() {
		embed.Fields = append(embed.Fields, discord.EmbedField{Name: "📅 Created", Value: s.Created.UTC().Format("02.01.2006"), Inline: true})
	}
	if s.OwnerID != "" {
		embed.Fields = append(embed.Fields, discord.EmbedField{Name: "👑 Owner", Value: "<@" + s.OwnerID + ">", Inline: true})
	}
	return embed
}

func (h *Handler) stats(ctx context.Context, ic *discord.Interaction) error {
	s, err := h.CollectStats(ctx, ic.GuildID)
	if err != nil {
		return err
	}
	return h.respond(ctx, ic, &discord.MessageSend{Embeds: []discord.Embed{statsEmbed(s, h.now())}})
}
