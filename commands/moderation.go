package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatwarden/warden/discord"
	"github.com/chatwarden/warden/guildconf"
	"github.com/chatwarden/warden/ledger"
)

const (
	colorWarning = 0xe67e22
	colorSuccess = 0x2ecc71

	// number of active warnings shown by the warnings command
	warningsShown = 5
)

func (h *Handler) warn(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireModerator(ctx, ic); err != nil {
		return err
	}
	target, err := optionUser(ic, "user")
	if err != nil {
		return err
	}
	reason := optionString(ic, "reason")
	level := 1
	if opt := ic.Data.Option("level"); opt != nil {
		if n, ok := opt.IntValue(); ok {
			level = n
		}
	}
	mod := ic.Invoker()

	rec, err := h.Ledger.Issue(ctx, ledger.Subject{Scope: ic.GuildID, ID: target.ID}, mod.ID, reason, level)
	if errors.Is(err, ledger.ErrInvalidArgument) {
		return userErrorf("❌ A warning needs a reason.")
	} else if err != nil {
		return err
	}
	records, err := h.Ledger.List(ctx, target.ID)
	if err != nil {
		return err
	}

	h.Notifier.SendToAuditLog(ctx, ic.GuildID, "⚠️ Warning issued", fmt.Sprintf(
		"**Moderator:** %s\n**Member:** %s\n**Level:** %d\n**Reason:** %s\n**Warning:** #%d",
		mod.Mention(), target.Mention(), rec.Severity, rec.Reason, rec.SequenceID))
	h.Notifier.SendDirectMessage(ctx, target.ID, fmt.Sprintf(
		"⚠️ You received a warning (level %d).\n**Reason:** %s\n**Moderator:** %s\nPlease follow the server rules.",
		rec.Severity, rec.Reason, mod.DisplayName()))

	return h.respond(ctx, ic, &discord.MessageSend{
		Embeds: []discord.Embed{{
			Title:     "⚠️ Warning issued",
			Color:     colorWarning,
			Timestamp: rec.IssuedAt.Format(time.RFC3339),
			Fields: []discord.EmbedField{
				{Name: "Member", Value: target.Mention(), Inline: true},
				{Name: "Level", Value: fmt.Sprintf("Level %d", rec.Severity), Inline: true},
				{Name: "Reason", Value: rec.Reason},
				{Name: "Total warnings", Value: fmt.Sprintf("%d", len(records)), Inline: true},
			},
			Footer: &discord.EmbedFooter{Text: fmt.Sprintf("Warning #%d • Moderator: %s", rec.SequenceID, mod.DisplayName())},
		}},
	})
}

func (h *Handler) warnings(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireModerator(ctx, ic); err != nil {
		return err
	}
	target, err := optionUser(ic, "user")
	if err != nil {
		return err
	}
	records, err := h.Ledger.List(ctx, target.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return h.respond(ctx, ic, &discord.MessageSend{
			Flags: discord.MessageFlagEphemeral,
			Embeds: []discord.Embed{{
				Title:       "✅ No warnings",
				Description: fmt.Sprintf("%s has no warnings.", target.Mention()),
				Color:       colorSuccess,
			}},
		})
	}
	return h.respond(ctx, ic, &discord.MessageSend{
		Embeds: []discord.Embed{warningsEmbed(target, records, h.now())},
	})
}

func warningsEmbed(target *discord.User, records []ledger.WarningRecord, now time.Time) discord.Embed {
	var active []ledger.WarningRecord
	for _, r := range records {
		if r.Active {
			active = append(active, r)
		}
	}
	inactive := len(records) - len(active)

	embed := discord.Embed{
		Title:       "📋 Warnings for " + target.DisplayName(),
		Description: fmt.Sprintf("Total: %d | Active: %d", len(records), len(active)),
		Color:       colorWarning,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      &discord.EmbedFooter{Text: "ID: " + target.ID},
	}
	if len(active) > 0 {
		if len(active) > warningsShown {
			active = active[len(active)-warningsShown:]
		}
		var sb strings.Builder
		for _, r := range active {
			fmt.Fprintf(&sb, "**#%d** • Level %d\nReason: %s\nModerator: <@%s> • %s\n\n",
				r.SequenceID, r.Severity, r.Reason, r.IssuerIdentity, r.IssuedAt.UTC().Format("02.01.2006 15:04"))
		}
		embed.Fields = append(embed.Fields, discord.EmbedField{Name: "🟡 Active warnings", Value: strings.TrimSpace(sb.String())})
	}
	if inactive > 0 {
		embed.Fields = append(embed.Fields, discord.EmbedField{Name: "⚪ Removed warnings", Value: fmt.Sprintf("%d removed", inactive)})
	}
	return embed
}

func (h *Handler) unwarn(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireModerator(ctx, ic); err != nil {
		return err
	}
	target, err := optionUser(ic, "user")
	if err != nil {
		return err
	}
	sel, err := ledger.ParseSelector(optionString(ic, "id"))
	if err != nil {
		return userErrorf("❌ Invalid warning number; use a number or `all`.")
	}

	count, err := h.Ledger.Remove(ctx, target.ID, sel)
	if errors.Is(err, ledger.ErrNotFound) {
		if sel.IsAll() {
			return userErrorf("❌ %s has no warnings.", target.Mention())
		}
		return userErrorf("❌ Warning #%d not found.", sel.ID())
	} else if err != nil {
		return err
	}

	var msg string
	if sel.IsAll() {
		msg = fmt.Sprintf("Removed all warnings (%d)", count)
	} else {
		msg = fmt.Sprintf("Removed warning #%d", sel.ID())
	}
	h.Notifier.SendToAuditLog(ctx, ic.GuildID, "✅ Warning removed", fmt.Sprintf(
		"**Moderator:** %s\n**Member:** %s\n**Action:** %s", ic.Invoker().Mention(), target.Mention(), msg))
	return h.respond(ctx, ic, &discord.MessageSend{Content: fmt.Sprintf("✅ %s for %s", msg, target.Mention())})
}

func (h *Handler) unmute(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireModerator(ctx, ic); err != nil {
		return err
	}
	target, err := optionUser(ic, "user")
	if err != nil {
		return err
	}
	ok, err := h.Mutes.Cancel(ctx, ic.GuildID, target.ID)
	if err != nil {
		return err
	}
	if !ok {
		return userErrorf("❌ %s is not muted.", target.Mention())
	}
	return h.respond(ctx, ic, &discord.MessageSend{Content: fmt.Sprintf("✅ %s was unmuted.", target.Mention())})
}

func (h *Handler) logChannel(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireAdmin(ic); err != nil {
		return err
	}
	ch, err := optionChannel(ic, "channel")
	if err != nil {
		return err
	}
	if _, err := h.Config.SetLogChannel(ctx, ic.GuildID, ch.ID); err != nil {
		return err
	}
	return h.respond(ctx, ic, &discord.MessageSend{
		Embeds: []discord.Embed{{
			Title:       "✅ Log channel set",
			Description: fmt.Sprintf("Moderation logs will be posted to %s.", channelMention(ch.ID)),
			Color:       colorSuccess,
		}},
	})
}

func (h *Handler) modRole(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireAdmin(ic); err != nil {
		return err
	}
	role, err := optionRole(ic, "role")
	if err != nil {
		return err
	}
	_, err = h.Config.AddModRole(ctx, ic.GuildID, role.ID)
	if errors.Is(err, guildconf.ErrAlreadyExists) {
		return userErrorf("❌ That role is already a moderator role.")
	} else if err != nil {
		return err
	}
	return h.respond(ctx, ic, &discord.MessageSend{Content: fmt.Sprintf("✅ %s added as a moderator role.", roleMention(role.ID))})
}

// Uploads the warnings issued in this guild as a JSON file.
func (h *Handler) backup(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireModerator(ctx, ic); err != nil {
		return err
	}
	sl, err := h.Ledger.SnapshotScope(ctx, ic.GuildID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(sl, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("backup_warnings_%s.json", h.now().UTC().Format("20060102_150405"))
	h.Logger.Info("ledger backup requested", "guild", ic.GuildID, "subjects", len(sl), "bytes", len(data))
	return h.respond(ctx, ic, &discord.MessageSend{
		Content: fmt.Sprintf("✅ Backup created: `%s`", name),
		Flags:   discord.MessageFlagEphemeral,
	}, discord.File{Name: name, ContentType: "application/json", Data: data})
}
