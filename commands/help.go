package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chatwarden/warden/discord"
)

const (
	customIDHelpClose = "help:close"
	colorHelp         = 0x3498db
)

type helpPage struct {
	Subtitle string
	Field    string
	Body     string
}

var helpPages = []helpPage{
	{
		Subtitle: "Moderation",
		Field:    "⚖️ Warnings",
		Body: "`/warn` - Warn a member\n" +
			"`/warnings` - Show a member's warnings\n" +
			"`/unwarn` - Remove a warning (or `all`)\n" +
			"`/unmute` - Lift an automatic mute",
	},
	{
		Subtitle: "Configuration",
		Field:    "🛠️ Setup",
		Body: "`/logchannel` - Set the moderation log channel\n" +
			"`/modrole` - Add a moderator role\n" +
			"`/verification` - Set up verification",
	},
	{
		Subtitle: "Utilities",
		Field:    "🧰 Utilities",
		Body: "`/ticket` - Open a ticket\n" +
			"`/stats` - Server statistics\n" +
			"`/backup` - Download the warnings ledger",
	},
}

// Page is 0-based; out of range pages are clamped.
func helpMessage(page int) *discord.MessageSend {
	page = max(0, min(page, len(helpPages)-1))
	p := helpPages[page]
	prev := discord.Button(discord.ButtonStyleSecondary, "◀️", "help:"+strconv.Itoa(page-1))
	prev.Disabled = page == 0
	next := discord.Button(discord.ButtonStyleSecondary, "▶️", "help:"+strconv.Itoa(page+1))
	next.Disabled = page == len(helpPages)-1
	return &discord.MessageSend{
		Embeds: []discord.Embed{{
			Title:       "📚 Command help",
			Description: fmt.Sprintf("Page %d/%d - %s", page+1, len(helpPages), p.Subtitle),
			Color:       colorHelp,
			Fields:      []discord.EmbedField{{Name: p.Field, Value: p.Body}},
		}},
		Components: []discord.Component{discord.ActionRow(
			prev,
			next,
			discord.Button(discord.ButtonStyleDanger, "❌", customIDHelpClose),
		)},
	}
}

func (h *Handler) help(ctx context.Context, ic *discord.Interaction) error {
	return h.respond(ctx, ic, helpMessage(0))
}

func (h *Handler) helpButton(ctx context.Context, ic *discord.Interaction, arg string) error {
	if arg == "close" {
		if err := h.ack(ctx, ic); err != nil {
			return err
		}
		if ic.Message == nil {
			return nil
		}
		return h.API.DeleteMessage(ctx, ic.ChannelID, ic.Message.ID, "")
	}
	page, err := strconv.Atoi(arg)
	if err != nil {
		h.Logger.Warn("bad help page", "custom_id", ic.Data.CustomID)
		return h.ack(ctx, ic)
	}
	return h.updateMessage(ctx, ic, helpMessage(page))
}
