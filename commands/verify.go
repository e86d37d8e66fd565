package commands

import (
	"context"
	"fmt"

	"github.com/chatwarden/warden/discord"
)

const verifyPrefix = "verify:"

// Posts the verification prompt. The role to grant is carried in the button's
// custom id, so prompts keep working across restarts.
func (h *Handler) setupVerification(ctx context.Context, ic *discord.Interaction) error {
	if err := h.requireAdmin(ic); err != nil {
		return err
	}
	ch, err := optionChannel(ic, "channel")
	if err != nil {
		return err
	}
	role, err := optionRole(ic, "role")
	if err != nil {
		return err
	}

	_, err = h.API.CreateMessage(ctx, ch.ID, &discord.MessageSend{
		Embeds: []discord.Embed{{
			Title:       "✅ Verification",
			Description: "Press the button below to verify.\n\nYou will get access to the server afterwards.",
			Color:       colorSuccess,
		}},
		Components: []discord.Component{discord.ActionRow(
			discord.Button(discord.ButtonStyleSuccess, "✅ Verify", verifyPrefix+role.ID),
		)},
	})
	if err != nil {
		return fmt.Errorf("posting verification prompt: %w", err)
	}
	return h.replyEphemeral(ctx, ic, "✅ Verification set up in "+channelMention(ch.ID))
}

func (h *Handler) verify(ctx context.Context, ic *discord.Interaction, roleID string) error {
	if ic.GuildID == "" || ic.Member == nil || roleID == "" {
		return nil
	}
	member := ic.Invoker()
	if ic.Member.HasRole(roleID) {
		return h.replyEphemeral(ctx, ic, "You are already verified!")
	}
	if err := h.API.AddMemberRole(ctx, ic.GuildID, member.ID, roleID, "verification"); err != nil {
		return fmt.Errorf("granting verified role: %w", err)
	}
	verifications.Inc()
	return h.respond(ctx, ic, &discord.MessageSend{
		Flags: discord.MessageFlagEphemeral,
		Embeds: []discord.Embed{{
			Title:       "✅ Verified!",
			Description: fmt.Sprintf("Welcome to the server, %s!", member.Mention()),
			Color:       colorSuccess,
		}},
	})
}
