package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/discord"
	"github.com/chatwarden/warden/guildconf"
	"github.com/chatwarden/warden/ledger"
	"github.com/chatwarden/warden/punish"
)

const DefaultTicketCategory = "Tickets"

// The REST calls used by command handlers. Implemented by *discord.Client.
type API interface {
	CreateInteractionResponse(ctx context.Context, interactionID, token string, resp *discord.InteractionResponse, files ...discord.File) error
	CreateMessage(ctx context.Context, channelID string, msg *discord.MessageSend) (*discord.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID, reason string) error
	GetGuild(ctx context.Context, guildID string, withCounts bool) (*discord.Guild, error)
	GetGuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
	CreateGuildChannel(ctx context.Context, guildID string, params discord.ChannelCreate, reason string) (*discord.Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	ListMembers(ctx context.Context, guildID string, limit int) ([]discord.Member, error)
	BulkOverwriteGlobalCommands(ctx context.Context, applicationID string, cmds []discord.ApplicationCommand) ([]discord.ApplicationCommand, error)
}

// Manual control over automatic mutes. Implemented by *punish.Executor.
type Mutes interface {
	Cancel(ctx context.Context, scope, subject string) (bool, error)
	Pending(scope string) []punish.Restriction
}

// Implemented by *modlog.Notifier.
type Notifier interface {
	SendToAuditLog(ctx context.Context, scope, title, body string)
	SendDirectMessage(ctx context.Context, subject, body string)
}

// Dispatches slash commands and button clicks from the gateway.
type Handler struct {
	API      API
	Ledger   *ledger.Ledger
	Mutes    Mutes
	Config   *guildconf.Store
	Notifier Notifier
	// automod counters, for statistics (optional)
	Counters countstore.CountStore
	Logger   *slog.Logger

	TicketCategory string

	now func() time.Time
}

func NewHandler(api API, l *ledger.Ledger, mutes Mutes, conf *guildconf.Store, notifier Notifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		API:            api,
		Ledger:         l,
		Mutes:          mutes,
		Config:         conf,
		Notifier:       notifier,
		Logger:         logger.With("component", "commands"),
		TicketCategory: DefaultTicketCategory,
		now:            time.Now,
	}
}

// A reply which should be shown to the invoker only, instead of a failure.
type userError struct {
	msg string
}

func (e *userError) Error() string { return e.msg }

func userErrorf(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}

var errNotAuthorized = &userError{msg: "❌ You don't have permission to use this command."}

// Handler for gateway INTERACTION_CREATE events.
func (h *Handler) HandleInteraction(ctx context.Context, ic *discord.Interaction) error {
	if ic.Data == nil {
		return nil
	}
	var name string
	var err error
	switch ic.Type {
	case discord.InteractionTypeApplicationCommand:
		name = ic.Data.Name
		err = h.dispatchCommand(ctx, ic)
	case discord.InteractionTypeMessageComponent:
		name, _, _ = strings.Cut(ic.Data.CustomID, ":")
		name = "button:" + name
		err = h.dispatchButton(ctx, ic)
	default:
		return nil
	}

	logger := h.Logger.With("interaction", name, "guild", ic.GuildID)
	if inv := ic.Invoker(); inv != nil {
		logger = logger.With("invoker", inv.ID)
	}

	var uerr *userError
	switch {
	case err == nil:
		commandsHandled.WithLabelValues(name, "ok").Inc()
		return nil
	case errors.As(err, &uerr):
		commandsHandled.WithLabelValues(name, "rejected").Inc()
		logger.Debug("interaction rejected", "reason", uerr.msg)
		return h.replyEphemeral(ctx, ic, uerr.msg)
	default:
		commandsHandled.WithLabelValues(name, "error").Inc()
		logger.Error("interaction failed", "err", err)
		// if a response was already sent this fails too, which is fine
		if rerr := h.replyEphemeral(ctx, ic, "❌ Something went wrong, please try again later."); rerr != nil {
			logger.Debug("could not report failure to invoker", "err", rerr)
		}
		return err
	}
}

func (h *Handler) dispatchCommand(ctx context.Context, ic *discord.Interaction) error {
	if ic.Data.Name == "help" {
		return h.help(ctx, ic)
	}
	if ic.GuildID == "" || ic.Member == nil {
		return userErrorf("❌ This command can only be used in a server.")
	}
	switch ic.Data.Name {
	case "warn":
		return h.warn(ctx, ic)
	case "warnings":
		return h.warnings(ctx, ic)
	case "unwarn":
		return h.unwarn(ctx, ic)
	case "unmute":
		return h.unmute(ctx, ic)
	case "logchannel":
		return h.logChannel(ctx, ic)
	case "modrole":
		return h.modRole(ctx, ic)
	case "ticket":
		return h.openTicket(ctx, ic)
	case "stats":
		return h.stats(ctx, ic)
	case "verification":
		return h.setupVerification(ctx, ic)
	case "backup":
		return h.backup(ctx, ic)
	default:
		h.Logger.Warn("unhandled command", "name", ic.Data.Name)
		return userErrorf("❌ Unknown command.")
	}
}

func (h *Handler) dispatchButton(ctx context.Context, ic *discord.Interaction) error {
	prefix, arg, _ := strings.Cut(ic.Data.CustomID, ":")
	switch prefix {
	case "ticket":
		switch arg {
		case "close":
			return h.closeTicket(ctx, ic)
		case "add":
			if err := h.requireModerator(ctx, ic); err != nil {
				return err
			}
			return h.replyEphemeral(ctx, ic, "🚧 Adding members to a ticket is not implemented yet.")
		}
	case "verify":
		return h.verify(ctx, ic, arg)
	case "help":
		return h.helpButton(ctx, ic, arg)
	}
	h.Logger.Warn("unhandled button", "custom_id", ic.Data.CustomID)
	return nil
}

func isAdmin(m *discord.Member) bool {
	return m != nil && m.Permissions.Has(discord.PermAdministrator)
}

func (h *Handler) requireAdmin(ic *discord.Interaction) error {
	if !isAdmin(ic.Member) {
		return errNotAuthorized
	}
	return nil
}

// Administrators, and members holding one of the guild's moderator roles.
func (h *Handler) requireModerator(ctx context.Context, ic *discord.Interaction) error {
	if ic.GuildID == "" || ic.Member == nil {
		return errNotAuthorized
	}
	if isAdmin(ic.Member) {
		return nil
	}
	ok, err := h.Config.IsModerator(ctx, ic.GuildID, ic.Member.Roles)
	if err != nil {
		return err
	}
	if !ok {
		return errNotAuthorized
	}
	return nil
}

func (h *Handler) respond(ctx context.Context, ic *discord.Interaction, msg *discord.MessageSend, files ...discord.File) error {
	if msg.AllowedMentions == nil {
		msg.AllowedMentions = &discord.AllowedMentions{Parse: []string{}}
	}
	return h.API.CreateInteractionResponse(ctx, ic.ID, ic.Token, &discord.InteractionResponse{
		Type: discord.ResponseChannelMessageWithSource,
		Data: msg,
	}, files...)
}

func (h *Handler) replyEphemeral(ctx context.Context, ic *discord.Interaction, content string) error {
	return h.respond(ctx, ic, &discord.MessageSend{Content: content, Flags: discord.MessageFlagEphemeral})
}

// Replaces the message the clicked button is attached to.
func (h *Handler) updateMessage(ctx context.Context, ic *discord.Interaction, msg *discord.MessageSend) error {
	return h.API.CreateInteractionResponse(ctx, ic.ID, ic.Token, &discord.InteractionResponse{
		Type: discord.ResponseUpdateMessage,
		Data: msg,
	})
}

// Acknowledges a button click without changing anything.
func (h *Handler) ack(ctx context.Context, ic *discord.Interaction) error {
	return h.API.CreateInteractionResponse(ctx, ic.ID, ic.Token, &discord.InteractionResponse{
		Type: discord.ResponseDeferredUpdateMessage,
	})
}

func optionString(ic *discord.Interaction, name string) string {
	opt := ic.Data.Option(name)
	if opt == nil {
		return ""
	}
	return strings.TrimSpace(opt.StringValue())
}

// The user named by a user option, using the resolved data sent along with the command.
func optionUser(ic *discord.Interaction, name string) (*discord.User, error) {
	id := optionString(ic, name)
	if id == "" {
		return nil, userErrorf("❌ Missing option `%s`.", name)
	}
	if ic.Data.Resolved != nil {
		if u, ok := ic.Data.Resolved.Users[id]; ok {
			return &u, nil
		}
	}
	return &discord.User{ID: id}, nil
}

func optionChannel(ic *discord.Interaction, name string) (*discord.Channel, error) {
	id := optionString(ic, name)
	if id == "" {
		return nil, userErrorf("❌ Missing option `%s`.", name)
	}
	if ic.Data.Resolved != nil {
		if c, ok := ic.Data.Resolved.Channels[id]; ok {
			return &c, nil
		}
	}
	return &discord.Channel{ID: id}, nil
}

func optionRole(ic *discord.Interaction, name string) (*discord.Role, error) {
	id := optionString(ic, name)
	if id == "" {
		return nil, userErrorf("❌ Missing option `%s`.", name)
	}
	if ic.Data.Resolved != nil {
		if r, ok := ic.Data.Resolved.Roles[id]; ok {
			return &r, nil
		}
	}
	return &discord.Role{ID: id}, nil
}

func channelMention(id string) string {
	return "<#" + id + ">"
}

func roleMention(id string) string {
	return "<@&" + id + ">"
}
