package modlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chatwarden/warden/discord"
	"github.com/chatwarden/warden/guildconf"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_notifications_sent",
	Help: "Number of moderation notifications delivered, by destination and outcome",
}, []string{"dest", "status"})

const auditColor = 0x3498db

// The platform calls used to deliver notifications.
type Platform interface {
	CreateMessage(ctx context.Context, channelID string, msg *discord.MessageSend) (*discord.Message, error)
	SendDirectMessage(ctx context.Context, userID string, msg *discord.MessageSend) (*discord.Message, error)
}

// Delivers moderation notices: to the guild's configured log channel (and
// optionally a Slack webhook), and as direct messages to members. Delivery is
// best-effort; failures are logged and counted, never returned.
type Notifier struct {
	Platform Platform
	Config   *guildconf.Store
	Slack    *SlackNotifier
	Logger   *slog.Logger

	now func() time.Time
}

func NewNotifier(p Platform, conf *guildconf.Store, slack *SlackNotifier, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		Platform: p,
		Config:   conf,
		Slack:    slack,
		Logger:   logger.With("component", "modlog"),
		now:      time.Now,
	}
}

func (n *Notifier) SendToAuditLog(ctx context.Context, scope, title, body string) {
	logger := n.Logger.With("scope", scope, "title", title)

	if n.Slack != nil {
		if err := n.Slack.sendSlackMsg(ctx, slackBody(scope, title, body)); err != nil {
			notificationsSent.WithLabelValues("slack", "error").Inc()
			logger.Warn("failed to mirror audit log to slack", "err", err)
		} else {
			notificationsSent.WithLabelValues("slack", "ok").Inc()
		}
	}

	conf, err := n.Config.Get(ctx, scope)
	if err != nil {
		logger.Error("failed to load guild config", "err", err)
		return
	}
	if conf.LogChannelID == "" {
		logger.Debug("no audit log channel configured")
		return
	}

	msg := &discord.MessageSend{
		Embeds: []discord.Embed{{
			Title:       title,
			Description: body,
			Color:       auditColor,
			Timestamp:   n.now().UTC().Format(time.RFC3339),
			Footer:      &discord.EmbedFooter{Text: "Guild ID: " + scope},
		}},
		AllowedMentions: &discord.AllowedMentions{Parse: []string{}},
	}
	if _, err := n.Platform.CreateMessage(ctx, conf.LogChannelID, msg); err != nil {
		notificationsSent.WithLabelValues("audit", "error").Inc()
		var apiErr *discord.Error
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			logger.Warn("audit log channel no longer exists", "channel", conf.LogChannelID)
			return
		}
		logger.Error("failed to post to audit log", "channel", conf.LogChannelID, "err", err)
		return
	}
	notificationsSent.WithLabelValues("audit", "ok").Inc()
}

// Members with closed DMs are common; that case is only logged at debug level.
func (n *Notifier) SendDirectMessage(ctx context.Context, subject, body string) {
	_, err := n.Platform.SendDirectMessage(ctx, subject, &discord.MessageSend{Content: body})
	if err == nil {
		notificationsSent.WithLabelValues("dm", "ok").Inc()
		return
	}
	notificationsSent.WithLabelValues("dm", "error").Inc()
	var apiErr *discord.Error
	if errors.As(err, &apiErr) && apiErr.IsForbidden() {
		n.Logger.Debug("member does not accept direct messages", "subject", subject)
		return
	}
	n.Logger.Warn("failed to send direct message", "subject", subject, "err", err)
}
