package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwarden/warden/discord"
)

const colorReminder = 0x3498db

type reminderAPI interface {
	GetCurrentUserGuilds(ctx context.Context) ([]discord.Guild, error)
	GetGuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
	CreateMessage(ctx context.Context, channelID string, msg *discord.MessageSend) (*discord.Message, error)
}

// Periodically posts a rules reminder to every guild which has a text channel
// with the configured name.
type Reminder struct {
	API         reminderAPI
	ChannelName string
	Interval    time.Duration
	Logger      *slog.Logger

	now func() time.Time
}

func NewReminder(api reminderAPI, channelName string, interval time.Duration, logger *slog.Logger) *Reminder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reminder{
		API:         api,
		ChannelName: channelName,
		Interval:    interval,
		Logger:      logger.With("component", "reminder"),
		now:         time.Now,
	}
}

func (r *Reminder) message() *discord.MessageSend {
	return &discord.MessageSend{
		Embeds: []discord.Embed{{
			Title:       "📢 Daily reminder",
			Description: "Please remember to follow the server rules!",
			Color:       colorReminder,
			Timestamp:   r.now().UTC().Format(time.RFC3339),
			Fields: []discord.EmbedField{{
				Name:  "The basics:",
				Value: "• Be respectful\n• Don't spam\n• Keep channels on topic",
			}},
			Footer: &discord.EmbedFooter{Text: "Enjoy your stay!"},
		}},
	}
}

// Posts one round of reminders, returning how many were sent. Failures for a
// single guild are logged and skipped.
func (r *Reminder) SendAll(ctx context.Context) (int, error) {
	guilds, err := r.API.GetCurrentUserGuilds(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing guilds: %w", err)
	}
	sent := 0
	for _, g := range guilds {
		channels, err := r.API.GetGuildChannels(ctx, g.ID)
		if err != nil {
			remindersSent.WithLabelValues("error").Inc()
			r.Logger.Warn("failed to list channels", "guild", g.ID, "err", err)
			continue
		}
		for _, c := range channels {
			if c.Type != discord.ChannelTypeGuildText || c.Name != r.ChannelName {
				continue
			}
			if _, err := r.API.CreateMessage(ctx, c.ID, r.message()); err != nil {
				remindersSent.WithLabelValues("error").Inc()
				r.Logger.Warn("failed to post rules reminder", "guild", g.ID, "channel", c.ID, "err", err)
			} else {
				remindersSent.WithLabelValues("ok").Inc()
				sent++
			}
			break
		}
	}
	return sent, nil
}

// Blocks until the context is cancelled.
func (r *Reminder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.SendAll(ctx)
			if err != nil {
				// try again on the next tick
				r.Logger.Error("rules reminder round failed", "err", err)
				continue
			}
			r.Logger.Info("posted rules reminders", "count", n)
		}
	}
}
