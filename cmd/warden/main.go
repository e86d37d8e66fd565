package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatwarden/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "chat moderation bot (warnings, automatic mutes, automod)",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "discord-api-host",
			Usage:   "base URL of the Discord REST API, including version",
			Value:   "https://discord.com/api/v10",
			EnvVars: []string{"WARDEN_DISCORD_API_HOST"},
		},
		&cli.StringFlag{
			Name:    "discord-gateway-host",
			Usage:   "method, hostname, and port of the Discord gateway",
			Value:   "wss://gateway.discord.gg",
			EnvVars: []string{"WARDEN_DISCORD_GATEWAY_HOST"},
		},
		&cli.Float64Flag{
			Name:    "discord-rate-limit",
			Usage:   "max REST requests per second to Discord (client side)",
			Value:   40,
			EnvVars: []string{"WARDEN_DISCORD_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.IntFlag{
			Name:    "max-metadb-connections",
			EnvVars: []string{"MAX_METADB_CONNECTIONS"},
			Value:   10,
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "connect to Discord and run the bot",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "discord-token",
			Usage:    "bot token",
			Required: true,
			EnvVars:  []string{"DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "directory for JSON data files (used when no database or redis is configured)",
			Value:   "data/warden",
			EnvVars: []string{"WARDEN_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "sqlite:// or postgres:// URL for persistent state (overrides data-dir)",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis server for automod counters and caches; also persistent state if no database is set",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3999",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for the admin HTTP API (unauthenticated if empty)",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "escalation-threshold",
			Usage:   "active warnings at which a member is muted automatically (0 disables)",
			Value:   3,
			EnvVars: []string{"WARDEN_ESCALATION_THRESHOLD"},
		},
		&cli.DurationFlag{
			Name:    "mute-duration",
			Usage:   "how long automatic mutes last",
			Value:   24 * time.Hour,
			EnvVars: []string{"WARDEN_MUTE_DURATION"},
		},
		&cli.StringFlag{
			Name:    "mute-role-name",
			Value:   "Muted",
			EnvVars: []string{"WARDEN_MUTE_ROLE_NAME"},
		},
		&cli.StringFlag{
			Name:    "ticket-category-name",
			Value:   "Tickets",
			EnvVars: []string{"WARDEN_TICKET_CATEGORY_NAME"},
		},
		&cli.StringFlag{
			Name:    "rules-channel-name",
			Usage:   "name of the channel which gets periodic rules reminders",
			Value:   "rules",
			EnvVars: []string{"WARDEN_RULES_CHANNEL_NAME"},
		},
		&cli.DurationFlag{
			Name:    "reminder-interval",
			Usage:   "period between rules reminders (0 disables)",
			Value:   24 * time.Hour,
			EnvVars: []string{"WARDEN_REMINDER_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "banned-words-file",
			Usage:   "text file of banned words, one per line",
			Value:   "bad_words.txt",
			EnvVars: []string{"WARDEN_BANNED_WORDS_FILE"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "Slack incoming webhook which mirrors moderation log entries",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.IntFlag{
			Name:    "event-workers",
			Usage:   "number of parallel gateway event handlers",
			Value:   16,
			EnvVars: []string{"WARDEN_EVENT_WORKERS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel: cctx.String("log-level"),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := setupOTEL(ctx, "warden")
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Error("failed to shutdown trace exporter", "err", err)
			}
		}()

		srv, err := NewServer(ctx, Config{
			Logger:              logger,
			DiscordToken:        cctx.String("discord-token"),
			DiscordAPIHost:      cctx.String("discord-api-host"),
			DiscordGatewayHost:  cctx.String("discord-gateway-host"),
			DiscordRateLimit:    cctx.Float64("discord-rate-limit"),
			DataDir:             cctx.String("data-dir"),
			DatabaseURL:         cctx.String("database-url"),
			MaxDBConnections:    cctx.Int("max-metadb-connections"),
			RedisURL:            cctx.String("redis-url"),
			Bind:                cctx.String("bind"),
			AdminToken:          cctx.String("admin-token"),
			EscalationThreshold: cctx.Int("escalation-threshold"),
			MuteDuration:        cctx.Duration("mute-duration"),
			MuteRoleName:        cctx.String("mute-role-name"),
			TicketCategoryName:  cctx.String("ticket-category-name"),
			RulesChannelName:    cctx.String("rules-channel-name"),
			ReminderInterval:    cctx.Duration("reminder-interval"),
			BannedWordsFile:     cctx.String("banned-words-file"),
			SlackWebhookURL:     cctx.String("slack-webhook-url"),
			EventWorkers:        cctx.Int("event-workers"),
		})
		if err != nil {
			return err
		}

		go func() {
			if err := RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run warden: %w", err)
		}
		return nil
	},
}
