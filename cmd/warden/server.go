package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chatwarden/warden/automod"
	"github.com/chatwarden/warden/automod/cachestore"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/automod/setstore"
	"github.com/chatwarden/warden/commands"
	"github.com/chatwarden/warden/discord"
	"github.com/chatwarden/warden/guildconf"
	"github.com/chatwarden/warden/kvstore"
	"github.com/chatwarden/warden/ledger"
	"github.com/chatwarden/warden/modlog"
	"github.com/chatwarden/warden/punish"
	"github.com/chatwarden/warden/util/cliutil"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	logger   *slog.Logger
	client   *discord.Client
	rdb      *redis.Client
	ledger   *ledger.Ledger
	executor *punish.Executor
	mutes    commands.Mutes
	handler  *commands.Handler
	filter   *automod.Filter
	sched    *discord.Scheduler
	gateway  *discord.Gateway
	reminder *Reminder
	echo     *echo.Echo
	httpd    *http.Server

	guildsLk sync.Mutex
	guilds   map[string]string
}

type Config struct {
	Logger              *slog.Logger
	DiscordToken        string
	DiscordAPIHost      string
	DiscordGatewayHost  string
	DiscordRateLimit    float64
	DataDir             string
	DatabaseURL         string
	MaxDBConnections    int
	RedisURL            string
	Bind                string
	AdminToken          string
	EscalationThreshold int
	MuteDuration        time.Duration
	MuteRoleName        string
	TicketCategoryName  string
	RulesChannelName    string
	ReminderInterval    time.Duration
	BannedWordsFile     string
	SlackWebhookURL     string
	EventWorkers        int
}

// Picks the persistent key/value backend: a SQL database if configured, then
// redis, then JSON files in the data directory.
func setupKVStore(config Config, rdb *redis.Client, logger *slog.Logger) (kvstore.Store, error) {
	switch {
	case config.DatabaseURL != "":
		db, err := cliutil.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
		if err != nil {
			return nil, err
		}
		logger.Info("using database for persistent state")
		gs, err := kvstore.NewGormStore(db)
		if err != nil {
			return nil, err
		}
		return gs, nil
	case rdb != nil:
		logger.Info("using redis for persistent state")
		return kvstore.NewRedisStore(rdb), nil
	default:
		logger.Info("using JSON files for persistent state", "dir", config.DataDir)
		fstore, err := kvstore.NewFileStore(config.DataDir)
		if err != nil {
			return nil, err
		}
		return fstore, nil
	}
}

func NewServer(ctx context.Context, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	var rdb *redis.Client
	if config.RedisURL != "" {
		c, err := kvstore.ConnectRedis(ctx, config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rdb = c
	}

	kv, err := setupKVStore(config, rdb, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing persistent store: %w", err)
	}

	client := discord.NewClient(config.DiscordAPIHost, config.DiscordToken, config.DiscordRateLimit)

	var slack *modlog.SlackNotifier
	if config.SlackWebhookURL != "" {
		logger.Info("mirroring moderation log to slack")
		slack = modlog.NewSlackNotifier(config.SlackWebhookURL)
	}
	conf := guildconf.NewStore(kv)
	notifier := modlog.NewNotifier(client, conf, slack, logger)

	executor := punish.NewExecutor(discord.NewRoleManager(client, logger), punish.NewKVPendingStore(kv), notifier, logger)
	if config.MuteRoleName != "" {
		executor.RoleName = config.MuteRoleName
	}
	if config.MuteDuration > 0 {
		executor.Duration = config.MuteDuration
	}

	led := ledger.NewLedger(
		ledger.NewKVRecordStore(kv),
		ledger.EscalationPolicy{Threshold: config.EscalationThreshold},
		executor,
		logger,
	)

	words := setstore.NewMemSetStore()
	if config.BannedWordsFile != "" {
		err := words.LoadFromFileText(automod.BannedWordsSet, config.BannedWordsFile)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("no banned words file, word filter disabled", "path", config.BannedWordsFile)
		} else if err != nil {
			return nil, fmt.Errorf("loading banned words: %w", err)
		} else {
			logger.Info("loaded banned words", "path", config.BannedWordsFile)
		}
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	if rdb != nil {
		counters = countstore.NewRedisCountStore(rdb)
		// the repeat check needs a consistent view, so no local cache
		cache = cachestore.NewRedisCacheStore(rdb, 10*time.Minute, 0)
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(10_000, 10*time.Minute)
	}
	filter := automod.NewFilter(client, counters, cache, words, logger)

	handler := commands.NewHandler(client, led, executor, conf, notifier, logger)
	handler.Counters = counters
	if config.TicketCategoryName != "" {
		handler.TicketCategory = config.TicketCategoryName
	}

	s := &Server{
		logger:   logger,
		client:   client,
		rdb:      rdb,
		ledger:   led,
		executor: executor,
		mutes:    executor,
		handler:  handler,
		filter:   filter,
		guilds:   make(map[string]string),
	}

	callbacks := &discord.GatewayCallbacks{
		Ready:             s.handleReady,
		GuildCreate:       s.handleGuildCreate,
		MessageCreate:     filter.HandleMessage,
		InteractionCreate: handler.HandleInteraction,
	}
	s.sched = discord.NewScheduler(config.EventWorkers, callbacks.EventHandler, logger)
	s.gateway = discord.NewGateway(config.DiscordGatewayHost, config.DiscordToken, s.sched, logger)

	if config.ReminderInterval > 0 && config.RulesChannelName != "" {
		s.reminder = NewReminder(client, config.RulesChannelName, config.ReminderInterval, logger)
	}

	s.setupAPI(config.Bind, config.AdminToken)
	return s, nil
}

func (s *Server) handleReady(ctx context.Context, evt *discord.Ready) error {
	s.logger.Info("gateway session ready", "user", evt.User.ID, "username", evt.User.Username, "guilds", len(evt.Guilds))
	// for bots, the application id is the bot user's id
	return s.handler.Register(ctx, evt.User.ID)
}

func (s *Server) handleGuildCreate(ctx context.Context, evt *discord.GuildCreate) error {
	s.guildsLk.Lock()
	s.guilds[evt.ID] = evt.Name
	n := len(s.guilds)
	s.guildsLk.Unlock()
	guildsAvailable.Set(float64(n))
	s.logger.Info("guild available", "guild", evt.ID, "name", evt.Name, "members", evt.MemberCount)
	return nil
}

// Runs until the context is cancelled or the gateway rejects the bot's
// session, then shuts down in order: HTTP API, event handlers, pending
// escalations, mute timers.
func (s *Server) Run(ctx context.Context) error {
	if err := s.executor.Restore(ctx); err != nil {
		return fmt.Errorf("restoring scheduled unmutes: %w", err)
	}

	go func() {
		if err := s.RunAPI(); err != nil {
			s.logger.Error("HTTP server shutting down unexpectedly", "err", err)
		}
	}()

	if s.reminder != nil {
		go func() {
			if err := s.reminder.Run(ctx); err != nil {
				s.logger.Error("rules reminder loop failed", "err", err)
			}
		}()
	}

	s.logger.Info("connecting to gateway", "host", s.gateway.Host)
	err := s.gateway.Run(ctx)
	if err != nil {
		s.logger.Error("gateway failed", "err", err)
	}

	s.Shutdown()
	return err
}

func (s *Server) Shutdown() {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpd.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "err", err)
	}

	s.sched.Shutdown()
	s.filter.Wait()
	s.ledger.Wait()
	s.executor.Stop()

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Warn("failed to close redis client", "err", err)
		}
	}
	s.logger.Info("graceful shutdown complete")
}
