package automod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chatwarden/warden/automod/cachestore"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/automod/setstore"
	"github.com/chatwarden/warden/discord"
)

const (
	RuleSpam       = "spam"
	RuleBannedWord = "banned-word"

	// setstore name holding the lower-cased banned word list
	BannedWordsSet = "banned-words"

	// countstore names
	CounterSpam       = "automod-spam"
	CounterBannedWord = "automod-banned-word"
	CounterOffenders  = "automod-offenders"

	recentCacheName = "recent-messages"

	DefaultMaxMentions  = 5
	DefaultRepeatWindow = 3
	DefaultNoticeTTL    = 5 * time.Second
)

// The platform calls the filter needs to enforce its rules.
type Platform interface {
	CreateMessage(ctx context.Context, channelID string, msg *discord.MessageSend) (*discord.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID, reason string) error
	SendDirectMessage(ctx context.Context, userID string, msg *discord.MessageSend) (*discord.Message, error)
}

// Outcome of filtering a single message. A nil verdict means the message was left alone.
type Verdict struct {
	Rule   string
	Detail string
}

// Inspects guild messages and removes spam and messages containing banned words.
//
// Each member's recent messages per channel are kept in the Cache (which
// should have a TTL of a few minutes), so repeats are only detected in short
// bursts.
type Filter struct {
	Platform Platform
	Counters countstore.CountStore
	Cache    cachestore.CacheStore
	Words    setstore.SetStore
	Logger   *slog.Logger

	// more than this many user mentions in one message counts as spam
	MaxMentions int
	// this many identical consecutive messages counts as spam
	RepeatWindow int
	// how long the spam notice stays in the channel
	NoticeTTL time.Duration

	// tracks notice cleanup goroutines
	wg sync.WaitGroup
}

func NewFilter(p Platform, counters countstore.CountStore, cache cachestore.CacheStore, words setstore.SetStore, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		Platform:     p,
		Counters:     counters,
		Cache:        cache,
		Words:        words,
		Logger:       logger.With("component", "automod"),
		MaxMentions:  DefaultMaxMentions,
		RepeatWindow: DefaultRepeatWindow,
		NoticeTTL:    DefaultNoticeTTL,
	}
}

// Runs the spam check and then the banned word check on a newly created
// message, enforcing the first rule which matches. Messages from bots,
// webhooks, and outside of guilds are ignored.
//
// Platform failures while enforcing are logged, not returned; errors are only
// returned when filter state could not be read or written.
func (f *Filter) ProcessMessage(ctx context.Context, msg *discord.Message) (*Verdict, error) {
	// similar to an HTTP server, we want to recover any panics from rule execution
	defer func() {
		if r := recover(); r != nil {
			f.Logger.Error("automod message filter exception", "err", r, "channel", msg.ChannelID, "message", msg.ID)
		}
	}()

	if msg.GuildID == "" || msg.Author == nil || msg.Author.Bot || msg.WebhookID != "" {
		return nil, nil
	}
	messagesSeen.Inc()
	logger := f.Logger.With("guild", msg.GuildID, "channel", msg.ChannelID, "author", msg.Author.ID)

	v, err := f.checkSpam(ctx, msg)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v, err = f.checkBannedWords(ctx, msg)
		if err != nil {
			return nil, err
		}
	}
	if v == nil {
		return nil, nil
	}

	logger.Info("automod rule matched", "rule", v.Rule, "detail", v.Detail, "message", msg.ID)
	actionsCount.WithLabelValues(v.Rule).Inc()
	f.enforce(ctx, logger, msg, v)
	if err := f.persistCounters(ctx, msg, v); err != nil {
		return v, err
	}
	return v, nil
}

func (f *Filter) checkSpam(ctx context.Context, msg *discord.Message) (*Verdict, error) {
	mentions := 0
	for _, u := range msg.Mentions {
		if !u.Bot {
			mentions++
		}
	}
	if mentions > f.MaxMentions {
		return &Verdict{Rule: RuleSpam, Detail: fmt.Sprintf("%d mentions", mentions)}, nil
	}

	recent, err := f.recordRecent(ctx, msg)
	if err != nil {
		return nil, err
	}
	if f.RepeatWindow > 1 && len(recent) >= f.RepeatWindow {
		for _, c := range recent[len(recent)-f.RepeatWindow:] {
			if c != msg.Content {
				return nil, nil
			}
		}
		return &Verdict{Rule: RuleSpam, Detail: fmt.Sprintf("%d repeated messages", f.RepeatWindow)}, nil
	}
	return nil, nil
}

// Appends the message content to the author's recent history in the channel,
// and returns the updated history (oldest first).
func (f *Filter) recordRecent(ctx context.Context, msg *discord.Message) ([]string, error) {
	key := msg.ChannelID + "/" + msg.Author.ID
	raw, err := f.Cache.Get(ctx, recentCacheName, key)
	if err != nil {
		filterErrors.WithLabelValues("cache").Inc()
		return nil, fmt.Errorf("reading recent messages: %w", err)
	}
	var recent []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &recent); err != nil {
			// corrupt entries are replaced
			f.Logger.Warn("discarding unreadable recent message history", "key", key, "err", err)
			recent = nil
		}
	}
	recent = append(recent, msg.Content)
	if len(recent) > f.RepeatWindow {
		recent = recent[len(recent)-f.RepeatWindow:]
	}
	b, err := json.Marshal(recent)
	if err != nil {
		return nil, err
	}
	if err := f.Cache.Set(ctx, recentCacheName, key, string(b)); err != nil {
		filterErrors.WithLabelValues("cache").Inc()
		return nil, fmt.Errorf("saving recent messages: %w", err)
	}
	return recent, nil
}

func (f *Filter) checkBannedWords(ctx context.Context, msg *discord.Message) (*Verdict, error) {
	if f.Words == nil || msg.Content == "" {
		return nil, nil
	}
	words, err := f.Words.List(ctx, BannedWordsSet)
	if err != nil {
		filterErrors.WithLabelValues("words").Inc()
		return nil, fmt.Errorf("loading banned words: %w", err)
	}
	text := strings.ToLower(msg.Content)
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			// the word itself is not logged
			return &Verdict{Rule: RuleBannedWord, Detail: "banned word"}, nil
		}
	}
	return nil, nil
}

func (f *Filter) enforce(ctx context.Context, logger *slog.Logger, msg *discord.Message, v *Verdict) {
	if err := f.Platform.DeleteMessage(ctx, msg.ChannelID, msg.ID, "automod: "+v.Rule); err != nil {
		filterErrors.WithLabelValues("delete").Inc()
		logger.Warn("failed to delete message", "message", msg.ID, "err", err)
	}

	switch v.Rule {
	case RuleSpam:
		notice, err := f.Platform.CreateMessage(ctx, msg.ChannelID, &discord.MessageSend{
			Content:         msg.Author.Mention() + ", please don't spam!",
			AllowedMentions: &discord.AllowedMentions{Parse: []string{}, Users: []string{msg.Author.ID}},
		})
		if err != nil {
			filterErrors.WithLabelValues("notice").Inc()
			logger.Warn("failed to post spam notice", "err", err)
			return
		}
		f.deleteLater(ctx, msg.ChannelID, notice.ID)
	case RuleBannedWord:
		_, err := f.Platform.SendDirectMessage(ctx, msg.Author.ID, &discord.MessageSend{
			Content: "Your message was removed from the server for breaking the chat rules.",
		})
		if err != nil {
			// closed DMs are common
			logger.Debug("failed to notify author", "err", err)
		}
	}
}

// Removes a notice after NoticeTTL. The deletion outlives the event handler's context.
func (f *Filter) deleteLater(ctx context.Context, channelID, messageID string) {
	ctx = context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		time.Sleep(f.NoticeTTL)
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := f.Platform.DeleteMessage(ctx, channelID, messageID, ""); err != nil {
			filterErrors.WithLabelValues("notice").Inc()
			f.Logger.Warn("failed to remove spam notice", "channel", channelID, "message", messageID, "err", err)
		}
	}()
}

func (f *Filter) persistCounters(ctx context.Context, msg *discord.Message, v *Verdict) error {
	name := CounterSpam
	if v.Rule == RuleBannedWord {
		name = CounterBannedWord
	}
	if err := f.Counters.Increment(ctx, name, msg.GuildID); err != nil {
		filterErrors.WithLabelValues("counters").Inc()
		return fmt.Errorf("incrementing %s counter: %w", name, err)
	}
	if err := f.Counters.IncrementDistinct(ctx, CounterOffenders, msg.GuildID, msg.Author.ID); err != nil {
		filterErrors.WithLabelValues("counters").Inc()
		return fmt.Errorf("incrementing offender count: %w", err)
	}
	return nil
}

// Blocks until pending notice removals have finished.
func (f *Filter) Wait() {
	f.wg.Wait()
}

// Handler for gateway MESSAGE_CREATE events.
func (f *Filter) HandleMessage(ctx context.Context, msg *discord.Message) error {
	_, err := f.ProcessMessage(ctx, msg)
	return err
}
