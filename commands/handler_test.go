package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatwarden/warden/automod"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/discord"
	"github.com/chatwarden/warden/guildconf"
	"github.com/chatwarden/warden/kvstore"
	"github.com/chatwarden/warden/ledger"
	"github.com/chatwarden/warden/punish"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Resp  *discord.InteractionResponse
	Files []discord.File
}

type fakeAPI struct {
	lk           sync.Mutex
	responses    []response
	messages     map[string][]*discord.MessageSend
	deletedMsgs  []string
	channels     []discord.Channel
	created      []discord.ChannelCreate
	deletedChans []string
	roleGrants   []string
	members      []discord.Member
	registered   []discord.ApplicationCommand
	nextID       int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: make(map[string][]*discord.MessageSend)}
}

func (a *fakeAPI) CreateInteractionResponse(ctx context.Context, interactionID, token string, resp *discord.InteractionResponse, files ...discord.File) error {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.responses = append(a.responses, response{resp, files})
	return nil
}

func (a *fakeAPI) CreateMessage(ctx context.Context, channelID string, msg *discord.MessageSend) (*discord.Message, error) {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.messages[channelID] = append(a.messages[channelID], msg)
	a.nextID++
	return &discord.Message{ID: fmt.Sprintf("m%d", a.nextID), ChannelID: channelID}, nil
}

func (a *fakeAPI) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.deletedMsgs = append(a.deletedMsgs, channelID+"/"+messageID)
	return nil
}

func (a *fakeAPI) GetGuild(ctx context.Context, guildID string, withCounts bool) (*discord.Guild, error) {
	return &discord.Guild{
		ID:                       guildID,
		Name:                     "Test Guild",
		OwnerID:                  "owner",
		ApproximateMemberCount:   42,
		ApproximatePresenceCount: 7,
	}, nil
}

func (a *fakeAPI) GetGuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error) {
	a.lk.Lock()
	defer a.lk.Unlock()
	return append([]discord.Channel{}, a.channels...), nil
}

func (a *fakeAPI) CreateGuildChannel(ctx context.Context, guildID string, params discord.ChannelCreate, reason string) (*discord.Channel, error) {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.nextID++
	ch := discord.Channel{ID: fmt.Sprintf("c%d", a.nextID), Type: params.Type, Name: params.Name, ParentID: params.ParentID}
	a.channels = append(a.channels, ch)
	a.created = append(a.created, params)
	return &ch, nil
}

func (a *fakeAPI) DeleteChannel(ctx context.Context, channelID, reason string) error {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.deletedChans = append(a.deletedChans, channelID)
	return nil
}

func (a *fakeAPI) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.roleGrants = append(a.roleGrants, userID+"/"+roleID)
	return nil
}

func (a *fakeAPI) ListMembers(ctx context.Context, guildID string, limit int) ([]discord.Member, error) {
	return a.members, nil
}

func (a *fakeAPI) BulkOverwriteGlobalCommands(ctx context.Context, applicationID string, cmds []discord.ApplicationCommand) ([]discord.ApplicationCommand, error) {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.registered = cmds
	return cmds, nil
}

func (a *fakeAPI) lastResponse(t *testing.T) response {
	a.lk.Lock()
	defer a.lk.Unlock()
	require.NotEmpty(t, a.responses)
	return a.responses[len(a.responses)-1]
}

type fakeMutes struct {
	muted map[string]bool
}

func (m *fakeMutes) Cancel(ctx context.Context, scope, subject string) (bool, error) {
	key := scope + "/" + subject
	if !m.muted[key] {
		return false, nil
	}
	delete(m.muted, key)
	return true, nil
}

func (m *fakeMutes) Pending(scope string) []punish.Restriction {
	var out []punish.Restriction
	for key := range m.muted {
		out = append(out, punish.Restriction{Scope: scope, Subject: key})
	}
	return out
}

type fakeNotifier struct {
	audit []string
	dms   map[string][]string
}

func (n *fakeNotifier) SendToAuditLog(ctx context.Context, scope, title, body string) {
	n.audit = append(n.audit, title)
}

func (n *fakeNotifier) SendDirectMessage(ctx context.Context, subject, body string) {
	if n.dms == nil {
		n.dms = make(map[string][]string)
	}
	n.dms[subject] = append(n.dms[subject], body)
}

type testEnv struct {
	h        *Handler
	api      *fakeAPI
	mutes    *fakeMutes
	notifier *fakeNotifier
	conf     *guildconf.Store
	counters *countstore.MemCountStore
}

func newTestEnv() *testEnv {
	kv := kvstore.NewMemStore()
	env := &testEnv{
		api:      newFakeAPI(),
		mutes:    &fakeMutes{muted: make(map[string]bool)},
		notifier: &fakeNotifier{},
		conf:     guildconf.NewStore(kv),
		counters: countstore.NewMemCountStore(),
	}
	l := ledger.NewLedger(ledger.NewKVRecordStore(kv), ledger.DefaultEscalationPolicy(), nil, nil)
	env.h = NewHandler(env.api, l, env.mutes, env.conf, env.notifier, nil)
	env.h.Counters = env.counters
	env.h.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return env
}

func stringOpt(name, val string) discord.CommandOption {
	raw, _ := json.Marshal(val)
	return discord.CommandOption{Name: name, Type: discord.OptionTypeString, Value: raw}
}

func intOpt(name string, val int) discord.CommandOption {
	raw, _ := json.Marshal(val)
	return discord.CommandOption{Name: name, Type: discord.OptionTypeInteger, Value: raw}
}

func admin() *discord.Member {
	return &discord.Member{
		User:        &discord.User{ID: "admin1", Username: "admin"},
		Permissions: discord.Permissions(discord.PermAdministrator),
	}
}

func member(id string, roles ...string) *discord.Member {
	return &discord.Member{User: &discord.User{ID: id, Username: "user" + id}, Roles: roles}
}

func command(m *discord.Member, name string, opts ...discord.CommandOption) *discord.Interaction {
	return &discord.Interaction{
		ID:        "i1",
		Type:      discord.InteractionTypeApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c0",
		Member:    m,
		Token:     "tok",
		Data:      &discord.InteractionData{Name: name, Options: opts},
	}
}

func button(m *discord.Member, customID string) *discord.Interaction {
	return &discord.Interaction{
		ID:        "i2",
		Type:      discord.InteractionTypeMessageComponent,
		GuildID:   "g1",
		ChannelID: "c0",
		Member:    m,
		Token:     "tok",
		Data:      &discord.InteractionData{CustomID: customID, ComponentType: discord.ComponentTypeButton},
		Message:   &discord.Message{ID: "msg1", ChannelID: "c0"},
	}
}

func TestWarnFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	err := env.h.HandleInteraction(ctx, command(admin(), "warn", stringOpt("user", "u1"), stringOpt("reason", "spam"), intOpt("level", 7)))
	require.NoError(t, err)
	resp := env.api.lastResponse(t)
	assert.Equal(discord.ResponseChannelMessageWithSource, resp.Resp.Type)
	embed := resp.Resp.Data.Embeds[0]
	assert.Equal("Level 3", embed.Fields[1].Value)
	assert.Equal("1", embed.Fields[3].Value)
	assert.Equal([]string{"⚠️ Warning issued"}, env.notifier.audit)
	assert.Equal(1, len(env.notifier.dms["u1"]))

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "warn", stringOpt("user", "u1"), stringOpt("reason", "again"))))
	records, err := env.h.Ledger.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(2, len(records))
	assert.Equal(1, records[1].Severity)
	assert.Equal("admin1", records[1].IssuerIdentity)

	// warnings listing
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "warnings", stringOpt("user", "u1"))))
	resp = env.api.lastResponse(t)
	assert.Equal("Total: 2 | Active: 2", resp.Resp.Data.Embeds[0].Description)

	// unwarn one
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "unwarn", stringOpt("user", "u1"), stringOpt("id", "1"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "Removed warning #1")

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "warnings", stringOpt("user", "u1"))))
	embed = env.api.lastResponse(t).Resp.Data.Embeds[0]
	assert.Equal("Total: 2 | Active: 1", embed.Description)
	require.Equal(t, 2, len(embed.Fields))
	assert.Equal("1 removed", embed.Fields[1].Value)

	// unwarn all
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "unwarn", stringOpt("user", "u1"), stringOpt("id", "all"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "Removed all warnings (2)")
}

func TestWarnRejections(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	// regular members may not warn
	require.NoError(t, env.h.HandleInteraction(ctx, command(member("u9"), "warn", stringOpt("user", "u1"), stringOpt("reason", "spam"))))
	resp := env.api.lastResponse(t)
	assert.Equal(discord.MessageFlagEphemeral, resp.Resp.Data.Flags)
	assert.Contains(resp.Resp.Data.Content, "permission")

	// blank reasons
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "warn", stringOpt("user", "u1"), stringOpt("reason", "  "))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "reason")

	// bad selectors and unknown ids
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "unwarn", stringOpt("user", "u1"), stringOpt("id", "abc"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "Invalid warning number")
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "unwarn", stringOpt("user", "u1"), stringOpt("id", "all"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "has no warnings")

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "warn", stringOpt("user", "u1"), stringOpt("reason", "spam"))))
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "unwarn", stringOpt("user", "u1"), stringOpt("id", "5"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "Warning #5 not found")

	// guild commands outside of a guild
	ic := command(nil, "warn")
	ic.GuildID = ""
	ic.User = &discord.User{ID: "u1"}
	require.NoError(t, env.h.HandleInteraction(ctx, ic))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "only be used in a server")
}

func TestModeratorRoles(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	// only admins configure moderator roles
	require.NoError(t, env.h.HandleInteraction(ctx, command(member("u2", "r1"), "modrole", stringOpt("role", "r1"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "permission")

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "modrole", stringOpt("role", "r1"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "<@&r1>")
	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "modrole", stringOpt("role", "r1"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "already")

	// now a member holding r1 may warn
	require.NoError(t, env.h.HandleInteraction(ctx, command(member("u2", "r1"), "warn", stringOpt("user", "u1"), stringOpt("reason", "spam"))))
	records, err := env.h.Ledger.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(1, len(records))
	assert.Equal("u2", records[0].IssuerIdentity)

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "logchannel", stringOpt("channel", "c5"))))
	conf, err := env.conf.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal("c5", conf.LogChannelID)
}

func TestUnmute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()
	env.mutes.muted["g1/u1"] = true

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "unmute", stringOpt("user", "u1"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "was unmuted")
	assert.Empty(env.mutes.muted)

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "unmute", stringOpt("user", "u1"))))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "is not muted")
}

func TestBackup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	_, err := env.h.Ledger.Issue(ctx, ledger.Subject{Scope: "g1", ID: "u1"}, "m1", "spam", 2)
	require.NoError(t, err)
	// warnings from another guild stay out of this guild's backup
	_, err = env.h.Ledger.Issue(ctx, ledger.Subject{Scope: "g2", ID: "u1"}, "m9", "elsewhere", 1)
	require.NoError(t, err)
	_, err = env.h.Ledger.Issue(ctx, ledger.Subject{Scope: "g2", ID: "u7"}, "m9", "secret", 3)
	require.NoError(t, err)

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "backup")))
	resp := env.api.lastResponse(t)
	require.Equal(t, 1, len(resp.Files))
	assert.Equal("backup_warnings_20240301_120000.json", resp.Files[0].Name)
	assert.Equal("application/json", resp.Files[0].ContentType)

	var sl ledger.SubjectLedger
	require.NoError(t, json.Unmarshal(resp.Files[0].Data, &sl))
	require.Equal(t, 1, len(sl))
	require.Equal(t, 1, len(sl["u1"]))
	assert.Equal("spam", sl["u1"][0].Reason)
	assert.Equal(2, sl["u1"][0].Severity)
	assert.NotContains(string(resp.Files[0].Data), "secret")
	assert.NotContains(string(resp.Files[0].Data), "elsewhere")
}

func TestTickets(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()
	_, err := env.conf.AddModRole(ctx, "g1", "r1")
	require.NoError(t, err)

	opener := member("u3")
	opener.User.Username = "Some.User"
	require.NoError(t, env.h.HandleInteraction(ctx, command(opener, "ticket", stringOpt("topic", "appeal"), stringOpt("description", "please"))))

	env.api.lk.Lock()
	require.Equal(t, 2, len(env.api.created))
	cat, ch := env.api.created[0], env.api.created[1]
	assert.Equal(DefaultTicketCategory, cat.Name)
	assert.Equal(discord.ChannelTypeGuildCategory, cat.Type)
	assert.Equal("ticket-someuser", ch.Name)
	assert.Equal("c1", ch.ParentID)
	assert.Contains(ch.Topic, "appeal")
	require.Equal(t, 3, len(ch.PermissionOverwrites))
	assert.Equal("g1", ch.PermissionOverwrites[0].ID)
	assert.True(ch.PermissionOverwrites[0].Deny.Has(discord.PermViewChannel))
	assert.Equal("u3", ch.PermissionOverwrites[1].ID)
	assert.Equal("r1", ch.PermissionOverwrites[2].ID)
	assert.Equal(2, len(env.api.messages["c2"]))
	env.api.lk.Unlock()

	resp := env.api.lastResponse(t)
	assert.Equal(discord.MessageFlagEphemeral, resp.Resp.Data.Flags)
	assert.Contains(resp.Resp.Data.Content, "<#c2>")

	// a second ticket reuses the category
	require.NoError(t, env.h.HandleInteraction(ctx, command(member("u4"), "ticket", stringOpt("topic", "question"), stringOpt("description", "hi"))))
	env.api.lk.Lock()
	assert.Equal(3, len(env.api.created))
	env.api.lk.Unlock()

	// only moderators may close
	closeClick := button(member("u3"), CustomIDTicketClose)
	closeClick.ChannelID = "c2"
	require.NoError(t, env.h.HandleInteraction(ctx, closeClick))
	assert.Empty(env.api.deletedChans)

	closeClick.Member = member("u5", "r1")
	require.NoError(t, env.h.HandleInteraction(ctx, closeClick))
	assert.Equal([]string{"c2"}, env.api.deletedChans)
	assert.Equal(discord.ResponseDeferredUpdateMessage, env.api.lastResponse(t).Resp.Type)

	require.NoError(t, env.h.HandleInteraction(ctx, button(admin(), CustomIDTicketAdd)))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "not implemented yet")
}

func TestVerification(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	require.NoError(t, env.h.HandleInteraction(ctx, command(admin(), "verification", stringOpt("channel", "c7"), stringOpt("role", "rv"))))
	env.api.lk.Lock()
	require.Equal(t, 1, len(env.api.messages["c7"]))
	btn := env.api.messages["c7"][0].Components[0].Components[0]
	env.api.lk.Unlock()
	assert.Equal("verify:rv", btn.CustomID)

	require.NoError(t, env.h.HandleInteraction(ctx, button(member("u1"), btn.CustomID)))
	assert.Equal([]string{"u1/rv"}, env.api.roleGrants)
	assert.Equal("✅ Verified!", env.api.lastResponse(t).Resp.Data.Embeds[0].Title)

	require.NoError(t, env.h.HandleInteraction(ctx, button(member("u1", "rv"), btn.CustomID)))
	assert.Equal(1, len(env.api.roleGrants))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Content, "already verified")
}

func TestHelpPagination(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	require.NoError(t, env.h.HandleInteraction(ctx, command(member("u1"), "help")))
	msg := env.api.lastResponse(t).Resp.Data
	assert.Contains(msg.Embeds[0].Description, "Page 1/3")
	row := msg.Components[0].Components
	assert.True(row[0].Disabled)
	assert.Equal("help:1", row[1].CustomID)

	require.NoError(t, env.h.HandleInteraction(ctx, button(member("u1"), "help:2")))
	resp := env.api.lastResponse(t)
	assert.Equal(discord.ResponseUpdateMessage, resp.Resp.Type)
	assert.Contains(resp.Resp.Data.Embeds[0].Description, "Page 3/3")
	assert.True(resp.Resp.Data.Components[0].Components[1].Disabled)

	// out of range pages clamp
	require.NoError(t, env.h.HandleInteraction(ctx, button(member("u1"), "help:9")))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Embeds[0].Description, "Page 3/3")

	require.NoError(t, env.h.HandleInteraction(ctx, button(member("u1"), "help:close")))
	assert.Equal([]string{"c0/msg1"}, env.api.deletedMsgs)

	// help also works in DMs
	ic := command(nil, "help")
	ic.GuildID = ""
	require.NoError(t, env.h.HandleInteraction(ctx, ic))
	assert.Contains(env.api.lastResponse(t).Resp.Data.Embeds[0].Description, "Page 1/3")
}

func TestStats(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	env.api.channels = []discord.Channel{
		{ID: "c1", Type: discord.ChannelTypeGuildText},
		{ID: "c2", Type: discord.ChannelTypeGuildText},
		{ID: "c3", Type: discord.ChannelTypeGuildVoice},
		{ID: "c4", Type: discord.ChannelTypeGuildCategory},
	}
	env.api.members = []discord.Member{
		{User: &discord.User{ID: "b1", Bot: true}},
		{User: &discord.User{ID: "u1"}},
	}
	env.mutes.muted["u1"] = true
	_, err := env.h.Ledger.Issue(ctx, ledger.Subject{Scope: "g1", ID: "u1"}, "m1", "spam", 1)
	require.NoError(t, err)
	_, err = env.h.Ledger.Issue(ctx, ledger.Subject{Scope: "g1", ID: "u2"}, "m1", "spam", 1)
	require.NoError(t, err)
	_, err = env.h.Ledger.Remove(ctx, "u2", ledger.All())
	require.NoError(t, err)
	require.NoError(t, env.counters.Increment(ctx, automod.CounterSpam, "g1"))

	// snowflake for 2020-01-01T00:00:00Z
	guildID := "661720242585600000"
	s, err := env.h.CollectStats(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(42, s.Members)
	assert.Equal(7, s.Online)
	assert.Equal(1, s.Bots)
	assert.Equal(2, s.Text)
	assert.Equal(1, s.Voice)
	assert.Equal(1, s.Categories)
	assert.Equal(2, s.WarningsTotal)
	assert.Equal(1, s.WarningsActive)
	assert.Equal(1, s.MutesPending)
	assert.Equal(0, s.AutomodSpam)
	assert.Equal(2020, s.Created.Year())

	s, err = env.h.CollectStats(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(1, s.AutomodSpam)

	require.NoError(t, env.h.HandleInteraction(ctx, command(member("u1"), "stats")))
	embed := env.api.lastResponse(t).Resp.Data.Embeds[0]
	assert.Equal("📊 Server statistics", embed.Title)
	assert.Equal("Server ID: g1", embed.Footer.Text)
}

func TestRegister(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv()

	require.NoError(t, env.h.Register(context.Background(), "app1"))
	names := map[string]bool{}
	for _, c := range env.api.registered {
		names[c.Name] = true
	}
	for _, n := range []string{"warn", "warnings", "unwarn", "unmute", "logchannel", "modrole", "ticket", "stats", "verification", "help", "backup"} {
		assert.True(names[n], n)
	}
}
