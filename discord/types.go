package discord

import (
	"encoding/json"
	"strconv"
	"time"
)

// Permission bits, as carried (stringified) in role, member, and overwrite payloads.
const (
	PermKickMembers           int64 = 1 << 1
	PermBanMembers            int64 = 1 << 2
	PermAdministrator         int64 = 1 << 3
	PermManageChannels        int64 = 1 << 4
	PermManageGuild           int64 = 1 << 5
	PermAddReactions          int64 = 1 << 6
	PermViewChannel           int64 = 1 << 10
	PermSendMessages          int64 = 1 << 11
	PermManageMessages        int64 = 1 << 13
	PermReadMessageHistory    int64 = 1 << 16
	PermManageRoles           int64 = 1 << 28
	PermSendMessagesInThreads int64 = 1 << 38
)

const (
	ChannelTypeGuildText     = 0
	ChannelTypeDM            = 1
	ChannelTypeGuildVoice    = 2
	ChannelTypeGuildCategory = 4
	ChannelTypeGuildNews     = 5
	ChannelTypeGuildStage    = 13
	ChannelTypeGuildForum    = 15
)

const (
	OverwriteTypeRole   = 0
	OverwriteTypeMember = 1
)

const (
	InteractionTypePing               = 1
	InteractionTypeApplicationCommand = 2
	InteractionTypeMessageComponent   = 3
)

const (
	ResponsePong                     = 1
	ResponseChannelMessageWithSource = 4
	ResponseDeferredChannelMessage   = 5
	ResponseDeferredUpdateMessage    = 6
	ResponseUpdateMessage            = 7
)

const (
	ComponentTypeActionRow = 1
	ComponentTypeButton    = 2
)

const (
	ButtonStylePrimary   = 1
	ButtonStyleSecondary = 2
	ButtonStyleSuccess   = 3
	ButtonStyleDanger    = 4
)

const (
	OptionTypeSubCommand = 1
	OptionTypeString     = 3
	OptionTypeInteger    = 4
	OptionTypeBoolean    = 5
	OptionTypeUser       = 6
	OptionTypeChannel    = 7
	OptionTypeRole       = 8
)

const MessageFlagEphemeral = 1 << 6

// Platform epoch for snowflake timestamps (2015-01-01T00:00:00Z), in milliseconds.
const snowflakeEpochMillis = 1420070400000

// Creation time encoded in a snowflake id. Zero time for unparsable ids.
func SnowflakeTime(id string) time.Time {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(n>>22) + snowflakeEpochMillis).UTC()
}

// Permission bitsets travel as decimal strings.
type Permissions int64

func (p Permissions) Has(bits int64) bool {
	return int64(p)&bits == bits
}

func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(p), 10))
}

func (p *Permissions) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// some payloads carry the bare number
		var n int64
		if err2 := json.Unmarshal(raw, &n); err2 != nil {
			return err
		}
		*p = Permissions(n)
		return nil
	}
	if s == "" {
		*p = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*p = Permissions(n)
	return nil
}

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Mention markup for the user.
func (u *User) Mention() string {
	return "<@" + u.ID + ">"
}

func (u *User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

type Member struct {
	User        *User       `json:"user,omitempty"`
	Nick        string      `json:"nick,omitempty"`
	Roles       []string    `json:"roles"`
	Permissions Permissions `json:"permissions,omitempty"`
	JoinedAt    string      `json:"joined_at,omitempty"`
}

func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

type Role struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Color       int         `json:"color"`
	Permissions Permissions `json:"permissions"`
	Position    int         `json:"position"`
	Managed     bool        `json:"managed,omitempty"`
}

type PermissionOverwrite struct {
	ID    string      `json:"id"`
	Type  int         `json:"type"`
	Allow Permissions `json:"allow"`
	Deny  Permissions `json:"deny"`
}

type Channel struct {
	ID                   string                `json:"id"`
	Type                 int                   `json:"type"`
	GuildID              string                `json:"guild_id,omitempty"`
	Name                 string                `json:"name,omitempty"`
	Topic                string                `json:"topic,omitempty"`
	ParentID             string                `json:"parent_id,omitempty"`
	Position             int                   `json:"position,omitempty"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`
}

type Guild struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	OwnerID                  string `json:"owner_id,omitempty"`
	Unavailable              bool   `json:"unavailable,omitempty"`
	ApproximateMemberCount   int    `json:"approximate_member_count,omitempty"`
	ApproximatePresenceCount int    `json:"approximate_presence_count,omitempty"`
	Roles                    []Role `json:"roles,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// Action rows and buttons.
type Component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Disabled   bool        `json:"disabled,omitempty"`
	Components []Component `json:"components,omitempty"`
}

func ActionRow(buttons ...Component) Component {
	return Component{Type: ComponentTypeActionRow, Components: buttons}
}

func Button(style int, label, customID string) Component {
	return Component{Type: ComponentTypeButton, Style: style, Label: label, CustomID: customID}
}

type AllowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
}

type Message struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	GuildID   string  `json:"guild_id,omitempty"`
	Author    *User   `json:"author,omitempty"`
	Member    *Member `json:"member,omitempty"`
	Content   string  `json:"content"`
	Mentions  []User  `json:"mentions,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	WebhookID string  `json:"webhook_id,omitempty"`
}

// Body for creating a message, or an interaction response message.
type MessageSend struct {
	Content         string           `json:"content,omitempty"`
	Embeds          []Embed          `json:"embeds,omitempty"`
	Components      []Component      `json:"components,omitempty"`
	Flags           int              `json:"flags,omitempty"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
	Attachments     []Attachment     `json:"attachments,omitempty"`
}

// Reference from a message payload to an uploaded file part.
type Attachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

// Attachment uploaded alongside a message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type CommandOption struct {
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Value   json.RawMessage `json:"value,omitempty"`
	Options []CommandOption `json:"options,omitempty"`
}

// String form of the option value; numbers are formatted in decimal.
func (o *CommandOption) StringValue() string {
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(o.Value, &n); err == nil {
		return n.String()
	}
	return string(o.Value)
}

func (o *CommandOption) IntValue() (int, bool) {
	var n int
	if err := json.Unmarshal(o.Value, &n); err == nil {
		return n, true
	}
	if i, err := strconv.Atoi(o.StringValue()); err == nil {
		return i, true
	}
	return 0, false
}

type ResolvedData struct {
	Users    map[string]User    `json:"users,omitempty"`
	Members  map[string]Member  `json:"members,omitempty"`
	Roles    map[string]Role    `json:"roles,omitempty"`
	Channels map[string]Channel `json:"channels,omitempty"`
}

type InteractionData struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name,omitempty"`
	Type          int             `json:"type,omitempty"`
	Options       []CommandOption `json:"options,omitempty"`
	Resolved      *ResolvedData   `json:"resolved,omitempty"`
	CustomID      string          `json:"custom_id,omitempty"`
	ComponentType int             `json:"component_type,omitempty"`
}

func (d *InteractionData) Option(name string) *CommandOption {
	for i := range d.Options {
		if d.Options[i].Name == name {
			return &d.Options[i]
		}
	}
	return nil
}

type Interaction struct {
	ID            string           `json:"id"`
	ApplicationID string           `json:"application_id"`
	Type          int              `json:"type"`
	Data          *InteractionData `json:"data,omitempty"`
	GuildID       string           `json:"guild_id,omitempty"`
	ChannelID     string           `json:"channel_id,omitempty"`
	Member        *Member          `json:"member,omitempty"`
	User          *User            `json:"user,omitempty"`
	Token         string           `json:"token"`
	Message       *Message         `json:"message,omitempty"`
}

// The invoking user, whether the interaction came from a guild or a DM.
func (i *Interaction) Invoker() *User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

type InteractionResponse struct {
	Type int          `json:"type"`
	Data *MessageSend `json:"data,omitempty"`
}

type ApplicationCommandOption struct {
	Type        int                        `json:"type"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Required    bool                       `json:"required,omitempty"`
	MinValue    *int                       `json:"min_value,omitempty"`
	MaxValue    *int                       `json:"max_value,omitempty"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`
}

type ApplicationCommand struct {
	ID           string                     `json:"id,omitempty"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	Options      []ApplicationCommandOption `json:"options,omitempty"`
	DMPermission *bool                      `json:"dm_permission,omitempty"`
}

// Gateway READY payload (the parts we use).
type Ready struct {
	Version          int     `json:"v"`
	User             User    `json:"user"`
	Guilds           []Guild `json:"guilds"`
	SessionID        string  `json:"session_id"`
	ResumeGatewayURL string  `json:"resume_gateway_url"`
}

// Gateway GUILD_CREATE payload (the parts we use).
type GuildCreate struct {
	Guild
	Channels    []Channel `json:"channels,omitempty"`
	MemberCount int       `json:"member_count,omitempty"`
}
