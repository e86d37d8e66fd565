package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

type RoleCreate struct {
	Name        string       `json:"name"`
	Color       int          `json:"color,omitempty"`
	Permissions *Permissions `json:"permissions,omitempty"`
	Mentionable bool         `json:"mentionable,omitempty"`
}

type ChannelCreate struct {
	Name                 string                `json:"name"`
	Type                 int                   `json:"type"`
	Topic                string                `json:"topic,omitempty"`
	ParentID             string                `json:"parent_id,omitempty"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`
}

func (c *Client) GetCurrentUser(ctx context.Context) (*User, error) {
	var out User
	if err := c.Do(ctx, http.MethodGet, "/users/@me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Guilds the bot is a member of (first page, up to 200).
func (c *Client) GetCurrentUserGuilds(ctx context.Context) ([]Guild, error) {
	var out []Guild
	if err := c.Do(ctx, http.MethodGet, "/users/@me/guilds", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetGuild(ctx context.Context, guildID string, withCounts bool) (*Guild, error) {
	var out Guild
	var opts []RequestOption
	if withCounts {
		opts = append(opts, WithQuery(url.Values{"with_counts": []string{"true"}}))
	}
	if err := c.Do(ctx, http.MethodGet, "/guilds/"+guildID, nil, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	var out []Role
	if err := c.Do(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateGuildRole(ctx context.Context, guildID string, params RoleCreate, reason string) (*Role, error) {
	var out Role
	if err := c.Do(ctx, http.MethodPost, "/guilds/"+guildID+"/roles", params, &out, WithReason(reason)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var out []Channel
	if err := c.Do(ctx, http.MethodGet, "/guilds/"+guildID+"/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateGuildChannel(ctx context.Context, guildID string, params ChannelCreate, reason string) (*Channel, error) {
	var out Channel
	if err := c.Do(ctx, http.MethodPost, "/guilds/"+guildID+"/channels", params, &out, WithReason(reason)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID, reason string) error {
	return c.Do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil, WithReason(reason))
}

// Creates or replaces the overwrite for ow.ID on the channel.
func (c *Client) EditChannelPermissions(ctx context.Context, channelID string, ow PermissionOverwrite, reason string) error {
	body := map[string]interface{}{
		"allow": ow.Allow,
		"deny":  ow.Deny,
		"type":  ow.Type,
	}
	return c.Do(ctx, http.MethodPut, "/channels/"+channelID+"/permissions/"+ow.ID, body, nil, WithReason(reason))
}

func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return c.Do(ctx, http.MethodPut, fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID), nil, nil, WithReason(reason))
}

func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return c.Do(ctx, http.MethodDelete, fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID), nil, nil, WithReason(reason))
}

func (c *Client) GetMember(ctx context.Context, guildID, userID string) (*Member, error) {
	var out Member
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// First page of guild members, ordered by user id. Needs the GUILD_MEMBERS intent.
func (c *Client) ListMembers(ctx context.Context, guildID string, limit int) ([]Member, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var out []Member
	q := url.Values{"limit": []string{strconv.Itoa(limit)}}
	if err := c.Do(ctx, http.MethodGet, "/guilds/"+guildID+"/members", nil, &out, WithQuery(q)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateMessage(ctx context.Context, channelID string, msg *MessageSend) (*Message, error) {
	var out Message
	if err := c.Do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	return c.Do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, nil, WithReason(reason))
}

func (c *Client) CreateDM(ctx context.Context, userID string) (*Channel, error) {
	var out Channel
	body := map[string]string{"recipient_id": userID}
	if err := c.Do(ctx, http.MethodPost, "/users/@me/channels", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Opens (or reuses) the DM channel with the user and posts to it. Fails with
// a 403 *Error when the user does not accept DMs.
func (c *Client) SendDirectMessage(ctx context.Context, userID string, msg *MessageSend) (*Message, error) {
	ch, err := c.CreateDM(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("opening DM channel: %w", err)
	}
	return c.CreateMessage(ctx, ch.ID, msg)
}

// Responds to an interaction. With files, the response is sent as a
// multipart upload and each file is referenced as an attachment.
func (c *Client) CreateInteractionResponse(ctx context.Context, interactionID, token string, resp *InteractionResponse, files ...File) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token)
	if len(files) == 0 {
		return c.Do(ctx, http.MethodPost, path, resp, nil)
	}
	body, err := multipartPayload(resp, files)
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPost, path, body, nil)
}

func multipartPayload(resp *InteractionResponse, files []File) (*rawBody, error) {
	if resp.Data == nil {
		resp.Data = &MessageSend{}
	}
	resp.Data.Attachments = nil
	for i, f := range files {
		resp.Data.Attachments = append(resp.Data.Attachments, Attachment{ID: i, Filename: f.Name})
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	pj := make(textproto.MIMEHeader)
	pj.Set("Content-Disposition", `form-data; name="payload_json"`)
	pj.Set("Content-Type", "application/json")
	part, err := w.CreatePart(pj)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, err
	}
	for i, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[%d]"; filename=%q`, i, f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &rawBody{contentType: w.FormDataContentType(), data: buf.Bytes()}, nil
}

// Replaces the application's global slash command set.
func (c *Client) BulkOverwriteGlobalCommands(ctx context.Context, applicationID string, cmds []ApplicationCommand) ([]ApplicationCommand, error) {
	var out []ApplicationCommand
	if err := c.Do(ctx, http.MethodPut, "/applications/"+applicationID+"/commands", cmds, &out); err != nil {
		return nil, err
	}
	return out, nil
}
