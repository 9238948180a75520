// Package api is the HTTP client for the bot backend's REST surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/util"
)

var ErrNotFound = errors.New("not found")

// Error is a non-2xx or success=false reply from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
	}
	return "backend: " + e.Message
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL, e.g. "http://localhost:8001/api".
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: util.NormalizeURL(baseURL),
		HTTP: &http.Client{
			Timeout: util.DefaultHTTPTimeout,
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// do sends the request, drains the body and decodes the envelope's data
// into v (v may be nil).
func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		return &Error{Status: resp.StatusCode, Message: detail(raw, resp.Status)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return &Error{Message: msg}
	}
	if v == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

// detail pulls the error text out of a {"detail": "..."} body.
func detail(raw []byte, fallback string) string {
	var d struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &d) == nil {
		if d.Detail != "" {
			return d.Detail
		}
		if d.Message != "" {
			return d.Message
		}
	}
	return fallback
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	return c.do(ctx, http.MethodGet, path, nil, v)
}

// ── Health and aggregates ──

// Health is the one endpoint that answers without an envelope.
func (c *Client) Health(ctx context.Context) (proto.Health, error) {
	var h proto.Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return h, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return h, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return h, &Error{Status: resp.StatusCode, Message: resp.Status}
	}
	err = json.NewDecoder(resp.Body).Decode(&h)
	return h, err
}

func (c *Client) Stats(ctx context.Context, guild proto.Snowflake) (proto.Stats, error) {
	var s proto.Stats
	path := "/stats"
	if guild != "" {
		path += "?guild_id=" + url.QueryEscape(guild.String())
	}
	err := c.get(ctx, path, &s)
	return s, err
}

func (c *Client) CostUsage(ctx context.Context) (proto.CostUsage, error) {
	var u proto.CostUsage
	err := c.get(ctx, "/cost/usage", &u)
	return u, err
}

func (c *Client) Guilds(ctx context.Context) ([]proto.Guild, error) {
	var out []proto.Guild
	err := c.get(ctx, "/guilds", &out)
	return out, err
}

// ── Chat ──

// ChatLogs returns up to limit entries, newest first.
func (c *Client) ChatLogs(ctx context.Context, guild proto.Snowflake, limit int) ([]proto.ChatLogEntry, error) {
	q := url.Values{}
	if guild != "" {
		q.Set("guild_id", guild.String())
	}
	q.Set("limit", strconv.Itoa(limit))
	var out []proto.ChatLogEntry
	err := c.get(ctx, "/chat-logs?"+q.Encode(), &out)
	return out, err
}

func (c *Client) Users(ctx context.Context) ([]proto.ChatUser, error) {
	var out []proto.ChatUser
	err := c.get(ctx, "/users", &out)
	return out, err
}

func (c *Client) UserHistory(ctx context.Context, user proto.Snowflake, limit int) (proto.UserHistory, error) {
	var out proto.UserHistory
	err := c.get(ctx, fmt.Sprintf("/users/%s/chat-history?limit=%d", url.PathEscape(user.String()), limit), &out)
	return out, err
}

// ── Guild channels and AI mode ──

func (c *Client) ChannelActivity(ctx context.Context, guild proto.Snowflake) ([]proto.ChannelActivity, error) {
	var out []proto.ChannelActivity
	err := c.get(ctx, "/guilds/"+url.PathEscape(guild.String())+"/channel-activity", &out)
	return out, err
}

func (c *Client) AIMode(ctx context.Context, guild proto.Snowflake) (proto.AIMode, error) {
	var out proto.AIMode
	err := c.get(ctx, "/guilds/"+url.PathEscape(guild.String())+"/mode", &out)
	return out, err
}

func (c *Client) SetAIMode(ctx context.Context, guild proto.Snowflake, mode string) error {
	id, err := numericID(guild)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/mode", map[string]any{"guild_id": id, "mode": mode}, nil)
}

func (c *Client) ToggleChannel(ctx context.Context, guild, channel proto.Snowflake, enable bool) error {
	gid, err := numericID(guild)
	if err != nil {
		return err
	}
	cid, err := numericID(channel)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/channels/toggle",
		map[string]any{"guild_id": gid, "channel_id": cid, "enable": enable}, nil)
}

func (c *Client) DeleteChannel(ctx context.Context, guild, channel proto.Snowflake) error {
	path := "/channels/" + url.PathEscape(channel.String()) + "?guild_id=" + url.QueryEscape(guild.String())
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// numericID keeps 64-bit ids exact in JSON bodies.
func numericID(id proto.Snowflake) (json.Number, error) {
	if _, err := strconv.ParseUint(id.String(), 10, 64); err != nil {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return json.Number(id), nil
}

// ── Music ──

func (c *Client) MusicStatus(ctx context.Context, guild proto.Snowflake) (proto.MusicStatus, error) {
	var out proto.MusicStatus
	err := c.get(ctx, "/guilds/"+url.PathEscape(guild.String())+"/music/status", &out)
	return out, err
}

// Control forwards a pause/resume/skip/stop action.
func (c *Client) Control(ctx context.Context, guild proto.Snowflake, action string) error {
	if !proto.ValidAction(action) {
		return fmt.Errorf("invalid action %q", action)
	}
	path := "/guilds/" + url.PathEscape(guild.String()) + "/music/control?action=" + url.QueryEscape(action)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SetPlaybackMode tells the backend whether the bot ("discord") or a
// dashboard ("web") is playing.
func (c *Client) SetPlaybackMode(ctx context.Context, guild proto.Snowflake, mode string) error {
	path := "/guilds/" + url.PathEscape(guild.String()) + "/music/playback-mode?mode=" + url.QueryEscape(mode)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// StreamURL resolves a track URI to a directly playable stream locator.
func (c *Client) StreamURL(ctx context.Context, trackURI string) (proto.StreamLocator, error) {
	var out proto.StreamLocator
	if strings.TrimSpace(trackURI) == "" {
		return out, fmt.Errorf("stream: empty track uri")
	}
	if err := c.get(ctx, "/stream/"+url.PathEscape(trackURI), &out); err != nil {
		return out, err
	}
	if out.StreamURL == "" {
		return out, fmt.Errorf("stream %s: %w", trackURI, ErrNotFound)
	}
	return out, nil
}
