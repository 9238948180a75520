package proto

import (
	"encoding/json"
	"math"
)

// Track describes a queued or playing track. PositionMs is the position at
// the time the snapshot was taken; it is never advanced in place.
type Track struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	LengthMs   int64  `json:"length"`
	PositionMs int64  `json:"position"`
	Artwork    string `json:"artwork,omitempty"`
	URI        string `json:"uri,omitempty"`
	StreamURL  string `json:"stream_url,omitempty"`
}

// UnmarshalJSON accepts both the backend field names (length, position) and
// the camel-case variants (lengthMs, positionMs). Fractional milliseconds are
// rounded.
func (t *Track) UnmarshalJSON(b []byte) error {
	var raw struct {
		Title      string   `json:"title"`
		Author     string   `json:"author"`
		Length     *float64 `json:"length"`
		LengthMs   *float64 `json:"lengthMs"`
		Position   *float64 `json:"position"`
		PositionMs *float64 `json:"positionMs"`
		Artwork    *string  `json:"artwork"`
		URI        string   `json:"uri"`
		StreamURL  string   `json:"stream_url"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Track{
		Title:      raw.Title,
		Author:     raw.Author,
		LengthMs:   firstMillis(raw.LengthMs, raw.Length),
		PositionMs: firstMillis(raw.PositionMs, raw.Position),
		URI:        raw.URI,
		StreamURL:  raw.StreamURL,
	}
	if raw.Artwork != nil {
		t.Artwork = *raw.Artwork
	}
	return nil
}

func firstMillis(vals ...*float64) int64 {
	for _, v := range vals {
		if v != nil {
			return int64(math.Round(*v))
		}
	}
	return 0
}

// MusicStatus is the snapshot returned by GET /guilds/{id}/music/status.
type MusicStatus struct {
	Playing      bool    `json:"playing"`
	Connected    bool    `json:"connected"`
	Paused       bool    `json:"paused"`
	Volume       float64 `json:"volume"`
	CurrentTrack *Track  `json:"current_track"`
	Queue        []Track `json:"queue"`
	LoopMode     string  `json:"loop_mode"`
	PlaybackMode string  `json:"playback_mode,omitempty"`
}

// ChatLogEntry is one user message with the bot's reply.
type ChatLogEntry struct {
	ID           string    `json:"id"`
	UserID       Snowflake `json:"user_id"`
	Username     string    `json:"username"`
	UserAvatar   string    `json:"user_avatar,omitempty"`
	ChannelID    Snowflake `json:"channel_id,omitempty"`
	ChannelName  string    `json:"channel_name"`
	GuildID      Snowflake `json:"guild_id,omitempty"`
	GuildName    string    `json:"guild_name,omitempty"`
	UserMessage  string    `json:"user_message"`
	AIResponse   string    `json:"ai_response"`
	TokensUsed   float64   `json:"tokens_used"`
	AIMode       string    `json:"ai_mode,omitempty"`
	ResponseTime float64   `json:"response_time,omitempty"`
	Timestamp    string    `json:"timestamp,omitempty"`
	CreatedAt    string    `json:"created_at,omitempty"`
}

// ChatUser is a roster row: a user who has chatted with the bot.
type ChatUser struct {
	UserID       Snowflake `json:"user_id"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar,omitempty"`
	MessageCount int       `json:"message_count"`
	TotalTokens  float64   `json:"total_tokens"`
	LastMessage  string    `json:"last_message,omitempty"`
}

// UserMessage is one row of a user's chat history.
type UserMessage struct {
	ID          string  `json:"id"`
	Message     string  `json:"message"`
	Response    string  `json:"response"`
	TokensUsed  float64 `json:"tokens_used"`
	Timestamp   string  `json:"timestamp"`
	ChannelName string  `json:"channel_name"`
	GuildName   string  `json:"guild_name"`
}

// UserHistory is the payload of GET /users/{id}/chat-history.
type UserHistory struct {
	User struct {
		UserID   Snowflake `json:"user_id"`
		Username string    `json:"username"`
		Avatar   string    `json:"avatar,omitempty"`
	} `json:"user"`
	Messages []UserMessage `json:"messages"`
}

// ChannelActivity is one row of the per-guild channel heatmap.
type ChannelActivity struct {
	ChannelID    Snowflake `json:"channel_id"`
	ChannelName  string    `json:"channel_name"`
	MessageCount int       `json:"message_count"`
	LastActivity string    `json:"last_activity,omitempty"`
	AvgTokens    float64   `json:"avg_tokens"`
	Exists       bool      `json:"exists"`
}

// CostUsage is the daily quota snapshot from GET /cost/usage.
type CostUsage struct {
	DailyRequests     int     `json:"daily_requests"`
	DailyTokens       int     `json:"daily_tokens"`
	RequestLimit      int     `json:"request_limit"`
	TokenLimit        int     `json:"token_limit"`
	RequestsRemaining int     `json:"requests_remaining"`
	TokensRemaining   int     `json:"tokens_remaining"`
	UsagePercentage   Percent `json:"usage_percentage"`
	WarningThreshold  bool    `json:"is_warning_threshold"`
	QuotaExceeded     bool    `json:"is_quota_exceeded"`
	LastReset         string  `json:"last_reset,omitempty"`
}

type Percent struct {
	Requests float64 `json:"requests"`
	Tokens   float64 `json:"tokens"`
}

// Stats is the aggregate from GET /stats.
type Stats struct {
	TotalMessages int     `json:"total_messages"`
	TotalTokens   float64 `json:"total_tokens"`
	UniqueUsers   int     `json:"unique_users"`
	AvgTokens     float64 `json:"avg_tokens"`
}

// Guild is one entry of GET /guilds.
type Guild struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	MemberCount int       `json:"member_count"`
	Icon        string    `json:"icon,omitempty"`
}

// Health is the payload of GET /health.
type Health struct {
	Status               string `json:"status"`
	BotReady             bool   `json:"bot_ready"`
	Guilds               int    `json:"guilds"`
	WebSocketConnections int    `json:"websocket_connections"`
}

// AIMode is the per-guild AI mode with the modes the backend accepts.
type AIMode struct {
	CurrentMode    string   `json:"current_mode"`
	AvailableModes []string `json:"available_modes"`
}

// StreamLocator is the payload of GET /stream/{uri}.
type StreamLocator struct {
	StreamURL string  `json:"stream_url"`
	Format    string  `json:"format,omitempty"`
	Quality   any     `json:"quality,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}
