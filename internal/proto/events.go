package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned by Decode for frames that are not a valid
// envelope. Callers drop such frames.
var ErrMalformed = errors.New("malformed event")

// Event is an inbound push-channel event. The set of implementations is
// closed: NetworkStats, MusicEvent, NewMessage, MusicControl, SyncPlayback,
// PlaybackModeChanged, ModeUpdate, ChannelUpdate, ChannelDeleted, LogEvent
// and Unknown.
type Event interface {
	EventType() string
	sealed()
}

// NetworkStats carries the backend's latency sample and traffic counters.
type NetworkStats struct {
	LatencyMs      float64 `json:"latency"`
	RxBytes        uint64  `json:"rx_bytes,omitempty"`
	TxBytes        uint64  `json:"tx_bytes,omitempty"`
	RxPackets      uint64  `json:"rx_packets,omitempty"`
	TxPackets      uint64  `json:"tx_packets,omitempty"`
	ConnectedUsers int     `json:"connected_users,omitempty"`
	Timestamp      string  `json:"timestamp,omitempty"`
}

// MusicKind is the sub-type of a music_event.
type MusicKind string

const (
	TrackStart           MusicKind = "track_start"
	WebPlaybackStart     MusicKind = "web_playback_start"
	MusicStopped         MusicKind = "music_stopped"
	QueueEmptyDisconnect MusicKind = "queue_empty_disconnect"
)

// MusicEvent is a player lifecycle event.
type MusicEvent struct {
	Kind         MusicKind `json:"type"`
	GuildID      Snowflake `json:"guild_id,omitempty"`
	Track        *Track    `json:"track,omitempty"`
	Requester    string    `json:"requester,omitempty"`
	PlaybackMode string    `json:"playback_mode,omitempty"`
}

// NewMessage wraps a freshly logged chat exchange.
type NewMessage struct {
	Entry ChatLogEntry
}

// MusicControl is a control action echoed to all observers, either by the
// backend or by another dashboard. PositionSec is the sender's local
// playback position in seconds when known.
type MusicControl struct {
	GuildID     Snowflake `json:"guild_id"`
	Action      string    `json:"action"`
	Mode        string    `json:"mode,omitempty"`
	PositionSec *float64  `json:"position,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
}

// SyncPlayback asks observers to re-anchor to an absolute position.
type SyncPlayback struct {
	GuildID     Snowflake `json:"guild_id"`
	PositionSec float64   `json:"position"`
	Playing     bool      `json:"playing"`
}

// PlaybackModeChanged reports the backend's recorded playback mode.
type PlaybackModeChanged struct {
	GuildID Snowflake `json:"guild_id"`
	Mode    string    `json:"mode"`
}

// ModeUpdate reports a guild's AI mode change.
type ModeUpdate struct {
	GuildID Snowflake `json:"guild_id"`
	Mode    string    `json:"mode"`
}

// ChannelUpdate reports an AI channel being enabled or disabled.
type ChannelUpdate struct {
	GuildID   Snowflake `json:"guild_id"`
	ChannelID Snowflake `json:"channel_id"`
	Enabled   bool      `json:"enabled"`
}

// ChannelDeleted reports a channel removed through the dashboard.
type ChannelDeleted struct {
	GuildID   Snowflake `json:"guild_id"`
	ChannelID Snowflake `json:"channel_id"`
}

// LogEvent is a free-text log line from the backend.
type LogEvent struct {
	Level     string `json:"level,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Unknown is any well-formed envelope with an unrecognised type.
type Unknown struct {
	Type string
}

func (NetworkStats) EventType() string        { return TypeNetworkStats }
func (MusicEvent) EventType() string          { return TypeMusicEvent }
func (NewMessage) EventType() string          { return TypeNewMessage }
func (MusicControl) EventType() string        { return TypeMusicControl }
func (SyncPlayback) EventType() string        { return TypeSyncPlayback }
func (PlaybackModeChanged) EventType() string { return TypePlaybackModeChanged }
func (ModeUpdate) EventType() string          { return TypeModeUpdate }
func (ChannelUpdate) EventType() string       { return TypeChannelUpdate }
func (ChannelDeleted) EventType() string      { return TypeChannelDeleted }
func (LogEvent) EventType() string            { return TypeLogEvent }
func (u Unknown) EventType() string           { return u.Type }

func (NetworkStats) sealed()        {}
func (MusicEvent) sealed()          {}
func (NewMessage) sealed()          {}
func (MusicControl) sealed()        {}
func (SyncPlayback) sealed()        {}
func (PlaybackModeChanged) sealed() {}
func (ModeUpdate) sealed()          {}
func (ChannelUpdate) sealed()       {}
func (ChannelDeleted) sealed()      {}
func (LogEvent) sealed()            {}
func (Unknown) sealed()             {}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one push-channel frame.
//
// Most events carry their payload under "data". Events the backend emits
// from its control endpoints (music_control, mode_update, ...) put the fields
// at the top level, so for those the whole frame is decoded when "data" is
// absent.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case TypeNetworkStats:
		return decodeAs[NetworkStats](env.Data, nil)

	case TypeMusicEvent:
		var ev MusicEvent
		if err := decodePayload(env.Data, nil, &ev); err != nil {
			return nil, err
		}
		if ev.Kind == "" {
			return nil, fmt.Errorf("%w: music_event without sub-type", ErrMalformed)
		}
		if (ev.Kind == TrackStart || ev.Kind == WebPlaybackStart) && ev.Track == nil {
			return nil, fmt.Errorf("%w: %s without track", ErrMalformed, ev.Kind)
		}
		return ev, nil

	case TypeNewMessage:
		var entry ChatLogEntry
		if err := decodePayload(env.Data, nil, &entry); err != nil {
			return nil, err
		}
		return NewMessage{Entry: entry}, nil

	case TypeMusicControl:
		return decodeAs[MusicControl](env.Data, frame)
	case TypeSyncPlayback:
		return decodeAs[SyncPlayback](env.Data, frame)
	case TypePlaybackModeChanged:
		return decodeAs[PlaybackModeChanged](env.Data, frame)
	case TypeModeUpdate:
		return decodeAs[ModeUpdate](env.Data, frame)
	case TypeChannelUpdate:
		return decodeAs[ChannelUpdate](env.Data, frame)
	case TypeChannelDeleted:
		return decodeAs[ChannelDeleted](env.Data, frame)
	case TypeLogEvent:
		return decodeAs[LogEvent](env.Data, frame)
	}

	return Unknown{Type: env.Type}, nil
}

func decodeAs[T Event](data, fallback json.RawMessage) (Event, error) {
	var ev T
	if err := decodePayload(data, fallback, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// decodePayload decodes data into v, falling back to the whole frame when
// data is absent and a fallback is given.
func decodePayload(data, fallback json.RawMessage, v any) error {
	src := data
	if len(src) == 0 || string(src) == "null" {
		if fallback == nil {
			return fmt.Errorf("%w: missing data", ErrMalformed)
		}
		src = fallback
	}
	if err := json.Unmarshal(src, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// ControlFrame is the outbound broadcast a dashboard sends after applying a
// control action, so other observers can re-anchor.
type ControlFrame struct {
	Type string `json:"type"`
	MusicControl
}

// NewControlFrame builds a music_control broadcast frame.
func NewControlFrame(mc MusicControl) ControlFrame {
	return ControlFrame{Type: TypeMusicControl, MusicControl: mc}
}
