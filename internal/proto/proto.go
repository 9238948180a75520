// Package proto holds the wire types exchanged with the bot backend: REST
// payloads, push-channel envelopes and the outbound broadcast frames.
package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Push-channel event types.
const (
	TypeNetworkStats        = "network_stats"
	TypeMusicEvent          = "music_event"
	TypeNewMessage          = "new_message"
	TypeMusicControl        = "music_control"
	TypeSyncPlayback        = "sync_playback"
	TypePlaybackModeChanged = "playback_mode_changed"
	TypeModeUpdate          = "mode_update"
	TypeChannelUpdate       = "channel_update"
	TypeChannelDeleted      = "channel_deleted"
	TypeLogEvent            = "log_event"
)

// Music control actions accepted by the backend.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionSkip   = "skip"
	ActionStop   = "stop"
)

// Backend playback modes. "discord" is the bot's own output device, "web" a
// dashboard-local pipeline.
const (
	ModeDiscord = "discord"
	ModeWeb     = "web"
)

// ValidAction reports whether a is a known control action.
func ValidAction(a string) bool {
	switch a {
	case ActionPause, ActionResume, ActionSkip, ActionStop:
		return true
	}
	return false
}

// Snowflake is a Discord-style 64-bit ID. The backend sends these as JSON
// numbers or strings; both decode to the decimal string so no precision is
// lost in a float64 round trip.
type Snowflake string

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Snowflake(str)
		return nil
	}
	if _, err := strconv.ParseUint(string(b), 10, 64); err != nil {
		return fmt.Errorf("snowflake: invalid id %s", b)
	}
	*s = Snowflake(b)
	return nil
}

func (s Snowflake) String() string { return string(s) }

func NowMillis() int64 { return time.Now().UnixMilli() }
