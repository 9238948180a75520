package state

import (
	"fmt"
	"time"

	"github.com/petervdpas/botdash/internal/proto"
)

// Authority says who is the source of truth for play/pause/position.
type Authority int

const (
	// Remote: the bot plays through its own output device.
	Remote Authority = iota
	// Local: this dashboard plays the stream itself.
	Local
)

func (a Authority) String() string {
	if a == Local {
		return "local"
	}
	return "remote"
}

func (a Authority) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Authority) UnmarshalText(b []byte) error {
	switch string(b) {
	case "local", proto.ModeWeb:
		*a = Local
	case "remote", proto.ModeDiscord, "":
		*a = Remote
	default:
		return fmt.Errorf("unknown authority %q", b)
	}
	return nil
}

// MusicStatus is the music cell. CurrentTrack.PositionMs is anchored at
// SnapshotAt and never advanced in place; use PositionAt for a live value.
type MusicStatus struct {
	GuildID      proto.Snowflake `json:"guild_id"`
	Connected    bool            `json:"connected"`
	Playing      bool            `json:"playing"`
	Paused       bool            `json:"paused"`
	Volume       float64         `json:"volume"`
	CurrentTrack *proto.Track    `json:"current_track"`
	Queue        []proto.Track   `json:"queue"`
	LoopMode     string          `json:"loop_mode"`
	Authority    Authority       `json:"authority"`
	BackendMode  string          `json:"backend_mode,omitempty"`
	SnapshotAt   time.Time       `json:"snapshot_at"`
}

// Idle returns the "nothing playing" state for a guild.
func Idle(guild proto.Snowflake) MusicStatus {
	return MusicStatus{
		GuildID:  guild,
		Volume:   1,
		Queue:    []proto.Track{},
		LoopMode: "off",
	}
}

// FromSnapshot converts a backend snapshot taken at 'at'.
func FromSnapshot(guild proto.Snowflake, s proto.MusicStatus, at time.Time) MusicStatus {
	m := MusicStatus{
		GuildID:     guild,
		Connected:   s.Connected,
		Playing:     s.Playing,
		Paused:      s.Paused,
		Volume:      s.Volume,
		Queue:       append([]proto.Track{}, s.Queue...),
		LoopMode:    s.LoopMode,
		BackendMode: s.PlaybackMode,
		SnapshotAt:  at,
	}
	if s.CurrentTrack != nil {
		t := *s.CurrentTrack
		m.CurrentTrack = &t
	}
	if m.LoopMode == "" {
		m.LoopMode = "off"
	}
	m.normalize()
	return m
}

// normalize enforces: no current track means not playing.
func (m *MusicStatus) normalize() {
	if m.CurrentTrack == nil {
		m.Playing = false
		m.Paused = false
	}
	if m.Queue == nil {
		m.Queue = []proto.Track{}
	}
}

// Clone returns a deep copy.
func (m MusicStatus) Clone() MusicStatus {
	out := m
	if m.CurrentTrack != nil {
		t := *m.CurrentTrack
		out.CurrentTrack = &t
	}
	out.Queue = append([]proto.Track{}, m.Queue...)
	return out
}

// PositionAt derives the live position at now. Paused tracks hold their
// anchor; otherwise the position advances by wall-clock time since the
// snapshot, clamped to the track length. No track or a zero length yields 0.
func (m MusicStatus) PositionAt(now time.Time) int64 {
	t := m.CurrentTrack
	if t == nil || t.LengthMs <= 0 {
		return 0
	}
	pos := t.PositionMs
	if !m.Paused && !m.SnapshotAt.IsZero() {
		if elapsed := now.Sub(m.SnapshotAt).Milliseconds(); elapsed > 0 {
			pos += elapsed
		}
	}
	return clamp(pos, 0, t.LengthMs)
}

// reanchor moves the snapshot anchor to posMs at 'at'.
func (m *MusicStatus) reanchor(posMs int64, at time.Time) {
	if m.CurrentTrack == nil {
		return
	}
	t := *m.CurrentTrack
	t.PositionMs = clamp(posMs, 0, t.LengthMs)
	m.CurrentTrack = &t
	m.SnapshotAt = at
}

func clamp(v, lo, hi int64) int64 {
	if hi > 0 && v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

// HistoryEntry is one row of the music history feed.
type HistoryEntry struct {
	GuildID   proto.Snowflake `json:"guild_id,omitempty"`
	Track     proto.Track     `json:"track"`
	Requester string          `json:"requester"`
	PlayedAt  time.Time       `json:"played_at"`
}
