// Package dispatch applies decoded push-channel events to the state store.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

var log = logging.Logger("dispatch")

// Hooks are optional side effects. None of them may block; the dispatcher
// runs RefreshRoster and RefreshActivity on their own goroutine.
type Hooks struct {
	RefreshRoster   func()
	RefreshActivity func()
	// TrackStarted is told about every new track so a locally playing
	// coordinator can switch streams.
	TrackStarted func(track proto.Track)
}

type Dispatcher struct {
	store    *state.Store
	clientID string
	hooks    Hooks
}

// New returns a dispatcher. clientID identifies our own music_control
// broadcasts so their echoes are skipped.
func New(store *state.Store, clientID string, hooks Hooks) *Dispatcher {
	return &Dispatcher{store: store, clientID: clientID, hooks: hooks}
}

// Run applies events in arrival order until ctx is done or events closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan proto.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Apply(ev)
		}
	}
}

// Apply performs the single transition for ev.
func (d *Dispatcher) Apply(ev proto.Event) {
	switch e := ev.(type) {
	case proto.NetworkStats:
		d.store.ApplyNetworkStats(e)

	case proto.MusicEvent:
		if !d.forSelected(e.GuildID) {
			return
		}
		d.applyMusic(e)

	case proto.NewMessage:
		d.store.AddChat(e.Entry)
		d.async(d.hooks.RefreshRoster)

	case proto.MusicControl:
		if e.ClientID != "" && e.ClientID == d.clientID {
			return
		}
		if !d.forSelected(e.GuildID) || d.store.Authority() == state.Local {
			return
		}
		var pos *int64
		if e.PositionSec != nil {
			ms := secondsToMillis(*e.PositionSec)
			pos = &ms
		}
		d.store.ApplyControl(e.Action, pos)
		d.store.Log("Music control: " + e.Action)

	case proto.SyncPlayback:
		if !d.forSelected(e.GuildID) || d.store.Authority() == state.Local {
			return
		}
		d.store.SyncPosition(secondsToMillis(e.PositionSec), e.Playing)

	case proto.PlaybackModeChanged:
		if !d.forSelected(e.GuildID) {
			return
		}
		d.store.SetBackendMode(e.Mode)
		d.store.Log("Playback mode: " + e.Mode)

	case proto.ModeUpdate:
		d.store.SetAIMode(e.GuildID, e.Mode)
		if d.forSelected(e.GuildID) {
			d.store.Log("AI mode changed to " + e.Mode)
		}

	case proto.ChannelUpdate:
		if !d.forSelected(e.GuildID) {
			return
		}
		verb := "disabled"
		if e.Enabled {
			verb = "enabled"
		}
		d.store.Log(fmt.Sprintf("AI %s in channel %s", verb, e.ChannelID))
		d.async(d.hooks.RefreshActivity)

	case proto.ChannelDeleted:
		d.store.RemoveChannel(e.GuildID, e.ChannelID)

	case proto.LogEvent:
		d.store.Log(logLine(e))

	case proto.Unknown:
		log.Debugf("ignoring event type %q", e.Type)
	}
}

func (d *Dispatcher) applyMusic(e proto.MusicEvent) {
	if e.PlaybackMode != "" {
		d.store.SetBackendMode(e.PlaybackMode)
	}
	switch e.Kind {
	case proto.TrackStart, proto.WebPlaybackStart:
		d.store.StartTrack(*e.Track, e.Requester)
		if d.hooks.TrackStarted != nil {
			d.hooks.TrackStarted(*e.Track)
		}
	case proto.MusicStopped:
		d.store.ResetMusic("Music stopped")
	case proto.QueueEmptyDisconnect:
		d.store.ResetMusic("Queue empty, left voice channel")
	default:
		log.Debugf("ignoring music event %q", e.Kind)
	}
}

// forSelected reports whether an event for guild applies. Events without a
// guild apply to whatever is selected.
func (d *Dispatcher) forSelected(guild proto.Snowflake) bool {
	return guild == "" || guild == d.store.Guild()
}

func (d *Dispatcher) async(fn func()) {
	if fn != nil {
		go fn()
	}
}

func secondsToMillis(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

func logLine(e proto.LogEvent) string {
	lvl := strings.ToLower(e.Level)
	if lvl == "" || lvl == "info" {
		return e.Message
	}
	return strings.ToUpper(lvl) + ": " + e.Message
}
