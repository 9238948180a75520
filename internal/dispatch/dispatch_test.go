package dispatch

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

func newStore() *state.Store {
	s := state.NewStore()
	s.SelectGuild("1")
	return s
}

func decode(t *testing.T, frame string) proto.Event {
	t.Helper()
	ev, err := proto.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("decode %s: %v", frame, err)
	}
	return ev
}

func TestTrackStartAndStop(t *testing.T) {
	s := newStore()
	var started []string
	d := New(s, "me", Hooks{TrackStarted: func(tr proto.Track) { started = append(started, tr.Title) }})

	d.Apply(decode(t, `{"type":"music_event","data":{"type":"track_start","track":{"title":"A","length":1000},"requester":"bob"}}`))

	m := s.Music()
	if !m.Playing || !m.Connected || m.CurrentTrack == nil || m.CurrentTrack.Title != "A" {
		t.Fatalf("after track_start: %+v", m)
	}
	if h := s.History(); len(h) != 1 || h[0].Value.Requester != "bob" {
		t.Fatalf("history = %+v", h)
	}
	if len(started) != 1 {
		t.Fatalf("TrackStarted calls = %v", started)
	}
	if head := s.Logs(); len(head) == 0 || !strings.HasSuffix(head[0].Value, "Now playing: A") {
		t.Fatalf("log head = %+v", head)
	}

	d.Apply(decode(t, `{"type":"music_event","data":{"type":"queue_empty_disconnect"}}`))
	m = s.Music()
	if m.Playing || m.Connected || m.CurrentTrack != nil || len(m.Queue) != 0 {
		t.Fatalf("after stop: %+v", m)
	}
	if n := len(s.Logs()); n != 2 {
		t.Fatalf("log lines = %d, want 2", n)
	}
}

func TestOtherGuildIgnored(t *testing.T) {
	s := newStore()
	d := New(s, "me", Hooks{})
	d.Apply(decode(t, `{"type":"music_event","data":{"type":"track_start","guild_id":"2","track":{"title":"A","length":1000}}}`))
	if s.Music().CurrentTrack != nil {
		t.Fatal("event for another guild applied")
	}
}

func TestNewMessageRefreshesRosterAsync(t *testing.T) {
	s := newStore()
	release := make(chan struct{})
	called := make(chan struct{}, 1)
	d := New(s, "me", Hooks{RefreshRoster: func() {
		<-release
		called <- struct{}{}
	}})

	done := make(chan struct{})
	go func() {
		d.Apply(decode(t, `{"type":"new_message","data":{"username":"ann","user_message":"hello there"}}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Apply blocked on roster refresh")
	}
	if len(s.Chat()) != 1 {
		t.Fatal("chat entry missing")
	}
	if !strings.HasSuffix(s.Logs()[0].Value, "New message from ann: hello there") {
		t.Fatalf("log = %q", s.Logs()[0].Value)
	}

	close(release)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("roster refresh never ran")
	}
}

func TestNetworkStatsRounded(t *testing.T) {
	s := newStore()
	New(s, "me", Hooks{}).Apply(decode(t, `{"type":"network_stats","data":{"latency":23.5}}`))
	if got := s.Network().LatencyMs; got != 24 {
		t.Fatalf("latency = %d", got)
	}
}

func TestMusicControlFromOtherObserver(t *testing.T) {
	s := newStore()
	d := New(s, "me", Hooks{})
	d.Apply(decode(t, `{"type":"music_event","data":{"type":"track_start","track":{"title":"A","length":100000}}}`))

	d.Apply(decode(t, `{"type":"music_control","guild_id":"1","action":"pause","position":12.5,"client_id":"me"}`))
	if s.Music().Paused {
		t.Fatal("own echo applied")
	}

	d.Apply(decode(t, `{"type":"music_control","guild_id":"1","action":"pause","position":12.5,"client_id":"other"}`))
	m := s.Music()
	if !m.Paused || m.CurrentTrack.PositionMs != 12500 {
		t.Fatalf("got %+v / %+v", m, m.CurrentTrack)
	}
}

func TestLocalAuthorityIgnoresRemotePlayState(t *testing.T) {
	s := newStore()
	d := New(s, "me", Hooks{})
	d.Apply(decode(t, `{"type":"music_event","data":{"type":"track_start","track":{"title":"A","length":100000}}}`))
	s.SetAuthority(state.Local)

	d.Apply(decode(t, `{"type":"music_control","guild_id":"1","action":"pause","client_id":"other"}`))
	d.Apply(decode(t, `{"type":"sync_playback","guild_id":"1","position":50,"playing":false}`))
	if m := s.Music(); m.Paused || m.CurrentTrack.PositionMs != 0 {
		t.Fatalf("remote control applied under local authority: %+v", m)
	}
}

func TestChannelAndModeEvents(t *testing.T) {
	s := newStore()
	refreshed := make(chan struct{}, 1)
	d := New(s, "me", Hooks{RefreshActivity: func() { refreshed <- struct{}{} }})
	s.SetActivity("1", []proto.ChannelActivity{{ChannelID: "9"}, {ChannelID: "10"}})

	d.Apply(decode(t, `{"type":"channel_deleted","guild_id":"1","channel_id":"9"}`))
	if rows := s.Activity(); len(rows) != 1 {
		t.Fatalf("activity = %+v", rows)
	}

	d.Apply(decode(t, `{"type":"channel_update","guild_id":"1","channel_id":"10","enabled":true}`))
	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("activity refresh not triggered")
	}

	d.Apply(decode(t, `{"type":"mode_update","guild_id":"1","mode":"creative"}`))
	if s.AIMode("1") != "creative" {
		t.Fatal("ai mode not recorded")
	}

	d.Apply(decode(t, `{"type":"playback_mode_changed","guild_id":"1","mode":"web"}`))
	if s.Music().BackendMode != proto.ModeWeb {
		t.Fatal("backend mode not recorded")
	}
}

func TestUnknownIgnored(t *testing.T) {
	s := newStore()
	d := New(s, "me", Hooks{})
	d.Apply(decode(t, `{"type":"music_event","data":{"type":"track_start","track":{"title":"A","length":1000}}}`))
	d.Apply(decode(t, `{"type":"new_message","data":{"username":"ann","user_message":"hi"}}`))

	before, chat, hist, logs := s.Snapshot(), s.Chat(), s.History(), s.Logs()
	d.Apply(decode(t, `{"type":"weather","data":{}}`))

	if after := s.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("snapshot changed:\n%+v\n%+v", before, after)
	}
	if !reflect.DeepEqual(chat, s.Chat()) || !reflect.DeepEqual(hist, s.History()) || !reflect.DeepEqual(logs, s.Logs()) {
		t.Fatal("unknown event changed a feed")
	}
}

func TestMusicStoppedIdempotent(t *testing.T) {
	s := newStore()
	d := New(s, "me", Hooks{})
	d.Apply(decode(t, `{"type":"music_event","data":{"type":"track_start","track":{"title":"A","length":1000}}}`))

	idle := state.Idle("1")
	for i := 0; i < 2; i++ {
		d.Apply(decode(t, `{"type":"music_event","data":{"type":"music_stopped"}}`))
		if m := s.Music(); !reflect.DeepEqual(m, idle) {
			t.Fatalf("after stop %d: %+v, want %+v", i+1, m, idle)
		}
	}
}

func TestPollSnapshotAfterPushWins(t *testing.T) {
	s := newStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return at })
	d := New(s, "me", Hooks{})
	d.Apply(decode(t, `{"type":"music_event","data":{"type":"track_start","track":{"title":"A","length":1000}}}`))

	snap := proto.MusicStatus{
		Connected:    true,
		Playing:      true,
		Paused:       true,
		CurrentTrack: &proto.Track{Title: "B", LengthMs: 90000, PositionMs: 7000},
		Queue:        []proto.Track{{Title: "C"}},
		LoopMode:     "queue",
	}
	if !s.ApplyMusicSnapshot("1", snap) {
		t.Fatal("snapshot rejected")
	}
	if got, want := s.Music(), state.FromSnapshot("1", snap, at); !reflect.DeepEqual(got, want) {
		t.Fatalf("music = %+v, want %+v", got, want)
	}
}

func TestRunStopsOnClose(t *testing.T) {
	s := newStore()
	events := make(chan proto.Event, 1)
	events <- proto.LogEvent{Level: "warning", Message: "disk"}
	close(events)

	done := make(chan struct{})
	go func() {
		New(s, "me", Hooks{}).Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if got := s.Logs()[0].Value; !strings.HasSuffix(got, "WARNING: disk") {
		t.Fatalf("log = %q", got)
	}
}
