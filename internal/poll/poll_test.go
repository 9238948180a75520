package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

// fakeBackend serves canned values; each hook, when set, replaces the
// default answer.
type fakeBackend struct {
	music      func(ctx context.Context, guild proto.Snowflake) (proto.MusicStatus, error)
	cost       func(ctx context.Context) (proto.CostUsage, error)
	musicCalls atomic.Int32
	userCalls  atomic.Int32
}

func (f *fakeBackend) MusicStatus(ctx context.Context, guild proto.Snowflake) (proto.MusicStatus, error) {
	f.musicCalls.Add(1)
	if f.music != nil {
		return f.music(ctx, guild)
	}
	return proto.MusicStatus{Connected: true, CurrentTrack: &proto.Track{Title: "T-" + guild.String(), LengthMs: 1000}, Playing: true}, nil
}

func (f *fakeBackend) CostUsage(ctx context.Context) (proto.CostUsage, error) {
	if f.cost != nil {
		return f.cost(ctx)
	}
	return proto.CostUsage{DailyRequests: 7}, nil
}

func (f *fakeBackend) ChatLogs(context.Context, proto.Snowflake, int) ([]proto.ChatLogEntry, error) {
	return []proto.ChatLogEntry{{ID: "2", Username: "b"}, {ID: "1", Username: "a"}}, nil
}

func (f *fakeBackend) ChannelActivity(_ context.Context, guild proto.Snowflake) ([]proto.ChannelActivity, error) {
	return []proto.ChannelActivity{{ChannelID: "c-" + guild, MessageCount: 3}}, nil
}

func (f *fakeBackend) Users(context.Context) ([]proto.ChatUser, error) {
	f.userCalls.Add(1)
	return []proto.ChatUser{{UserID: "1", Username: "ann"}}, nil
}

func (f *fakeBackend) Stats(context.Context, proto.Snowflake) (proto.Stats, error) {
	return proto.Stats{TotalMessages: 10}, nil
}

func (f *fakeBackend) Guilds(context.Context) ([]proto.Guild, error) {
	return []proto.Guild{{ID: "1", Name: "one"}}, nil
}

func (f *fakeBackend) Health(context.Context) (proto.Health, error) {
	return proto.Health{Status: "healthy", BotReady: true}, nil
}

func (f *fakeBackend) AIMode(context.Context, proto.Snowflake) (proto.AIMode, error) {
	return proto.AIMode{CurrentMode: "standard"}, nil
}

type fakeSampler struct{}

func (fakeSampler) Sample(context.Context) (state.ResourceSample, error) {
	return state.ResourceSample{CPUPercent: 5}, nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitialPopulatesStore(t *testing.T) {
	store := state.NewStore()
	store.SelectGuild("1")
	p := New(&fakeBackend{}, fakeSampler{}, store, Intervals{})

	p.Initial(context.Background())

	v := store.Snapshot()
	if v.Music.CurrentTrack == nil || v.Music.CurrentTrack.Title != "T-1" {
		t.Fatalf("music = %+v", v.Music)
	}
	if v.Cost.DailyRequests != 7 || v.Stats.TotalMessages != 10 || !v.Health.BotReady {
		t.Fatalf("aggregates = %+v %+v %+v", v.Cost, v.Stats, v.Health)
	}
	if len(v.Users) != 1 || len(v.Guilds) != 1 || len(v.Activity) != 1 || v.AIMode != "standard" {
		t.Fatalf("view = %+v", v)
	}
	if v.Resources.CPUPercent != 5 {
		t.Fatalf("resources = %+v", v.Resources)
	}
	chat := store.Chat()
	if len(chat) != 2 || chat[0].Value.ID != "2" {
		t.Fatalf("chat = %+v", chat)
	}
	if len(v.Stale) != 0 {
		t.Fatalf("stale = %v", v.Stale)
	}
}

func TestScopedSkippedWithoutGuild(t *testing.T) {
	store := state.NewStore()
	api := &fakeBackend{}
	New(api, nil, store, Intervals{}).Initial(context.Background())
	if api.musicCalls.Load() != 0 {
		t.Fatal("music polled with no guild selected")
	}
}

func TestFailureKeepsPriorValueAndMarksStale(t *testing.T) {
	store := state.NewStore()
	store.SelectGuild("1")
	api := &fakeBackend{}
	p := New(api, nil, store, Intervals{})
	p.Initial(context.Background())

	api.cost = func(context.Context) (proto.CostUsage, error) { return proto.CostUsage{}, errors.New("boom") }
	p.runOnce(context.Background(), p.byName[Cost])

	v := store.Snapshot()
	if v.Cost.DailyRequests != 7 {
		t.Fatalf("cost overwritten: %+v", v.Cost)
	}
	if _, ok := store.Stale()[Cost]; !ok {
		t.Fatal("cost not marked stale")
	}
	if v.Connection.Status != "disconnected" {
		t.Fatalf("poll failure touched connectivity: %+v", v.Connection)
	}

	api.cost = nil
	p.runOnce(context.Background(), p.byName[Cost])
	if len(store.Stale()) != 0 {
		t.Fatal("stale flag not cleared")
	}
}

func TestGuildSwitchDiscardsInFlight(t *testing.T) {
	store := state.NewStore()
	store.SelectGuild("1")
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeBackend{}
	api.music = func(ctx context.Context, guild proto.Snowflake) (proto.MusicStatus, error) {
		if guild == "1" {
			close(started)
			<-release
		}
		return proto.MusicStatus{CurrentTrack: &proto.Track{Title: "T-" + guild.String(), LengthMs: 1000}}, nil
	}
	p := New(api, nil, store, Intervals{})

	done := make(chan struct{})
	go func() {
		p.runOnce(context.Background(), p.byName[Music])
		close(done)
	}()
	<-started
	p.SetGuild("2")
	p.runOnce(context.Background(), p.byName[Music])
	close(release)
	<-done

	m := store.Music()
	if m.GuildID != "2" || m.CurrentTrack == nil || m.CurrentTrack.Title != "T-2" {
		t.Fatalf("music = %+v", m)
	}
}

func TestSlowResourceDoesNotDelayOthers(t *testing.T) {
	store := state.NewStore()
	store.SelectGuild("1")
	api := &fakeBackend{}
	api.cost = func(ctx context.Context) (proto.CostUsage, error) {
		<-ctx.Done()
		return proto.CostUsage{}, ctx.Err()
	}
	p := New(api, nil, store, Intervals{Music: 10 * time.Millisecond, Cost: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	eventually(t, "music polls", func() bool { return api.musicCalls.Load() >= 5 })
}

func TestTrigger(t *testing.T) {
	store := state.NewStore()
	api := &fakeBackend{}
	p := New(api, nil, store, Intervals{Roster: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Trigger(Roster)
	p.Trigger("nonexistent")
	eventually(t, "roster refresh", func() bool { return api.userCalls.Load() == 1 })
	if len(store.Users()) != 1 {
		t.Fatal("roster not stored")
	}
}
