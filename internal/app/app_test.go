package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/petervdpas/botdash/internal/config"
	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

type fakePoller struct {
	store *state.Store
	ids   []proto.Snowflake
}

func (p *fakePoller) SetGuild(id proto.Snowflake) {
	p.ids = append(p.ids, id)
	p.store.SelectGuild(id)
}

type fakeCoord struct{ prev []proto.Snowflake }

func (c *fakeCoord) Retarget(_ context.Context, prev proto.Snowflake) {
	c.prev = append(c.prev, prev)
}

type fakeSource struct {
	guilds   []proto.Guild
	guildErr error
	music    map[proto.Snowflake]proto.MusicStatus
}

func (f *fakeSource) Health(context.Context) (proto.Health, error) {
	return proto.Health{Status: "healthy", BotReady: true, Guilds: len(f.guilds)}, nil
}

func (f *fakeSource) Guilds(context.Context) ([]proto.Guild, error) {
	return f.guilds, f.guildErr
}

func (f *fakeSource) MusicStatus(_ context.Context, g proto.Snowflake) (proto.MusicStatus, error) {
	m, ok := f.music[g]
	if !ok {
		return proto.MusicStatus{}, errors.New("no music for guild")
	}
	return m, nil
}

func (f *fakeSource) CostUsage(context.Context) (proto.CostUsage, error) {
	return proto.CostUsage{DailyRequests: 3, RequestLimit: 100, WarningThreshold: true}, nil
}

func newSelector() (*selector, *fakePoller, *fakeCoord) {
	store := state.NewStore()
	p := &fakePoller{store: store}
	c := &fakeCoord{}
	return &selector{store: store, poller: p, coord: c}, p, c
}

func TestSelectRetargetsThenMovesPollers(t *testing.T) {
	sel, p, c := newSelector()
	ctx := context.Background()

	if err := sel.Select(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if err := sel.Select(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if err := sel.Select(ctx, "2"); err != nil {
		t.Fatal(err)
	}

	if len(p.ids) != 2 || p.ids[0] != "1" || p.ids[1] != "2" {
		t.Fatalf("poller ids = %v", p.ids)
	}
	if len(c.prev) != 2 || c.prev[0] != "" || c.prev[1] != "1" {
		t.Fatalf("retarget prev = %v", c.prev)
	}
}

func TestInitialGuild(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{guilds: []proto.Guild{{ID: "10", Name: "a"}, {ID: "20", Name: "b"}}}

	t.Run("configured", func(t *testing.T) {
		sel, _, _ := newSelector()
		if err := sel.initial(ctx, src, "20"); err != nil {
			t.Fatal(err)
		}
		if sel.store.Guild() != "20" {
			t.Fatalf("guild = %s", sel.store.Guild())
		}
	})

	t.Run("first reported", func(t *testing.T) {
		sel, _, _ := newSelector()
		if err := sel.initial(ctx, src, ""); err != nil {
			t.Fatal(err)
		}
		if sel.store.Guild() != "10" || len(sel.store.Guilds()) != 2 {
			t.Fatalf("guild = %s, guilds = %v", sel.store.Guild(), sel.store.Guilds())
		}
	})

	t.Run("none", func(t *testing.T) {
		sel, _, _ := newSelector()
		if err := sel.initial(ctx, &fakeSource{}, ""); !errors.Is(err, errNoGuilds) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestPrintStatus(t *testing.T) {
	src := &fakeSource{
		guilds: []proto.Guild{{ID: "10", Name: "lounge"}, {ID: "20", Name: "quiet"}},
		music: map[proto.Snowflake]proto.MusicStatus{
			"10": {
				Connected: true, Playing: true,
				CurrentTrack: &proto.Track{Title: "Song A", PositionMs: 65000, LengthMs: 180000},
			},
		},
	}

	var buf bytes.Buffer
	if err := PrintStatus(context.Background(), &buf, src, ""); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"healthy", "lounge", "Song A", "1:05 / 3:00", "no music for guild", "3 / 100"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := PrintStatus(context.Background(), &buf, src, "20"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "lounge") || !strings.Contains(buf.String(), "quiet") {
		t.Fatalf("single guild output:\n%s", buf.String())
	}
}

func TestPromptInteractive(t *testing.T) {
	in := strings.NewReader("http://bot:9000/api\n\n42\n:8091\n\nn\n50\n")
	var out bytes.Buffer
	cfg := PromptInteractive(in, &out, "botdash.json", config.Default())

	if cfg.Backend.APIURL != "http://bot:9000/api" || cfg.Backend.GuildID != "42" {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Viewer.HTTPAddr != ":8091" || cfg.Poll.HostTelemetry || cfg.Playback.Volume != 0.5 {
		t.Fatalf("cfg = %+v", cfg)
	}

	bad := PromptInteractive(strings.NewReader("not a url\n"), &out, "botdash.json", config.Default())
	if bad.Backend.APIURL != config.Default().Backend.APIURL {
		t.Fatalf("invalid answers kept: %+v", bad.Backend)
	}
}

func TestViewerURL(t *testing.T) {
	for in, want := range map[string]string{
		":8090":          "http://127.0.0.1:8090",
		"0.0.0.0:8090":   "http://127.0.0.1:8090",
		"localhost:9000": "http://localhost:9000",
	} {
		if got := viewerURL(in); got != want {
			t.Errorf("viewerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
