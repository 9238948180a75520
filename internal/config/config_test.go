package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty api url", func(c *Config) { c.Backend.APIURL = " " }, "backend.api_url is required"},
		{"ws scheme on api", func(c *Config) { c.Backend.APIURL = "ws://host/api" }, "backend.api_url"},
		{"http scheme on ws", func(c *Config) { c.Backend.WSURL = "http://host/ws" }, "backend.ws_url"},
		{"negative delay", func(c *Config) { c.Backend.ReconnectDelayMs = -1 }, "reconnect_delay_ms"},
		{"bad guild", func(c *Config) { c.Backend.GuildID = "abc" }, "guild_id"},
		{"bad viewer addr", func(c *Config) { c.Viewer.HTTPAddr = "localhost" }, "viewer.http_addr"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative interval", func(c *Config) { c.Poll.CostMs = -5 }, "poll.cost_ms"},
		{"volume too high", func(c *Config) { c.Playback.Volume = 1.5 }, "playback.volume"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestWSEndpoint(t *testing.T) {
	cases := []struct {
		api, ws, want string
	}{
		{"http://localhost:8001/api", "", "ws://localhost:8001/ws"},
		{"https://bot.example.org/api/", "", "wss://bot.example.org/ws"},
		{"http://localhost:8001/api", "ws://other:9/ws", "ws://other:9/ws"},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Backend.APIURL, cfg.Backend.WSURL = tc.api, tc.ws
		if got := cfg.WSEndpoint(); got != tc.want {
			t.Errorf("WSEndpoint(%q, %q) = %q, want %q", tc.api, tc.ws, got, tc.want)
		}
	}
}

func TestLoadJSONKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdash.json")
	body := "\xEF\xBB\xBF" + `{"backend":{"api_url":"http://bot:8001/api"},"log":{"level":"debug"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.APIURL != "http://bot:8001/api" || cfg.Log.Level != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Poll.MusicMs != 2000 || cfg.Backend.ReconnectDelayMs != 3000 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdash.yaml")
	body := "backend:\n  api_url: http://bot:8001/api\n  guild_id: \"123\"\npoll:\n  music_ms: 500\narchive:\n  db_path: data/archive.db\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.GuildID != "123" || cfg.Poll.MusicMs != 500 || cfg.Archive.DBPath != "data/archive.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Poll.CostMs != 30000 {
		t.Fatalf("default lost: %+v", cfg.Poll)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "http://env-host:1/api")
	t.Setenv(EnvWSURL, "ws://env-host:1/ws")
	path := filepath.Join(t.TempDir(), "botdash.json")
	if err := os.WriteFile(path, []byte(`{"backend":{"api_url":"http://file:2/api"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.APIURL != "http://env-host:1/api" || cfg.WSEndpoint() != "ws://env-host:1/ws" {
		t.Fatalf("cfg = %+v", cfg.Backend)
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	for _, name := range []string{"conf/botdash.json", "conf/botdash.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			_, created, err := Ensure(path)
			if err != nil || !created {
				t.Fatalf("created=%v err=%v", created, err)
			}
			cfg, created, err := Ensure(path)
			if err != nil || created {
				t.Fatalf("created=%v err=%v", created, err)
			}
			if cfg.Viewer.HTTPAddr != Default().Viewer.HTTPAddr {
				t.Fatalf("cfg = %+v", cfg)
			}
		})
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdash.json")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 8)
	go func() {
		_ = Watch(ctx, path, func(c Config) { got <- c })
	}()

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher, which may still be starting, sees it.
		cfg := Default()
		cfg.Log.Level = "debug"
		if err := Save(path, cfg); err != nil {
			t.Fatal(err)
		}
		select {
		case c := <-got:
			if c.Log.Level != "debug" {
				t.Fatalf("reloaded level = %q", c.Log.Level)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
