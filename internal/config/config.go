package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"github.com/petervdpas/botdash/internal/util"
)

// Environment overrides, applied after the file is read.
const (
	EnvAPIURL = "BOTDASH_API_URL"
	EnvWSURL  = "BOTDASH_WS_URL"
)

type Config struct {
	Backend  Backend  `json:"backend" yaml:"backend"`
	Viewer   Viewer   `json:"viewer" yaml:"viewer"`
	Log      Log      `json:"log" yaml:"log"`
	Poll     Poll     `json:"poll" yaml:"poll"`
	Playback Playback `json:"playback" yaml:"playback"`
	Archive  Archive  `json:"archive" yaml:"archive"`
}

type Backend struct {
	// REST base including the /api prefix, e.g. http://localhost:8001/api.
	APIURL string `json:"api_url" yaml:"api_url"`

	// Push channel URL. Empty derives ws://<host>/ws from api_url.
	WSURL string `json:"ws_url" yaml:"ws_url"`

	ReconnectDelayMs int `json:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`

	// Guild selected at startup. Empty picks the first guild the bot reports.
	GuildID string `json:"guild_id" yaml:"guild_id"`
}

type Viewer struct {
	// Empty disables the local HTTP viewer.
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
}

type Log struct {
	Level string `json:"level" yaml:"level"`
}

// Poll intervals in milliseconds. 0 means the built-in default.
type Poll struct {
	MusicMs       int  `json:"music_ms" yaml:"music_ms"`
	ResourcesMs   int  `json:"resources_ms" yaml:"resources_ms"`
	CostMs        int  `json:"cost_ms" yaml:"cost_ms"`
	ChatLogsMs    int  `json:"chat_logs_ms" yaml:"chat_logs_ms"`
	ActivityMs    int  `json:"activity_ms" yaml:"activity_ms"`
	RosterMs      int  `json:"roster_ms" yaml:"roster_ms"`
	HostTelemetry bool `json:"host_telemetry" yaml:"host_telemetry"`
}

type Playback struct {
	TickMs int     `json:"tick_ms" yaml:"tick_ms"`
	Volume float64 `json:"volume" yaml:"volume"` // 0..1, local output only
}

type Archive struct {
	// Empty keeps feeds in memory only.
	DBPath string `json:"db_path" yaml:"db_path"`
}

func Default() Config {
	return Config{
		Backend: Backend{
			APIURL:           "http://localhost:8001/api",
			ReconnectDelayMs: 3000,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8090",
		},
		Log: Log{
			Level: "info",
		},
		Poll: Poll{
			MusicMs:       2000,
			ResourcesMs:   1000,
			CostMs:        30000,
			ChatLogsMs:    5000,
			ActivityMs:    5000,
			RosterMs:      30000,
			HostTelemetry: true,
		},
		Playback: Playback{
			TickMs: 250,
			Volume: 0.8,
		},
	}
}

func (c *Config) Validate() error {
	// Backend
	if strings.TrimSpace(c.Backend.APIURL) == "" {
		return errors.New("backend.api_url is required")
	}
	if err := validateURL(c.Backend.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("backend.api_url: %w", err)
	}
	if ws := strings.TrimSpace(c.Backend.WSURL); ws != "" {
		if err := validateURL(ws, "ws", "wss"); err != nil {
			return fmt.Errorf("backend.ws_url: %w", err)
		}
	}
	if c.Backend.ReconnectDelayMs < 0 {
		return errors.New("backend.reconnect_delay_ms must be >= 0")
	}
	if g := c.Backend.GuildID; g != "" {
		if _, err := strconv.ParseUint(g, 10, 64); err != nil {
			return errors.New("backend.guild_id must be a numeric id")
		}
	}

	// Viewer
	if a := c.Viewer.HTTPAddr; a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	// Log
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	// Poll
	for name, v := range map[string]int{
		"music_ms":     c.Poll.MusicMs,
		"resources_ms": c.Poll.ResourcesMs,
		"cost_ms":      c.Poll.CostMs,
		"chat_logs_ms": c.Poll.ChatLogsMs,
		"activity_ms":  c.Poll.ActivityMs,
		"roster_ms":    c.Poll.RosterMs,
	} {
		if v < 0 {
			return fmt.Errorf("poll.%s must be >= 0", name)
		}
	}

	// Playback
	if c.Playback.TickMs < 0 {
		return errors.New("playback.tick_ms must be >= 0")
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return errors.New("playback.volume must be 0..1")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return errors.New("invalid port")
		}
	}
	return nil
}

// WSEndpoint is the push channel URL, derived from the API base when not
// configured: http://host:8001/api becomes ws://host:8001/ws.
func (c Config) WSEndpoint() string {
	if ws := strings.TrimSpace(c.Backend.WSURL); ws != "" {
		return ws
	}
	base := strings.TrimSuffix(util.NormalizeURL(c.Backend.APIURL), "/api")
	return util.WebSocketURL(base, "/ws")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, b []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(b, cfg)
	}
	return json.Unmarshal(b, cfg)
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.Backend.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWSURL)); v != "" {
		cfg.Backend.WSURL = v
	}
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing on Windows).
	b = stripBOM(b)

	// Start from defaults so missing fields remain initialized.
	cfg := Default()
	if err := decode(path, b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !isYAML(path) {
		return util.WriteJSONFile(path, cfg)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	applyEnv(&cfg)
	return cfg, true, nil
}
