package state

import (
	"math"
	"sync"
	"time"

	"github.com/petervdpas/botdash/internal/feed"
	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/util"
	"github.com/samber/lo"
)

// Change kinds published to subscribers.
const (
	ChangeMusic      = "music"
	ChangePosition   = "position"
	ChangeChat       = "chat"
	ChangeHistory    = "history"
	ChangeLogs       = "logs"
	ChangeRoster     = "roster"
	ChangeNetwork    = "network"
	ChangeResources  = "resources"
	ChangeGuilds     = "guilds"
	ChangeUsage      = "usage"
	ChangeActivity   = "activity"
	ChangeAIMode     = "ai_mode"
	ChangeConnection = "connection"
	ChangeStale      = "stale"
)

// Change tells subscribers which part of the state moved.
type Change struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// NetworkSample is the latest latency/traffic reading from the push channel.
type NetworkSample struct {
	LatencyMs      int64     `json:"latency_ms"`
	RxBytes        uint64    `json:"rx_bytes"`
	TxBytes        uint64    `json:"tx_bytes"`
	RxRate         float64   `json:"rx_rate"`
	TxRate         float64   `json:"tx_rate"`
	ConnectedUsers int       `json:"connected_users"`
	At             time.Time `json:"at"`
}

// ResourceSample is one host telemetry reading.
type ResourceSample struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
	RxRate     float64   `json:"rx_rate"`
	TxRate     float64   `json:"tx_rate"`
	At         time.Time `json:"at"`
}

// Connectivity mirrors the push-channel connection state.
type Connectivity struct {
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Store is the single owner of dashboard state. Every mutator runs as one
// step under the store lock, so readers never observe a half-applied event.
type Store struct {
	mu sync.RWMutex

	guild     proto.Snowflake
	music     MusicStatus
	liveMs    int64
	users     []proto.ChatUser
	network   NetworkSample
	resources ResourceSample
	guilds    []proto.Guild
	health    proto.Health
	stats     proto.Stats
	cost      proto.CostUsage
	activity  []proto.ChannelActivity
	aiModes   map[proto.Snowflake]string
	conn      Connectivity
	stale     map[string]time.Time

	chat    *feed.Feed[proto.ChatLogEntry]
	history *feed.Feed[HistoryEntry]
	logs    *feed.Feed[string]
	netHist *feed.Feed[NetworkSample]

	listeners []chan Change
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		music:    Idle(""),
		users:    []proto.ChatUser{},
		guilds:   []proto.Guild{},
		activity: []proto.ChannelActivity{},
		aiModes:  map[proto.Snowflake]string{},
		stale:    map[string]time.Time{},
		conn:     Connectivity{Status: "disconnected"},
		chat:     feed.New[proto.ChatLogEntry](feed.ChatCapacity),
		history:  feed.New[HistoryEntry](feed.HistoryCapacity),
		logs:     feed.New[string](feed.LogCapacity),
		netHist:  feed.New[NetworkSample](feed.NetworkCapacity),
		now:      time.Now,
	}
}

// SetClock replaces the store's time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// ── Guild selection ──

// SelectGuild switches the selected guild. The music cell resets to idle for
// the new guild; authority is left to the playback coordinator.
func (s *Store) SelectGuild(id proto.Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.guild {
		return
	}
	auth := s.music.Authority
	s.guild = id
	s.music = Idle(id)
	s.music.Authority = auth
	s.liveMs = 0
	s.activity = []proto.ChannelActivity{}
	s.notify(ChangeMusic, ChangeActivity)
}

func (s *Store) Guild() proto.Snowflake {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guild
}

// ── Music ──

func (s *Store) Music() MusicStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.music.Clone()
}

// ApplyMusicSnapshot overwrites the music cell wholesale with a polled
// snapshot. Snapshots for a guild other than the selected one are discarded.
// Under Local authority the position anchor and pause state of the track
// being played locally are kept.
func (s *Store) ApplyMusicSnapshot(guild proto.Snowflake, snap proto.MusicStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guild != s.guild {
		return false
	}
	next := FromSnapshot(guild, snap, s.now())
	next.Authority = s.music.Authority
	if next.Authority == Local && sameTrack(next.CurrentTrack, s.music.CurrentTrack) {
		// The local pipeline owns position and pause state.
		next.CurrentTrack.PositionMs = s.music.CurrentTrack.PositionMs
		next.SnapshotAt = s.music.SnapshotAt
		next.Playing = s.music.Playing
		next.Paused = s.music.Paused
	}
	s.music = next
	s.liveMs = next.PositionAt(next.SnapshotAt)
	s.notify(ChangeMusic)
	return true
}

func sameTrack(a, b *proto.Track) bool {
	if a == nil || b == nil {
		return false
	}
	if a.URI != "" || b.URI != "" {
		return a.URI == b.URI
	}
	return a.Title == b.Title && a.LengthMs == b.LengthMs
}

// StartTrack records a track_start: the current track is replaced and
// anchored at 0, a history row and a log line are appended. With remote
// authority the status also flips to playing.
func (s *Store) StartTrack(track proto.Track, requester string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	t := track
	t.PositionMs = 0
	s.music.CurrentTrack = &t
	s.music.SnapshotAt = now
	s.music.Connected = true
	if s.music.Authority == Remote {
		s.music.Playing = true
		s.music.Paused = false
	}
	s.liveMs = 0

	if requester == "" {
		requester = "Unknown"
	}
	s.history.PushAt(HistoryEntry{GuildID: s.guild, Track: t, Requester: requester, PlayedAt: now}, now)
	s.pushLogLocked("Now playing: "+t.Title, now)
	s.notify(ChangeMusic, ChangeHistory, ChangeLogs)
}

// ResetMusic returns the music cell to idle and logs why.
func (s *Store) ResetMusic(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	auth, mode := s.music.Authority, s.music.BackendMode
	s.music = Idle(s.guild)
	s.music.Authority = auth
	s.music.BackendMode = mode
	s.liveMs = 0
	if reason != "" {
		s.pushLogLocked(reason, s.now())
		s.notify(ChangeMusic, ChangeLogs)
		return
	}
	s.notify(ChangeMusic)
}

// ApplyControl applies an observed or local control action to the music
// cell. positionMs, when given, becomes the new anchor; otherwise the cell is
// re-anchored at its own derived position so a pause holds where it was.
func (s *Store) ApplyControl(action string, positionMs *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	m := &s.music

	pos := m.PositionAt(now)
	if positionMs != nil {
		pos = *positionMs
	}

	switch action {
	case proto.ActionPause:
		m.reanchor(pos, now)
		if m.CurrentTrack != nil {
			m.Paused = true
		}
	case proto.ActionResume:
		m.reanchor(pos, now)
		if m.CurrentTrack != nil {
			m.Paused = false
			m.Playing = true
		}
	case proto.ActionStop:
		auth, mode := m.Authority, m.BackendMode
		s.music = Idle(s.guild)
		s.music.Authority = auth
		s.music.BackendMode = mode
	case proto.ActionSkip:
		// The backend follows up with track_start or music_stopped.
	default:
		return
	}
	s.liveMs = s.music.PositionAt(now)
	s.notify(ChangeMusic)
}

// SyncPosition re-anchors the current track at an absolute position.
func (s *Store) SyncPosition(positionMs int64, playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.music.CurrentTrack == nil {
		return
	}
	s.music.reanchor(positionMs, now)
	if s.music.Authority == Remote {
		s.music.Playing = playing
		s.music.Paused = !playing
	}
	s.liveMs = s.music.PositionAt(now)
	s.notify(ChangeMusic)
}

func (s *Store) SetAuthority(a Authority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.music.Authority == a {
		return
	}
	s.music.Authority = a
	s.notify(ChangeMusic)
}

func (s *Store) Authority() Authority {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.music.Authority
}

// SetBackendMode records the playback mode the backend last reported.
func (s *Store) SetBackendMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.music.BackendMode == mode {
		return
	}
	s.music.BackendMode = mode
	s.notify(ChangeMusic)
}

// SetLivePosition publishes the interpolated position.
func (s *Store) SetLivePosition(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveMs == ms {
		return
	}
	s.liveMs = ms
	s.notify(ChangePosition)
}

func (s *Store) LivePosition() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveMs
}

// ── Feeds ──

// AddChat prepends a chat entry and logs a truncated summary line.
func (s *Store) AddChat(e proto.ChatLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.chat.PushAt(e, now)
	s.pushLogLocked("New message from "+e.Username+": "+util.Truncate(e.UserMessage, 30), now)
	s.notify(ChangeChat, ChangeLogs)
}

// ReplaceChat replaces the chat feed with a fetched list (newest first).
func (s *Store) ReplaceChat(entries []proto.ChatLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat.Replace(entries)
	s.notify(ChangeChat)
}

// SeedHistory fills the history feed from the archive (newest first).
func (s *Store) SeedHistory(entries []HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Replace(entries)
	s.notify(ChangeHistory)
}

// Log appends a timestamped line to the log feed.
func (s *Store) Log(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLogLocked(text, s.now())
	s.notify(ChangeLogs)
}

// SeedLogs fills the log feed with already formatted lines (newest first).
func (s *Store) SeedLogs(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs.Replace(lines)
	s.notify(ChangeLogs)
}

func (s *Store) ClearLogs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs.Clear()
	s.notify(ChangeLogs)
}

func (s *Store) pushLogLocked(text string, now time.Time) {
	s.logs.PushAt(FormatLogLine(text, now), now)
}

// FormatLogLine renders a log feed line as "[HH:MM:SS] text".
func FormatLogLine(text string, at time.Time) string {
	return "[" + at.Format("15:04:05") + "] " + text
}

func (s *Store) Chat() []feed.Entry[proto.ChatLogEntry] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat.Snapshot()
}

func (s *Store) History() []feed.Entry[HistoryEntry] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Snapshot()
}

func (s *Store) Logs() []feed.Entry[string] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs.Snapshot()
}

func (s *Store) NetworkHistory() []feed.Entry[NetworkSample] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.netHist.Snapshot()
}

// ── Telemetry ──

// ApplyNetworkStats replaces the latency sample (rounded to whole ms) and
// appends to the network history, deriving byte rates from the previous
// sample.
func (s *Store) ApplyNetworkStats(ns proto.NetworkStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	next := NetworkSample{
		LatencyMs:      int64(math.Round(ns.LatencyMs)),
		RxBytes:        ns.RxBytes,
		TxBytes:        ns.TxBytes,
		ConnectedUsers: ns.ConnectedUsers,
		At:             now,
	}
	if prev, ok := s.netHist.Head(); ok {
		if secs := now.Sub(prev.Value.At).Seconds(); secs > 0 {
			next.RxRate = rate(prev.Value.RxBytes, next.RxBytes, secs)
			next.TxRate = rate(prev.Value.TxBytes, next.TxBytes, secs)
		}
	}
	s.network = next
	s.netHist.PushAt(next, now)
	s.notify(ChangeNetwork)
}

func rate(prev, cur uint64, secs float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / secs
}

func (s *Store) Network() NetworkSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.network
}

func (s *Store) SetResources(r ResourceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = r
	s.notify(ChangeResources)
}

func (s *Store) Resources() ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources
}

// ── Roster and aggregates ──

func (s *Store) SetUsers(users []proto.ChatUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append([]proto.ChatUser{}, users...)
	s.notify(ChangeRoster)
}

func (s *Store) Users() []proto.ChatUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]proto.ChatUser{}, s.users...)
}

func (s *Store) SetGuilds(guilds []proto.Guild) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guilds = append([]proto.Guild{}, guilds...)
	s.notify(ChangeGuilds)
}

func (s *Store) Guilds() []proto.Guild {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]proto.Guild{}, s.guilds...)
}

func (s *Store) SetHealth(h proto.Health) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = h
	s.notify(ChangeUsage)
}

func (s *Store) SetStats(st proto.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = st
	s.notify(ChangeUsage)
}

func (s *Store) SetCost(c proto.CostUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cost = c
	s.notify(ChangeUsage)
}

// SetActivity replaces the channel heatmap if guild is still selected.
func (s *Store) SetActivity(guild proto.Snowflake, rows []proto.ChannelActivity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guild != s.guild {
		return false
	}
	s.activity = append([]proto.ChannelActivity{}, rows...)
	s.notify(ChangeActivity)
	return true
}

// RemoveChannel drops a deleted channel from the heatmap.
func (s *Store) RemoveChannel(guild, channel proto.Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guild != s.guild {
		return
	}
	before := len(s.activity)
	s.activity = lo.Filter(s.activity, func(c proto.ChannelActivity, _ int) bool {
		return c.ChannelID != channel
	})
	if len(s.activity) != before {
		s.notify(ChangeActivity)
	}
}

func (s *Store) Activity() []proto.ChannelActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]proto.ChannelActivity{}, s.activity...)
}

func (s *Store) SetAIMode(guild proto.Snowflake, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aiModes[guild] == mode {
		return
	}
	s.aiModes[guild] = mode
	s.notify(ChangeAIMode)
}

func (s *Store) AIMode(guild proto.Snowflake) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aiModes[guild]
}

// ── Connectivity and staleness ──

func (s *Store) SetConnectivity(status, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Connectivity{Status: status, LastError: lastErr}
	if c == s.conn {
		return
	}
	s.conn = c
	s.notify(ChangeConnection)
}

func (s *Store) Connectivity() Connectivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// MarkStale flags a polled resource whose last fetch failed; the previous
// value is kept. A successful fetch clears the flag.
func (s *Store) MarkStale(resource string, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, was := s.stale[resource]
	if stale == was {
		return
	}
	if stale {
		s.stale[resource] = s.now()
	} else {
		delete(s.stale, resource)
	}
	s.notify(ChangeStale)
}

// Stale returns the resources currently marked stale, with when they went
// stale.
func (s *Store) Stale() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]time.Time, len(s.stale))
	for k, v := range s.stale {
		cp[k] = v
	}
	return cp
}

// ── Snapshot ──

// View is a consistent copy of the whole store.
type View struct {
	Guild        proto.Snowflake         `json:"guild_id"`
	Music        MusicStatus             `json:"music"`
	PositionMs   int64                   `json:"position_ms"`
	Connection   Connectivity            `json:"connection"`
	Network      NetworkSample           `json:"network"`
	Resources    ResourceSample          `json:"resources"`
	Users        []proto.ChatUser        `json:"users"`
	Guilds       []proto.Guild           `json:"guilds"`
	Health       proto.Health            `json:"health"`
	Stats        proto.Stats             `json:"stats"`
	Cost         proto.CostUsage         `json:"cost"`
	Activity     []proto.ChannelActivity `json:"activity"`
	AIMode       string                  `json:"ai_mode,omitempty"`
	Stale        []string                `json:"stale"`
	ChatCount    int                     `json:"chat_count"`
	HistoryCount int                     `json:"history_count"`
	LogCount     int                     `json:"log_count"`
	LastLog      string                  `json:"last_log,omitempty"`
	NowPlaying   *proto.Track            `json:"now_playing,omitempty"`
}

func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.music.Clone()
	v := View{
		Guild:        s.guild,
		Music:        m,
		PositionMs:   s.liveMs,
		Connection:   s.conn,
		Network:      s.network,
		Resources:    s.resources,
		Users:        append([]proto.ChatUser{}, s.users...),
		Guilds:       append([]proto.Guild{}, s.guilds...),
		Health:       s.health,
		Stats:        s.stats,
		Cost:         s.cost,
		Activity:     append([]proto.ChannelActivity{}, s.activity...),
		AIMode:       s.aiModes[s.guild],
		Stale:        lo.Keys(s.stale),
		ChatCount:    s.chat.Len(),
		HistoryCount: s.history.Len(),
		LogCount:     s.logs.Len(),
		NowPlaying:   m.CurrentTrack,
	}
	if head, ok := s.logs.Head(); ok {
		v.LastLog = head.Value
	}
	return v
}

// ── Subscribers ──

// Subscribe returns a channel of changes and a cancel func. Slow subscribers
// miss changes rather than block mutators.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Change, 64)
	s.listeners = append(s.listeners, ch)
	return ch, func() { s.unsubscribe(ch) }
}

func (s *Store) unsubscribe(ch chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, listener := range s.listeners {
		if listener == ch {
			close(listener)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// notify must be called with mu held.
func (s *Store) notify(kinds ...string) {
	at := s.now()
	for _, kind := range kinds {
		evt := Change{Kind: kind, At: at}
		for _, ch := range s.listeners {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}
