// Package poll refreshes backend resources on fixed intervals and writes
// each result into the store as a wholesale snapshot.
//
// Every resource has its own goroutine and ticker, so a slow fetch delays
// only that resource. A failed fetch leaves the previous value in place and
// marks the resource stale. Results fetched for a guild that is no longer
// selected are dropped.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/botdash/internal/feed"
	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

var log = logging.Logger("poll")

// Resource names, also used as stale flags in the store.
const (
	Music     = "music"
	Resources = "resources"
	Cost      = "cost"
	ChatLogs  = "chat_logs"
	Activity  = "activity"
	Roster    = "roster"
	Stats     = "stats"
	Guilds    = "guilds"
	Health    = "health"
	AIMode    = "ai_mode"
)

const fetchTimeout = 10 * time.Second

// Backend is the read side of the bot API.
type Backend interface {
	MusicStatus(ctx context.Context, guild proto.Snowflake) (proto.MusicStatus, error)
	CostUsage(ctx context.Context) (proto.CostUsage, error)
	ChatLogs(ctx context.Context, guild proto.Snowflake, limit int) ([]proto.ChatLogEntry, error)
	ChannelActivity(ctx context.Context, guild proto.Snowflake) ([]proto.ChannelActivity, error)
	Users(ctx context.Context) ([]proto.ChatUser, error)
	Stats(ctx context.Context, guild proto.Snowflake) (proto.Stats, error)
	Guilds(ctx context.Context) ([]proto.Guild, error)
	Health(ctx context.Context) (proto.Health, error)
	AIMode(ctx context.Context, guild proto.Snowflake) (proto.AIMode, error)
}

// Sampler reads host telemetry.
type Sampler interface {
	Sample(ctx context.Context) (state.ResourceSample, error)
}

type Intervals struct {
	Music     time.Duration
	Resources time.Duration
	Cost      time.Duration
	ChatLogs  time.Duration
	Activity  time.Duration
	Roster    time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Music:     2000 * time.Millisecond,
		Resources: 1000 * time.Millisecond,
		Cost:      30000 * time.Millisecond,
		ChatLogs:  5000 * time.Millisecond,
		Activity:  5000 * time.Millisecond,
		Roster:    30000 * time.Millisecond,
	}
}

func (iv Intervals) withDefaults() Intervals {
	d := DefaultIntervals()
	pick := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}
	return Intervals{
		Music:     pick(iv.Music, d.Music),
		Resources: pick(iv.Resources, d.Resources),
		Cost:      pick(iv.Cost, d.Cost),
		ChatLogs:  pick(iv.ChatLogs, d.ChatLogs),
		Activity:  pick(iv.Activity, d.Activity),
		Roster:    pick(iv.Roster, d.Roster),
	}
}

type resource struct {
	name  string
	every time.Duration
	// guild-scoped resources are skipped while no guild is selected and
	// re-fetched on guild change.
	scoped bool
	fetch  func(ctx context.Context, guild proto.Snowflake, epoch uint64) error
	kick   chan struct{}
}

type Poller struct {
	api   Backend
	sys   Sampler
	store *state.Store

	epoch     atomic.Uint64
	resources []*resource
	byName    map[string]*resource
}

// New builds a poller. sys may be nil, in which case host telemetry is not
// polled.
func New(api Backend, sys Sampler, store *state.Store, iv Intervals) *Poller {
	iv = iv.withDefaults()
	p := &Poller{api: api, sys: sys, store: store, byName: map[string]*resource{}}

	p.add(Music, iv.Music, true, p.fetchMusic)
	if sys != nil {
		p.add(Resources, iv.Resources, false, p.fetchResources)
	}
	p.add(Cost, iv.Cost, false, p.fetchCost)
	p.add(ChatLogs, iv.ChatLogs, false, p.fetchChatLogs)
	p.add(Activity, iv.Activity, true, p.fetchActivity)
	p.add(Roster, iv.Roster, false, p.fetchRoster)
	p.add(Stats, iv.Roster, false, p.fetchStats)
	p.add(Guilds, iv.Roster, false, p.fetchGuilds)
	p.add(Health, iv.Roster, false, p.fetchHealth)
	p.add(AIMode, iv.Roster, true, p.fetchAIMode)
	return p
}

func (p *Poller) add(name string, every time.Duration, scoped bool, fetch func(context.Context, proto.Snowflake, uint64) error) {
	r := &resource{name: name, every: every, scoped: scoped, fetch: fetch, kick: make(chan struct{}, 1)}
	p.resources = append(p.resources, r)
	p.byName[name] = r
}

// Initial fetches every resource once, concurrently, and waits for all of
// them.
func (p *Poller) Initial(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range p.resources {
		wg.Add(1)
		go func(r *resource) {
			defer wg.Done()
			p.runOnce(ctx, r)
		}(r)
	}
	wg.Wait()
}

// Run starts one loop per resource and blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range p.resources {
		wg.Add(1)
		go func(r *resource) {
			defer wg.Done()
			p.loop(ctx, r)
		}(r)
	}
	wg.Wait()
}

func (p *Poller) loop(ctx context.Context, r *resource) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		p.runOnce(ctx, r)
	}
}

func (p *Poller) runOnce(ctx context.Context, r *resource) {
	// Epoch before guild: SetGuild selects first and bumps second, so a
	// fresh epoch always pairs with the new guild.
	epoch := p.epoch.Load()
	guild := p.store.Guild()
	if r.scoped && guild == "" {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if err := r.fetch(fctx, guild, epoch); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Debugf("%s: %v", r.name, err)
		p.store.MarkStale(r.name, true)
		return
	}
	p.store.MarkStale(r.name, false)
}

// Trigger runs a resource out of band. It never blocks; a trigger that
// arrives while one is already queued is merged with it.
func (p *Poller) Trigger(name string) {
	r, ok := p.byName[name]
	if !ok {
		return
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// SetGuild selects a guild. Anything still in flight for the previous
// selection is discarded when it lands.
func (p *Poller) SetGuild(id proto.Snowflake) {
	p.store.SelectGuild(id)
	p.epoch.Add(1)
	for _, r := range p.resources {
		if r.scoped || r.name == ChatLogs || r.name == Stats {
			p.Trigger(r.name)
		}
	}
}

// current reports whether a result issued under epoch may still be applied.
func (p *Poller) current(epoch uint64) bool {
	return p.epoch.Load() == epoch
}

// ── Fetchers ──

func (p *Poller) fetchMusic(ctx context.Context, guild proto.Snowflake, epoch uint64) error {
	st, err := p.api.MusicStatus(ctx, guild)
	if err != nil {
		return err
	}
	if p.current(epoch) {
		p.store.ApplyMusicSnapshot(guild, st)
	}
	return nil
}

func (p *Poller) fetchResources(ctx context.Context, _ proto.Snowflake, _ uint64) error {
	s, err := p.sys.Sample(ctx)
	if err != nil {
		return err
	}
	p.store.SetResources(s)
	return nil
}

func (p *Poller) fetchCost(ctx context.Context, _ proto.Snowflake, _ uint64) error {
	u, err := p.api.CostUsage(ctx)
	if err != nil {
		return err
	}
	p.store.SetCost(u)
	return nil
}

func (p *Poller) fetchChatLogs(ctx context.Context, guild proto.Snowflake, epoch uint64) error {
	logs, err := p.api.ChatLogs(ctx, guild, feed.ChatCapacity)
	if err != nil {
		return err
	}
	if p.current(epoch) {
		p.store.ReplaceChat(logs)
	}
	return nil
}

func (p *Poller) fetchActivity(ctx context.Context, guild proto.Snowflake, epoch uint64) error {
	rows, err := p.api.ChannelActivity(ctx, guild)
	if err != nil {
		return err
	}
	if p.current(epoch) {
		p.store.SetActivity(guild, rows)
	}
	return nil
}

func (p *Poller) fetchRoster(ctx context.Context, _ proto.Snowflake, _ uint64) error {
	users, err := p.api.Users(ctx)
	if err != nil {
		return err
	}
	p.store.SetUsers(users)
	return nil
}

func (p *Poller) fetchStats(ctx context.Context, guild proto.Snowflake, epoch uint64) error {
	st, err := p.api.Stats(ctx, guild)
	if err != nil {
		return err
	}
	if p.current(epoch) {
		p.store.SetStats(st)
	}
	return nil
}

func (p *Poller) fetchGuilds(ctx context.Context, _ proto.Snowflake, _ uint64) error {
	gs, err := p.api.Guilds(ctx)
	if err != nil {
		return err
	}
	p.store.SetGuilds(gs)
	return nil
}

func (p *Poller) fetchHealth(ctx context.Context, _ proto.Snowflake, _ uint64) error {
	h, err := p.api.Health(ctx)
	if err != nil {
		return err
	}
	p.store.SetHealth(h)
	return nil
}

func (p *Poller) fetchAIMode(ctx context.Context, guild proto.Snowflake, epoch uint64) error {
	m, err := p.api.AIMode(ctx, guild)
	if err != nil {
		return err
	}
	if p.current(epoch) {
		p.store.SetAIMode(guild, m.CurrentMode)
	}
	return nil
}
