package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

var (
	ErrNoTrack    = errors.New("no current track")
	ErrNoGuild    = errors.New("no guild selected")
	ErrSuperseded = errors.New("superseded by a later authority change")
)

// DefaultResyncDelay is how long after a control action the music status
// is re-polled.
const DefaultResyncDelay = 500 * time.Millisecond

// DefaultFollowInterval is how often local playback re-anchors the music
// cell on the pipeline position.
const DefaultFollowInterval = time.Second

// Backend is the write side of the bot API the coordinator needs.
type Backend interface {
	Control(ctx context.Context, guild proto.Snowflake, action string) error
	SetPlaybackMode(ctx context.Context, guild proto.Snowflake, mode string) error
	StreamURL(ctx context.Context, trackURI string) (proto.StreamLocator, error)
}

// Broadcaster sends a frame over the push channel.
type Broadcaster interface {
	Send(v any) error
}

// Pipeline is a local audio output. Open does the slow part (fetch, decode,
// seek) without touching what is audible; Start swaps an opened stream in.
type Pipeline interface {
	Open(ctx context.Context, streamURL string, startMs int64) (io.Closer, error)
	Start(stream io.Closer) error
	Pause()
	Resume()
	Stop()
	PositionMs() int64
	Playing() bool
}

type Config struct {
	// Ctx bounds every local stream. Request contexts only cover lookups.
	Ctx       context.Context
	API       Backend
	Broadcast Broadcaster
	Pipeline  Pipeline
	Store     *state.Store
	// ClientID tags our music_control broadcasts.
	ClientID string
	// Resync, when set, is called ResyncDelay after each control action.
	Resync      func()
	ResyncDelay time.Duration
}

// Coordinator owns playback authority for the selected guild. Remote means
// the bot plays into voice; Local means this daemon plays the stream.
type Coordinator struct {
	cfg Config

	// mu serializes pipeline and authority changes; epoch is bumped on entry
	// to every authority change so slower earlier calls find themselves stale.
	mu    sync.Mutex
	epoch atomic.Uint64
	// track orders OnTrack calls among themselves.
	track atomic.Uint64
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.ResyncDelay <= 0 {
		cfg.ResyncDelay = DefaultResyncDelay
	}
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	return &Coordinator{cfg: cfg}
}

func (c *Coordinator) current(epoch uint64) bool {
	return c.epoch.Load() == epoch
}

// Authority reports the current authority.
func (c *Coordinator) Authority() state.Authority {
	return c.cfg.Store.Authority()
}

// SetAuthority switches between remote and local playback. Switching to
// Local resolves a stream for the current track and starts it at the
// displayed position; if that fails authority stays Remote.
func (c *Coordinator) SetAuthority(ctx context.Context, a state.Authority) error {
	epoch := c.epoch.Add(1)
	if a == state.Local {
		return c.goLocal(ctx, epoch)
	}
	return c.goRemote(ctx, epoch)
}

func (c *Coordinator) goLocal(ctx context.Context, epoch uint64) error {
	store := c.cfg.Store
	guild := store.Guild()
	if guild == "" {
		return ErrNoGuild
	}
	m := store.Music()
	if m.CurrentTrack == nil {
		return ErrNoTrack
	}

	streamURL, err := c.resolve(ctx, *m.CurrentTrack)
	if err != nil {
		return fmt.Errorf("resolve stream: %w", err)
	}
	if !c.current(epoch) {
		return ErrSuperseded
	}

	start := store.Music().PositionAt(store.Now())
	stream, err := c.cfg.Pipeline.Open(c.cfg.Ctx, streamURL, start)
	if err != nil {
		return fmt.Errorf("start local playback: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(epoch) || store.Guild() != guild {
		_ = stream.Close()
		return ErrSuperseded
	}
	if err := c.cfg.Pipeline.Start(stream); err != nil {
		return fmt.Errorf("start local playback: %w", err)
	}
	if err := c.cfg.API.SetPlaybackMode(ctx, guild, proto.ModeWeb); err != nil {
		log.Warnf("notify playback mode %s: %v", proto.ModeWeb, err)
	}
	store.SetAuthority(state.Local)
	store.SetBackendMode(proto.ModeWeb)
	store.Log("Switched to local playback")
	log.Infof("local playback of %q from %dms", m.CurrentTrack.Title, start)
	return nil
}

func (c *Coordinator) goRemote(ctx context.Context, epoch uint64) error {
	store := c.cfg.Store
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(epoch) {
		return ErrSuperseded
	}
	c.cfg.Pipeline.Stop()
	if store.Authority() == state.Remote {
		return nil
	}
	store.SetAuthority(state.Remote)
	store.SetBackendMode(proto.ModeDiscord)
	store.Log("Switched to bot playback")
	if guild := store.Guild(); guild != "" {
		if err := c.cfg.API.SetPlaybackMode(ctx, guild, proto.ModeDiscord); err != nil {
			log.Warnf("notify playback mode %s: %v", proto.ModeDiscord, err)
		}
	}
	return nil
}

// resolve prefers a stream URL the backend already attached to the track.
func (c *Coordinator) resolve(ctx context.Context, t proto.Track) (string, error) {
	if t.StreamURL != "" {
		return t.StreamURL, nil
	}
	if t.URI == "" {
		return "", ErrNoTrack
	}
	loc, err := c.cfg.API.StreamURL(ctx, t.URI)
	if err != nil {
		return "", err
	}
	return loc.StreamURL, nil
}

// Control forwards action to the backend. Only after the backend accepts it
// is the local pipeline adjusted, the music cell updated and the action
// broadcast to other observers.
func (c *Coordinator) Control(ctx context.Context, action string) error {
	if !proto.ValidAction(action) {
		return fmt.Errorf("invalid action %q", action)
	}
	store := c.cfg.Store
	guild := store.Guild()
	if guild == "" {
		return ErrNoGuild
	}
	if err := c.cfg.API.Control(ctx, guild, action); err != nil {
		return err
	}

	c.mu.Lock()
	local := store.Authority() == state.Local
	var posMs int64
	if local {
		switch action {
		case proto.ActionPause:
			c.cfg.Pipeline.Pause()
		case proto.ActionResume:
			c.cfg.Pipeline.Resume()
		case proto.ActionStop:
			c.cfg.Pipeline.Stop()
		}
		posMs = c.cfg.Pipeline.PositionMs()
	} else {
		posMs = store.Music().PositionAt(store.Now())
	}
	c.mu.Unlock()

	var anchor *int64
	if action == proto.ActionPause || action == proto.ActionResume {
		anchor = &posMs
	}
	store.ApplyControl(action, anchor)
	store.Log("Music control: " + action)

	c.broadcast(guild, action, local, posMs)
	if c.cfg.Resync != nil {
		time.AfterFunc(c.cfg.ResyncDelay, c.cfg.Resync)
	}
	return nil
}

func (c *Coordinator) broadcast(guild proto.Snowflake, action string, local bool, posMs int64) {
	if c.cfg.Broadcast == nil {
		return
	}
	mode := proto.ModeDiscord
	if local {
		mode = proto.ModeWeb
	}
	sec := float64(posMs) / 1000
	frame := proto.NewControlFrame(proto.MusicControl{
		GuildID:     guild,
		Action:      action,
		Mode:        mode,
		PositionSec: &sec,
		ClientID:    c.cfg.ClientID,
	})
	if err := c.cfg.Broadcast.Send(frame); err != nil {
		log.Debugf("broadcast %s: %v", action, err)
	}
}

// OnTrack follows a newly started track while playing locally. It blocks
// on stream resolution, so callers on the event path run it on its own
// goroutine.
func (c *Coordinator) OnTrack(ctx context.Context, t proto.Track) {
	if c.cfg.Store.Authority() != state.Local {
		return
	}
	epoch := c.epoch.Load()
	seq := c.track.Add(1)
	streamURL, err := c.resolve(ctx, t)
	if err != nil {
		log.Warnf("resolve stream for %q: %v", t.Title, err)
		return
	}
	stale := func() bool {
		return !c.current(epoch) || c.track.Load() != seq || c.cfg.Store.Authority() != state.Local
	}
	if stale() {
		return
	}
	stream, err := c.cfg.Pipeline.Open(c.cfg.Ctx, streamURL, 0)
	if err != nil {
		log.Warnf("local playback of %q: %v", t.Title, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if stale() {
		_ = stream.Close()
		return
	}
	if err := c.cfg.Pipeline.Start(stream); err != nil {
		log.Warnf("local playback of %q: %v", t.Title, err)
	}
}

// Follow re-anchors the music cell on the local pipeline every interval
// while playing locally, so the displayed position tracks the audio rather
// than the backend's estimate. It blocks until ctx is done.
func (c *Coordinator) Follow(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultFollowInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncFromPipeline()
		}
	}
}

func (c *Coordinator) syncFromPipeline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Store.Authority() != state.Local || !c.cfg.Pipeline.Playing() {
		return
	}
	c.cfg.Store.SyncPosition(c.cfg.Pipeline.PositionMs(), true)
}

// Retarget drops local playback when the selected guild changes. The guild
// being left is told the bot owns playback again.
func (c *Coordinator) Retarget(ctx context.Context, prev proto.Snowflake) {
	c.epoch.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Pipeline.Stop()
	if c.cfg.Store.Authority() != state.Local {
		return
	}
	c.cfg.Store.SetAuthority(state.Remote)
	if prev == "" {
		return
	}
	if err := c.cfg.API.SetPlaybackMode(ctx, prev, proto.ModeDiscord); err != nil {
		log.Warnf("notify playback mode %s for %s: %v", proto.ModeDiscord, prev, err)
	}
}
