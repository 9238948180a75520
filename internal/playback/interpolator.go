// Package playback derives the displayed track position between snapshots
// and coordinates which side, the bot or this daemon, is producing audio.
package playback

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/botdash/internal/state"
)

var log = logging.Logger("playback")

const DefaultTick = 250 * time.Millisecond

// Interpolator holds the last observed music snapshot and answers position
// queries against it.
type Interpolator struct {
	mu     sync.Mutex
	anchor state.MusicStatus
	// last is the highest position handed out for the current anchor.
	last int64
}

func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Observe re-anchors on m. Observing the same snapshot again is a no-op.
func (i *Interpolator) Observe(m state.MusicStatus) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if sameAnchor(i.anchor, m) {
		i.anchor = m
		return
	}
	i.anchor = m
	i.last = 0
}

// Position is the derived position at now in milliseconds. It holds while
// paused, clamps to the track length and never goes backwards for a given
// anchor.
func (i *Interpolator) Position(now time.Time) int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	pos := i.anchor.PositionAt(now)
	if pos < i.last && !i.anchor.Paused {
		return i.last
	}
	i.last = pos
	return pos
}

func sameAnchor(a, b state.MusicStatus) bool {
	if !a.SnapshotAt.Equal(b.SnapshotAt) || a.Paused != b.Paused || a.Playing != b.Playing {
		return false
	}
	if a.CurrentTrack == nil || b.CurrentTrack == nil {
		return a.CurrentTrack == b.CurrentTrack
	}
	return a.CurrentTrack.PositionMs == b.CurrentTrack.PositionMs &&
		a.CurrentTrack.Title == b.CurrentTrack.Title &&
		a.CurrentTrack.LengthMs == b.CurrentTrack.LengthMs
}

// Run samples the music cell every tick and publishes the displayed
// position until ctx is done.
func (i *Interpolator) Run(ctx context.Context, store *state.Store, tick time.Duration) {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Observe(store.Music())
			store.SetLivePosition(i.Position(store.Now()))
		}
	}
}
