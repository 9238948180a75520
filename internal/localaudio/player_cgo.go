//go:build (linux && cgo) || windows || darwin

package localaudio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

// Available reports whether this build can produce sound.
const Available = true

const sampleRate = beep.SampleRate(44100)

// Player decodes an HTTP mp3 stream and feeds it through a volume effect and
// a pause control into the speaker.
type Player struct {
	http *http.Client

	mu          sync.Mutex
	initialized bool
	streamer    beep.StreamSeekCloser
	format      beep.Format
	volume      *effects.Volume
	ctrl        *beep.Ctrl
	level       float64
	playing     bool
}

func New(client *http.Client) *Player {
	if client == nil {
		client = &http.Client{}
	}
	return &Player{http: client, level: 1}
}

func (p *Player) initSpeakerLocked() error {
	if p.initialized {
		return nil
	}
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return err
	}
	p.initialized = true
	return nil
}

// stream is a decoded, positioned source waiting to be started.
type stream struct {
	s       beep.StreamSeekCloser
	format  beep.Format
	url     string
	startMs int64
}

func (st *stream) Close() error { return st.s.Close() }

// Open fetches and decodes streamURL and seeks it to startMs. Nothing audible
// changes until the result is passed to Start. ctx bounds the whole stream,
// not just the open.
func (p *Player) Open(ctx context.Context, streamURL string, startMs int64) (io.Closer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: status %s", resp.Status)
	}

	streamer, format, err := mp3.Decode(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decode stream: %w", err)
	}
	if startMs > 0 {
		if err := seekTo(streamer, format.SampleRate.N(time.Duration(startMs)*time.Millisecond)); err != nil {
			streamer.Close()
			return nil, fmt.Errorf("seek: %w", err)
		}
	}
	return &stream{s: streamer, format: format, url: streamURL, startMs: startMs}, nil
}

// Start replaces whatever is playing with an opened stream. On error the
// stream is closed.
func (p *Player) Start(opened io.Closer) error {
	st, ok := opened.(*stream)
	if !ok {
		if opened != nil {
			opened.Close()
		}
		return ErrForeignStream
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	if err := p.initSpeakerLocked(); err != nil {
		st.s.Close()
		return fmt.Errorf("speaker: %w", err)
	}

	var src beep.Streamer = st.s
	if st.format.SampleRate != sampleRate {
		src = beep.Resample(4, st.format.SampleRate, sampleRate, st.s)
	}
	exp, silent := volumeExponent(p.level)
	p.volume = &effects.Volume{Streamer: src, Base: 2, Volume: exp, Silent: silent}
	p.ctrl = &beep.Ctrl{Streamer: p.volume}
	p.streamer = st.s
	p.format = st.format
	p.playing = true

	ctrl := p.ctrl
	speaker.Play(beep.Seq(ctrl, beep.Callback(func() { go p.finished(ctrl) })))
	log.Infof("playing %s from %dms", st.url, st.startMs)
	return nil
}

// seekTo positions a freshly decoded stream. Network bodies are not
// seekable, so fall back to decoding and discarding samples.
func seekTo(s beep.StreamSeekCloser, n int) error {
	if err := s.Seek(n); err == nil {
		return nil
	}
	buf := make([][2]float64, 4096)
	for n > 0 {
		k := min(n, len(buf))
		got, ok := s.Stream(buf[:k])
		if !ok {
			if err := s.Err(); err != nil {
				return err
			}
			return nil
		}
		n -= got
	}
	return nil
}

func (p *Player) finished(ctrl *beep.Ctrl) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctrl == ctrl {
		p.playing = false
	}
}

func (p *Player) Pause() { p.setPaused(true) }

func (p *Player) Resume() { p.setPaused(false) }

func (p *Player) setPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Paused = paused
	speaker.Unlock()
	p.playing = !paused
}

func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.ctrl != nil {
		speaker.Lock()
		p.ctrl.Paused = true
		p.ctrl.Streamer = nil
		speaker.Unlock()
	}
	if p.streamer != nil {
		p.streamer.Close()
		p.streamer = nil
	}
	p.ctrl = nil
	p.volume = nil
	p.playing = false
}

// SetVolume sets the output level, 0 (silent) to 1.
func (p *Player) SetVolume(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	if p.volume == nil {
		return
	}
	exp, silent := volumeExponent(level)
	speaker.Lock()
	p.volume.Volume = exp
	p.volume.Silent = silent
	speaker.Unlock()
}

// PositionMs is the decoder's position in the current stream.
func (p *Player) PositionMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := p.streamer.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos).Milliseconds()
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
