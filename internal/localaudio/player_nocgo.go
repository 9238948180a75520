//go:build !((linux && cgo) || windows || darwin)

package localaudio

import (
	"context"
	"io"
	"net/http"
)

// Available reports whether this build can produce sound. Native output
// needs cgo on Linux.
const Available = false

// Player is a stand-in that refuses to play.
type Player struct{}

func New(*http.Client) *Player { return &Player{} }

func (p *Player) Open(context.Context, string, int64) (io.Closer, error) {
	log.Warnf("local playback requested but this build has no audio output")
	return nil, ErrUnavailable
}

func (p *Player) Start(opened io.Closer) error {
	if opened != nil {
		opened.Close()
	}
	return ErrUnavailable
}

func (p *Player) Pause()            {}
func (p *Player) Resume()           {}
func (p *Player) Stop()             {}
func (p *Player) SetVolume(float64) {}
func (p *Player) PositionMs() int64 { return 0 }
func (p *Player) Playing() bool     { return false }
