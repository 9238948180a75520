// Package localaudio plays a remote audio stream on this machine's output
// device. It is the pipeline behind local playback authority.
package localaudio

import (
	"errors"
	"math"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("localaudio")

var (
	// ErrUnavailable is returned by Open and Start when this build has no
	// audio output.
	ErrUnavailable = errors.New("local audio output unavailable in this build")
	// ErrForeignStream is returned by Start for a stream this package did
	// not open.
	ErrForeignStream = errors.New("stream was not opened by this player")
)

// volumeExponent maps a 0..1 linear level onto effects.Volume's base-2
// exponent.
func volumeExponent(level float64) (exp float64, silent bool) {
	if level <= 0 {
		return 0, true
	}
	if level > 1 {
		level = 1
	}
	return math.Log2(level), false
}
