// Package beamline models the devices skywalker steers and watches: a
// photon source, two flat offset mirrors and two YAG imagers. Devices are
// asynchronous (moves return a status that completes later) and observable
// (value and state subscriptions). The only backend is the in-process
// simulation wired up by TwoMirrorSystem; it reproduces the beam transport
// of the real beamline closely enough to exercise every alignment path.
package beamline

import (
	"errors"
	"time"
)

// Reading is a timestamped sample of a device field.
type Reading struct {
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// Device is a named composite that can be read as a set of fields.
type Device interface {
	Name() string
	Read() map[string]Reading
}

var (
	// ErrBeamLost indicates the source produced no usable beam.
	ErrBeamLost = errors.New("no beam")

	// ErrBeamBlocked indicates an upstream screen is inserted.
	ErrBeamBlocked = errors.New("beam blocked upstream")

	// ErrScreenOut indicates a centroid read on a screen that is not
	// inserted.
	ErrScreenOut = errors.New("screen not inserted")

	// ErrMoveInterrupted is reported by a move status when Stop aborts the
	// move or a newer move supersedes it.
	ErrMoveInterrupted = errors.New("move interrupted")
)

// IsBeamUnavailable reports whether err means a centroid could not be
// measured because no beam reached the screen. Such errors are transient:
// the measurement can be retried once the beam is back and the screens are
// arranged.
func IsBeamUnavailable(err error) bool {
	return errors.Is(err, ErrBeamLost) ||
		errors.Is(err, ErrBeamBlocked) ||
		errors.Is(err, ErrScreenOut)
}
