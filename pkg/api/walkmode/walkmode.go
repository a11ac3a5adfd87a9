// Package walkmode defines the alignment strategies skywalker supports.
package walkmode

import (
	"errors"
	"fmt"
)

// Mode selects how pitch corrections are computed during a walk.
//
// It implements encoding.TextUnmarshaler and encoding.TextMarshaler so it
// can be used with flag.TextVar.
type Mode string

const (
	None Mode = ""

	// Iter uses the closed-form geometry solver every walk.
	Iter Mode = "iter"

	// Model steers with fitted centroid-vs-pitch models only.
	Model Mode = "model"

	// Build sweeps the mirrors to collect fresh model data, then stops.
	Build Mode = "build"

	// Auto starts from the geometry solver and switches to fitted models
	// once they are trustworthy.
	Auto Mode = "auto"
)

// ErrUnsupported is returned by Mode.UnmarshalText when bytes that do not
// correspond to a defined mode constant are passed in as a parameter.
var ErrUnsupported = errors.New("walk mode unsupported")

// Unsupported returns a new ErrUnsupported that adds the unsupported mode
// name to the error message.
func Unsupported(name string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, name)
}

// SupportedModes is a list of all the modes supported.
var SupportedModes = []Mode{
	Iter,
	Model,
	Build,
	Auto,
}

// SupportedModesStrings is the list of supported modes represented as
// strings.
var SupportedModesStrings = ModesAsStrings(SupportedModes)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
//
// It will only succeed when unmarshaling modes in SupportedModes or empty.
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

// String implements the fmt.Stringer interface.
func (m Mode) String() string {
	return string(m)
}

// ModesAsStrings converts a slice of Modes to a string slice.
func ModesAsStrings(ms []Mode) []string {
	var s []string
	for _, m := range ms {
		s = append(s, m.String())
	}
	return s
}

// Parse returns a Mode corresponding to the given string name, or the None
// mode along with an error if there is no matching Mode. If name == "",
// then the None mode is returned with no error.
func Parse(name string) (Mode, error) {
	for _, m := range append(SupportedModes, None) {
		if string(m) == name {
			return m, nil
		}
	}
	return None, Unsupported(name)
}
