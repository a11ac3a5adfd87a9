package beamline

// SourceSpec configures the photon source.
type SourceSpec struct {
	Name string  `json:"name,omitempty"`
	X    float64 `json:"x"`    // position, m
	XP   float64 `json:"xp"`   // pointing, rad
	Rate float64 `json:"rate"` // repetition rate, Hz

	XNoise  float64 `json:"xNoise"`
	XPNoise float64 `json:"xpNoise"`
}

// Source is the photon source: position, pointing and repetition rate.
// Rate is writable so tests and drills can drop the beam mid-walk.
type Source struct {
	name string

	X    *Signal
	XP   *Signal
	Rate *Signal
}

// NewSource returns a Source emitting at spec.Rate.
func NewSource(name string, spec SourceSpec) *Source {
	return &Source{
		name: name,
		X:    NewSignal(name+"_x", spec.X, spec.XNoise),
		XP:   NewSignal(name+"_xp", spec.XP, spec.XPNoise),
		Rate: NewSignal(name+"_rate", spec.Rate, 0),
	}
}

func (s *Source) Name() string { return s.name }

// Live reports whether the source is producing beam.
func (s *Source) Live() bool { return s.Rate.Setpoint() > 0 }

// Read returns the source readbacks.
func (s *Source) Read() map[string]Reading {
	return map[string]Reading{
		s.X.Name():    s.X.Read(),
		s.XP.Name():   s.XP.Read(),
		s.Rate.Name(): s.Rate.Read(),
	}
}
