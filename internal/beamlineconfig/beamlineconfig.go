// Package beamlineconfig loads two-mirror system descriptions from YAML
// and builds the simulated beamline from them. Files only need to state
// deviations from the nominal geometry; everything else keeps the
// defaults.
package beamlineconfig

import (
	"fmt"
	"os"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"sigs.k8s.io/yaml"

	"github.com/photoncontrols/skywalker/internal/beamline"
)

// Load reads a SystemConfig from a YAML (or JSON) file.
func Load(path string) (beamline.SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return beamline.SystemConfig{}, fmt.Errorf("error reading beamline config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return beamline.SystemConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a SystemConfig on top of the defaults and validates it.
// Unknown fields are rejected so typos surface instead of silently
// keeping the nominal value.
func Parse(data []byte) (beamline.SystemConfig, error) {
	cfg := beamline.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg, yaml.DisallowUnknownFields); err != nil {
		return beamline.SystemConfig{}, fmt.Errorf("error parsing beamline config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return beamline.SystemConfig{}, err
	}
	return cfg, nil
}

// Dump renders the effective config as YAML.
func Dump(cfg beamline.SystemConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks the geometry and device specs. The source sits at z=0;
// beam order is first mirror, second mirror, first imager, second imager.
func Validate(cfg beamline.SystemConfig) error {
	if cfg.Source.Rate < 0 {
		return fmt.Errorf("source rate %v; want >= 0", cfg.Source.Rate)
	}
	if cfg.Mirror1.Z <= 0 {
		return fmt.Errorf("first mirror z %v; want > 0 (source sits at z=0)", cfg.Mirror1.Z)
	}
	if cfg.Mirror2.Z <= cfg.Mirror1.Z {
		return fmt.Errorf("second mirror z %v not downstream of first mirror z %v", cfg.Mirror2.Z, cfg.Mirror1.Z)
	}
	if cfg.Imager1.Z <= cfg.Mirror2.Z {
		return fmt.Errorf("first imager z %v not downstream of second mirror z %v", cfg.Imager1.Z, cfg.Mirror2.Z)
	}
	if cfg.Imager2.Z <= cfg.Imager1.Z {
		return fmt.Errorf("second imager z %v not downstream of first imager z %v", cfg.Imager2.Z, cfg.Imager1.Z)
	}
	for _, m := range []struct {
		label string
		spec  beamline.MirrorSpec
	}{
		{"first mirror", cfg.Mirror1},
		{"second mirror", cfg.Mirror2},
	} {
		if m.spec.Travel < 0 {
			return fmt.Errorf("%s travel %v; want >= 0", m.label, m.spec.Travel)
		}
		if m.spec.PitchLow == 0 && m.spec.PitchHigh == 0 {
			continue
		}
		if m.spec.PitchLow >= m.spec.PitchHigh {
			return fmt.Errorf("%s pitch limits [%v, %v] are empty", m.label, m.spec.PitchLow, m.spec.PitchHigh)
		}
		if m.spec.Pitch < m.spec.PitchLow || m.spec.Pitch > m.spec.PitchHigh {
			return fmt.Errorf("%s pitch %v outside limits [%v, %v]", m.label, m.spec.Pitch, m.spec.PitchLow, m.spec.PitchHigh)
		}
	}
	for _, im := range []struct {
		label string
		spec  beamline.ImagerSpec
	}{
		{"first imager", cfg.Imager1},
		{"second imager", cfg.Imager2},
	} {
		if im.spec.Pixels[0] <= 0 || im.spec.Pixels[1] <= 0 {
			return fmt.Errorf("%s sensor %vx%v px; want both > 0", im.label, im.spec.Pixels[0], im.spec.Pixels[1])
		}
		if im.spec.Size[0] <= 0 || im.spec.Size[1] <= 0 {
			return fmt.Errorf("%s sensor size %vx%v m; want both > 0", im.label, im.spec.Size[0], im.spec.Size[1])
		}
		if im.spec.Travel < 0 || im.spec.ActuateDelay < 0 {
			return fmt.Errorf("%s has a negative travel or actuate delay", im.label)
		}
	}
	return validateNames(cfg)
}

func validateNames(cfg beamline.SystemConfig) error {
	names := []string{
		fallback(cfg.Source.Name, "und"),
		fallback(cfg.Mirror1.Name, "m1h"),
		fallback(cfg.Mirror2.Name, "m2h"),
		fallback(cfg.Imager1.Name, "y1"),
		fallback(cfg.Imager2.Name, "y2"),
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return fmt.Errorf("duplicate device name %q", n)
		}
		seen[n] = true
	}
	return nil
}

func fallback(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// Build validates cfg and constructs the simulated system.
func Build(cfg beamline.SystemConfig) (*beamline.TwoMirrorSystem, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return beamline.NewTwoMirrorSystem(cfg), nil
}

// minSuggestRatio is the Levenshtein ratio below which a name is too far
// from anything known to be worth suggesting.
const minSuggestRatio = 0.5

// SuggestDevice returns the known device name closest to the given one.
// ok is false when nothing is close enough to be a plausible typo.
func SuggestDevice(sys *beamline.TwoMirrorSystem, name string) (string, bool) {
	best := ""
	bestRatio := 0.0
	for _, candidate := range sys.DeviceNames() {
		r := levenshtein.RatioForStrings([]rune(name), []rune(candidate), levenshtein.DefaultOptions)
		if r > bestRatio {
			best, bestRatio = candidate, r
		}
	}
	if bestRatio < minSuggestRatio {
		return "", false
	}
	return best, true
}
