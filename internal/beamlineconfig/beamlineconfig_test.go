package beamlineconfig_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/beamlineconfig"
	"github.com/photoncontrols/skywalker/internal/utils"
)

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
name: xcs
mirror2:
  pitch: 0.0015
imager2:
  z: 380.0
`)
	cfg, err := beamlineconfig.Parse(data)
	if err != nil {
		t.Fatalf("Parse() = %v; want nil", err)
	}
	if cfg.Name != "xcs" {
		t.Errorf("Name = %v; want xcs", cfg.Name)
	}
	if !utils.FloatEquals(cfg.Mirror2.Pitch, 0.0015, 1e-12) {
		t.Errorf("Mirror2.Pitch = %v; want 0.0015", cfg.Mirror2.Pitch)
	}
	if !utils.FloatEquals(cfg.Imager2.Z, 380.0, 1e-12) {
		t.Errorf("Imager2.Z = %v; want 380.0", cfg.Imager2.Z)
	}
	// Untouched fields keep the nominal geometry.
	if !utils.FloatEquals(cfg.Mirror1.Z, 90.510, 1e-12) {
		t.Errorf("Mirror1.Z = %v; want default 90.510", cfg.Mirror1.Z)
	}
	if cfg.Imager2.Pixels[0] != 1392 {
		t.Errorf("Imager2.Pixels[0] = %v; want default 1392", cfg.Imager2.Pixels[0])
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := beamlineconfig.Parse([]byte("mirrorTwo:\n  pitch: 0.0015\n"))
	if err == nil {
		t.Errorf("Parse() = nil; want unknown field error")
	}
}

func TestParseRejectsBadGeometry(t *testing.T) {
	_, err := beamlineconfig.Parse([]byte("imager1:\n  z: 50.0\n"))
	if err == nil || !strings.Contains(err.Error(), "downstream") {
		t.Errorf("Parse() = %v; want downstream ordering error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*beamline.SystemConfig)
		wantErr bool
	}{
		{
			name:   "nominal",
			mutate: func(*beamline.SystemConfig) {},
		},
		{
			name:    "negative rate",
			mutate:  func(c *beamline.SystemConfig) { c.Source.Rate = -1 },
			wantErr: true,
		},
		{
			name:    "mirrors out of order",
			mutate:  func(c *beamline.SystemConfig) { c.Mirror2.Z = 80 },
			wantErr: true,
		},
		{
			name:    "imagers out of order",
			mutate:  func(c *beamline.SystemConfig) { c.Imager2.Z = 100 },
			wantErr: true,
		},
		{
			name:    "empty pitch limits",
			mutate:  func(c *beamline.SystemConfig) { c.Mirror1.PitchLow, c.Mirror1.PitchHigh = 0.002, 0.001 },
			wantErr: true,
		},
		{
			name:    "pitch outside limits",
			mutate:  func(c *beamline.SystemConfig) { c.Mirror2.Pitch = 0.02 },
			wantErr: true,
		},
		{
			name:   "limits disabled",
			mutate: func(c *beamline.SystemConfig) { c.Mirror1.PitchLow, c.Mirror1.PitchHigh = 0, 0 },
		},
		{
			name:    "zero sensor",
			mutate:  func(c *beamline.SystemConfig) { c.Imager1.Pixels[0] = 0 },
			wantErr: true,
		},
		{
			name:    "duplicate names",
			mutate:  func(c *beamline.SystemConfig) { c.Imager2.Name = "y1" },
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := beamline.DefaultConfig()
			test.mutate(&cfg)
			err := beamlineconfig.Validate(cfg)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Errorf("Validate() = %v; wantErr %v", err, test.wantErr)
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beamline.yaml")
	data, err := beamlineconfig.Dump(beamline.DefaultConfig())
	if err != nil {
		t.Fatalf("Dump() = %v; want nil", err)
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		t.Fatalf("WriteFile() = %v; want nil", err)
	}
	cfg, err := beamlineconfig.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v; want nil", err)
	}
	if cfg != beamline.DefaultConfig() {
		t.Errorf("Load() = %+v; want default config", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := beamlineconfig.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("Load() = nil; want error")
	}
}

func TestBuild(t *testing.T) {
	sys, err := beamlineconfig.Build(beamline.DefaultConfig())
	if err != nil {
		t.Fatalf("Build() = %v; want nil", err)
	}
	if sys.Name() != "hxr" {
		t.Errorf("Name() = %v; want hxr", sys.Name())
	}
}

func TestSuggestDevice(t *testing.T) {
	sys := beamline.NewTwoMirrorSystem(beamline.DefaultConfig())
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"m1", "m1h", true},
		{"y11", "y1", true},
		{"y2", "y2", true},
		{"zzz", "", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := beamlineconfig.SuggestDevice(sys, test.name)
			if got != test.want || ok != test.wantOK {
				t.Errorf("SuggestDevice(%q) = %v, %v; want %v, %v", test.name, got, ok, test.want, test.wantOK)
			}
		})
	}
}
