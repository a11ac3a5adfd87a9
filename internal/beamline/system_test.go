package beamline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/utils"
)

func TestSystemNominalCentroids(t *testing.T) {
	ctx := context.Background()
	sys := beamline.NewTwoMirrorSystem(beamline.DefaultConfig())

	if err := sys.Imager1.Insert(ctx); err != nil {
		t.Fatalf("Insert(y1) = %v", err)
	}
	p, err := sys.Imager1.Centroid()
	if err != nil {
		t.Fatalf("Centroid(y1) = %v", err)
	}
	if !utils.FloatEquals(p.X, 696, 1e-6) || !utils.FloatEquals(p.Y, 520, 1e-6) {
		t.Errorf("Centroid(y1) = %+v; want centre of the sensor", p)
	}

	if err := sys.Imager1.Remove(ctx); err != nil {
		t.Fatalf("Remove(y1) = %v", err)
	}
	if err := sys.Imager2.Insert(ctx); err != nil {
		t.Fatalf("Insert(y2) = %v", err)
	}
	p, err = sys.Imager2.Centroid()
	if err != nil {
		t.Fatalf("Centroid(y2) = %v", err)
	}
	if !utils.FloatEquals(p.X, 696, 1e-6) {
		t.Errorf("Centroid(y2).X = %v; want 696", p.X)
	}
}

func TestSystemFirstScreenShadowsSecond(t *testing.T) {
	ctx := context.Background()
	sys := beamline.NewTwoMirrorSystem(beamline.DefaultConfig())

	if err := sys.Imager1.Insert(ctx); err != nil {
		t.Fatalf("Insert(y1) = %v", err)
	}
	if err := sys.Imager2.Insert(ctx); err != nil {
		t.Fatalf("Insert(y2) = %v", err)
	}
	_, err := sys.Imager2.Centroid()
	if !errors.Is(err, beamline.ErrBeamBlocked) {
		t.Errorf("Centroid(y2) error = %v; want %v", err, beamline.ErrBeamBlocked)
	}
	if !beamline.IsBeamUnavailable(err) {
		t.Errorf("IsBeamUnavailable(%v) = false; want true", err)
	}

	// First screen sees beam fine; it is upstream.
	if _, err := sys.Imager1.Centroid(); err != nil {
		t.Errorf("Centroid(y1) = %v; want nil", err)
	}
}

func TestSystemBeamLost(t *testing.T) {
	ctx := context.Background()
	sys := beamline.NewTwoMirrorSystem(beamline.DefaultConfig())
	if err := sys.Imager1.Insert(ctx); err != nil {
		t.Fatalf("Insert(y1) = %v", err)
	}

	sys.Source.Rate.Put(0)
	_, err := sys.Imager1.Centroid()
	if !errors.Is(err, beamline.ErrBeamLost) {
		t.Errorf("Centroid(y1) with no beam = %v; want %v", err, beamline.ErrBeamLost)
	}

	sys.Source.Rate.Put(120)
	if _, err := sys.Imager1.Centroid(); err != nil {
		t.Errorf("Centroid(y1) with beam back = %v; want nil", err)
	}
}

func TestSystemPitchBumpMovesFarCentroid(t *testing.T) {
	ctx := context.Background()
	sys := beamline.NewTwoMirrorSystem(beamline.DefaultConfig())
	if err := sys.Imager2.Insert(ctx); err != nil {
		t.Fatalf("Insert(y2) = %v", err)
	}

	const da = 1e-6
	if err := sys.Mirror2.MovePitch(ctx, 0.0014+da).Wait(ctx); err != nil {
		t.Fatalf("MovePitch(m2h) = %v", err)
	}
	p, err := sys.Imager2.Centroid()
	if err != nil {
		t.Fatalf("Centroid(y2) = %v", err)
	}
	// 2*(z_y2 - z_m2)*da metres, converted at 1392 px per 7.6 mm.
	want := 696 + 2*(375.000-101.843)*da*1392/0.0076
	if !utils.FloatEquals(p.X, want, 1e-6) {
		t.Errorf("Centroid(y2).X = %v; want %v", p.X, want)
	}
}

func TestSystemDeviceLookup(t *testing.T) {
	sys := beamline.NewTwoMirrorSystem(beamline.DefaultConfig())

	dev, ok := sys.Device("m1h")
	if !ok {
		t.Fatal(`Device("m1h") not found`)
	}
	if got := dev.Name(); got != "m1h" {
		t.Errorf("Name() = %q; want %q", got, "m1h")
	}
	if readings := dev.Read(); len(readings) == 0 {
		t.Error("Read() returned no fields")
	}
	if _, ok := sys.Device("m3h"); ok {
		t.Error(`Device("m3h") found; want miss`)
	}

	want := []string{"m1h", "m2h", "und", "y1", "y2"}
	got := sys.DeviceNames()
	if len(got) != len(want) {
		t.Fatalf("DeviceNames() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DeviceNames() = %v; want %v", got, want)
		}
	}
}
