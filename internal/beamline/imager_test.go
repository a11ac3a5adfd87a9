package beamline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/photoncontrols/skywalker/internal/beamline"
)

func testImagerSpec() beamline.ImagerSpec {
	return beamline.ImagerSpec{
		X:      0.0317324,
		Z:      103.660,
		Pixels: [2]int{1392, 1040},
		Size:   [2]float64{0.0076, 0.0062},
	}
}

func TestImagerStartsOut(t *testing.T) {
	im := beamline.NewImager("y1", testImagerSpec())
	if got := im.State(); got != beamline.StateOut {
		t.Errorf("State() = %v; want %v", got, beamline.StateOut)
	}
	if im.Blocks() {
		t.Error("Blocks() = true for a removed screen")
	}
	_, err := im.Centroid()
	if !errors.Is(err, beamline.ErrScreenOut) {
		t.Errorf("Centroid() error = %v; want %v", err, beamline.ErrScreenOut)
	}
	if !beamline.IsBeamUnavailable(err) {
		t.Errorf("IsBeamUnavailable(%v) = false; want true", err)
	}
}

func TestImagerInsertRemove(t *testing.T) {
	ctx := context.Background()
	im := beamline.NewImager("y1", testImagerSpec())
	var events []beamline.StateEvent
	im.SubscribeState(func(ev beamline.StateEvent) { events = append(events, ev) })

	if err := im.Insert(ctx); err != nil {
		t.Fatalf("Insert() = %v", err)
	}
	if got := im.State(); got != beamline.StateIn {
		t.Errorf("State() after insert = %v; want %v", got, beamline.StateIn)
	}
	if !im.Blocks() {
		t.Error("Blocks() = false for an inserted screen")
	}

	// Re-inserting is a no-op and fires no event.
	if err := im.Insert(ctx); err != nil {
		t.Fatalf("second Insert() = %v", err)
	}
	if err := im.Remove(ctx); err != nil {
		t.Fatalf("Remove() = %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d state events; want 2", len(events))
	}
	if events[0].Old != beamline.StateOut || events[0].New != beamline.StateIn {
		t.Errorf("first event = %+v; want OUT -> IN", events[0])
	}
	if events[1].Old != beamline.StateIn || events[1].New != beamline.StateOut {
		t.Errorf("second event = %+v; want IN -> OUT", events[1])
	}
}

func TestImagerInsertCancelled(t *testing.T) {
	spec := testImagerSpec()
	spec.ActuateDelay = 5 * time.Second
	im := beamline.NewImager("y1", spec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := im.Insert(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Insert() with cancelled context = %v; want %v", err, context.Canceled)
	}
	if got := im.State(); got != beamline.StateOut {
		t.Errorf("State() after cancelled insert = %v; want %v", got, beamline.StateOut)
	}
}

func TestImagerCentroid(t *testing.T) {
	ctx := context.Background()
	im := beamline.NewImager("y1", testImagerSpec())
	im.BindCentroid(func() (beamline.Point, error) {
		return beamline.Point{X: 650.25, Y: 520}, nil
	})
	if err := im.Insert(ctx); err != nil {
		t.Fatalf("Insert() = %v", err)
	}
	p, err := im.Centroid()
	if err != nil {
		t.Fatalf("Centroid() = %v", err)
	}
	if p.X != 650.25 || p.Y != 520 {
		t.Errorf("Centroid() = %+v; want {650.25 520}", p)
	}
}

func TestImagerCentroidSourceError(t *testing.T) {
	ctx := context.Background()
	im := beamline.NewImager("y2", testImagerSpec())
	im.BindCentroid(func() (beamline.Point, error) {
		return beamline.Point{}, beamline.ErrBeamLost
	})
	if err := im.Insert(ctx); err != nil {
		t.Fatalf("Insert() = %v", err)
	}
	_, err := im.Centroid()
	if !errors.Is(err, beamline.ErrBeamLost) {
		t.Errorf("Centroid() error = %v; want %v", err, beamline.ErrBeamLost)
	}
}

func TestImagerRejectsBadSensor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewImager() with a zero-width sensor did not panic")
		}
	}()
	spec := testImagerSpec()
	spec.Pixels[0] = 0
	beamline.NewImager("y1", spec)
}

func TestImagerGeometry(t *testing.T) {
	im := beamline.NewImager("y1", testImagerSpec())
	if got := im.CenterColumn(); got != 696 {
		t.Errorf("CenterColumn() = %v; want 696", got)
	}
	if got := im.CenterRow(); got != 520 {
		t.Errorf("CenterRow() = %v; want 520", got)
	}
	want := 0.0076 / 1392
	if got := im.MetersPerPixel(); got != want {
		t.Errorf("MetersPerPixel() = %v; want %v", got, want)
	}
}
