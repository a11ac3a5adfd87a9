// Package alignmentrun defines the identifiers and documents an alignment
// run emits. A run produces one RunStart, a WalkEvent per walk and one
// RunStop; the documents are what gets persisted, streamed and notified on.
package alignmentrun

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/photoncontrols/skywalker/pkg/api/walkmode"
)

// Key identifies one alignment run on one beamline.
type Key struct {
	Beamline string `json:"beamline"`
	RunID    string `json:"runId"`
}

// NewKey returns a Key for beamline with a fresh run id.
func NewKey(beamline string) Key {
	return Key{Beamline: beamline, RunID: uuid.New().String()}
}

func (k Key) String() string {
	return strings.Join([]string{k.Beamline, k.RunID}, "-")
}

// Status is the terminal state of a run.
type Status string

const (
	// StatusCompleted indicates the run converged on both goals.
	StatusCompleted = Status("completed")

	// StatusErrorTimeout indicates the run hit its deadline before
	// converging.
	StatusErrorTimeout = Status("error_timeout")

	// StatusErrorBeamLost indicates the beam went away and did not come
	// back within the deadline.
	StatusErrorBeamLost = Status("error_beam_lost")

	// StatusErrorMaxWalks indicates the walk budget ran out before both
	// deltas were inside tolerance.
	StatusErrorMaxWalks = Status("error_max_walks")

	// StatusErrorNoModel indicates a model-driven run had no trustworthy
	// model to steer with.
	StatusErrorNoModel = Status("error_no_model")

	// StatusErrorOther indicates an error not covered by other statuses.
	StatusErrorOther = Status("error_other")
)

// MarshalJSON implements the json.Marshaler interface.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Params are the requested walk parameters, echoed into RunStart.
type Params struct {
	Mode      walkmode.Mode `json:"mode"`
	Goal1     float64       `json:"goal1"`     // goal pixel on the first imager
	Goal2     float64       `json:"goal2"`     // goal pixel on the second imager
	Tolerance float64       `json:"tolerance"` // px
	Averages  int           `json:"averages"`
	MaxWalks  int           `json:"maxWalks"`
}

// MeasurementSummary is the averaged centroid measurement recorded in a
// WalkEvent.
type MeasurementSummary struct {
	Imager  string  `json:"imager"`
	Mean    float64 `json:"mean"` // px
	StdErr  float64 `json:"stdErr"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
	Dropped int     `json:"dropped"`
}

// RunStart opens a run.
type RunStart struct {
	Key           Key       `json:"key"`
	Time          time.Time `json:"time"`
	Params        Params    `json:"params"`
	InitialPitch1 float64   `json:"initialPitch1"` // rad
	InitialPitch2 float64   `json:"initialPitch2"`
}

// WalkEvent records one walk: what was measured, how far from goal, and
// where the mirrors were sent.
type WalkEvent struct {
	Key       Key                `json:"key"`
	Walk      int                `json:"walk"` // 1-based
	Time      time.Time          `json:"time"`
	Mode      walkmode.Mode      `json:"mode"` // strategy used for this walk
	First     MeasurementSummary `json:"first"`
	Second    MeasurementSummary `json:"second"`
	Delta1    float64            `json:"delta1"` // px from goal
	Delta2    float64            `json:"delta2"`
	Pitch1    float64            `json:"pitch1"` // rad, commanded after the walk
	Pitch2    float64            `json:"pitch2"`
	Converged bool               `json:"converged"`
}

// RunStop closes a run.
type RunStop struct {
	Key         Key           `json:"key"`
	Time        time.Time     `json:"time"`
	Status      Status        `json:"status"`
	Walks       int           `json:"walks"`
	FinalDelta1 float64       `json:"finalDelta1"`
	FinalDelta2 float64       `json:"finalDelta2"`
	FinalPitch1 float64       `json:"finalPitch1"`
	FinalPitch2 float64       `json:"finalPitch2"`
	Suspensions int           `json:"suspensions"`
	Downtime    time.Duration `json:"downtime"`
	Error       string        `json:"error,omitempty"`
}

// Kind discriminates Document payloads.
type Kind string

const (
	KindRunStart  = Kind("run_start")
	KindWalkEvent = Kind("walk_event")
	KindRunStop   = Kind("run_stop")
)

// Document is the envelope published for every run document. Exactly one
// payload field is set, matching Kind.
type Document struct {
	Kind      Kind       `json:"kind"`
	RunStart  *RunStart  `json:"runStart,omitempty"`
	WalkEvent *WalkEvent `json:"walkEvent,omitempty"`
	RunStop   *RunStop   `json:"runStop,omitempty"`
}

// NewRunStartDocument wraps a RunStart.
func NewRunStartDocument(rs RunStart) Document {
	return Document{Kind: KindRunStart, RunStart: &rs}
}

// NewWalkEventDocument wraps a WalkEvent.
func NewWalkEventDocument(we WalkEvent) Document {
	return Document{Kind: KindWalkEvent, WalkEvent: &we}
}

// NewRunStopDocument wraps a RunStop.
func NewRunStopDocument(rs RunStop) Document {
	return Document{Kind: KindRunStop, RunStop: &rs}
}

// Key returns the run key of whichever payload is set.
func (d Document) DocKey() (Key, error) {
	switch d.Kind {
	case KindRunStart:
		if d.RunStart != nil {
			return d.RunStart.Key, nil
		}
	case KindWalkEvent:
		if d.WalkEvent != nil {
			return d.WalkEvent.Key, nil
		}
	case KindRunStop:
		if d.RunStop != nil {
			return d.RunStop.Key, nil
		}
	}
	return Key{}, fmt.Errorf("document kind %q has no payload", d.Kind)
}

// Validate checks that exactly one payload is set and matches Kind.
func (d Document) Validate() error {
	set := 0
	if d.RunStart != nil {
		set++
	}
	if d.WalkEvent != nil {
		set++
	}
	if d.RunStop != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("document has %d payloads; want exactly 1", set)
	}
	if _, err := d.DocKey(); err != nil {
		return err
	}
	return nil
}
