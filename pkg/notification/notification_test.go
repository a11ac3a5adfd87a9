package notification_test

import (
	"testing"

	"gocloud.dev/pubsub"

	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
	"github.com/photoncontrols/skywalker/pkg/notification"
)

func TestParseJSON(t *testing.T) {
	msg := &pubsub.Message{
		Body: []byte(`{"key":{"beamline":"hxr","runId":"r1"},"status":"completed","walks":3}`),
	}
	got, err := notification.ParseJSON(msg)
	if err != nil {
		t.Fatalf("ParseJSON() = %v", err)
	}
	want := notification.AlignmentCompletion{
		Key:    alignmentrun.Key{Beamline: "hxr", RunID: "r1"},
		Status: alignmentrun.StatusCompleted,
		Walks:  3,
	}
	if got != want {
		t.Errorf("ParseJSON() = %+v; want %+v", got, want)
	}
}

func TestParseJSONInvalid(t *testing.T) {
	msg := &pubsub.Message{Body: []byte(`{"key":`)}
	if _, err := notification.ParseJSON(msg); err == nil {
		t.Error("ParseJSON() = nil for truncated JSON; want error")
	}
}
