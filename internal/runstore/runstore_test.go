package runstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
)

func testKey() alignmentrun.Key {
	return alignmentrun.Key{Beamline: "hxr", RunID: "run-1"}
}

func testStopDocument() alignmentrun.Document {
	return alignmentrun.NewRunStopDocument(alignmentrun.RunStop{
		Key:    testKey(),
		Time:   time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC),
		Status: alignmentrun.StatusCompleted,
		Walks:  3,
	})
}

func TestMakeFilename(t *testing.T) {
	tests := []struct {
		name string
		doc  alignmentrun.Document
		want string
	}{
		{
			name: "run start",
			doc:  alignmentrun.NewRunStartDocument(alignmentrun.RunStart{Key: testKey()}),
			want: "run_start.json",
		},
		{
			name: "walk event",
			doc:  alignmentrun.NewWalkEventDocument(alignmentrun.WalkEvent{Key: testKey(), Walk: 7}),
			want: "walk_0007.json",
		},
		{
			name: "run stop",
			doc:  testStopDocument(),
			want: "run_stop.json",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := MakeFilename(test.doc); got != test.want {
				t.Errorf("MakeFilename() = %v; want %v", got, test.want)
			}
		})
	}
}

func TestSaveConstructedPath(t *testing.T) {
	tmpDir := t.TempDir()
	rs := New("file://"+tmpDir, ConstructPath())
	ctx := context.Background()

	if err := rs.Save(ctx, testStopDocument()); err != nil {
		t.Fatalf("Save() = %v; want nil", err)
	}

	bkt, err := rs.openBucket(ctx)
	if err != nil {
		t.Fatalf("openBucket() = %v; want nil", err)
	}
	defer bkt.Close()

	data, err := bkt.ReadAll(ctx, "hxr/run-1/run_stop.json")
	if err != nil {
		t.Fatalf("ReadAll() = %v; want nil", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Unmarshal() = %v; want nil", err)
	}
	if rec.Beamline != "hxr" || rec.RunID != "run-1" {
		t.Errorf("record key = %v/%v; want hxr/run-1", rec.Beamline, rec.RunID)
	}
	if rec.CreatedTimestamp == 0 {
		t.Errorf("record CreatedTimestamp = 0; want set")
	}
	if rec.Document.RunStop == nil {
		t.Fatalf("record RunStop missing")
	}
	if got := rec.Document.RunStop.Walks; got != 3 {
		t.Errorf("record Walks = %d; want 3", got)
	}
}

func TestSaveBasePath(t *testing.T) {
	tmpDir := t.TempDir()
	rs := New("file://"+tmpDir, BasePath("results"), ConstructPath())
	ctx := context.Background()

	doc := alignmentrun.NewWalkEventDocument(alignmentrun.WalkEvent{Key: testKey(), Walk: 2})
	if err := rs.Save(ctx, doc); err != nil {
		t.Fatalf("Save() = %v; want nil", err)
	}

	bkt, err := rs.openBucket(ctx)
	if err != nil {
		t.Fatalf("openBucket() = %v; want nil", err)
	}
	defer bkt.Close()

	if _, err := bkt.ReadAll(ctx, "results/hxr/run-1/walk_0002.json"); err != nil {
		t.Errorf("ReadAll() = %v; want nil", err)
	}
}

func TestSaveRejectsInvalidDocument(t *testing.T) {
	rs := New("file://" + t.TempDir())
	if err := rs.Save(context.Background(), alignmentrun.Document{Kind: alignmentrun.KindRunStart}); err == nil {
		t.Errorf("Save() = nil; want validation error")
	}
}

func TestSaveWithFilenameRejectsEmpty(t *testing.T) {
	rs := New("file://" + t.TempDir())
	if err := rs.SaveWithFilename(context.Background(), testStopDocument(), ""); err == nil {
		t.Errorf("SaveWithFilename() = nil; want error")
	}
}

func TestString(t *testing.T) {
	rs := New("gs://bucket", BasePath("results"), ConstructPath())
	if got, want := rs.String(), "gs://bucket/results+"; got != want {
		t.Errorf("String() = %v; want %v", got, want)
	}
}
