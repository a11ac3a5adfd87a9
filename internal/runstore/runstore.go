// Package runstore persists alignment run documents to a blob bucket.
// Each run gets a directory keyed by beamline and run id, holding one
// JSON file per document.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
)

type RunStore struct {
	bucket        string
	basePath      string
	constructPath bool
}

type (
	Option interface{ set(*RunStore) }
	option func(*RunStore) // option implements Option.
)

func (o option) set(rs *RunStore) { o(rs) }

// ConstructPath will cause Save() to append a suffix to the base path
// based on the document key's beamline and run id.
func ConstructPath() Option {
	return option(func(rs *RunStore) { rs.constructPath = true })
}

// BasePath sets the base path used while saving documents to storage.
func BasePath(base string) Option {
	return option(func(rs *RunStore) { rs.basePath = base })
}

func New(bucket string, options ...Option) *RunStore {
	rs := &RunStore{
		bucket: bucket,
	}
	for _, o := range options {
		o.set(rs)
	}
	return rs
}

func (rs *RunStore) String() string {
	s := rs.bucket + "/" + rs.basePath
	if rs.constructPath {
		s += "+"
	}
	return s
}

func (rs *RunStore) generatePath(k alignmentrun.Key) string {
	path := rs.basePath
	if rs.constructPath {
		path = filepath.Join(path, k.Beamline, k.RunID)
	}
	return path
}

func (rs *RunStore) openBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, rs.bucket)
}

// record is the envelope written to storage for each document.
type record struct {
	Beamline         string                `json:"beamline"`
	RunID            string                `json:"runId"`
	CreatedTimestamp int64                 `json:"created_timestamp"`
	Document         alignmentrun.Document `json:"document"`
}

// MakeFilename returns the default filename for saving doc: the document
// kind, with the walk number spliced in for walk events so they sort in
// walk order.
func MakeFilename(doc alignmentrun.Document) string {
	if doc.Kind == alignmentrun.KindWalkEvent && doc.WalkEvent != nil {
		return fmt.Sprintf("walk_%04d.json", doc.WalkEvent.Walk)
	}
	return string(doc.Kind) + ".json"
}

// SaveWithFilename saves the document to the bucket with the given filename.
func (rs *RunStore) SaveWithFilename(ctx context.Context, doc alignmentrun.Document, filename string) error {
	if filename == "" {
		return errors.New("filename cannot be empty")
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	key, err := doc.DocKey()
	if err != nil {
		return err
	}

	rec := &record{
		Beamline:         key.Beamline,
		RunID:            key.RunID,
		CreatedTimestamp: time.Now().UTC().Unix(),
		Document:         doc,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	bkt, err := rs.openBucket(ctx)
	if err != nil {
		return err
	}
	defer bkt.Close()

	uploadPath := filepath.Join(rs.generatePath(key), filename)
	slog.InfoContext(ctx, "Uploading run document",
		slog.String("bucket", rs.bucket),
		slog.String("path", uploadPath))

	w, err := bkt.NewWriter(ctx, uploadPath, nil)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return nil
}

// Save saves the document with the default filename.
func (rs *RunStore) Save(ctx context.Context, doc alignmentrun.Document) error {
	return rs.SaveWithFilename(ctx, doc, MakeFilename(doc))
}

// Record implements the engine's Recorder.
func (rs *RunStore) Record(ctx context.Context, doc alignmentrun.Document) error {
	return rs.Save(ctx, doc)
}
