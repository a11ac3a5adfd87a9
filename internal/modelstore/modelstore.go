// Package modelstore persists fitted beam models to a blob bucket so a
// model built on one walkerd survives restarts and is visible to the
// others. A small LRU cache sits in front of the bucket.
package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/photoncontrols/skywalker/internal/modelfit"
)

// ErrNotFound means no model has been saved for the requested pair.
var ErrNotFound = errors.New("model not found")

const cacheSize = 64

type ModelStore struct {
	bucket   string
	basePath string
	cache    *lru.Cache[string, modelfit.Model]
}

type (
	Option interface{ set(*ModelStore) }
	option func(*ModelStore) // option implements Option.
)

func (o option) set(ms *ModelStore) { o(ms) }

// BasePath sets the base path used while saving models to storage.
func BasePath(base string) Option {
	return option(func(ms *ModelStore) { ms.basePath = base })
}

func New(bucket string, options ...Option) (*ModelStore, error) {
	cache, err := lru.New[string, modelfit.Model](cacheSize)
	if err != nil {
		return nil, err
	}
	ms := &ModelStore{
		bucket: bucket,
		cache:  cache,
	}
	for _, o := range options {
		o.set(ms)
	}
	return ms, nil
}

func (ms *ModelStore) openBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, ms.bucket)
}

func (ms *ModelStore) path(beamline, mirror, imager string) string {
	return filepath.Join(ms.basePath, beamline, mirror+"_"+imager+".json")
}

// Save writes the model for its mirror/imager pair on the given beamline,
// replacing any previous one.
func (ms *ModelStore) Save(ctx context.Context, beamline string, m modelfit.Model) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	bkt, err := ms.openBucket(ctx)
	if err != nil {
		return err
	}
	defer bkt.Close()

	uploadPath := ms.path(beamline, m.Mirror, m.Imager)
	slog.InfoContext(ctx, "Uploading beam model",
		slog.String("bucket", ms.bucket),
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

	ms.cache.Add(uploadPath, m)
	return nil
}

// Load returns the stored model for the pair, from cache when it can.
// Wraps ErrNotFound when nothing has been saved.
func (ms *ModelStore) Load(ctx context.Context, beamline, mirror, imager string) (modelfit.Model, error) {
	key := ms.path(beamline, mirror, imager)
	if m, ok := ms.cache.Get(key); ok {
		return m, nil
	}

	bkt, err := ms.openBucket(ctx)
	if err != nil {
		return modelfit.Model{}, err
	}
	defer bkt.Close()

	data, err := bkt.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return modelfit.Model{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return modelfit.Model{}, err
	}
	var m modelfit.Model
	if err := json.Unmarshal(data, &m); err != nil {
		return modelfit.Model{}, err
	}
	ms.cache.Add(key, m)
	return m, nil
}

// Forget drops the cached entry for the pair, forcing the next Load to go
// to the bucket.
func (ms *ModelStore) Forget(beamline, mirror, imager string) {
	ms.cache.Remove(ms.path(beamline, mirror, imager))
}
