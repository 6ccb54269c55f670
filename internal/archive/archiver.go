// Package archive adapts a BlobStore into a pulling.BodyArchiver, agnostic
// of which storage backend actually holds the bytes.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// BlobStore is the storage capability an Archiver needs. GCS-, local- and
// memory-backed stores all satisfy it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Archiver persists response bodies, one object per fingerprint per
// delivery, keyed by receive time so repeated pulls of the same feed do not
// overwrite each other's history.
type Archiver struct {
	store  BlobStore
	prefix string
}

// New builds an Archiver writing under prefix (e.g. "responses/").
func New(store BlobStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: prefix}
}

// Archive implements pulling.BodyArchiver.
func (a *Archiver) Archive(ctx context.Context, fingerprint string, receivedAt time.Time, body []byte) error {
	if a.store == nil {
		return nil
	}
	path := fmt.Sprintf("%s%s/%d.bin", a.prefix, fingerprint, receivedAt.UnixNano())
	_, err := a.store.PutObject(ctx, path, "application/octet-stream", bytes.NewReader(body))
	return err
}
