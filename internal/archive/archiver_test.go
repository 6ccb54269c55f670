package archive

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore is a BlobStore that remembers every path written to it.
type recordingStore struct {
	paths []string
}

func (s *recordingStore) PutObject(_ context.Context, path, _ string, _ io.Reader) (string, error) {
	s.paths = append(s.paths, path)
	return "mem://" + path, nil
}

func TestArchiverWritesUnderFingerprintPrefix(t *testing.T) {
	store := &recordingStore{}
	a := New(store, "responses/")

	receivedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := a.Archive(context.Background(), "fp-1", receivedAt, []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, []string{"responses/fp-1/1767225600000000000.bin"}, store.paths)
}

func TestArchiverNilStoreIsNoop(t *testing.T) {
	a := New(nil, "responses/")
	assert.NoError(t, a.Archive(context.Background(), "fp-1", time.Now(), []byte("body")))
}
