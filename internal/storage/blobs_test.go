package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	for _, name := range []string{"a.txt", "uuid-报告.pdf", "..hidden"} {
		assert.NoError(t, ValidName(name), name)
	}
	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`, "a\x00b", strings.Repeat("x", 256)} {
		assert.ErrorIs(t, ValidName(name), ErrInvalidName, name)
	}
}

func TestDiskBlobs_Lifecycle(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewDiskBlobs(t.TempDir())
	require.NoError(t, err)

	written, err := blobs.Put(ctx, "id-note.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, written)

	blob, info, err := blobs.Open(ctx, "id-note.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 5, info.Size)

	_, err = blobs.Put(ctx, "id-note.txt", strings.NewReader("again"), 5)
	assert.Error(t, err, "existing blobs are never overwritten")

	require.NoError(t, blobs.Remove(ctx, "id-note.txt"))
	assert.ErrorIs(t, blobs.Remove(ctx, "id-note.txt"), ErrBlobNotFound)
	_, _, err = blobs.Open(ctx, "id-note.txt")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestDiskBlobs_RejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewDiskBlobs(t.TempDir())
	require.NoError(t, err)

	_, err = blobs.Put(ctx, "../escape", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, _, err = blobs.Open(ctx, "..")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, blobs.Remove(ctx, "a/b"), ErrInvalidName)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestDiskBlobs_PutFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewDiskBlobs(t.TempDir())
	require.NoError(t, err)

	_, err = blobs.Put(ctx, "broken.bin", failingReader{}, 10)
	require.Error(t, err)

	_, _, err = blobs.Open(ctx, "broken.bin")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestIsMissingObject(t *testing.T) {
	assert.True(t, isMissingObject(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}))
	assert.False(t, isMissingObject(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}))
	assert.False(t, isMissingObject(io.EOF))
}
