package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutHeadDelete(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()

	_, err := mem.Head(ctx, "data/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	body := []byte("0123456789")
	put, err := mem.Put(ctx, &PutObjectParams{
		Key:   "data/a.txt",
		Size:  int64(len(body)),
		Mtime: "1000",
		Body:  bytes.NewReader(body),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), put.Size)
	assert.NotEmpty(t, put.ETag)

	head, err := mem.Head(ctx, "data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, put, head)
	assert.Equal(t, "1000", head.Mtime)

	require.NoError(t, mem.Delete(ctx, "data/a.txt"))
	_, err = mem.Head(ctx, "data/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting a missing key is fine
	require.NoError(t, mem.Delete(ctx, "data/a.txt"))

	calls := mem.Calls()
	assert.Equal(t, 3, calls.Head)
	assert.Equal(t, 1, calls.Put)
	assert.Equal(t, 2, calls.Delete)
}

func TestMemoryBackend_PutRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()

	_, err := mem.Put(ctx, &PutObjectParams{Key: "/abs", Size: 0, Body: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = mem.Put(ctx, &PutObjectParams{Key: "short", Size: 5, Body: bytes.NewReader([]byte("abc"))})
	assert.Error(t, err)
	assert.Empty(t, mem.Keys())
}

func TestMemoryBackend_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	boom := errors.New("boom")
	mem.FailHead["k"] = boom
	mem.FailPut["k"] = boom
	mem.FailDelete["k"] = boom

	_, err := mem.Head(ctx, "k")
	assert.ErrorIs(t, err, boom)
	_, err = mem.Put(ctx, &PutObjectParams{Key: "k", Body: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, mem.Delete(ctx, "k"), boom)
}

func TestMemoryBackend_ListPageAfterMarker(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	mem.Seed("b", []byte("b"), "1")
	mem.Seed("a", []byte("a"), "1")
	mem.Seed("c", []byte("c"), "1")

	page, err := mem.ListPage(ctx, "a")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Key)
	assert.Equal(t, "c", page[1].Key)

	// a marker that is not itself a key still resumes after it
	page, err = mem.ListPage(ctx, "bb")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].Key)

	page, err = mem.ListPage(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryBackend_CreateBucketACL(t *testing.T) {
	mem := NewMemoryBackend()
	require.NoError(t, mem.CreateBucket(context.Background(), ""))
	require.NoError(t, mem.CreateBucket(context.Background(), "private"))
	assert.Equal(t, "private", mem.BucketACL())
	assert.Equal(t, 2, mem.Calls().CreateBucket)
}
