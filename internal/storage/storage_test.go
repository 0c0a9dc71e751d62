package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wharf/pkg/digest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func commitBytes(t *testing.T, s *Store, id string, content []byte) digest.Digest {
	t.Helper()
	stage, err := s.NewStage(id)
	require.NoError(t, err)
	_, err = stage.Append(bytes.NewReader(content), 0)
	require.NoError(t, err)
	dgst := digest.FromBytes(content)
	_, err = stage.Commit(s, dgst)
	require.NoError(t, err)
	return dgst
}

func TestStageCommit_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	content := []byte("layer bytes")
	dgst := commitBytes(t, s, "up-1", content)

	require.True(t, s.Exists(dgst))

	f, size, err := s.Open(dgst)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(len(content)), size)

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Content on disk hashes to its digest.
	require.NoError(t, s.Verify(dgst))
}

func TestStageAppend_ChunksAccumulate(t *testing.T) {
	s := newTestStore(t)
	stage, err := s.NewStage("up-chunks")
	require.NoError(t, err)

	n, err := stage.Append(bytes.NewReader([]byte("aaaa")), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = stage.Append(bytes.NewReader([]byte("bbbb")), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	dgst := digest.FromBytes([]byte("aaaabbbb"))
	assert.Equal(t, dgst, stage.Digest())

	size, err := stage.Commit(s, dgst)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}

func TestStageAppend_NonContiguousRejected(t *testing.T) {
	s := newTestStore(t)
	stage, err := s.NewStage("up-gap")
	require.NoError(t, err)
	defer stage.Abort()

	_, err = stage.Append(bytes.NewReader([]byte("aaaa")), 0)
	require.NoError(t, err)

	n, err := stage.Append(bytes.NewReader([]byte("cccc")), 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRangeInvalid)
	// Committed length is unchanged.
	assert.Equal(t, int64(4), n)

	// The stage still accepts the correct offset.
	n, err = stage.Append(bytes.NewReader([]byte("bbbb")), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestStageCommit_DigestMismatchKeepsStage(t *testing.T) {
	s := newTestStore(t)
	stage, err := s.NewStage("up-mismatch")
	require.NoError(t, err)

	_, err = stage.Append(bytes.NewReader([]byte("real content")), 0)
	require.NoError(t, err)

	wrong := digest.FromBytes([]byte("other content"))
	_, err = stage.Commit(s, wrong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDigestMismatch)
	assert.False(t, s.Exists(wrong))

	// The session is still usable: a commit with the right digest succeeds.
	right := digest.FromBytes([]byte("real content"))
	_, err = stage.Commit(s, right)
	require.NoError(t, err)
	assert.True(t, s.Exists(right))
}

func TestStageCommit_DedupKeepsSingleFile(t *testing.T) {
	s := newTestStore(t)
	content := []byte("identical bytes")

	d1 := commitBytes(t, s, "up-a", content)
	d2 := commitBytes(t, s, "up-b", content)
	assert.Equal(t, d1, d2)

	// Exactly one data file exists for the digest, and staging is empty.
	entries, err := os.ReadDir(s.StagingDir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	var dataFiles int
	require.NoError(t, s.Walk(func(info BlobInfo) error {
		if info.Digest == d1 {
			dataFiles++
		}
		return nil
	}))
	assert.Equal(t, 1, dataFiles)
}

func TestStageAbort_RemovesStagingFile(t *testing.T) {
	s := newTestStore(t)
	stage, err := s.NewStage("up-abort")
	require.NoError(t, err)
	_, err = stage.Append(bytes.NewReader([]byte("partial")), 0)
	require.NoError(t, err)

	require.NoError(t, stage.Abort())
	_, err = os.Stat(stage.Path())
	assert.True(t, os.IsNotExist(err))

	// Operations after abort fail.
	_, err = stage.Append(bytes.NewReader([]byte("x")), 7)
	assert.ErrorIs(t, err, ErrStageClosed)
}

func TestOpen_UnknownBlob(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Open(digest.FromBytes([]byte("never stored")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlobUnknown)

	_, err = s.Stat(digest.FromBytes([]byte("never stored")))
	assert.ErrorIs(t, err, ErrBlobUnknown)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	dgst := commitBytes(t, s, "up-rm", []byte("short lived"))
	require.True(t, s.Exists(dgst))

	require.NoError(t, s.Remove(dgst))
	assert.False(t, s.Exists(dgst))
	assert.ErrorIs(t, s.Remove(dgst), ErrBlobUnknown)
}

func TestVerify_DetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	dgst := commitBytes(t, s, "up-corrupt", []byte("pristine"))

	// Flip the file contents behind the store's back.
	path := filepath.Join(s.root, "blobs", digest.Algorithm(dgst),
		digest.Hex(dgst)[:2], digest.Hex(dgst), "data")
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	err := s.Verify(dgst)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestWalk_FindsAllBlobs(t *testing.T) {
	s := newTestStore(t)
	d1 := commitBytes(t, s, "w-1", []byte("one"))
	d2 := commitBytes(t, s, "w-2", []byte("two"))

	found := map[digest.Digest]int64{}
	require.NoError(t, s.Walk(func(info BlobInfo) error {
		found[info.Digest] = info.Size
		return nil
	}))
	assert.Equal(t, int64(3), found[d1])
	assert.Equal(t, int64(3), found[d2])
	assert.Len(t, found, 2)
}
