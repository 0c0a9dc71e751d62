package queries

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wharf/internal/db"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestRepositories_EnsureListDelete(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, EnsureRepository(database, "lib/alpine"))
	// Ensuring twice is fine.
	require.NoError(t, EnsureRepository(database, "lib/alpine"))
	require.NoError(t, EnsureRepository(database, "team/api"))

	exists, err := RepositoryExists(database, "lib/alpine")
	require.NoError(t, err)
	assert.True(t, exists)

	names, err := ListRepositories(database, 0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/alpine", "team/api"}, names)

	require.NoError(t, DeleteRepository(database, "team/api"))
	assert.ErrorIs(t, DeleteRepository(database, "team/api"), ErrNotFound)
}

func TestRepositories_KeysetPagination(t *testing.T) {
	database := newTestDB(t)
	for _, name := range []string{"aa/one", "bb/two", "cc/three", "dd/four"} {
		require.NoError(t, EnsureRepository(database, name))
	}

	page, err := ListRepositories(database, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa/one", "bb/two"}, page)

	page, err = ListRepositories(database, 2, "bb/two")
	require.NoError(t, err)
	assert.Equal(t, []string{"cc/three", "dd/four"}, page)

	page, err = ListRepositories(database, 2, "dd/four")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestTags_SetRequiresManifestRow(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, EnsureRepository(database, "lib/alpine"))

	err := SetTag(database, "lib/alpine", "latest", "sha256:missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, UpsertManifest(database, "sha256:m1", "application/vnd.oci.image.manifest.v1+json", "lib/alpine"))
	require.NoError(t, SetTag(database, "lib/alpine", "latest", "sha256:m1"))

	d, err := GetTag(database, "lib/alpine", "latest")
	require.NoError(t, err)
	assert.Equal(t, "sha256:m1", d)

	// Overwrite moves the pointer.
	require.NoError(t, UpsertManifest(database, "sha256:m2", "application/vnd.oci.image.manifest.v1+json", "lib/alpine"))
	require.NoError(t, SetTag(database, "lib/alpine", "latest", "sha256:m2"))
	d, err = GetTag(database, "lib/alpine", "latest")
	require.NoError(t, err)
	assert.Equal(t, "sha256:m2", d)

	_, err = GetTag(database, "lib/alpine", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTags_ListAndDeleteForManifest(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, UpsertManifest(database, "sha256:m1", "mt", "r"))
	for _, tag := range []string{"v1", "v2", "v3"} {
		require.NoError(t, SetTag(database, "r", tag, "sha256:m1"))
	}

	tags, err := ListTags(database, "r", 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, tags)

	tags, err = ListTags(database, "r", 2, "v2")
	require.NoError(t, err)
	assert.Equal(t, []string{"v3"}, tags)

	n, err := DeleteTagsForManifest(database, "r", "sha256:m1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	digests, err := TaggedManifestDigests(database)
	require.NoError(t, err)
	assert.Empty(t, digests)
}

func TestManifests_RefsAndDelete(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, UpsertManifest(database, "sha256:m1", "mt", "r"))
	require.NoError(t, SetManifestRefs(database, "sha256:m1", []string{"sha256:b1", "sha256:b2"}))
	// Idempotent.
	require.NoError(t, SetManifestRefs(database, "sha256:m1", []string{"sha256:b1"}))

	refs, err := ManifestRefs(database, "sha256:m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sha256:b1", "sha256:b2"}, refs)

	row, err := GetManifest(database, "sha256:m1")
	require.NoError(t, err)
	assert.Equal(t, "mt", row.MediaType)
	assert.Equal(t, "r", row.Repo)

	// The repo column keeps the first writer.
	require.NoError(t, UpsertManifest(database, "sha256:m1", "mt", "other"))
	row, err = GetManifest(database, "sha256:m1")
	require.NoError(t, err)
	assert.Equal(t, "r", row.Repo)

	require.NoError(t, DeleteManifest(database, "sha256:m1"))
	_, err = GetManifest(database, "sha256:m1")
	assert.ErrorIs(t, err, ErrNotFound)
	refs, err = ManifestRefs(database, "sha256:m1")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestUploadSessions_Lifecycle(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, CreateUploadSession(database, "u1", "r", "/tmp/staging/u1"))
	row, err := GetUploadSession(database, "u1")
	require.NoError(t, err)
	assert.Equal(t, "r", row.Repo)
	assert.Equal(t, int64(0), row.Length)

	require.NoError(t, UpdateUploadSessionLength(database, "u1", 2048))
	row, err = GetUploadSession(database, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), row.Length)

	count, err := CountUploadSessions(database)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Nothing has expired for a cutoff in the past.
	expired, err := ExpiredUploadSessions(database, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	// Everything expires for a cutoff in the future.
	expired, err = ExpiredUploadSessions(database, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "u1", expired[0].ID)

	require.NoError(t, DeleteUploadSession(database, "u1"))
	assert.ErrorIs(t, DeleteUploadSession(database, "u1"), ErrNotFound)
	_, err = GetUploadSession(database, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}
