package gc

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wharf/internal/config"
	"github.com/bnema/wharf/internal/db"
	"github.com/bnema/wharf/internal/db/queries"
	"github.com/bnema/wharf/internal/registry"
	"github.com/bnema/wharf/internal/storage"
	"github.com/bnema/wharf/internal/uploads"
	"github.com/bnema/wharf/pkg/digest"
)

type fixture struct {
	store    *storage.Store
	database *sql.DB
	svc      *registry.Service
	uploads  *uploads.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Path = t.TempDir()

	store, err := storage.New(cfg.Storage.Path)
	require.NoError(t, err)
	database, err := db.Open(cfg.Storage.Path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return &fixture{
		store:    store,
		database: database,
		svc:      registry.NewService(cfg, store, database),
		uploads:  uploads.NewManager(store, database, time.Hour, 0),
	}
}

func (f *fixture) putBlob(t *testing.T, content []byte) digest.Digest {
	t.Helper()
	dgst := digest.FromBytes(content)
	sess, err := f.uploads.Start("gcrepo")
	require.NoError(t, err)
	_, err = f.uploads.Append(sess.ID, bytes.NewReader(content), 0)
	require.NoError(t, err)
	_, err = f.uploads.Finalize(sess.ID, nil, dgst)
	require.NoError(t, err)
	return dgst
}

func (f *fixture) putImage(t *testing.T, repo, tag string, seed string) (manifestDgst, configDgst, layerDgst digest.Digest) {
	t.Helper()
	configDgst = f.putBlob(t, []byte("config-"+seed))
	layerDgst = f.putBlob(t, []byte("layer-"+seed))

	body, err := json.Marshal(map[string]interface{}{
		"schemaVersion": 2,
		"mediaType":     ocispec.MediaTypeImageManifest,
		"config": map[string]interface{}{
			"mediaType": ocispec.MediaTypeImageConfig,
			"digest":    string(configDgst),
			"size":      1,
		},
		"layers": []map[string]interface{}{
			{"mediaType": ocispec.MediaTypeImageLayerGzip, "digest": string(layerDgst), "size": 1},
		},
	})
	require.NoError(t, err)

	manifestDgst, err = f.svc.PutManifest(repo, tag, ocispec.MediaTypeImageManifest, body)
	require.NoError(t, err)
	return manifestDgst, configDgst, layerDgst
}

func TestRun_KeepsTaggedContent(t *testing.T) {
	f := newFixture(t)
	manifestDgst, configDgst, layerDgst := f.putImage(t, "gcrepo", "v1", "keep")

	collector := New(f.store, f.database, f.uploads, 0, time.Hour)
	report, err := collector.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Zero(t, report.DeletedBlobs)
	assert.True(t, f.store.Exists(manifestDgst))
	assert.True(t, f.store.Exists(configDgst))
	assert.True(t, f.store.Exists(layerDgst))
}

func TestRun_SweepsUntaggedContentAfterHorizon(t *testing.T) {
	f := newFixture(t)
	manifestDgst, configDgst, layerDgst := f.putImage(t, "gcrepo", "v1", "doomed")

	// Delete the manifest by digest: its only tag and its index row go,
	// so nothing roots the content any more.
	require.NoError(t, f.svc.DeleteManifest("gcrepo", string(manifestDgst)))

	// Within the horizon nothing is touched.
	collector := New(f.store, f.database, f.uploads, time.Hour, time.Hour)
	report, err := collector.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.DeletedBlobs)
	assert.True(t, f.store.Exists(layerDgst))

	// With a zero horizon the whole unreachable group goes.
	collector = New(f.store, f.database, f.uploads, 0, time.Hour)
	report, err = collector.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.DeletedBlobs)
	assert.False(t, f.store.Exists(manifestDgst))
	assert.False(t, f.store.Exists(configDgst))
	assert.False(t, f.store.Exists(layerDgst))
}

func TestRun_RetaggingBeforeHorizonKeepsEverything(t *testing.T) {
	f := newFixture(t)
	manifestDgst, configDgst, layerDgst := f.putImage(t, "gcrepo", "v1", "retag")

	// Drop the tag, then re-point a tag at the same manifest before any
	// sweep happens.
	_, err := queries.DeleteTagsForManifest(f.database, "gcrepo", string(manifestDgst))
	require.NoError(t, err)
	require.NoError(t, queries.SetTag(f.database, "gcrepo", "again", string(manifestDgst)))

	collector := New(f.store, f.database, f.uploads, 0, time.Hour)
	report, err := collector.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Zero(t, report.DeletedBlobs)
	assert.True(t, f.store.Exists(manifestDgst))
	assert.True(t, f.store.Exists(configDgst))
	assert.True(t, f.store.Exists(layerDgst))
}

func TestRun_IndexKeepsChildManifests(t *testing.T) {
	f := newFixture(t)
	imageDgst, configDgst, layerDgst := f.putImage(t, "gcrepo", "child", "nested")

	indexBody, err := json.Marshal(map[string]interface{}{
		"schemaVersion": 2,
		"mediaType":     ocispec.MediaTypeImageIndex,
		"manifests": []map[string]interface{}{
			{"mediaType": ocispec.MediaTypeImageManifest, "digest": string(imageDgst), "size": 1},
		},
	})
	require.NoError(t, err)
	indexDgst, err := f.svc.PutManifest("gcrepo", "multi", ocispec.MediaTypeImageIndex, indexBody)
	require.NoError(t, err)

	// Drop the direct child tag: the index tag alone must keep the
	// child manifest and its blobs through the transitive closure.
	_, err = queries.DeleteTagsForManifest(f.database, "gcrepo", string(imageDgst))
	require.NoError(t, err)

	collector := New(f.store, f.database, f.uploads, 0, time.Hour)
	report, err := collector.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Zero(t, report.DeletedBlobs)
	for _, d := range []digest.Digest{indexDgst, imageDgst, configDgst, layerDgst} {
		assert.True(t, f.store.Exists(d), string(d))
	}
}

func TestRun_DryRunDeletesNothing(t *testing.T) {
	f := newFixture(t)
	orphan := f.putBlob(t, []byte("orphan bytes"))

	collector := New(f.store, f.database, f.uploads, 0, time.Hour)
	report, err := collector.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, report.DeletedBlobs)
	assert.True(t, f.store.Exists(orphan))
}

func TestRun_ReapsExpiredSessionsFirst(t *testing.T) {
	f := newFixture(t)
	sess, err := f.uploads.Start("gcrepo")
	require.NoError(t, err)
	_, err = f.uploads.Append(sess.ID, bytes.NewReader([]byte("stalled upload")), 0)
	require.NoError(t, err)

	// A negative session TTL puts the cutoff in the future, so every
	// session counts as expired regardless of timestamp granularity.
	collector := New(f.store, f.database, f.uploads, time.Hour, -time.Second)
	report, err := collector.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ExpiredSessions)
	_, err = queries.GetUploadSession(f.database, sess.ID)
	assert.ErrorIs(t, err, queries.ErrNotFound)
}
