package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wharf/pkg/digest"
)

func fakeDigest(seed byte) string {
	return "sha256:" + strings.Repeat(fmt.Sprintf("%02x", seed), 32)
}

func imageBody(t *testing.T, config string, layers ...string) []byte {
	t.Helper()
	m := map[string]interface{}{
		"schemaVersion": 2,
		"mediaType":     ocispec.MediaTypeImageManifest,
		"config": map[string]interface{}{
			"mediaType": ocispec.MediaTypeImageConfig,
			"digest":    config,
			"size":      100,
		},
	}
	var ls []map[string]interface{}
	for _, l := range layers {
		ls = append(ls, map[string]interface{}{
			"mediaType": ocispec.MediaTypeImageLayerGzip,
			"digest":    l,
			"size":      200,
		})
	}
	m["layers"] = ls
	body, err := json.Marshal(m)
	require.NoError(t, err)
	return body
}

func TestReferences_ImageManifest(t *testing.T) {
	config := fakeDigest(0x01)
	layer1 := fakeDigest(0x02)
	layer2 := fakeDigest(0x03)
	body := imageBody(t, config, layer1, layer2)

	refs, err := References(ocispec.MediaTypeImageManifest, body)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{
		digest.Digest(config), digest.Digest(layer1), digest.Digest(layer2),
	}, refs)
}

func TestReferences_DockerManifest(t *testing.T) {
	body := imageBody(t, fakeDigest(0x04), fakeDigest(0x05))
	refs, err := References(MediaTypeDockerManifest, body)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestReferences_Index(t *testing.T) {
	child1 := fakeDigest(0x06)
	child2 := fakeDigest(0x07)
	body, err := json.Marshal(map[string]interface{}{
		"schemaVersion": 2,
		"mediaType":     ocispec.MediaTypeImageIndex,
		"manifests": []map[string]interface{}{
			{"mediaType": ocispec.MediaTypeImageManifest, "digest": child1, "size": 400},
			{"mediaType": ocispec.MediaTypeImageManifest, "digest": child2, "size": 401},
		},
	})
	require.NoError(t, err)

	refs, err := References(ocispec.MediaTypeImageIndex, body)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{digest.Digest(child1), digest.Digest(child2)}, refs)
}

func TestReferences_UnrecognizedMediaType(t *testing.T) {
	_, err := References("application/json", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReferences_BadJSON(t *testing.T) {
	_, err := References(ocispec.MediaTypeImageManifest, []byte(`not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReferences_BadLayerDigest(t *testing.T) {
	body := imageBody(t, fakeDigest(0x08), "sha256:NOTHEX")
	_, err := References(ocispec.MediaTypeImageManifest, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReferences_WrongSchemaVersion(t *testing.T) {
	body := []byte(`{"schemaVersion":1,"config":{"digest":"` + fakeDigest(0x09) + `"}}`)
	_, err := References(ocispec.MediaTypeImageManifest, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReferences_EmptyIndex(t *testing.T) {
	body := []byte(`{"schemaVersion":2,"manifests":[]}`)
	_, err := References(ocispec.MediaTypeImageIndex, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMediaTypePredicates(t *testing.T) {
	assert.True(t, IsImageType(ocispec.MediaTypeImageManifest))
	assert.True(t, IsImageType(MediaTypeDockerManifest))
	assert.True(t, IsIndexType(ocispec.MediaTypeImageIndex))
	assert.True(t, IsIndexType(MediaTypeDockerManifestList))
	assert.False(t, IsManifestType("application/octet-stream"))
}
