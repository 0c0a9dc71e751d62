package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	raw := "sha256:" + strings.Repeat("ab", 32)
	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, string(d))
	assert.Equal(t, "sha256", Algorithm(d))
	assert.Equal(t, strings.Repeat("ab", 32), Hex(d))
}

func TestParse_RejectsUppercaseHex(t *testing.T) {
	_, err := Parse("sha256:" + strings.Repeat("AB", 32))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParse_RejectsWrongLength(t *testing.T) {
	_, err := Parse("sha256:abcdef")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParse_RejectsMissingAlgorithm(t *testing.T) {
	_, err := Parse(strings.Repeat("ab", 32))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParse_RejectsUnknownAlgorithm(t *testing.T) {
	_, err := Parse("md5:d41d8cd98f00b204e9800998ecf8427e")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFromBytes_KnownValue(t *testing.T) {
	// sha256("") is a fixed constant.
	d := FromBytes(nil)
	assert.Equal(t, "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", string(d))
}

func TestDigester_MatchesFromBytes(t *testing.T) {
	payload := []byte("layer content for streaming")

	digester := NewDigester()
	half := len(payload) / 2
	_, err := digester.Hash().Write(payload[:half])
	require.NoError(t, err)
	_, err = digester.Hash().Write(payload[half:])
	require.NoError(t, err)

	assert.Equal(t, FromBytes(payload), digester.Digest())
}

func TestIsDigest(t *testing.T) {
	assert.True(t, IsDigest("sha256:"+strings.Repeat("00", 32)))
	assert.False(t, IsDigest("latest"))
	assert.False(t, IsDigest("v1.2.3"))
}
