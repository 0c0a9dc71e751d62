package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512B", 512},
		{"100KB", 100 * 1024},
		{"4MB", 4 * 1024 * 1024},
		{"5GB", 5 * 1024 * 1024 * 1024},
		{"1TB", 1 << 40},
		{"1.5GB", 1610612736},
		{"  2mb ", 2 * 1024 * 1024},
		{"1024", 1024},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "GB", "x5GB", "-1MB", "5XB"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "512B", Format(512))
	assert.Equal(t, "1KB", Format(1024))
	assert.Equal(t, "1.5KB", Format(1536))
	assert.Equal(t, "4MB", Format(4*1024*1024))
	assert.Equal(t, "5GB", Format(5*1024*1024*1024))
}
