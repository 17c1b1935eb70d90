package bt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2ACD", "00002acd-0000-1000-8000-00805f9b34fb"},
		{"0x2acd", "00002acd-0000-1000-8000-00805f9b34fb"},
		{"0000FE00", "0000fe00-0000-1000-8000-00805f9b34fb"},
		{"00001826-0000-1000-8000-00805F9B34FB", "00001826-0000-1000-8000-00805f9b34fb"},
		{" 24E2521C-F63B-48ED-85BE-C5330A00FDF7 ", "24e2521c-f63b-48ed-85be-c5330a00fdf7"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeUUID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeUUID_Invalid(t *testing.T) {
	_, err := NormalizeUUID("not-a-uuid")
	assert.Error(t, err)
	assert.Panics(t, func() { MustNormalizeUUID("zz") })
}

func TestSameUUID(t *testing.T) {
	assert.True(t, SameUUID("fe01", "0000FE01-0000-1000-8000-00805f9b34fb"))
	assert.False(t, SameUUID("fe01", "fe02"))
	assert.False(t, SameUUID("bogus", "bogus"))
}

func TestProperties(t *testing.T) {
	assert.True(t, PropIndicate.CanNotify())
	assert.False(t, PropWrite.CanNotify())
	assert.True(t, PropWriteWithoutResponse.CanWrite())
	assert.True(t, PropUnknown.CanNotify())
	assert.True(t, PropUnknown.CanWrite())
	assert.Equal(t, "read|notify", (PropRead | PropNotify).String())
	assert.Equal(t, "none", Properties(0).String())
}
