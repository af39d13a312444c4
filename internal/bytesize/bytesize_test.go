package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"1024B", 1024, false},
		{"64Ki", 64 * KiB, false},
		{"1MiB", MiB, false},
		{"1mib", MiB, false},
		{" 2 Gi ", 2 * GiB, false},
		{"1.5Mi", ByteSize(1.5 * float64(MiB)), false},
		{"100MB", 100 * MB, false},
		{"1K", KB, false},
		{"", 0, true},
		{"Mi", 0, true},
		{"12XB", 0, true},
		{"-1", 0, true},
		{"1..5K", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, v := range []ByteSize{0, 512, KiB, 64 * KiB, MiB, 3 * GiB, 1500} {
		text, err := v.MarshalText()
		require.NoError(t, err)

		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, v, back, "via %q", text)
	}
}

func TestMarshalText(t *testing.T) {
	text, err := MiB.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1MiB", string(text))

	text, err = ByteSize(1500).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1500", string(text))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.50KiB", ByteSize(1536).String())
	assert.Equal(t, "1.00MiB", MiB.String())
}
