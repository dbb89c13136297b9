package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	cases := map[uint64]string{
		0:             "0",
		1:             "0.000001",
		1_950_000:     "1.95",
		3 * One:       "3",
		1_000_000_001: "1000.000001",
	}
	for in, want := range cases {
		assert.Equal(t, want, Format(in), "Format(%d)", in)
	}
	assert.Equal(t, "1.950000", FormatFixed(1_950_000))
}

func TestParse(t *testing.T) {
	got, err := Parse("1.95")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_950_000), got)

	got, err = Parse(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, 42*One, got)

	got, err = Parse("0.000001")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	for _, bad := range []string{"", "abc", "-1", "0.0000001", "18446744073709.551616"} {
		_, err := Parse(bad)
		assert.Error(t, err, "Parse(%q)", bad)
	}

	got, err = Parse("18446744073709.551615")
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), got)
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 7, 1_000_000, 123_456_789, ^uint64(0)} {
		got, err := Parse(Format(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
