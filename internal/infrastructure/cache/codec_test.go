package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_SmallValuesStayRaw(t *testing.T) {
	c, err := newCodec(0)
	require.NoError(t, err)

	in := []byte("small value")
	enc := c.encode(in)

	assert.Equal(t, encodingRaw, enc[0])

	out, err := c.decode(enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_LargeValuesCompressed(t *testing.T) {
	c, err := newCodec(0)
	require.NoError(t, err)

	// Repetitive payload well above the threshold compresses hard.
	in := bytes.Repeat([]byte("warehouse stock line;"), 2048)
	require.Greater(t, len(in), defaultCompressThreshold)

	enc := c.encode(in)
	assert.Equal(t, encodingZstd, enc[0])
	assert.Less(t, len(enc), len(in))

	out, err := c.decode(enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_RejectsUnknownEncoding(t *testing.T) {
	c, err := newCodec(0)
	require.NoError(t, err)

	_, err = c.decode([]byte{0x7f, 1, 2, 3})
	assert.Error(t, err)

	_, err = c.decode(nil)
	assert.Error(t, err)
}
