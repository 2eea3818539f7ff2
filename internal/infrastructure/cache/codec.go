package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Value envelope: first byte carries the encoding, the rest is payload.
// Large values are zstd-compressed so Redis round-trips stay cheap.
const (
	encodingRaw  byte = 0x00
	encodingZstd byte = 0x01

	// defaultCompressThreshold is the payload size above which values
	// are compressed.
	defaultCompressThreshold = 10 * 1024
)

type codec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

func newCodec(threshold int) (*codec, error) {
	if threshold <= 0 {
		threshold = defaultCompressThreshold
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &codec{encoder: encoder, decoder: decoder, threshold: threshold}, nil
}

// encode wraps value into the envelope, compressing when it pays off.
func (c *codec) encode(value []byte) []byte {
	if len(value) > c.threshold {
		compressed := c.encoder.EncodeAll(value, make([]byte, 0, len(value)/2+1))
		// Keep compression only when it actually shrinks the payload
		if len(compressed) < len(value) {
			out := make([]byte, 1+len(compressed))
			out[0] = encodingZstd
			copy(out[1:], compressed)
			return out
		}
	}

	out := make([]byte, 1+len(value))
	out[0] = encodingRaw
	copy(out[1:], value)
	return out
}

// decode unwraps the envelope.
func (c *codec) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("cache: empty stored value")
	}

	payload := stored[1:]
	switch stored[0] {
	case encodingRaw:
		return payload, nil
	case encodingZstd:
		return c.decoder.DecodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("cache: unknown value encoding 0x%02x", stored[0])
	}
}
