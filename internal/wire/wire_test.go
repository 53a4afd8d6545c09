package wire

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore/internal/compress"
)

func TestWriterReader(t *testing.T) {
	w := NewWriter(64)
	w.Byte(7)
	w.Uvarint(300)
	w.Varint(-42)
	w.Float64(math.Pi)
	w.String("field")
	w.Blob([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	assert.Equal(t, byte(7), r.Byte())
	assert.Equal(t, uint64(300), r.Uvarint())
	assert.Equal(t, int64(-42), r.Varint())
	assert.Equal(t, math.Pi, r.Float64())
	assert.Equal(t, "field", r.String())
	assert.Equal(t, []byte{1, 2, 3}, r.Blob())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())

	// Reading past the end is sticky.
	assert.Zero(t, r.Byte())
	assert.ErrorIs(t, r.Err(), ErrTruncated)
	assert.Zero(t, r.Uvarint())
}

func TestReader_LengthBeyondInput(t *testing.T) {
	w := NewWriter(8)
	w.Uvarint(1 << 40)
	r := NewReader(w.Bytes())
	assert.Nil(t, r.Blob())
	assert.ErrorIs(t, r.Err(), ErrTruncated)
}

func TestReader_VarintOverflow(t *testing.T) {
	r := NewReader(bytes.Repeat([]byte{0xFF}, 11))
	r.Uvarint()
	assert.ErrorIs(t, r.Err(), ErrMalformed)
}

func TestFrame_RoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("payload-"), 200)
	for _, c := range []compress.Type{compress.None, compress.LZ4, compress.Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			frame, err := Seal(raw, c)
			require.NoError(t, err)

			h, err := ParseHeader(frame)
			require.NoError(t, err)
			assert.Equal(t, c, h.Compression)
			assert.Equal(t, uint32(len(raw)), h.RawLen)
			assert.Equal(t, len(frame), h.FrameLen())

			back, err := Open(frame)
			require.NoError(t, err)
			assert.Equal(t, raw, back)
		})
	}
}

func TestFrame_Corruption(t *testing.T) {
	frame, err := Seal([]byte("some body bytes"), compress.None)
	require.NoError(t, err)

	t.Run("bad magic", func(t *testing.T) {
		bad := bytes.Clone(frame)
		bad[0] = 'X'
		_, err := Open(bad)
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("bad version", func(t *testing.T) {
		bad := bytes.Clone(frame)
		bad[4] = 99
		_, err := Open(bad)
		assert.ErrorIs(t, err, ErrVersion)
	})

	t.Run("flipped body bit", func(t *testing.T) {
		bad := bytes.Clone(frame)
		bad[len(bad)-1] ^= 1
		_, err := Open(bad)
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Open(frame[:len(frame)-3])
		assert.ErrorIs(t, err, ErrTruncated)
		_, err = Open(frame[:5])
		assert.ErrorIs(t, err, ErrTruncated)
	})
}
