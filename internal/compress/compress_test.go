package compress

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("structstore "), 512)

	for _, typ := range []Type{None, LZ4, Zstd} {
		t.Run(typ.String(), func(t *testing.T) {
			out, used, err := Compress(compressible, typ)
			require.NoError(t, err)
			assert.Equal(t, typ, used)
			if typ != None {
				assert.Less(t, len(out), len(compressible))
			}

			back, err := Decompress(out, used, len(compressible))
			require.NoError(t, err)
			assert.Equal(t, compressible, back)
		})
	}
}

func TestCompress_IncompressibleFallsBackToNone(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	noise := make([]byte, 4096)
	for i := range noise {
		noise[i] = byte(rng.Uint32())
	}

	out, used, err := Compress(noise, Zstd)
	require.NoError(t, err)
	assert.Equal(t, None, used)
	assert.Equal(t, noise, out)
}

func TestDecompress_SizeMismatch(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 256)
	out, used, err := Compress(data, LZ4)
	require.NoError(t, err)
	require.Equal(t, LZ4, used)

	_, err = Decompress(out, used, len(data)+1)
	assert.Error(t, err)

	_, err = Decompress(data, None, 3)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestParse(t *testing.T) {
	for _, typ := range []Type{None, LZ4, Zstd} {
		got, err := Parse(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := Parse("snappy")
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, "compress(9)", Type(9).String())
}
