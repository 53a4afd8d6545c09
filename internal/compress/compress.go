// Package compress wraps the block codecs used for serialized frames.
package compress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a block compression algorithm.
type Type uint8

const (
	// None stores data as is.
	None Type = 0
	// LZ4 is fast block compression.
	LZ4 Type = 1
	// Zstd trades speed for a better ratio.
	Zstd Type = 2
)

// ErrUnknownType is returned for an unrecognised Type.
var ErrUnknownType = errors.New("compress: unknown compression type")

// ErrSizeMismatch is returned when a block does not inflate to its recorded size.
var ErrSizeMismatch = errors.New("compress: decompressed size mismatch")

// String returns the codec name.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compress(%d)", uint8(t))
	}
}

// Parse maps a codec name back to its Type.
func Parse(name string) (Type, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress compresses src with t and returns the block together with the
// type actually applied. Data that does not shrink below 90% of its size is
// returned uncompressed with type None.
func Compress(src []byte, t Type) ([]byte, Type, error) {
	if t == None || len(src) == 0 {
		return src, None, nil
	}

	var out []byte
	switch t {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, buf, nil)
		if err != nil {
			return nil, None, err
		}
		out = buf[:n]
	case Zstd:
		enc := getZstdEncoder()
		out = enc.EncodeAll(src, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, None, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}

	if len(out) == 0 || float64(len(out)) > float64(len(src))*0.9 {
		return src, None, nil
	}
	return out, t, nil
}

// Decompress inflates a block produced by Compress into exactly rawLen bytes.
func Decompress(src []byte, t Type, rawLen int) ([]byte, error) {
	switch t {
	case None:
		if len(src) != rawLen {
			return nil, ErrSizeMismatch
		}
		return src, nil
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(src, out)
		if err != nil {
			return nil, err
		}
		if n != rawLen {
			return nil, ErrSizeMismatch
		}
		return out, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(src, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if len(out) != rawLen {
			return nil, ErrSizeMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}
