package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/structstore/internal/compress"
	"github.com/hupe1980/structstore/internal/hash"
)

const (
	// FrameMagic starts every frame.
	FrameMagic = "STSB"
	// FrameVersion is the current body format version.
	FrameVersion = 1
	// FrameHeaderSize is the fixed size of the frame header.
	FrameHeaderSize = 20
)

var (
	// ErrBadMagic is returned for input that is not a frame.
	ErrBadMagic = errors.New("wire: not a structstore frame")
	// ErrVersion is returned for frames of an unsupported version.
	ErrVersion = errors.New("wire: unsupported frame version")
	// ErrChecksum is returned when the body does not match its checksum.
	ErrChecksum = errors.New("wire: checksum mismatch")
)

// Header is the decoded frame header.
type Header struct {
	Version     uint8
	Compression compress.Type
	Flags       uint16
	RawLen      uint32
	BodyLen     uint32
	CRC         uint32
}

// FrameLen returns the total length of the frame the header describes.
func (h Header) FrameLen() int {
	return FrameHeaderSize + int(h.BodyLen)
}

// Seal compresses raw with c and wraps it in a frame.
func Seal(raw []byte, c compress.Type) ([]byte, error) {
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrMalformed, len(raw))
	}
	body, used, err := compress.Compress(raw, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, FrameHeaderSize, FrameHeaderSize+len(body))
	copy(out, FrameMagic)
	out[4] = FrameVersion
	out[5] = byte(used)
	binary.LittleEndian.PutUint16(out[6:], 0)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[16:], hash.CRC32C(raw))
	return append(out, body...), nil
}

// ParseHeader decodes the frame header of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < FrameHeaderSize {
		return Header{}, ErrTruncated
	}
	if string(b[:4]) != FrameMagic {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version:     b[4],
		Compression: compress.Type(b[5]),
		Flags:       binary.LittleEndian.Uint16(b[6:]),
		RawLen:      binary.LittleEndian.Uint32(b[8:]),
		BodyLen:     binary.LittleEndian.Uint32(b[12:]),
		CRC:         binary.LittleEndian.Uint32(b[16:]),
	}
	if h.Version != FrameVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, nil
}

// Open validates a frame and returns its uncompressed body.
func Open(b []byte) ([]byte, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if len(b) < h.FrameLen() {
		return nil, ErrTruncated
	}
	if h.Compression == compress.None && h.RawLen != h.BodyLen {
		return nil, fmt.Errorf("%w: raw length %d for %d stored bytes", ErrMalformed, h.RawLen, h.BodyLen)
	}
	raw, err := compress.Decompress(b[FrameHeaderSize:h.FrameLen()], h.Compression, int(h.RawLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if hash.CRC32C(raw) != h.CRC {
		return nil, ErrChecksum
	}
	return raw, nil
}
