// Package wire holds the primitive encoding used by store serialization.
//
// A serialized store is a frame:
//
//	magic   [4]byte  "STSB"
//	version uint8
//	codec   uint8    compress.Type applied to the body
//	flags   uint16
//	rawLen  uint32   length of the uncompressed body
//	bodyLen uint32   length of the stored body
//	crc     uint32   CRC32-C of the uncompressed body
//	body    []byte
//
// The body is a sequence of primitives written by Writer: unsigned and
// zig-zag varints, little-endian float64 bits and length-prefixed bytes.
// Reader decodes them with a sticky error so callers can check once.
package wire
