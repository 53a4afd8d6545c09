package hash

import (
	"hash"
	"hash/crc32"
	"unsafe"
)

// crc32cTable is pre-computed for CRC32-Castagnoli polynomial.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// String computes the CRC32-Castagnoli checksum of s without copying it.
func String(s string) uint32 {
	if s == "" {
		return 0
	}
	return crc32.Checksum(unsafe.Slice(unsafe.StringData(s), len(s)), crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}
