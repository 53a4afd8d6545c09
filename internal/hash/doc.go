// Package hash provides CRC32-Castagnoli checksums.
//
// CRC32C is used in two places: as the integrity check of serialized frames
// and as the pre-filter for store field lookups, where comparing a 32-bit
// hash avoids most name comparisons. Go's crc32 package uses SSE4.2 or the
// ARM CRC extension when available.
//
//	checksum := hash.CRC32C(data)
//	h := hash.String("field")
package hash
