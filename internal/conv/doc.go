// Package conv provides checked integer conversions.
//
// Arena layouts store sizes and offsets as fixed-width unsigned integers while
// Go code works in int. Values crossing that boundary, and every length read
// back from an untrusted byte buffer, go through these helpers.
//
// For conversions that are provably safe by construction (loop indices,
// values already bounded by the arena capacity), use direct casts.
package conv
