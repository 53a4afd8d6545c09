package conv

import (
	"fmt"
	"math"
)

// Integer is the set of built-in integer types.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Uint32 converts v to uint32, failing on negative or too large values.
func Uint32[T Integer](v T) (uint32, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint32 (negative)", v)
	}
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint32 (too large)", v)
	}
	return uint32(v), nil
}

// Uint64 converts v to uint64, failing on negative values.
func Uint64[T Integer](v T) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint64 (negative)", v)
	}
	return uint64(v), nil
}

// Int converts v to int, failing when it does not fit.
func Int[T Integer](v T) (int, error) {
	if v > 0 && uint64(v) > math.MaxInt {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int (too large)", v)
	}
	if v < 0 && int64(v) < math.MinInt {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int (too small)", v)
	}
	return int(v), nil
}

// Len converts an untrusted length to int and checks it against limit.
func Len(v uint64, limit int) (int, error) {
	n, err := Int(v)
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, fmt.Errorf("length %d exceeds limit %d", n, limit)
	}
	return n, nil
}
