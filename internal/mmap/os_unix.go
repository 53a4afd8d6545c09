//go:build unix

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_ANON | unix.MAP_PRIVATE

	data, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, nil, err
	}

	return data, unix.Munmap, nil
}

func osMapShared(f *os.File, size int, addr uintptr) ([]byte, func([]byte) error, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED

	if addr == 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, size, prot, flags)
		if err != nil {
			return nil, nil, err
		}
		return data, unix.Munmap, nil
	}

	// Without fixedNoReplace support the address is only a hint, so the
	// result is checked either way.
	ptr, err := unix.MmapPtr(int(f.Fd()), 0, unsafe.Pointer(addr), uintptr(size), prot, flags|fixedNoReplace)
	if err != nil {
		if err == unix.EEXIST {
			return nil, nil, ErrAddrUnavailable
		}
		return nil, nil, err
	}
	if uintptr(ptr) != addr {
		_ = unix.MunmapPtr(ptr, uintptr(size))
		return nil, nil, ErrAddrUnavailable
	}

	data := unsafe.Slice((*byte)(ptr), size)
	return data, func([]byte) error { return unix.MunmapPtr(ptr, uintptr(size)) }, nil
}

func osAdvise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}

	var advice int
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	case AccessDontNeed:
		advice = unix.MADV_DONTNEED
	default:
		advice = unix.MADV_NORMAL
	}

	// madvise requires page-aligned addresses on Linux; regions carved out of a
	// mapping are often not, and the hint is advisory.
	err := unix.Madvise(data, advice)
	if err == unix.EINVAL {
		return nil
	}
	return err
}
