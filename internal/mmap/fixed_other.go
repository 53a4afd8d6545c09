//go:build unix && !linux

package mmap

const fixedNoReplace = 0
