// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package arena

import "golang.org/x/sys/unix"

// allocHost maps size bytes of anonymous, zero-filled memory outside the Go
// heap so large arenas do not add GC scan pressure.
func allocHost(size uint64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE) //nolint:gosec // G115: capacity bounded by caller
}

func freeHost(b []byte) {
	if b == nil {
		return
	}
	if err := unix.Munmap(b); err != nil {
		slogger().Warn("arena: munmap failed", "err", err)
	}
}
