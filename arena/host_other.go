// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !unix

package arena

func allocHost(size uint64) ([]byte, error) {
	return make([]byte, size), nil
}

func freeHost([]byte) {}
