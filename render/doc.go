// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render connects ring allocation to GPU devices owned by a host
// application.
//
// # Key Principle
//
// ringalloc RECEIVES a GPU device from the host application, it does NOT
// create its own. The host (e.g., gogpu.App) implements DeviceHandle and
// passes it to NewAllocator, which backs every ring region with a HAL buffer
// on that device and fences frames on its queue.
//
// # Usage
//
//	alloc, err := render.NewAllocator(app.DeviceProvider(),
//	    ringalloc.WithFramesInFlight(3),
//	)
//	if err != nil {
//	    return err
//	}
//	defer alloc.Close()
//
//	app.OnDraw(func(dc *gogpu.Context) {
//	    r, _ := alloc.Allocate(ringalloc.KindUniform, 0, 256)
//	    ...
//	    alloc.EndOfFrame()
//	})
package render
