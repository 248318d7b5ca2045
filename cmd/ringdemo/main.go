// Command ringdemo drives a ring allocator through a simulated frame loop
// and reports pool statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/ringalloc"
	"github.com/gogpu/ringalloc/arena"
	"github.com/gogpu/ringalloc/fence"
	"github.com/gogpu/wgpu/hal/noop"
)

// backend pairs an arena provider with a fence provider.
type backend struct {
	arenas arena.Provider
	fences fence.Provider
	// gpu, when set, completes frames lagging this many frames behind.
	gpu *fence.Manual
}

func backends() *gpucontext.Registry[backend] {
	reg := gpucontext.NewRegistry[backend](gpucontext.WithPriority("hal", "host"))
	reg.Register("hal", func() backend {
		device, queue := &noop.Device{}, &noop.Queue{}
		arenas, err := arena.NewHALProvider(device, queue)
		if err != nil {
			log.Fatalf("hal arenas: %v", err)
		}
		fences, err := fence.NewQueueProvider(queue)
		if err != nil {
			log.Fatalf("hal fences: %v", err)
		}
		return backend{arenas: arenas, fences: fences}
	})
	reg.Register("host", func() backend {
		m := fence.NewManual()
		return backend{arenas: arena.NewHostProvider(), fences: m, gpu: m}
	})
	return reg
}

func main() {
	reg := backends()
	var (
		name      = flag.String("backend", reg.BestName(), "arena backend: "+strings.Join(reg.Available(), ", "))
		frames    = flag.Int("frames", 240, "frames to simulate")
		inFlight  = flag.Int("inflight", ringalloc.DefaultFramesInFlight, "frames in flight")
		lag       = flag.Int("lag", 1, "frames the simulated GPU lags behind (host backend)")
		transient = flag.Bool("transient", false, "use transient mapping with explicit flushes")
		region    = flag.Uint64("region", 256<<10, "minimum region size in bytes")
		seed      = flag.Uint64("seed", 1, "random seed for upload sizes")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		ringalloc.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
	if !reg.Has(*name) {
		log.Fatalf("unknown backend %q", *name)
	}
	if *lag < 0 || *lag >= *inFlight {
		log.Fatalf("lag %d must be in [0, %d)", *lag, *inFlight)
	}
	be := reg.Get(*name)

	mapping := arena.Persistent
	if *transient {
		mapping = arena.Transient
	}
	alloc, err := ringalloc.New(be.arenas, be.fences,
		ringalloc.WithMinRegionSize(*region),
		ringalloc.WithFramesInFlight(*inFlight),
		ringalloc.WithMapping(mapping),
		ringalloc.WithLabel("demo"),
	)
	if err != nil {
		log.Fatalf("Failed to create allocator: %v", err)
	}
	defer alloc.Close()

	rnd := rand.New(rand.NewPCG(*seed, *seed))
	for range *frames {
		if err := drawFrame(alloc, rnd); err != nil {
			log.Fatalf("frame %d: %v", alloc.CurrentFrame(), err)
		}
		if lagged := uint64(*lag); be.gpu != nil && be.gpu.Submitted() >= lagged { //nolint:gosec // G115: lag validated above
			be.gpu.SignalThrough(be.gpu.Submitted() - lagged)
		}
		if err := alloc.EndOfFrame(); err != nil {
			log.Fatalf("end of frame %d: %v", alloc.CurrentFrame(), err)
		}
		if f := alloc.CurrentFrame(); f%60 == 0 {
			log.Println(alloc.Stats())
		}
	}

	if be.gpu != nil {
		be.gpu.SignalAll()
	}
	if err := alloc.WaitIdle(context.Background()); err != nil {
		log.Fatalf("wait idle: %v", err)
	}
	for _, r := range alloc.Regions() {
		log.Println(r.Stats())
	}
	log.Printf("Simulated %d frames on %s backend: %v\n", *frames, *name, alloc.Stats())
}

// drawFrame uploads one frame worth of geometry and uniforms.
func drawFrame(alloc *ringalloc.Allocator, rnd *rand.Rand) error {
	draws := 4 + rnd.IntN(12)
	for i := range draws {
		vertices := uint64(32+rnd.IntN(480)) * 32 // position, normal, uv
		if err := upload(alloc, ringalloc.KindVertex, vertices); err != nil {
			return err
		}
		if err := upload(alloc, ringalloc.KindIndex, vertices/32*3*2); err != nil {
			return err
		}
		if err := upload(alloc, ringalloc.KindUniform, 192); err != nil {
			return err
		}
		if i%4 == 0 {
			r, err := alloc.AllocateGPUOnly(ringalloc.KindIndirect, 0, 16)
			if err != nil {
				return err
			}
			if err := r.Close(); err != nil {
				r.Cancel()
				return err
			}
			r.Release()
		}
	}
	return nil
}

func upload(alloc *ringalloc.Allocator, kind ringalloc.Kind, n uint64) error {
	r, err := alloc.Allocate(kind, 0, n)
	if err != nil {
		return fmt.Errorf("allocate %d bytes of %v: %w", n, kind, err)
	}
	span := r.Bytes()
	for i := range span {
		span[i] = byte(i)
	}
	r.MarkWritten(n)
	if err := r.Close(); err != nil {
		r.Cancel()
		return err
	}
	r.Release()
	return nil
}
