// Command evh-echo is the reference server built on top of evh: it echoes
// every byte it reads back to the same connection, and logs a stats line
// whenever the aggregator publishes (spec §6's exit-code contract: 0 on a
// clean shutdown, 2 on a worker or configuration error).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evh/evh"
)

func main() {
	addr := flag.String("addr", ":9009", "listen address")
	threads := flag.Int("threads", 4, "worker thread count")
	slabSize := flag.Int("slab-size", 512, "read slab size in bytes")
	slabCount := flag.Int("slab-count", 1000, "read slabs per worker")
	debug := flag.Bool("debug", false, "verbose logging")
	reusePort := flag.Bool("reuseport", false, "SO_REUSEPORT accept distribution")
	flag.Parse()

	ctl, err := evh.New(
		evh.EvhThreads(*threads),
		evh.EvhReadSlabSize(*slabSize),
		evh.EvhReadSlabCount(*slabCount),
		evh.Debug(*debug),
		evh.ReusePort(*reusePort),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evh-echo: configuration error: %v\n", err)
		os.Exit(2)
	}

	if err := ctl.SetOnRead(onRead); err != nil {
		fmt.Fprintf(os.Stderr, "evh-echo: %v\n", err)
		os.Exit(2)
	}
	if err := ctl.SetOnAccept(onAccept); err != nil {
		fmt.Fprintf(os.Stderr, "evh-echo: %v\n", err)
		os.Exit(2)
	}
	if err := ctl.SetOnClose(onClose); err != nil {
		fmt.Fprintf(os.Stderr, "evh-echo: %v\n", err)
		os.Exit(2)
	}

	if err := ctl.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "evh-echo: start failed: %v\n", err)
		os.Exit(2)
	}
	if err := ctl.AddServer(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "evh-echo: listen failed: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("evh-echo listening on %s with %d threads\n", *addr, *threads)

	go reportStats(ctl)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("evh-echo: shutting down")
	if err := ctl.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "evh-echo: shutdown error: %v\n", err)
		os.Exit(2)
	}
}

func onAccept(c *evh.Connection) error {
	return nil
}

func onRead(c *evh.Connection, ctx *evh.ReadContext) error {
	w := ctx.Write()
	it := ctx.Chunks()
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		if len(chunk.Data) > 0 {
			if err := w.Write(chunk.Data); err != nil {
				return err
			}
		}
		ctx.ClearThrough(chunk)
	}
	return nil
}

func onClose(c *evh.Connection) error {
	return nil
}

func reportStats(ctl *evh.Controller) {
	ctx := context.Background()
	for {
		snap, err := ctl.WaitForStats(ctx)
		if err != nil {
			return
		}
		fmt.Printf("[%s] conns=%d accepts=%d reads=%d writes=%d bytes_in=%d bytes_out=%d slabs_in_use=%d\n",
			time.Now().Format(time.Stamp),
			snap.OpenConnections, snap.Accepts, snap.Reads, snap.Writes,
			snap.BytesIn, snap.BytesOut, snap.SlabsInUse)
	}
}
