// objgraph - object-graph stream tool
//
// Usage:
//
//	objgraph fmt [--compact] [file]          Re-emit a stream readable or compact
//	objgraph entries [file]                  List the lexical entries of a stream
//	objgraph validate [file]                 Check the structure of a stream
//	objgraph pack [--zstd] [--crc] [files]   Frame one session per file
//	objgraph unpack [file]                   Print every framed session
//	objgraph version                         Print version info
//
// If no file is given, reads from stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
