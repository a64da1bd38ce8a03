// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"pvrec/cmd"
	"pvrec/internal/log"
	"pvrec/pkg/build"
)

// main parses the command line and runs it until the work finishes or an
// interrupt arrives. The pipeline itself is wired in cmd.
func main() {
	// Development builds carry no ldflags; fall back to toolchain metadata.
	if err := build.Initialize(); err != nil {
		log.Debugf("build: %v", err)
	}

	// One thread for the producer callbacks, one for the consumer and I/O.
	runtime.GOMAXPROCS(2)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	log.Close()

	if err != nil {
		fmt.Fprintln(os.Stderr, "pvrec:", err)
		os.Exit(1)
	}
}
