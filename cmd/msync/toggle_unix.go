//go:build !windows

package main

import (
	"os"
	"syscall"
)

// toggleSignals returns the signals that pause or resume a run.
func toggleSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
