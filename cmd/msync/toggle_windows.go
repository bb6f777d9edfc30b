//go:build windows

package main

import "os"

// toggleSignals returns nil; windows has no user signal, use --interactive instead.
func toggleSignals() []os.Signal {
	return nil
}
