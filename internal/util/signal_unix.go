//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals are the signals that stop the controller and restore the
// light. SIGHUP covers a closed terminal during an interactive run.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}

// Interrupt asks a capture process to exit so it can flush and close its
// audio device.
func Interrupt(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
