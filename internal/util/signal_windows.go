//go:build windows

package util

import "os"

// ShutdownSignals are the signals that stop the controller and restore the
// light.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// Interrupt is a no-op: child processes cannot be sent an interrupt, so the
// capture command is killed once its wait delay expires.
func Interrupt(*os.Process) error {
	return nil
}
