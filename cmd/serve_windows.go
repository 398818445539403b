//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// No session detach on Windows; the child keeps running after the parent exits.
func detachServer(_ *exec.Cmd) {}

func interruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// Both map to process termination on Windows.
func stopSignals() (graceful, force syscall.Signal) {
	return syscall.SIGTERM, syscall.SIGKILL
}
