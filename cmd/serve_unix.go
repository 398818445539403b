//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// detachServer starts the background server in its own session so it
// outlives the invoking terminal.
func detachServer(child *exec.Cmd) {
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func interruptSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// stopSignals returns the polite and the forced stop signal.
func stopSignals() (graceful, force syscall.Signal) {
	return syscall.SIGTERM, syscall.SIGKILL
}
