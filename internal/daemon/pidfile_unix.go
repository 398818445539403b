//go:build !windows

package daemon

import "syscall"

// Signal 0 checks the process exists without delivering anything.
func processAlive(pid int) bool { return syscall.Kill(pid, 0) == nil }

func signalProcess(pid int, sig syscall.Signal) error { return syscall.Kill(pid, sig) }
