//go:build unix

package buildserver

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// processAlive reports whether pid names a running process
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
