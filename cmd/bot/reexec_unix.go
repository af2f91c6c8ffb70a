//go:build unix

package main

import (
	"os"
	"syscall"
)

// reexec replaces the process image with a fresh copy of this binary,
// keeping the PID, arguments and environment.
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
