//go:build !unix

package main

import "errors"

func reexec() error {
	return errors.New("restart by re-exec is not supported on this platform")
}
