//go:build !windows

package msync

import "golang.org/x/sys/unix"

func canRead(dir string) error {
	return unix.Access(dir, unix.R_OK|unix.X_OK)
}

func canWrite(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}
