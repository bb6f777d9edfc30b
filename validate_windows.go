//go:build windows

package msync

import (
	"errors"
	"io"
	"os"
)

func canRead(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func canWrite(dir string) error {
	f, err := os.CreateTemp(dir, ".msync-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
