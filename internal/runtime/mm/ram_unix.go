//go:build unix

package mm

import (
	"errors"

	"golang.org/x/sys/unix"
)

// mapRAM backs the RAM with an anonymous private mapping so large boards
// do not live on the Go heap.
func mapRAM(size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	release := func() error {
		err := unix.Munmap(data)
		if errors.Is(err, unix.EINVAL) {
			return nil
		}
		return err
	}
	return data, release, nil
}
