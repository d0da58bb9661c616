//go:build !unix

package mm

// mapRAM backs the RAM with a plain byte slice on platforms without mmap.
func mapRAM(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
