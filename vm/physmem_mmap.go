//go:build linux || darwin || freebsd || netbsd || openbsd

package vm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapArena reserves size bytes of anonymous, private memory for frames.
func mapArena(size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to map frame arena of %d bytes: %w", size, err)
	}
	return data, unix.Munmap, nil
}
