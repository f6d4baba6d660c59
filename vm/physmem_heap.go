//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package vm

// mapArena falls back to a heap allocation where anonymous mmap is unavailable.
func mapArena(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), func([]byte) error { return nil }, nil
}
