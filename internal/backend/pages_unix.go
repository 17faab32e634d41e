//go:build linux || darwin

package backend

import "golang.org/x/sys/unix"

// PageSize returns the operating system's memory page size.
func PageSize() int {
	return unix.Getpagesize()
}

// mapPages returns size bytes of anonymous, page-aligned memory outside the
// Go heap.
func mapPages(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmapPages(b []byte) error {
	return unix.Munmap(b)
}

// lockPages pins b in RAM. Subject to RLIMIT_MEMLOCK.
func lockPages(b []byte) error {
	return unix.Mlock(b)
}

func unlockPages(b []byte) error {
	return unix.Munlock(b)
}
