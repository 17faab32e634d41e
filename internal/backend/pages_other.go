//go:build !linux && !darwin && !windows

package backend

import "os"

func PageSize() int {
	return os.Getpagesize()
}

func mapPages(int) ([]byte, error) { return nil, ErrUnsupported }

func unmapPages([]byte) error { return ErrUnsupported }

func lockPages([]byte) error { return ErrUnsupported }

func unlockPages([]byte) error { return ErrUnsupported }
