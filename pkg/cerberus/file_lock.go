//go:build linux

package cerberus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileLock holds an exclusive flock(2) on Path. The kernel drops the lock
// if the process dies.
type FileLock struct {
	Path string
}

func NewFileLock(path string) *FileLock {
	return &FileLock{Path: path}
}

func (l *FileLock) Acquire(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0755); err != nil {
		return nil, NewLockError(l.Path, err)
	}

	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, NewLockError(l.Path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, NewLockError(l.Path, ErrLocked)
		}
		return nil, NewLockError(l.Path, err)
	}

	// Record the holder for whoever finds the lock busy.
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}

	return func() error {
		defer f.Close()
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			return NewLockError(l.Path, err)
		}
		return nil
	}, nil
}
