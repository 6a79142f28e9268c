//go:build !linux
// +build !linux

package cerberus

import (
	"context"
	"fmt"
)

type FileLock struct {
	Path string
}

func NewFileLock(path string) *FileLock {
	return &FileLock{Path: path}
}

func (l *FileLock) Acquire(ctx context.Context) (func() error, error) {
	return nil, NewLockError(l.Path, fmt.Errorf("file locks not supported on non-Linux platforms"))
}
