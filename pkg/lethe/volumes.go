package lethe

import (
	"context"
	"errors"
)

// Volumes is Lethe: creates and forgets writable subvolume clones.

type Volumes interface {
	// Snapshot creates a writable clone of src at dst. dst must not exist.
	Snapshot(ctx context.Context, src, dst string) error

	// Delete removes the subvolume at path.
	Delete(ctx context.Context, path string) error

	// IsSubvolume reports whether path is the root of a subvolume.
	IsSubvolume(path string) (bool, error)
}

var (
	// ErrToolNotFound indicates the btrfs userspace tool is not installed.
	ErrToolNotFound = errors.New("required tool not found")

	// ErrNotSubvolume indicates a path expected to be a subvolume is not one.
	ErrNotSubvolume = errors.New("not a subvolume")

	// ErrUnsupported indicates subvolumes are not available on this platform.
	ErrUnsupported = errors.New("subvolumes not supported on this platform")
)
