//go:build !linux
// +build !linux

package lethe

import (
	"context"

	"github.com/tartarus-sandbox/elysium/pkg/hermes"
)

type BtrfsVolumes struct {
}

func NewBtrfsVolumes(logger hermes.Logger) (*BtrfsVolumes, error) {
	return nil, ErrUnsupported
}

func (v *BtrfsVolumes) Snapshot(ctx context.Context, src, dst string) error {
	return ErrUnsupported
}

func (v *BtrfsVolumes) Delete(ctx context.Context, path string) error {
	return ErrUnsupported
}

func (v *BtrfsVolumes) IsSubvolume(path string) (bool, error) {
	return false, ErrUnsupported
}
