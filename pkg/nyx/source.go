package nyx

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

// Source is Nyx: the read-only inventory of configs and their snapshots.

type Source interface {
	// ListConfigs returns every config known to the snapshot service.
	ListConfigs(ctx context.Context) ([]domain.SourceConfig, error)

	// ListSnapshots returns the snapshots of one config in the service's
	// order, each with its mount point resolved.
	ListSnapshots(ctx context.Context, configName string) ([]domain.Snapshot, error)
}

// ErrNoRootConfig is returned when no config backs up the root path.
var ErrNoRootConfig = errors.New("no snapshot config found for /")

// SourceError wraps failures talking to the snapshot service.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("snapshot source %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// RootConfig finds the config to build entries from. With a name it returns
// that config; otherwise the config whose mount path is "/".
func RootConfig(ctx context.Context, src Source, name string) (domain.SourceConfig, error) {
	configs, err := src.ListConfigs(ctx)
	if err != nil {
		return domain.SourceConfig{}, err
	}

	for _, c := range configs {
		if name != "" {
			if c.Name == name {
				return c, nil
			}
			continue
		}
		if filepath.Clean(c.MountPath) == "/" {
			return c, nil
		}
	}

	if name != "" {
		return domain.SourceConfig{}, fmt.Errorf("%w: config %q does not exist", ErrNoRootConfig, name)
	}
	return domain.SourceConfig{}, ErrNoRootConfig
}

// SnapshotMountPoint is where snapper exposes snapshot num of a config
// mounted at mountPath. Snapshot 0 is the live filesystem itself.
func SnapshotMountPoint(mountPath string, num domain.SnapshotNum) string {
	if num == 0 {
		return mountPath
	}
	return filepath.Join(mountPath, ".snapshots", fmt.Sprint(num), "snapshot")
}
