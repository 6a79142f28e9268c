package lethe

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tartarus-sandbox/elysium/pkg/hermes"
)

// MarkerFile tags a directory created by DirVolumes as a subvolume.
const MarkerFile = ".lethe-subvolume"

// DirVolumes implements Volumes using plain directory copies. It stands in
// for btrfs on filesystems without subvolumes and in tests.
type DirVolumes struct {
	Logger hermes.Logger
}

// NewDirVolumes creates a new directory-backed Volumes.
func NewDirVolumes(logger hermes.Logger) *DirVolumes {
	return &DirVolumes{Logger: logger}
}

// Snapshot copies the src tree to dst and marks dst as a subvolume.
func (v *DirVolumes) Snapshot(ctx context.Context, src, dst string) error {
	if v.Logger != nil {
		v.Logger.Info(ctx, "Creating directory clone", map[string]any{
			"source":      src,
			"destination": dst,
		})
	}

	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("destination %s already exists", dst)
	}
	if err := copyTree(src, dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return os.WriteFile(filepath.Join(dst, MarkerFile), nil, 0644)
}

// Delete removes a directory previously created by Snapshot.
func (v *DirVolumes) Delete(ctx context.Context, path string) error {
	ok, err := v.IsSubvolume(path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubvolume, path)
	}

	if v.Logger != nil {
		v.Logger.Info(ctx, "Deleting directory clone", map[string]any{"path": path})
	}
	return os.RemoveAll(path)
}

func (v *DirVolumes) IsSubvolume(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	if _, err := os.Stat(filepath.Join(path, MarkerFile)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string, perm os.FileMode) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}
