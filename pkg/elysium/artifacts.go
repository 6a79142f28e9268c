package elysium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/erebus"
	"github.com/tartarus-sandbox/elysium/pkg/hermes"
	"github.com/tartarus-sandbox/elysium/pkg/lethe"
)

// FreeSpaceFunc reports the bytes available to unprivileged writers at path.
type FreeSpaceFunc func(path string) (uint64, error)

func diskFree(p string) (uint64, error) {
	usage, err := disk.Usage(p)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// ArtifactManager owns the side effects that accompany entry files: the
// writable clone of each snapshot and, when requested, frozen copies of the
// kernel and initramfs.
type ArtifactManager struct {
	Config  *config.Config
	Volumes lethe.Volumes
	Images  *erebus.LocalStore
	Logger  hermes.Logger
	Metrics hermes.Metrics

	// Archive, when set, receives a copy of every frozen image under
	// <ArchivePrefix>/<num>/<name>. Teardown leaves it alone.
	Archive       erebus.Store
	ArchivePrefix string

	FreeSpace FreeSpaceFunc
}

func NewArtifactManager(cfg *config.Config, vols lethe.Volumes, logger hermes.Logger, metrics hermes.Metrics) *ArtifactManager {
	if logger == nil {
		logger = hermes.NopLogger{}
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}
	return &ArtifactManager{
		Config:    cfg,
		Volumes:   vols,
		Images:    erebus.NewLocalStore(cfg.ImagesSnapshotDirFull()),
		Logger:    logger,
		Metrics:   metrics,
		FreeSpace: diskFree,
	}
}

// Materialize creates the clone for e unless it already exists, then copies
// the images if e asks for frozen copies.
func (m *ArtifactManager) Materialize(ctx context.Context, e BootEntry) error {
	if err := m.ensureClone(ctx, e); err != nil {
		return err
	}
	if !e.CopyImages {
		return nil
	}

	if err := os.MkdirAll(e.ImageCopyDir, 0755); err != nil {
		return &ArtifactError{Entry: e.Path, Kind: KindImagesDir, Path: e.ImageCopyDir, Err: err}
	}
	if err := m.copyImage(ctx, e, KindKernel, e.KernelImageSource, e.KernelImageName); err != nil {
		return err
	}
	return m.copyImage(ctx, e, KindInitramfs, e.InitramfsImageSource, e.InitramfsImageName)
}

func (m *ArtifactManager) ensureClone(ctx context.Context, e BootEntry) error {
	if _, err := os.Lstat(e.ClonePath); err == nil {
		m.Logger.Debug(ctx, "Writable clone exists", map[string]any{"path": e.ClonePath})
		return nil
	} else if !os.IsNotExist(err) {
		return &ArtifactError{Entry: e.Path, Kind: KindSubvolume, Path: e.ClonePath, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(e.ClonePath), 0755); err != nil {
		return &ArtifactError{Entry: e.Path, Kind: KindSubvolume, Path: filepath.Dir(e.ClonePath), Err: err}
	}

	m.Logger.Info(ctx, "Creating writable clone", map[string]any{
		"snapshot":    e.Snapshot.Num,
		"source":      e.Snapshot.MountPoint,
		"destination": e.ClonePath,
	})
	if err := m.Volumes.Snapshot(ctx, e.Snapshot.MountPoint, e.ClonePath); err != nil {
		return &ArtifactError{Entry: e.Path, Kind: KindSubvolume, Path: e.ClonePath, Err: err}
	}
	m.Metrics.IncCounter("elysium_subvolumes_created_total", 1)
	return nil
}

func (m *ArtifactManager) copyImage(ctx context.Context, e BootEntry, kind ArtifactKind, src, name string) error {
	fail := func(p string, err error) error {
		return &ArtifactError{Entry: e.Path, Kind: kind, Path: p, Err: err}
	}

	info, err := os.Stat(src)
	if err != nil {
		return fail(src, err)
	}
	if !info.Mode().IsRegular() {
		return fail(src, fmt.Errorf("not a regular file"))
	}

	srcDigest, err := erebus.DigestFile(src)
	if err != nil {
		return fail(src, err)
	}

	dst := filepath.Join(e.ImageCopyDir, name)
	if exists, err := m.Images.Exists(ctx, name); err == nil && exists {
		if dstDigest, err := m.Images.Digest(ctx, name); err == nil && dstDigest == srcDigest {
			m.Logger.Debug(ctx, "Frozen image up to date", map[string]any{"path": dst})
			return m.archive(ctx, e, kind, src, name)
		}
	}

	if m.FreeSpace != nil {
		free, err := m.FreeSpace(e.ImageCopyDir)
		if err != nil {
			return fail(e.ImageCopyDir, err)
		}
		if uint64(info.Size()) > free {
			return fail(dst, fmt.Errorf("%w: need %d bytes, %d free", ErrInsufficientSpace, info.Size(), free))
		}
	}

	m.Logger.Info(ctx, "Copying image", map[string]any{
		"kind":        string(kind),
		"source":      src,
		"destination": dst,
	})

	f, err := os.Open(src)
	if err != nil {
		return fail(src, err)
	}
	defer f.Close()

	if err := m.Images.Put(ctx, name, f); err != nil {
		return fail(dst, err)
	}
	m.Metrics.IncCounter("elysium_images_copied_total", 1, hermes.Label{Key: "kind", Value: string(kind)})

	return m.archive(ctx, e, kind, src, name)
}

func (m *ArtifactManager) archive(ctx context.Context, e BootEntry, kind ArtifactKind, src, name string) error {
	if m.Archive == nil {
		return nil
	}

	key := path.Join(m.ArchivePrefix, fmt.Sprint(e.Snapshot.Num), name)
	if ok, err := m.Archive.Exists(ctx, key); err == nil && ok {
		return nil
	}

	f, err := os.Open(src)
	if err != nil {
		return &ArtifactError{Entry: e.Path, Kind: KindArchive, Path: src, Err: err}
	}
	defer f.Close()

	if err := m.Archive.Put(ctx, key, f); err != nil {
		return &ArtifactError{Entry: e.Path, Kind: KindArchive, Path: key, Err: fmt.Errorf("%s: %w", kind, err)}
	}
	return nil
}

// DematerializeAll deletes every writable clone and then the clone root,
// followed by the frozen image directory. Anything under the clone root that
// is not a subvolume aborts teardown. Already absent artifacts are fine.
func (m *ArtifactManager) DematerializeAll(ctx context.Context) error {
	root := m.Config.WritableCloneRoot

	entries, err := os.ReadDir(root)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return &ArtifactError{Kind: KindSubvolume, Path: root, Err: err}
	default:
		for _, de := range entries {
			p := filepath.Join(root, de.Name())

			ok, err := m.Volumes.IsSubvolume(p)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return &ArtifactError{Kind: KindSubvolume, Path: p, Err: err}
			}
			if !ok {
				return &ArtifactError{Kind: KindSubvolume, Path: p, Err: lethe.ErrNotSubvolume}
			}

			m.Logger.Info(ctx, "Removing writable clone", map[string]any{"path": p})
			if err := m.Volumes.Delete(ctx, p); err != nil {
				return &ArtifactError{Kind: KindSubvolume, Path: p, Err: err}
			}
			m.Metrics.IncCounter("elysium_subvolumes_deleted_total", 1)
		}

		if err := os.Remove(root); err != nil && !os.IsNotExist(err) {
			return &ArtifactError{Kind: KindSubvolume, Path: root, Err: err}
		}
	}

	imagesDir := m.Images.BasePath
	if _, err := os.Stat(imagesDir); err == nil {
		m.Logger.Info(ctx, "Removing frozen images", map[string]any{"path": imagesDir})
	}
	if err := m.Images.RemoveAll(ctx); err != nil {
		return &ArtifactError{Kind: KindImagesDir, Path: imagesDir, Err: err}
	}
	return nil
}
