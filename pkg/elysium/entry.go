package elysium

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

// CloneDirName is the directory under the root subvolume holding writable clones.
const CloneDirName = ".snapper_systemd_boot"

// BootEntry is everything derived from one snapshot under one config. It is
// rebuilt on every pass and never stored; only its side effects persist.
type BootEntry struct {
	Snapshot domain.Snapshot

	// Path is the entry file on the host.
	Path string

	CopyImages         bool
	KernelImageName    string
	InitramfsImageName string

	// ImageDir and the image paths are relative to the boot partition root,
	// as the boot loader sees them.
	ImageDir           string
	KernelImagePath    string
	InitramfsImagePath string

	// ImageCopyDir is the host directory receiving frozen image copies.
	ImageCopyDir string

	// KernelImageSource and InitramfsImageSource are the host paths the
	// frozen copies are taken from.
	KernelImageSource    string
	InitramfsImageSource string

	// Subvolume is the writable clone as named on the filesystem, for
	// rootflags=subvol=. ClonePath is the same clone as reached on the host.
	Subvolume string
	ClonePath string
}

// EntryFileName is the entry file name for snapshot num.
func EntryFileName(prefix string, num domain.SnapshotNum) string {
	return fmt.Sprintf("%s%d.conf", prefix, num)
}

// EntryPath is the host path of the entry file for snapshot num.
func EntryPath(cfg *config.Config, num domain.SnapshotNum) string {
	return filepath.Join(cfg.EntriesPath, EntryFileName(cfg.EntryPrefix, num))
}

// EntryGlob matches every entry file this config may have written.
func EntryGlob(cfg *config.Config) string {
	return filepath.Join(cfg.EntriesPath, cfg.EntryPrefix+"*.conf")
}

// KernelImageName is the kernel file name on the boot partition.
func KernelImageName(num domain.SnapshotNum, copyImages bool) string {
	if copyImages {
		return fmt.Sprintf("vmlinuz-linux-%d", num)
	}
	return "vmlinuz-linux"
}

// InitramfsImageName is the initramfs file name on the boot partition.
func InitramfsImageName(num domain.SnapshotNum, copyImages bool) string {
	if copyImages {
		return fmt.Sprintf("initramfs-linux-%d.img", num)
	}
	return "initramfs-linux.img"
}

// ClonePath is the host path of the writable clone for snapshot num.
func ClonePath(cfg *config.Config, num domain.SnapshotNum) string {
	return filepath.Join(cfg.WritableCloneRoot, fmt.Sprint(num))
}

// NewBootEntry derives the entry for s. It has no side effects; the same
// inputs always give the same entry. A malformed copy_images flag is a
// config.ValidationError.
func NewBootEntry(s domain.Snapshot, cfg *config.Config) (BootEntry, error) {
	copyImages, err := domain.FlagOr(s.Userdata, domain.UserdataCopyImages, false)
	if err != nil {
		return BootEntry{}, config.NewValidationError(
			fmt.Sprintf("snapshot %d userdata %s", s.Num, domain.UserdataCopyImages), "not a boolean", err)
	}

	imageDir := "/"
	if copyImages {
		imageDir = path.Join("/", filepath.ToSlash(cfg.ImagesSnapshotDir))
	}

	kernel := KernelImageName(s.Num, copyImages)
	initramfs := InitramfsImageName(s.Num, copyImages)

	return BootEntry{
		Snapshot:             s,
		Path:                 EntryPath(cfg, s.Num),
		CopyImages:           copyImages,
		KernelImageName:      kernel,
		InitramfsImageName:   initramfs,
		ImageDir:             imageDir,
		KernelImagePath:      path.Join(imageDir, kernel),
		InitramfsImagePath:   path.Join(imageDir, initramfs),
		ImageCopyDir:         cfg.ImagesSnapshotDirFull(),
		KernelImageSource:    filepath.Join(s.MountPoint, cfg.KernelImageSource),
		InitramfsImageSource: filepath.Join(s.MountPoint, cfg.InitramfsImageSource),
		Subvolume:            path.Join(filepath.ToSlash(cfg.RootSubvolume), CloneDirName, fmt.Sprint(s.Num)),
		ClonePath:            ClonePath(cfg, s.Num),
	}, nil
}
