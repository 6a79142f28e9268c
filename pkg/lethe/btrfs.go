//go:build linux

package lethe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/tartarus-sandbox/elysium/pkg/hermes"
	"golang.org/x/sys/unix"
)

// btrfsFirstFreeObjectID is the inode number of every subvolume root.
const btrfsFirstFreeObjectID = 256

// BtrfsVolumes implements Volumes with the btrfs userspace tool.
type BtrfsVolumes struct {
	Logger hermes.Logger

	tool string
}

// NewBtrfsVolumes locates the btrfs binary.
func NewBtrfsVolumes(logger hermes.Logger) (*BtrfsVolumes, error) {
	tool, err := exec.LookPath("btrfs")
	if err != nil {
		return nil, fmt.Errorf("%w: btrfs", ErrToolNotFound)
	}
	return &BtrfsVolumes{Logger: logger, tool: tool}, nil
}

func (v *BtrfsVolumes) Snapshot(ctx context.Context, src, dst string) error {
	return v.run(ctx, "subvolume", "snapshot", src, dst)
}

func (v *BtrfsVolumes) Delete(ctx context.Context, path string) error {
	return v.run(ctx, "subvolume", "delete", path)
}

func (v *BtrfsVolumes) IsSubvolume(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR || st.Ino != btrfsFirstFreeObjectID {
		return false, nil
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return false, err
	}
	return uint32(fs.Type) == unix.BTRFS_SUPER_MAGIC, nil
}

func (v *BtrfsVolumes) run(ctx context.Context, args ...string) error {
	if v.Logger != nil {
		v.Logger.Debug(ctx, "Running btrfs", map[string]any{"args": strings.Join(args, " ")})
	}

	cmd := exec.CommandContext(ctx, v.tool, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("btrfs %s failed: %w, output: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}
