package elysium

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
	"github.com/tartarus-sandbox/elysium/pkg/hermes"
	"github.com/tartarus-sandbox/elysium/pkg/lethe"
	"github.com/tartarus-sandbox/elysium/pkg/nyx"
)

const testTemplate = `title Arch Linux {{.TitleSuffix}}
linux {{.KernelImagePath}}
initrd {{.InitramfsImagePath}}
options root=LABEL=arch rootflags=subvol={{.Subvolume}}
`

var testTime = time.Date(2024, 3, 9, 21, 4, 5, 0, time.Local)

type testEnv struct {
	root   string
	cfg    *config.Config
	source *nyx.MemorySource
	vols   *lethe.DirVolumes
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	boot := filepath.Join(root, "boot")
	entries := filepath.Join(boot, "loader", "entries")
	require.NoError(t, os.MkdirAll(entries, 0755))

	cfg := &config.Config{
		EntriesPath:          entries,
		EntryPrefix:          "arch-auto-snapshot-",
		EntryTemplate:        testTemplate,
		KernelImageSource:    "boot/vmlinuz-linux",
		InitramfsImageSource: "boot/initramfs-linux.img",
		ImagesSnapshotDir:    "snapper",
		BootPath:             boot,
		RootSubvolume:        "@",
		WritableCloneRoot:    filepath.Join(root, "clones"),
		Lock: config.LockConfig{
			File: filepath.Join(root, "elysium.lock"),
			TTL:  time.Minute,
		},
	}

	return &testEnv{
		root:   root,
		cfg:    cfg,
		source: nyx.NewMemorySource(domain.SourceConfig{Name: "root", MountPath: "/"}),
		vols:   lethe.NewDirVolumes(nil),
	}
}

// snapshot creates a mount point for num holding a kernel and initramfs and
// returns the matching snapshot record.
func (e *testEnv) snapshot(t *testing.T, num domain.SnapshotNum, desc string, userdata map[string]string) domain.Snapshot {
	t.Helper()
	mount := filepath.Join(e.root, "snapshots", fmt.Sprint(num), "snapshot")
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "boot"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "boot", "vmlinuz-linux"), []byte("kernel "+fmt.Sprint(num)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "boot", "initramfs-linux.img"), []byte("initramfs "+fmt.Sprint(num)), 0644))

	if userdata == nil {
		userdata = map[string]string{}
	}
	return domain.Snapshot{
		Num:         num,
		Type:        domain.SnapshotSingle,
		Timestamp:   testTime,
		Description: desc,
		Cleanup:     "number",
		Userdata:    userdata,
		MountPoint:  mount,
	}
}

func (e *testEnv) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(e.cfg, e.source, e.vols, hermes.NopLogger{}, hermes.NewNoopMetrics())
	require.NoError(t, err)
	m.Artifacts.FreeSpace = func(string) (uint64, error) { return 1 << 30, nil }
	return m
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, de := range entries {
		names = append(names, de.Name())
	}
	return names
}
