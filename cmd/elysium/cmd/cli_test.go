package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartarus-sandbox/elysium/pkg/cerberus"
	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
	"github.com/tartarus-sandbox/elysium/pkg/hermes"
	"github.com/tartarus-sandbox/elysium/pkg/lethe"
	"github.com/tartarus-sandbox/elysium/pkg/nyx"
	"gopkg.in/yaml.v3"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

type fixture struct {
	dir     string
	entries string
	clones  string
	config  string
	source  *nyx.MemorySource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	boot := filepath.Join(dir, "boot")
	entries := filepath.Join(boot, "loader", "entries")
	require.NoError(t, os.MkdirAll(entries, 0755))

	f := &fixture{
		dir:     dir,
		entries: entries,
		clones:  filepath.Join(dir, "clones"),
		config:  filepath.Join(dir, "elysium.conf"),
		source:  nyx.NewMemorySource(domain.SourceConfig{Name: "root", MountPath: "/"}),
	}

	content := fmt.Sprintf(`SYSTEMD_ENTRIES: %s
ENTRY_PREFIX: arch-auto-snapshot-
BOOT_PATH: %s
WRITABLE_CLONE_ROOT: %s
LOCK_FILE: %s
ENTRY_TEMPLATE: |
  title Arch Linux {{.TitleSuffix}}
  linux {{.KernelImagePath}}
  initrd {{.InitramfsImagePath}}
  options rootflags=subvol={{.Subvolume}}
`, entries, boot, f.clones, filepath.Join(dir, "elysium.lock"))
	require.NoError(t, os.WriteFile(f.config, []byte(content), 0644))

	prevSource, prevVolumes := openSource, openVolumes
	openSource = func(hermes.Logger) (nyx.Source, func() error, error) {
		return f.source, func() error { return nil }, nil
	}
	openVolumes = func(hermes.Logger) (lethe.Volumes, error) {
		return lethe.NewDirVolumes(nil), nil
	}
	t.Cleanup(func() {
		openSource, openVolumes = prevSource, prevVolumes
	})

	configPath = f.config
	logLevel = "warn"
	metricsTextfile = ""
	outputFormat = "text"
	return f
}

func (f *fixture) snapshot(t *testing.T, num domain.SnapshotNum, desc string, userdata map[string]string) domain.Snapshot {
	t.Helper()
	mount := filepath.Join(f.dir, "snapshots", fmt.Sprint(num), "snapshot")
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "boot"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "boot", "vmlinuz-linux"), []byte("kernel"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "boot", "initramfs-linux.img"), []byte("initramfs"), 0644))
	if userdata == nil {
		userdata = map[string]string{}
	}
	return domain.Snapshot{
		Num:         num,
		Timestamp:   time.Date(2024, 3, 9, 21, 4, 5, 0, time.Local),
		Description: desc,
		Userdata:    userdata,
		MountPoint:  mount,
	}
}

func entryNames(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, de := range des {
		names = append(names, de.Name())
	}
	return names
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root",
		domain.Snapshot{Num: 1, Description: "current"},
		f.snapshot(t, 2, "nightly", nil),
	)

	_, err := executeCommand(rootCmd, "sync", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"arch-auto-snapshot-2.conf"}, entryNames(t, f.entries))

	data, err := os.ReadFile(filepath.Join(f.entries, "arch-auto-snapshot-2.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "title Arch Linux nightly (2024-03-09T21:04:05)")
	assert.Contains(t, string(data), "options rootflags=subvol=@/.snapper_systemd_boot/2")
}

func TestDefaultCommandIsSync(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 3, "daily", nil))

	_, err := executeCommand(rootCmd, "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"arch-auto-snapshot-3.conf"}, entryNames(t, f.entries))

	// The old command name still works.
	f.source.SetSnapshots("root", f.snapshot(t, 4, "daily", nil))
	_, err = executeCommand(rootCmd, "update", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"arch-auto-snapshot-4.conf"}, entryNames(t, f.entries))
}

func TestWriteAndRemove(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 5, "a", nil), f.snapshot(t, 6, "b", nil))

	output, err := executeCommand(rootCmd, "write", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, output, "Wrote 2 entries")

	_, err = executeCommand(rootCmd, "remove", "--config", f.config)
	require.NoError(t, err)
	assert.Empty(t, entryNames(t, f.entries))
	_, err = os.Stat(f.clones)
	assert.True(t, os.IsNotExist(err))
}

func TestListGenerated(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 5, "a", nil))
	_, err := executeCommand(rootCmd, "sync", "--config", f.config)
	require.NoError(t, err)

	output, err := executeCommand(rootCmd, "list-generated", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.entries, "arch-auto-snapshot-5.conf")+"\n", output)

	output, err = executeCommand(rootCmd, "list-generated", "--config", f.config, "--output", "yaml")
	require.NoError(t, err)
	var paths []string
	require.NoError(t, yaml.Unmarshal([]byte(output), &paths))
	assert.Equal(t, []string{filepath.Join(f.entries, "arch-auto-snapshot-5.conf")}, paths)
}

func TestListDesired(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root",
		domain.Snapshot{Num: 0, Description: "current"},
		f.snapshot(t, 12, "pacman -Syu", map[string]string{"important": "yes"}),
		f.snapshot(t, 13, "hidden", map[string]string{"bootable": "false"}),
	)

	output, err := executeCommand(rootCmd, "list-snapshots", "--config", f.config, "--output", "text")
	require.NoError(t, err)
	assert.Contains(t, output, "Snapshots to make entries:")
	assert.Contains(t, output, "  0012: pacman -Syu\n")
	assert.Contains(t, output, `      user_data: {"important": "yes"}`)
	assert.NotContains(t, output, "hidden")
	assert.NotContains(t, output, "current")

	// Listing has no side effects.
	assert.Empty(t, entryNames(t, f.entries))
}

func TestListEntries(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 7, "upgrade", map[string]string{"copy_images": "true"}))

	output, err := executeCommand(rootCmd, "list-entries", "--config", f.config, "--output", "text")
	require.NoError(t, err)
	assert.Contains(t, output, "Will write to path:\n  "+filepath.Join(f.entries, "arch-auto-snapshot-7.conf"))
	assert.Contains(t, output, "  linux /snapper/vmlinuz-linux-7\n")
	assert.Empty(t, entryNames(t, f.entries))
	_, err = os.Stat(f.clones)
	assert.True(t, os.IsNotExist(err))
}

func TestListEntries_InvalidOutput(t *testing.T) {
	f := newFixture(t)
	_, err := executeCommand(rootCmd, "list-entries", "--config", f.config, "--output", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestViewConfig(t *testing.T) {
	f := newFixture(t)

	output, err := executeCommand(rootCmd, "view-config", "--config", f.config)
	require.NoError(t, err)

	var settings map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(output), &settings))
	assert.Equal(t, f.entries, settings["SYSTEMD_ENTRIES"])
	assert.Equal(t, "arch-auto-snapshot-", settings["ENTRY_PREFIX"])
	assert.Equal(t, "boot/vmlinuz-linux", settings["KERNEL_IMAGE_SOURCE"])
	assert.Equal(t, f.clones, settings["WRITABLE_CLONE_ROOT"])
}

func TestInvalidConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.config, []byte("ENTRY_PREFIX: x\n"), 0644))

	_, err := executeCommand(rootCmd, "sync", "--config", f.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYSTEMD_ENTRIES")
}

func TestViewConfig_UnknownTemplateField(t *testing.T) {
	f := newFixture(t)
	data, err := os.ReadFile(f.config)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte("{{.TitleSuffix}}"), []byte("{{.Release}}"), 1)
	require.NoError(t, os.WriteFile(f.config, data, 0644))

	output, err := executeCommand(rootCmd, "view-config", "--config", f.config)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), `unknown field "Release"`)
	assert.NotContains(t, output, "SYSTEMD_ENTRIES")
}

func TestViewConfig_InvalidFilter(t *testing.T) {
	f := newFixture(t)
	data, err := os.ReadFile(f.config)
	require.NoError(t, err)
	data = append(data, []byte("SNAPSHOT_FILTER: 'num >'\n")...)
	require.NoError(t, os.WriteFile(f.config, data, 0644))

	_, err = executeCommand(rootCmd, "view-config", "--config", f.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNAPSHOT_FILTER")
}

func TestReadOnlyCommandsWithoutBtrfs(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 8, "a", nil))
	opened := 0
	openVolumes = func(hermes.Logger) (lethe.Volumes, error) {
		opened++
		return nil, fmt.Errorf("btrfs: %w", lethe.ErrToolNotFound)
	}

	for _, args := range [][]string{{"list-generated"}, {"list-desired"}, {"list-entries"}} {
		_, err := executeCommand(rootCmd, append(args, "--config", f.config)...)
		require.NoError(t, err, args[0])
	}
	assert.Equal(t, 0, opened)

	_, err := executeCommand(rootCmd, "sync", "--config", f.config)
	require.Error(t, err)
	assert.ErrorIs(t, err, lethe.ErrToolNotFound)
	assert.Equal(t, 1, opened)
	assert.Equal(t, []string{"arch-auto-snapshot-8.conf"}, entryNames(t, f.entries))
}

func TestSync_WithFilter(t *testing.T) {
	f := newFixture(t)
	data, err := os.ReadFile(f.config)
	require.NoError(t, err)
	data = append(data, []byte(`SNAPSHOT_FILTER: 'snapshot_type == "SINGLE" && num > 8'`+"\n")...)
	require.NoError(t, os.WriteFile(f.config, data, 0644))
	f.source.SetSnapshots("root", f.snapshot(t, 8, "a", nil), f.snapshot(t, 9, "b", nil))

	_, err = executeCommand(rootCmd, "sync", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"arch-auto-snapshot-9.conf"}, entryNames(t, f.entries))
}

func TestMetricsTextfile(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 8, "a", nil))
	out := filepath.Join(f.dir, "elysium.prom")

	_, err := executeCommand(rootCmd, "sync", "--config", f.config, "--metrics-textfile", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "elysium_entries_written_total 1")
	assert.Contains(t, string(data), `elysium_last_success_timestamp_seconds{operation="sync"}`)
}

func TestSync_LockHeld(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 8, "a", nil))

	lockFile := filepath.Join(f.dir, "elysium.lock")
	release, err := cerberus.NewFileLock(lockFile).Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = executeCommand(rootCmd, "sync", "--config", f.config)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerberus.ErrLocked)
	assert.Empty(t, entryNames(t, f.entries))
}

func TestSync_RedisLock(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 8, "a", nil))
	mr := miniredis.RunT(t)

	cfg, err := os.OpenFile(f.config, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = fmt.Fprintf(cfg, "LOCK_REDIS_ADDR: %s\nLOCK_REDIS_KEY: elysium:test\n", mr.Addr())
	require.NoError(t, err)
	require.NoError(t, cfg.Close())

	// Another host holds the lease.
	require.NoError(t, mr.Set("elysium:test", "moya"))
	_, err = executeCommand(rootCmd, "sync", "--config", f.config)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerberus.ErrLocked)
	assert.Empty(t, entryNames(t, f.entries))

	mr.Del("elysium:test")
	_, err = executeCommand(rootCmd, "sync", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"arch-auto-snapshot-8.conf"}, entryNames(t, f.entries))
	assert.False(t, mr.Exists("elysium:test"))
}

func TestSync_LockingDisabled(t *testing.T) {
	f := newFixture(t)
	f.source.SetSnapshots("root", f.snapshot(t, 8, "a", nil))
	lockFile := filepath.Join(f.dir, "elysium.lock")
	data, err := os.ReadFile(f.config)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte("LOCK_FILE: "+lockFile), []byte(`LOCK_FILE: ""`), 1)
	require.NoError(t, os.WriteFile(f.config, data, 0644))

	// Held elsewhere, but not consulted.
	release, err := cerberus.NewFileLock(lockFile).Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = executeCommand(rootCmd, "sync", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, []string{"arch-auto-snapshot-8.conf"}, entryNames(t, f.entries))
}
