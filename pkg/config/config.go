package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Setting keys as they appear in the config file. Environment overrides use
// the ELYSIUM_ prefix, e.g. ELYSIUM_SYSTEMD_ENTRIES.
const (
	KeyEntriesPath          = "SYSTEMD_ENTRIES"
	KeyEntryPrefix          = "ENTRY_PREFIX"
	KeyEntryTemplate        = "ENTRY_TEMPLATE"
	KeyEntryTemplateFile    = "ENTRY_TEMPLATE_FILE"
	KeyImagesSource         = "IMAGES_SOURCE"
	KeyKernelImageSource    = "KERNEL_IMAGE_SOURCE"
	KeyInitramfsImageSource = "INITRAMFS_IMAGE_SOURCE"
	KeyImagesSnapshotDir    = "IMAGES_SNAPSHOT_DIR"
	KeyBootPath             = "BOOT_PATH"
	KeyRootSubvolume        = "ROOT_SUBVOLUME"
	KeyWritableCloneRoot    = "WRITABLE_CLONE_ROOT"
	KeySnapperConfig        = "SNAPPER_CONFIG"
	KeySnapshotFilter       = "SNAPSHOT_FILTER"
	KeyLockFile             = "LOCK_FILE"
	KeyLockRedisAddr        = "LOCK_REDIS_ADDR"
	KeyLockRedisKey         = "LOCK_REDIS_KEY"
	KeyLockTTL              = "LOCK_TTL"
	KeyMetricsTextfile      = "METRICS_TEXTFILE"
	KeyArchiveBucket        = "IMAGES_ARCHIVE_BUCKET"
	KeyArchiveEndpoint      = "IMAGES_ARCHIVE_ENDPOINT"
	KeyArchiveRegion        = "IMAGES_ARCHIVE_REGION"
	KeyArchiveAccessKey     = "IMAGES_ARCHIVE_ACCESS_KEY"
	KeyArchiveSecretKey     = "IMAGES_ARCHIVE_SECRET_KEY"
)

const (
	DefaultPath              = "/etc/elysium.conf"
	DefaultKernelImage       = "vmlinuz-linux"
	DefaultInitramfsImage    = "initramfs-linux.img"
	DefaultWritableCloneRoot = "/.snapper_systemd_boot"
	EnvPrefix                = "elysium"
)

type LockConfig struct {
	File      string        `yaml:"LOCK_FILE"`
	RedisAddr string        `yaml:"LOCK_REDIS_ADDR,omitempty"`
	RedisKey  string        `yaml:"LOCK_REDIS_KEY"`
	TTL       time.Duration `yaml:"LOCK_TTL"`
}

type ArchiveConfig struct {
	Bucket    string `yaml:"IMAGES_ARCHIVE_BUCKET,omitempty"`
	Endpoint  string `yaml:"IMAGES_ARCHIVE_ENDPOINT,omitempty"`
	Region    string `yaml:"IMAGES_ARCHIVE_REGION,omitempty"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// Enabled reports whether frozen images should also be archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Config is the validated settings record. It is loaded once and not
// modified afterwards.
type Config struct {
	EntriesPath          string `yaml:"SYSTEMD_ENTRIES"`
	EntryPrefix          string `yaml:"ENTRY_PREFIX"`
	EntryTemplate        string `yaml:"ENTRY_TEMPLATE"`
	KernelImageSource    string `yaml:"KERNEL_IMAGE_SOURCE"`
	InitramfsImageSource string `yaml:"INITRAMFS_IMAGE_SOURCE"`
	ImagesSnapshotDir    string `yaml:"IMAGES_SNAPSHOT_DIR"`
	BootPath             string `yaml:"BOOT_PATH"`
	RootSubvolume        string `yaml:"ROOT_SUBVOLUME"`
	WritableCloneRoot    string `yaml:"WRITABLE_CLONE_ROOT"`
	SnapperConfig        string `yaml:"SNAPPER_CONFIG,omitempty"`
	SnapshotFilter       string `yaml:"SNAPSHOT_FILTER,omitempty"`
	MetricsTextfile      string `yaml:"METRICS_TEXTFILE,omitempty"`

	Lock    LockConfig    `yaml:",inline"`
	Archive ArchiveConfig `yaml:",inline"`
}

// ImagesSnapshotDirFull is the host path holding frozen image copies.
func (c *Config) ImagesSnapshotDirFull() string {
	return filepath.Join(c.BootPath, c.ImagesSnapshotDir)
}

// New returns a viper instance with defaults and environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyImagesSnapshotDir, "snapper")
	v.SetDefault(KeyBootPath, "/boot")
	v.SetDefault(KeyRootSubvolume, "@")
	v.SetDefault(KeyWritableCloneRoot, DefaultWritableCloneRoot)
	v.SetDefault(KeyLockFile, "/run/elysium.lock")
	v.SetDefault(KeyLockRedisKey, "elysium:lock")
	v.SetDefault(KeyLockTTL, "5m")
	v.SetDefault(KeyArchiveRegion, "us-east-1")
	return v
}

// BindFlags binds the CLI flags that shadow config settings.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if f := fs.Lookup("metrics-textfile"); f != nil {
		if err := v.BindPFlag(KeyMetricsTextfile, f); err != nil {
			return fmt.Errorf("failed to bind metrics-textfile flag: %w", err)
		}
	}
	return nil
}

// Load reads the config file at path (if path is non-empty) and validates
// the merged settings.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewValidationError("config", fmt.Sprintf("failed to read %s", path), err)
		}
	}
	return FromViper(v)
}

// FromViper builds and validates a Config from already populated settings.
func FromViper(v *viper.Viper) (*Config, error) {
	tpl := v.GetString(KeyEntryTemplate)
	if file := v.GetString(KeyEntryTemplateFile); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, NewValidationError(KeyEntryTemplateFile, "failed to read template", err)
		}
		tpl = string(data)
	}

	imagesSource := v.GetString(KeyImagesSource)
	kernel := v.GetString(KeyKernelImageSource)
	if kernel == "" {
		kernel = filepath.Join(orDefault(imagesSource, "boot"), DefaultKernelImage)
	}
	initramfs := v.GetString(KeyInitramfsImageSource)
	if initramfs == "" {
		initramfs = filepath.Join(orDefault(imagesSource, "boot"), DefaultInitramfsImage)
	}

	ttl, err := parseDuration(v.GetString(KeyLockTTL))
	if err != nil {
		return nil, NewValidationError(KeyLockTTL, "not a duration", err)
	}

	cfg := &Config{
		EntriesPath:          v.GetString(KeyEntriesPath),
		EntryPrefix:          v.GetString(KeyEntryPrefix),
		EntryTemplate:        tpl,
		KernelImageSource:    kernel,
		InitramfsImageSource: initramfs,
		ImagesSnapshotDir:    v.GetString(KeyImagesSnapshotDir),
		BootPath:             v.GetString(KeyBootPath),
		RootSubvolume:        v.GetString(KeyRootSubvolume),
		WritableCloneRoot:    v.GetString(KeyWritableCloneRoot),
		SnapperConfig:        v.GetString(KeySnapperConfig),
		SnapshotFilter:       v.GetString(KeySnapshotFilter),
		MetricsTextfile:      v.GetString(KeyMetricsTextfile),
		Lock: LockConfig{
			File:      v.GetString(KeyLockFile),
			RedisAddr: v.GetString(KeyLockRedisAddr),
			RedisKey:  v.GetString(KeyLockRedisKey),
			TTL:       ttl,
		},
		Archive: ArchiveConfig{
			Bucket:    v.GetString(KeyArchiveBucket),
			Endpoint:  v.GetString(KeyArchiveEndpoint),
			Region:    v.GetString(KeyArchiveRegion),
			AccessKey: v.GetString(KeyArchiveAccessKey),
			SecretKey: v.GetString(KeyArchiveSecretKey),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting. Directories that must exist are checked
// against the live filesystem.
func (c *Config) Validate() error {
	if err := requireDir(KeyEntriesPath, c.EntriesPath); err != nil {
		return err
	}

	if c.EntryPrefix == "" {
		return NewValidationError(KeyEntryPrefix, "required", nil)
	}
	if strings.ContainsAny(c.EntryPrefix, `/*?[\`) {
		return NewValidationError(KeyEntryPrefix, "must not contain path separators or glob characters", nil)
	}

	if strings.TrimSpace(c.EntryTemplate) == "" {
		return NewValidationError(KeyEntryTemplate, "required", nil)
	}
	if _, err := template.New("entry").Option("missingkey=error").Parse(c.EntryTemplate); err != nil {
		return NewValidationError(KeyEntryTemplate, "failed to parse template", err)
	}

	if err := requireRelative(KeyKernelImageSource, c.KernelImageSource); err != nil {
		return err
	}
	if err := requireRelative(KeyInitramfsImageSource, c.InitramfsImageSource); err != nil {
		return err
	}
	if err := requireRelative(KeyImagesSnapshotDir, c.ImagesSnapshotDir); err != nil {
		return err
	}

	if err := requireDir(KeyBootPath, c.BootPath); err != nil {
		return err
	}
	if err := c.validateImagesDir(); err != nil {
		return err
	}

	if c.RootSubvolume == "" {
		return NewValidationError(KeyRootSubvolume, "required", nil)
	}
	if !filepath.IsAbs(c.WritableCloneRoot) {
		return NewValidationError(KeyWritableCloneRoot, "must be an absolute path", nil)
	}

	if c.Lock.TTL <= 0 {
		return NewValidationError(KeyLockTTL, "must be positive", nil)
	}
	return nil
}

func requireDir(field, path string) error {
	if path == "" {
		return NewValidationError(field, "required", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return NewValidationError(field, "must be an existing directory", err)
	}
	if !info.IsDir() {
		return NewValidationError(field, fmt.Sprintf("%s is not a directory", path), nil)
	}
	return nil
}

func requireRelative(field, path string) error {
	if path == "" {
		return NewValidationError(field, "required", nil)
	}
	if filepath.IsAbs(path) {
		return NewValidationError(field, fmt.Sprintf("%s must be relative", path), nil)
	}
	return nil
}

// validateImagesDir keeps the frozen image directory strictly below BOOT_PATH
// and away from the entries directory, since teardown removes it recursively.
func (c *Config) validateImagesDir() error {
	clean := filepath.Clean(c.ImagesSnapshotDir)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return NewValidationError(KeyImagesSnapshotDir,
			fmt.Sprintf("%s must name a subdirectory of %s", c.ImagesSnapshotDir, KeyBootPath), nil)
	}

	images, err := filepath.Abs(c.ImagesSnapshotDirFull())
	if err != nil {
		return NewValidationError(KeyImagesSnapshotDir, "cannot resolve path", err)
	}
	entries, err := filepath.Abs(c.EntriesPath)
	if err != nil {
		return NewValidationError(KeyEntriesPath, "cannot resolve path", err)
	}
	if isWithin(images, entries) {
		return NewValidationError(KeyImagesSnapshotDir,
			fmt.Sprintf("%s must not contain %s", images, KeyEntriesPath), nil)
	}
	return nil
}

// isWithin reports whether path is dir or lies below it.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	return time.ParseDuration(raw)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
