package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/tartarus-sandbox/elysium/pkg/cerberus"
	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/elysium"
	"github.com/tartarus-sandbox/elysium/pkg/erebus"
	"github.com/tartarus-sandbox/elysium/pkg/hermes"
	"github.com/tartarus-sandbox/elysium/pkg/lethe"
	"github.com/tartarus-sandbox/elysium/pkg/nyx"
)

// Tests replace these with in-memory implementations.
var (
	openSource = func(logger hermes.Logger) (nyx.Source, func() error, error) {
		src, err := nyx.NewSnapperSource(logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}
	openVolumes = func(logger hermes.Logger) (lethe.Volumes, error) {
		return lethe.NewBtrfsVolumes(logger)
	}
)

// app holds everything one command invocation needs. It is built once per
// run and torn down by close.
type app struct {
	cfg     *config.Config
	logger  hermes.Logger
	metrics *hermes.PrometheusMetrics
	manager *elysium.Manager

	closers []func() error
}

func newLogger(cmd *cobra.Command) (hermes.Logger, error) {
	level, err := hermes.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	return hermes.NewSlogAdapterFor(cmd.ErrOrStderr(), level), nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}
	if err := elysium.CheckConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: hermes.NewPrometheusMetrics(),
	}

	src, closeSrc, err := openSource(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to snapper: %w", err)
	}
	a.closers = append(a.closers, closeSrc)

	vols := &lazyVolumes{open: func() (lethe.Volumes, error) { return openVolumes(logger) }}
	a.manager, err = elysium.NewManager(cfg, src, vols, logger, a.metrics)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if cfg.Archive.Enabled() {
		store, err := erebus.NewS3Store(ctx, erebus.S3Options{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to set up image archive: %w", err)
		}
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		a.manager.Artifacts.Archive = store
		a.manager.Artifacts.ArchivePrefix = host
	}

	return a, nil
}

// lock takes the single-instance lock: the local flock unless LOCK_FILE is
// empty, plus the Redis lease when LOCK_REDIS_ADDR is set.
func (a *app) lock(ctx context.Context) (func() error, error) {
	var locks cerberus.Multi
	if a.cfg.Lock.File != "" {
		locks = append(locks, cerberus.NewFileLock(a.cfg.Lock.File))
	}
	if a.cfg.Lock.RedisAddr != "" {
		rl, err := cerberus.NewRedisLock(a.cfg.Lock.RedisAddr, a.cfg.Lock.RedisKey, a.cfg.Lock.TTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rl.Close)
		locks = append(locks, rl)
	}
	if len(locks) == 0 {
		a.logger.Info(ctx, "Locking disabled", nil)
		return cerberus.NopLock{}.Acquire(ctx)
	}
	return locks.Acquire(ctx)
}

// mutate runs fn under the lock and exports metrics afterwards, whether or
// not fn succeeded.
func (a *app) mutate(ctx context.Context, fn func(context.Context) error) (err error) {
	release, err := a.lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil {
			a.logger.Error(ctx, "Failed to release lock", map[string]any{"error": rerr.Error()})
		}
		if path := a.cfg.MetricsTextfile; path != "" {
			if werr := a.metrics.WriteTextfile(path); werr != nil {
				err = errors.Join(err, fmt.Errorf("failed to write metrics: %w", werr))
			}
		}
	}()
	return fn(ctx)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug(ctx, "Close failed", map[string]any{"error": err.Error()})
		}
	}
	a.closers = nil
}

// lazyVolumes opens the subvolume backend on first use, so commands that only
// read snapshots work on hosts without the btrfs tool.
type lazyVolumes struct {
	open func() (lethe.Volumes, error)

	once sync.Once
	vols lethe.Volumes
	err  error
}

func (l *lazyVolumes) get() (lethe.Volumes, error) {
	l.once.Do(func() {
		l.vols, l.err = l.open()
	})
	return l.vols, l.err
}

func (l *lazyVolumes) Snapshot(ctx context.Context, src, dst string) error {
	vols, err := l.get()
	if err != nil {
		return err
	}
	return vols.Snapshot(ctx, src, dst)
}

func (l *lazyVolumes) Delete(ctx context.Context, path string) error {
	vols, err := l.get()
	if err != nil {
		return err
	}
	return vols.Delete(ctx, path)
}

func (l *lazyVolumes) IsSubvolume(path string) (bool, error) {
	vols, err := l.get()
	if err != nil {
		return false, err
	}
	return vols.IsSubvolume(path)
}
