package elysium

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
	"github.com/tartarus-sandbox/elysium/pkg/erebus"
	"github.com/tartarus-sandbox/elysium/pkg/hermes"
	"github.com/tartarus-sandbox/elysium/pkg/lethe"
	"github.com/tartarus-sandbox/elysium/pkg/nyx"
)

// Manager is Elysium: it converges the boot entries on disk with the
// snapshot inventory. Every call is a full pass over current state; nothing
// is cached between calls.
//
// Manager does no locking. Callers must ensure a single instance runs at a
// time (see package cerberus).
type Manager struct {
	Config    *config.Config
	Source    nyx.Source
	Filter    *Filter
	Renderer  *Renderer
	Artifacts *ArtifactManager
	Logger    hermes.Logger
	Metrics   hermes.Metrics

	entries *erebus.LocalStore
}

// CheckConfig compiles the eligibility rule and dry-runs the entry template,
// reporting what NewManager would reject.
func CheckConfig(cfg *config.Config) error {
	if _, err := NewFilter(cfg.SnapshotFilter); err != nil {
		return err
	}
	_, err := NewRenderer(cfg.EntryTemplate)
	return err
}

// NewManager wires a manager from a validated config. The template and the
// eligibility rule are checked here, before any mutation can happen.
func NewManager(cfg *config.Config, src nyx.Source, vols lethe.Volumes, logger hermes.Logger, metrics hermes.Metrics) (*Manager, error) {
	if logger == nil {
		logger = hermes.NopLogger{}
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}

	filter, err := NewFilter(cfg.SnapshotFilter)
	if err != nil {
		return nil, err
	}
	renderer, err := NewRenderer(cfg.EntryTemplate)
	if err != nil {
		return nil, err
	}

	return &Manager{
		Config:    cfg,
		Source:    src,
		Filter:    filter,
		Renderer:  renderer,
		Artifacts: NewArtifactManager(cfg, vols, logger, metrics),
		Logger:    logger,
		Metrics:   metrics,
		entries:   erebus.NewLocalStore(cfg.EntriesPath),
	}, nil
}

// Snapshots yields the eligible snapshots of the root config in source
// order. Each range re-queries the source.
func (m *Manager) Snapshots(ctx context.Context) iter.Seq2[domain.Snapshot, error] {
	return func(yield func(domain.Snapshot, error) bool) {
		root, err := nyx.RootConfig(ctx, m.Source, m.Config.SnapperConfig)
		if err != nil {
			yield(domain.Snapshot{}, err)
			return
		}
		snaps, err := m.Source.ListSnapshots(ctx, root.Name)
		if err != nil {
			yield(domain.Snapshot{}, err)
			return
		}
		for s, err := range m.Filter.Select(snaps) {
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

// DesiredEntries yields the entry for every eligible snapshot.
func (m *Manager) DesiredEntries(ctx context.Context) iter.Seq2[BootEntry, error] {
	return func(yield func(BootEntry, error) bool) {
		for s, err := range m.Snapshots(ctx) {
			if err != nil {
				yield(BootEntry{}, err)
				return
			}
			e, err := NewBootEntry(s, m.Config)
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// ExistingEntries lists entry files matching the configured prefix, sorted.
func (m *Manager) ExistingEntries() ([]string, error) {
	return filepath.Glob(EntryGlob(m.Config))
}

// EntryPreview is one entry as it would be written.
type EntryPreview struct {
	Path    string
	Content string
}

// Preview renders every desired entry without touching the filesystem.
func (m *Manager) Preview(ctx context.Context) iter.Seq2[EntryPreview, error] {
	return func(yield func(EntryPreview, error) bool) {
		for e, err := range m.DesiredEntries(ctx) {
			if err != nil {
				yield(EntryPreview{}, err)
				return
			}
			content, err := m.Renderer.Render(e)
			if !yield(EntryPreview{Path: e.Path, Content: content}, err) || err != nil {
				return
			}
		}
	}
}

// WriteAll writes every desired entry file, overwriting what is there, and
// materializes its artifacts. It stops at the first error; entries already
// processed stay on disk.
func (m *Manager) WriteAll(ctx context.Context) (int, error) {
	ctx, fields := m.run(ctx, "write")
	m.Logger.Info(ctx, "Writing entries", fields)

	written := 0
	for e, err := range m.DesiredEntries(ctx) {
		if err != nil {
			return written, err
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		content, err := m.Renderer.Render(e)
		if err != nil {
			return written, err
		}

		m.Logger.Info(ctx, "Writing entry", withFields(fields, map[string]any{
			"path":        e.Path,
			"snapshot":    e.Snapshot.Num,
			"copy_images": e.CopyImages,
		}))
		name := filepath.Base(e.Path)
		if err := m.entries.Put(ctx, name, strings.NewReader(content)); err != nil {
			return written, &ArtifactError{Entry: e.Path, Kind: KindEntryFile, Path: e.Path, Err: err}
		}
		m.Metrics.IncCounter("elysium_entries_written_total", 1)

		if err := m.Artifacts.Materialize(ctx, e); err != nil {
			return written, err
		}
		written++
	}

	m.Metrics.SetGauge("elysium_entries", float64(written))
	return written, nil
}

// RemoveAll deletes every entry file with the configured prefix and then
// all writable clones and frozen images. Missing files count as removed.
func (m *Manager) RemoveAll(ctx context.Context) (int, error) {
	ctx, fields := m.run(ctx, "remove")
	m.Logger.Info(ctx, "Removing entries", fields)

	existing, err := m.ExistingEntries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range existing {
		m.Logger.Info(ctx, "Removing entry", withFields(fields, map[string]any{"path": p}))
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, &ArtifactError{Kind: KindEntryFile, Path: p, Err: err}
		}
		removed++
		m.Metrics.IncCounter("elysium_entries_removed_total", 1)
	}

	if err := m.Artifacts.DematerializeAll(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// Sync removes everything and writes the desired set again. Between the two
// steps no entries exist on disk.
func (m *Manager) Sync(ctx context.Context) error {
	return m.timed(ctx, "sync", func(ctx context.Context) error {
		if _, err := m.RemoveAll(ctx); err != nil {
			return err
		}
		_, err := m.WriteAll(ctx)
		return err
	})
}

// Remove is RemoveAll with timing metrics, for the CLI.
func (m *Manager) Remove(ctx context.Context) error {
	return m.timed(ctx, "remove", func(ctx context.Context) error {
		_, err := m.RemoveAll(ctx)
		return err
	})
}

func (m *Manager) timed(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, fields := m.run(ctx, op)
	start := time.Now()
	err := fn(ctx)

	label := hermes.Label{Key: "operation", Value: op}
	m.Metrics.ObserveHistogram("elysium_operation_duration_seconds", time.Since(start).Seconds(), label)
	if err != nil {
		m.Logger.Error(ctx, "Operation failed", withFields(fields, map[string]any{"error": err.Error()}))
		m.Metrics.IncCounter("elysium_operation_failures_total", 1, label)
		return err
	}
	m.Metrics.SetGauge("elysium_last_success_timestamp_seconds", float64(time.Now().Unix()), label)
	return nil
}

type runIDKey struct{}

// run tags ctx with a run id, reusing one already present.
func (m *Manager) run(ctx context.Context, op string) (context.Context, map[string]any) {
	id, ok := ctx.Value(runIDKey{}).(string)
	if !ok {
		id = uuid.NewString()
		ctx = context.WithValue(ctx, runIDKey{}, id)
	}
	return ctx, map[string]any{"run_id": id, "operation": op}
}

// WithRunID returns a context whose operations log under id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func withFields(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
