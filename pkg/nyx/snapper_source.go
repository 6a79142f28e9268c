package nyx

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
	"github.com/tartarus-sandbox/elysium/pkg/hermes"
)

const (
	snapperDest      = "org.opensuse.Snapper"
	snapperPath      = dbus.ObjectPath("/org/opensuse/Snapper")
	snapperInterface = "org.opensuse.Snapper"
)

// snapperConfig mirrors the (ssa{ss}) config tuple.
type snapperConfig struct {
	Name      string
	Subvolume string
	Config    map[string]string
}

// snapperSnapshot mirrors the (uquxussa{ss}) snapshot tuple.
type snapperSnapshot struct {
	Num         uint32
	Type        uint16
	PreNum      uint32
	Date        int64
	UID         uint32
	Description string
	Cleanup     string
	Userdata    map[string]string
}

// SnapperSource reads configs and snapshots from snapperd over the system bus.
type SnapperSource struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	Logger hermes.Logger
}

// NewSnapperSource connects to the system bus.
func NewSnapperSource(logger hermes.Logger) (*SnapperSource, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, &SourceError{Op: "connect", Err: err}
	}
	return &SnapperSource{
		conn:   conn,
		obj:    conn.Object(snapperDest, snapperPath),
		Logger: logger,
	}, nil
}

func (s *SnapperSource) Close() error {
	return s.conn.Close()
}

func (s *SnapperSource) ListConfigs(ctx context.Context) ([]domain.SourceConfig, error) {
	var raw []snapperConfig
	if err := s.call(ctx, "ListConfigs", &raw); err != nil {
		return nil, &SourceError{Op: "list configs", Err: err}
	}

	configs := make([]domain.SourceConfig, 0, len(raw))
	for _, c := range raw {
		configs = append(configs, toSourceConfig(c))
	}
	return configs, nil
}

func (s *SnapperSource) ListSnapshots(ctx context.Context, configName string) ([]domain.Snapshot, error) {
	var cfg snapperConfig
	if err := s.call(ctx, "GetConfig", &cfg, configName); err != nil {
		return nil, &SourceError{Op: "get config " + configName, Err: err}
	}

	var raw []snapperSnapshot
	if err := s.call(ctx, "ListSnapshots", &raw, configName); err != nil {
		return nil, &SourceError{Op: "list snapshots " + configName, Err: err}
	}

	snaps := make([]domain.Snapshot, 0, len(raw))
	for _, r := range raw {
		snap, err := toSnapshot(r, cfg.Subvolume)
		if err != nil {
			return nil, &SourceError{Op: "list snapshots " + configName, Err: err}
		}
		snaps = append(snaps, snap)
	}

	if s.Logger != nil {
		s.Logger.Debug(ctx, "Listed snapshots", map[string]any{
			"config":    configName,
			"snapshots": len(snaps),
		})
	}
	return snaps, nil
}

func (s *SnapperSource) call(ctx context.Context, method string, out any, args ...any) error {
	call := s.obj.CallWithContext(ctx, snapperInterface+"."+method, 0, args...)
	if call.Err != nil {
		return call.Err
	}
	if err := call.Store(out); err != nil {
		return fmt.Errorf("malformed %s reply: %w", method, err)
	}
	return nil
}

func toSourceConfig(c snapperConfig) domain.SourceConfig {
	return domain.SourceConfig{
		Name:      c.Name,
		MountPath: c.Subvolume,
		Raw:       c.Config,
	}
}

func toSnapshot(r snapperSnapshot, mountPath string) (domain.Snapshot, error) {
	typ, err := domain.ParseSnapshotType(r.Type)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot %d: %w", r.Num, err)
	}

	userdata := make(map[string]string, len(r.Userdata))
	for k, v := range r.Userdata {
		userdata[k] = v
	}

	num := domain.SnapshotNum(r.Num)
	return domain.Snapshot{
		Num:         num,
		Type:        typ,
		PreNum:      domain.SnapshotNum(r.PreNum),
		Timestamp:   time.Unix(r.Date, 0),
		UID:         r.UID,
		Description: r.Description,
		Cleanup:     r.Cleanup,
		Userdata:    userdata,
		MountPoint:  SnapshotMountPoint(mountPath, num),
	}, nil
}
